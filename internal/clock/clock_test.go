package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat_WholeSeconds(t *testing.T) {
	ts := time.Date(2026, 2, 19, 10, 28, 31, 0, time.UTC)
	assert.Equal(t, "2026-02-19T10:28:31Z", Format(ts))
}

func TestFormat_ConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	ts := time.Date(2026, 2, 19, 12, 0, 0, 0, loc)
	assert.Equal(t, "2026-02-19T10:00:00Z", Format(ts))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"zulu", "2026-02-19T10:28:31Z", time.Date(2026, 2, 19, 10, 28, 31, 0, time.UTC)},
		{"offset", "2026-02-19T11:28:31+01:00", time.Date(2026, 2, 19, 10, 28, 31, 0, time.UTC)},
		{"fraction", "2026-02-19T10:28:31.5Z", time.Date(2026, 2, 19, 10, 28, 31, 500000000, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse("yesterday")
	assert.Error(t, err)
}

func TestFormatParseRoundTrip(t *testing.T) {
	ts := time.Date(2026, 2, 19, 10, 0, 0, 0, time.UTC)
	got, err := Parse(Format(ts))
	require.NoError(t, err)
	assert.True(t, ts.Equal(got))
}
