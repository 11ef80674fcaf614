package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/triage/internal/logquery"
)

func TestSearch_TextOutput(t *testing.T) {
	w := newWorkspace(t)
	w.writeGatedEpisode(t, 1)

	stdout, _, err := execute(t, "", "search", "--logs-dir", w.logs, "--episode-id", "1", "--tags-any", "burst", "--limit", "5")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"host":"ws-02"`)
	assert.Equal(t, "matched=1 returned=1", lines[1])
}

func TestSearch_JSONAggregation(t *testing.T) {
	w := newWorkspace(t)
	w.writeGatedEpisode(t, 1)

	stdout, _, err := execute(t, "", "--format", "json", "search", "--logs-dir", w.logs,
		"--filter", "src_ip=10.0.10.21", "--limit", "0", "--agg", "top_k", "--field", "host", "--k", "1")
	require.NoError(t, err)

	res := decodeData[logquery.Result](t, stdout)
	assert.Equal(t, 6, res.Matched)
	assert.Equal(t, 0, res.Returned)
	require.NotNil(t, res.Aggregation)
	assert.Equal(t, []logquery.Bucket{{Value: "ws-01", Count: 5}}, res.Aggregation.TopK)
}

func TestSearch_CountAcrossEpisodes(t *testing.T) {
	w := newWorkspace(t)
	w.writeGatedEpisode(t, 1)
	w.writeGatedEpisode(t, 2)

	stdout, _, err := execute(t, "", "search", "--logs-dir", w.logs, "--query", "host:ws-01", "--limit", "0", "--agg", "count")
	require.NoError(t, err)
	assert.Contains(t, stdout, "matched=10 returned=0\ncount=10\n")
}

func TestSearch_Errors(t *testing.T) {
	w := newWorkspace(t)
	w.writeGatedEpisode(t, 1)

	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{"unknown filter field", []string{"--filter", "colour=red"}, ExitCommandError, "VALIDATION_ERROR"},
		{"top_k without field", []string{"--agg", "top_k"}, ExitCommandError, "VALIDATION_ERROR"},
		{"unknown aggregation", []string{"--agg", "median"}, ExitCommandError, "VALIDATION_ERROR"},
		{"inverted range", []string{"--start", "2026-02-19T11:00:00Z", "--end", "2026-02-19T10:00:00Z"}, ExitCommandError, "VALIDATION_ERROR"},
		{"missing episode", []string{"--episode-id", "4"}, ExitCommandError, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--format", "json", "search", "--logs-dir", w.logs}, tt.args...)
			stdout, _, err := execute(t, "", args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, GetExitCode(err))
			assert.Equal(t, tt.want, decodeError(t, stdout).Code)
		})
	}
}
