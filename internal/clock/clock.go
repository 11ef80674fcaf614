// Package clock abstracts wall-clock time and the ISO-8601 UTC format used by
// every log in a run.
//
// Wall time is only ever used for record stamps (created_at, timestamp).
// Ordering of events comes from the event timestamps themselves, never from
// the clock.
package clock

import (
	"fmt"
	"strings"
	"time"
)

// Layout is the fixed-width UTC timestamp format ("2026-02-19T10:28:31Z").
// Fixed width makes lexicographic order equal chronological order.
const Layout = "2006-01-02T15:04:05Z"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// System is the real wall clock.
type System struct{}

// Now returns time.Now in UTC.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Format renders t as ISO-8601 UTC with a Z suffix. Sub-second precision is
// kept only when present, mirroring RFC 3339.
func Format(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond() == 0 {
		return t.Format(Layout)
	}
	return t.Format(time.RFC3339Nano)
}

// Parse accepts RFC 3339 timestamps with a Z suffix or a numeric offset and
// returns the instant in UTC.
func Parse(ts string) (time.Time, error) {
	ts = strings.TrimSpace(ts)
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	return t.UTC(), nil
}

// NowString formats c.Now().
func NowString(c Clock) string {
	return Format(c.Now())
}
