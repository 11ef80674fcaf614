package model

import (
	"strconv"
	"strings"
)

// Severity values.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Event is one raw record of an episode log.
type Event struct {
	Timestamp   string   `json:"timestamp"`
	EpisodeID   int      `json:"episode_id"`
	Seed        int64    `json:"seed"`
	EventType   string   `json:"event_type"`
	Host        string   `json:"host"`
	User        *string  `json:"user"`
	SrcIP       *string  `json:"src_ip"`
	DstIP       *string  `json:"dst_ip"`
	Action      string   `json:"action"`
	Outcome     string   `json:"outcome"`
	Severity    string   `json:"severity,omitempty"`
	ProcessName *string  `json:"process_name"`
	Tags        []string `json:"tags"`
}

// FilterFields is the allow-list of fields usable as exact-match filters.
var FilterFields = []string{
	"host", "user", "src_ip", "dst_ip", "event_type",
	"action", "outcome", "severity", "process_name",
}

// NullString is the stringified form of a null or missing field. It
// matches the rendering in existing case logs and query results.
const NullString = "None"

// Field returns the value of a named field and whether it is non-null.
// Unknown field names and missing scalars report null.
func (e *Event) Field(name string) (string, bool) {
	switch name {
	case "timestamp":
		return e.Timestamp, true
	case "episode_id":
		return strconv.Itoa(e.EpisodeID), true
	case "seed":
		return strconv.FormatInt(e.Seed, 10), true
	case "event_type":
		return present(e.EventType)
	case "host":
		return present(e.Host)
	case "user":
		return deref(e.User)
	case "src_ip":
		return deref(e.SrcIP)
	case "dst_ip":
		return deref(e.DstIP)
	case "action":
		return present(e.Action)
	case "outcome":
		return present(e.Outcome)
	case "severity":
		return present(e.Severity)
	case "process_name":
		return deref(e.ProcessName)
	case "tags":
		return strings.Join(e.Tags, " "), true
	}
	return "", false
}

// FieldString stringifies a field, rendering null as NullString.
func (e *Event) FieldString(name string) string {
	if v, ok := e.Field(name); ok {
		return v
	}
	return NullString
}

// HasTag reports whether the event carries tag.
func (e *Event) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasAnyTag reports whether the event carries at least one of tags.
func (e *Event) HasAnyTag(tags ...string) bool {
	for _, t := range tags {
		if e.HasTag(t) {
			return true
		}
	}
	return false
}

// Haystack is the lowercased-later text searched by free-text queries:
// all scalar fields plus the joined tags. Null optional fields render as
// NullString.
func (e *Event) Haystack() string {
	parts := []string{
		e.EventType,
		e.Host,
		valueOrNull(e.User),
		valueOrNull(e.SrcIP),
		valueOrNull(e.DstIP),
		e.Action,
		e.Outcome,
		e.Severity,
		valueOrNull(e.ProcessName),
		strings.Join(e.Tags, " "),
	}
	return strings.Join(parts, " ")
}

// Normalize projects the event onto the full field set, filling defaults.
// The receiver is not modified.
func (e Event) Normalize() Event {
	out := e
	if out.Severity == "" {
		out.Severity = SeverityLow
	}
	if out.Tags == nil {
		out.Tags = []string{}
	} else {
		out.Tags = append([]string{}, e.Tags...)
	}
	return out
}

// Str returns a pointer to s, for building events in code and tests.
func Str(s string) *string {
	return &s
}

func deref(p *string) (string, bool) {
	if p == nil {
		return "", false
	}
	return *p, true
}

func valueOrNull(p *string) string {
	if p == nil {
		return NullString
	}
	return *p
}

func present(s string) (string, bool) {
	return s, s != ""
}
