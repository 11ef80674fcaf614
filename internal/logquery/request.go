package logquery

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/triage/internal/model"
)

// AggregationType selects the aggregation computed over matching events.
type AggregationType string

const (
	AggCount AggregationType = "count"
	AggTopK  AggregationType = "top_k"
)

// DefaultTopK is used when a top_k aggregation leaves K unset.
const DefaultTopK = 10

// Aggregation requests a summary of the matching events.
type Aggregation struct {
	Type  AggregationType `json:"type"`
	Field string          `json:"field,omitempty"`
	K     *int            `json:"k,omitempty"` // nil means DefaultTopK; 0 yields no buckets
}

// Buckets returns a pointer to k, for building top_k aggregations.
func Buckets(k int) *int {
	return &k
}

// Filters are exact-match and tag-set predicates.
//
// Fields keys must come from model.FilterFields.
type Filters struct {
	Fields  map[string]string `json:"fields,omitempty"`
	TagsAny []string          `json:"tags_any,omitempty"`
	TagsAll []string          `json:"tags_all,omitempty"`
}

// Request describes one search.
type Request struct {
	// EpisodeID selects a single episode file. Nil scans all episodes.
	EpisodeID *int `json:"episode_id,omitempty"`

	// Query is empty, "field:value", or a free-text substring.
	Query string `json:"query,omitempty"`

	// Start and End bound event timestamps inclusively. Empty means open.
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`

	Filters Filters `json:"filters"`

	// Limit caps returned events. Zero returns none (aggregate only).
	Limit int `json:"limit"`

	Aggregation *Aggregation `json:"aggregation,omitempty"`
}

// Episode returns a pointer to id, for building requests.
func Episode(id int) *int {
	return &id
}

// ParseFilters parses "key=value" pairs into exact-match filters.
// Keys outside model.FilterFields are a validation error.
func ParseFilters(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, model.Validation("parse filter", "filter %q must be key=value", p)
		}
		if !isFilterField(k) {
			return nil, model.Validation("parse filter", "unknown filter field %q (allowed: %s)", k, strings.Join(model.FilterFields, ", "))
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

func isFilterField(name string) bool {
	for _, f := range model.FilterFields {
		if f == name {
			return true
		}
	}
	return false
}

// Bucket is one ranked top_k entry. It encodes as a [value, count] pair.
type Bucket struct {
	Value string
	Count int
}

// MarshalJSON encodes the bucket as a two-element array.
func (b Bucket) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{b.Value, b.Count})
}

// UnmarshalJSON decodes a [value, count] pair.
func (b *Bucket) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("bucket: want 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &b.Value); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &b.Count)
}

// AggregationResult holds whichever aggregation was requested.
type AggregationResult struct {
	Count *int     `json:"count,omitempty"`
	TopK  []Bucket `json:"top_k,omitempty"`
}

// Result is the response of a search.
//
// Returned == len(Events) and Matched >= Returned always hold.
type Result struct {
	Matched     int                `json:"matched"`
	Returned    int                `json:"returned"`
	Events      []model.Event      `json:"events"`
	Aggregation *AggregationResult `json:"aggregation"`
}
