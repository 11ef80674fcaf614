package logquery

import (
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/roach88/triage/internal/clock"
	"github.com/roach88/triage/internal/model"
)

// Predicate is a per-event condition.
//
// This is a sealed interface - only types in this package implement it, so
// the evaluator's type switch is exhaustive.
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// TimeRange keeps events with Start <= timestamp <= End (UTC). A nil bound
// is open.
type TimeRange struct {
	Start *time.Time
	End   *time.Time
}

func (TimeRange) predicateNode() {}

// FieldEquals keeps events whose field equals Value exactly.
// Null fields never match.
type FieldEquals struct {
	Field string
	Value string
}

func (FieldEquals) predicateNode() {}

// TagsAny keeps events carrying at least one of Tags.
type TagsAny struct {
	Tags []string
}

func (TagsAny) predicateNode() {}

// TagsAll keeps events carrying every one of Tags.
type TagsAll struct {
	Tags []string
}

func (TagsAll) predicateNode() {}

// FieldQuery is the "field:value" query form. Tags use membership, every
// other field exact equality of its stringified value.
type FieldQuery struct {
	Field string
	Value string
}

func (FieldQuery) predicateNode() {}

// TextQuery is a case-insensitive substring match over Event.Haystack.
// Needle is already case-folded.
type TextQuery struct {
	Needle string
}

func (TextQuery) predicateNode() {}

// Compile validates req and returns its predicates in evaluation order.
func Compile(req Request) ([]Predicate, error) {
	var preds []Predicate

	tr, err := compileTimeRange(req.Start, req.End)
	if err != nil {
		return nil, err
	}
	if tr != nil {
		preds = append(preds, *tr)
	}

	// Allow-list order keeps evaluation deterministic regardless of map order.
	seen := 0
	for _, f := range model.FilterFields {
		if v, ok := req.Filters.Fields[f]; ok {
			preds = append(preds, FieldEquals{Field: f, Value: v})
			seen++
		}
	}
	if seen != len(req.Filters.Fields) {
		for k := range req.Filters.Fields {
			if !isFilterField(k) {
				return nil, model.Validation("compile filters", "unknown filter field %q", k)
			}
		}
	}

	if len(req.Filters.TagsAny) > 0 {
		preds = append(preds, TagsAny{Tags: req.Filters.TagsAny})
	}
	if len(req.Filters.TagsAll) > 0 {
		preds = append(preds, TagsAll{Tags: req.Filters.TagsAll})
	}

	if q := strings.TrimSpace(req.Query); q != "" {
		if field, value, ok := strings.Cut(q, ":"); ok {
			preds = append(preds, FieldQuery{Field: strings.TrimSpace(field), Value: strings.TrimSpace(value)})
		} else {
			preds = append(preds, TextQuery{Needle: cases.Fold().String(q)})
		}
	}

	if err := validateAggregation(req.Aggregation); err != nil {
		return nil, err
	}
	return preds, nil
}

func compileTimeRange(start, end string) (*TimeRange, error) {
	if start == "" && end == "" {
		return nil, nil
	}
	var tr TimeRange
	if start != "" {
		t, err := clock.Parse(start)
		if err != nil {
			return nil, model.Validation("compile time range", "invalid start: %v", err)
		}
		tr.Start = &t
	}
	if end != "" {
		t, err := clock.Parse(end)
		if err != nil {
			return nil, model.Validation("compile time range", "invalid end: %v", err)
		}
		tr.End = &t
	}
	if tr.Start != nil && tr.End != nil && tr.Start.After(*tr.End) {
		return nil, model.Validation("compile time range", "start %s is after end %s", start, end)
	}
	return &tr, nil
}

func validateAggregation(agg *Aggregation) error {
	if agg == nil {
		return nil
	}
	switch agg.Type {
	case AggCount:
		return nil
	case AggTopK:
		if agg.Field == "" {
			return model.Validation("compile aggregation", "top_k requires a field")
		}
		if agg.K != nil && *agg.K < 0 {
			return model.Validation("compile aggregation", "top_k k must be >= 0, got %d", *agg.K)
		}
		return nil
	default:
		return model.Validation("compile aggregation", "unknown aggregation type %q", agg.Type)
	}
}

// evaluator applies predicates to events. It owns a case folder, which is
// stateful, so one evaluator serves one search.
type evaluator struct {
	preds []Predicate
	fold  cases.Caser
}

func newEvaluator(preds []Predicate) *evaluator {
	return &evaluator{preds: preds, fold: cases.Fold()}
}

// match reports whether ev satisfies every predicate, stopping at the first
// failure.
func (e *evaluator) match(ev *model.Event) (bool, error) {
	for _, p := range e.preds {
		ok, err := e.eval(p, ev)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (e *evaluator) eval(p Predicate, ev *model.Event) (bool, error) {
	switch pred := p.(type) {
	case TimeRange:
		t, err := clock.Parse(ev.Timestamp)
		if err != nil {
			return false, err
		}
		if pred.Start != nil && t.Before(*pred.Start) {
			return false, nil
		}
		if pred.End != nil && t.After(*pred.End) {
			return false, nil
		}
		return true, nil
	case FieldEquals:
		v, ok := ev.Field(pred.Field)
		return ok && v == pred.Value, nil
	case TagsAny:
		return ev.HasAnyTag(pred.Tags...), nil
	case TagsAll:
		for _, t := range pred.Tags {
			if !ev.HasTag(t) {
				return false, nil
			}
		}
		return true, nil
	case FieldQuery:
		if pred.Field == "tags" {
			return ev.HasTag(pred.Value), nil
		}
		v, ok := ev.Field(pred.Field)
		if !ok {
			v = model.NullString
		}
		return strings.TrimSpace(v) == pred.Value, nil
	case TextQuery:
		return strings.Contains(e.fold.String(ev.Haystack()), pred.Needle), nil
	default:
		// Impossible - Predicate is sealed
		return false, nil
	}
}
