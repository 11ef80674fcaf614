package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/triage/internal/jsonl"
	"github.com/roach88/triage/internal/memory"
	"github.com/roach88/triage/internal/metrics"
	"github.com/roach88/triage/internal/model"
	"github.com/roach88/triage/internal/testutil"
)

func openMemory(t *testing.T) *memory.Store {
	t.Helper()
	mem, err := memory.Open(context.Background(), filepath.Join(t.TempDir(), "memory"), memory.Options{
		Clock: testutil.NewDeterministicClock(testutil.Epoch, time.Second),
	})
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })
	return mem
}

func TestRecord_AppendsOneLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.jsonl")
	m := metrics.New()
	sink := NewSink(jsonl.NewWriter(path), nil, Options{Metrics: m})

	tDetect := "2026-02-19T10:21:00Z"
	rec := model.DecisionRecord{
		Timestamp: "2026-02-19T10:30:00Z",
		EpisodeID: 2,
		RunID:     "run-a",
		TDetect:   &tDetect,
		Decision:  model.DecisionBlockIP,
		Reason:    "High severity on critical asset: contain.",
		Evidence:  model.Evidence{RunID: "run-a", MemoryHits: []model.MemoryHit{}},
	}
	require.NoError(t, sink.Record(context.Background(), rec))
	require.NoError(t, sink.Record(context.Background(), rec))

	got, err := jsonl.ReadAll[model.DecisionRecord](path, false)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, rec, got[0])
}

func TestFeedback_AddsLabeledCase(t *testing.T) {
	mem := openMemory(t)
	sink := NewSink(jsonl.NewWriter(filepath.Join(t.TempDir(), "d.jsonl")), mem, Options{})

	c, err := sink.Feedback(context.Background(), Feedback{
		Text: "event_type=auth", Approved: false, Decision: model.DecisionEscalate, EpisodeID: 3, RunID: "run-a",
	})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, model.LabelFP, c.Label)
	assert.Equal(t, "gating_feedback: approved=false", c.Reason)
	assert.Equal(t, []string{FeedbackTag}, c.Tags)
	assert.Equal(t, model.CaseSource{EpisodeID: 3, RunID: "run-a"}, c.Source)
	assert.Equal(t, model.DecisionEscalate, c.Decision)
}

func TestFeedback_DeduplicatesWithinWindow(t *testing.T) {
	mem := openMemory(t)
	m := metrics.New()
	sink := NewSink(jsonl.NewWriter(filepath.Join(t.TempDir(), "d.jsonl")), mem, Options{Metrics: m})
	fb := Feedback{Text: "event_type=auth host=db-01", Approved: true, Decision: model.DecisionBlockIP, EpisodeID: 1, RunID: "run-a"}

	first, err := sink.Feedback(context.Background(), fb)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := sink.Feedback(context.Background(), fb)
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.Equal(t, 1, mem.Len())

	// A different label, episode or text is a new case
	for _, other := range []Feedback{
		{Text: fb.Text, Approved: false, EpisodeID: 1},
		{Text: fb.Text, Approved: true, EpisodeID: 2},
		{Text: fb.Text + " x", Approved: true, EpisodeID: 1},
	} {
		c, err := sink.Feedback(context.Background(), other)
		require.NoError(t, err)
		assert.NotNil(t, c)
	}
	assert.Equal(t, 4, mem.Len())
}

func TestFeedback_WindowIsBounded(t *testing.T) {
	mem := openMemory(t)
	sink := NewSink(jsonl.NewWriter(filepath.Join(t.TempDir(), "d.jsonl")), mem, Options{Window: 3})
	ctx := context.Background()

	fb := Feedback{Text: "old case", Approved: true, EpisodeID: 1}
	_, err := sink.Feedback(ctx, fb)
	require.NoError(t, err)
	for _, text := range []string{"a", "b", "c"} {
		_, err := sink.Feedback(ctx, Feedback{Text: text, Approved: true, EpisodeID: 1})
		require.NoError(t, err)
	}

	// "old case" is now outside the 3-case window
	c, err := sink.Feedback(ctx, fb)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, int64(5), c.CaseID)
}

func TestFeedback_NoMemoryOrTextIsNoop(t *testing.T) {
	sink := NewSink(jsonl.NewWriter(filepath.Join(t.TempDir(), "d.jsonl")), nil, Options{})
	c, err := sink.Feedback(context.Background(), Feedback{Text: "x"})
	require.NoError(t, err)
	assert.Nil(t, c)

	mem := openMemory(t)
	sink = NewSink(jsonl.NewWriter(filepath.Join(t.TempDir(), "d.jsonl")), mem, Options{})
	c, err = sink.Feedback(context.Background(), Feedback{})
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.Equal(t, 0, mem.Len())
}
