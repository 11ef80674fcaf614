// Package audit appends decision records and feeds gating outcomes back into
// case memory.
//
// CRITICAL PATTERNS:
//
// One record per execution: Record appends exactly one line to the run's
// decision log and never rewrites earlier lines.
//
// Bounded dedup: Feedback skips a case when one of the most recent Window
// cases has the same (text, label, episode_id). Older identical cases do not
// block a new one. The check and the add happen under one mutex, so two
// executions sharing a Sink cannot both add the same case.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/triage/internal/jsonl"
	"github.com/roach88/triage/internal/memory"
	"github.com/roach88/triage/internal/metrics"
	"github.com/roach88/triage/internal/model"
)

// DefaultWindow is the number of recent cases checked for duplicates.
const DefaultWindow = 300

// FeedbackTag marks cases learned from a human approval.
const FeedbackTag = "gating_feedback"

// CaseMemory is the part of the case-memory store the sink needs.
type CaseMemory interface {
	Recent(n int) []model.Case
	AddCase(ctx context.Context, nc memory.NewCase) (model.Case, error)
}

// Options configures a Sink.
type Options struct {
	// Window defaults to DefaultWindow.
	Window  int
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Sink writes one run's audit trail.
//
// Thread-safety: all methods are safe for concurrent use.
type Sink struct {
	decisions *jsonl.Writer
	memory    CaseMemory
	window    int
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu sync.Mutex
}

// NewSink creates a sink writing to decisions. A nil memory disables
// feedback.
func NewSink(decisions *jsonl.Writer, mem CaseMemory, opts Options) *Sink {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Sink{
		decisions: decisions,
		memory:    mem,
		window:    opts.Window,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
}

// Record appends rec to the decision log.
func (s *Sink) Record(ctx context.Context, rec model.DecisionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.decisions.Append(rec); err != nil {
		return fmt.Errorf("append decision: %w", err)
	}
	s.metrics.IncDecision(rec.Decision)
	return nil
}

// Feedback is a gating outcome to learn from.
type Feedback struct {
	Text      string
	Approved  bool
	Decision  string
	EpisodeID int
	RunID     string
}

// Label is TP for an approved block and FP for a rejected one.
func (f Feedback) Label() string {
	if f.Approved {
		return model.LabelTP
	}
	return model.LabelFP
}

// Feedback adds fb to case memory unless a duplicate is within the window.
// It returns the added case, or nil when skipped.
func (s *Sink) Feedback(ctx context.Context, fb Feedback) (*model.Case, error) {
	if s.memory == nil || fb.Text == "" {
		return nil, nil
	}
	label := fb.Label()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isDuplicate(fb.Text, label, fb.EpisodeID) {
		s.logger.Debug("feedback case already known", "episode_id", fb.EpisodeID, "label", label)
		s.metrics.IncCaseDeduped()
		return nil, nil
	}

	c, err := s.memory.AddCase(ctx, memory.NewCase{
		Text:     fb.Text,
		Label:    label,
		Decision: fb.Decision,
		Reason:   fmt.Sprintf("gating_feedback: approved=%t", fb.Approved),
		Tags:     []string{FeedbackTag},
		Source:   model.CaseSource{EpisodeID: fb.EpisodeID, RunID: fb.RunID},
	})
	if err != nil {
		return nil, fmt.Errorf("add feedback case: %w", err)
	}
	s.metrics.IncCaseAdded()
	s.logger.Info("feedback case added", "case_id", c.CaseID, "label", label, "episode_id", fb.EpisodeID)
	return &c, nil
}

func (s *Sink) isDuplicate(text, label string, episodeID int) bool {
	recent := s.memory.Recent(s.window)
	for i := len(recent) - 1; i >= 0; i-- {
		c := recent[i]
		if c.Text == text && c.Label == label && c.Source.EpisodeID == episodeID {
			return true
		}
	}
	return false
}
