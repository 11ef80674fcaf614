// Package enforce records containment actions.
//
// No action touches real infrastructure: Simulated appends an action record
// with status "simulated" for later effectiveness metrics.
package enforce

import (
	"context"
	"strings"

	"github.com/roach88/triage/internal/clock"
	"github.com/roach88/triage/internal/jsonl"
	"github.com/roach88/triage/internal/model"
)

// Action names and statuses.
const (
	ActionBlockIP   = "block_ip"
	StatusSimulated = "simulated"
)

// DefaultBlockDuration is the block length the pipeline requests, in seconds.
const DefaultBlockDuration = 1800

// BlockRequest describes one block_ip action.
type BlockRequest struct {
	IP              string
	DurationSeconds int
	EpisodeID       int
	RunID           string
	Reason          string

	// ActionTime stamps the record. Empty uses the executor's clock.
	ActionTime string

	// OutPath is the action log the record is appended to.
	OutPath string
}

// Executor carries out containment actions.
type Executor interface {
	BlockIP(ctx context.Context, req BlockRequest) (model.ActionResult, error)
}

// WriterSource hands out the shared writer of a path. *runs.Manager
// implements it.
type WriterSource interface {
	Writer(path string) *jsonl.Writer
}

// Simulated records actions without executing them.
//
// Thread-safety: safe for concurrent use when its WriterSource hands out one
// writer per path.
type Simulated struct {
	writers WriterSource
	clock   clock.Clock
}

// NewSimulated creates a simulated executor. A nil writers source opens a
// private writer per call; a nil clock uses the system clock.
func NewSimulated(writers WriterSource, c clock.Clock) *Simulated {
	if c == nil {
		c = clock.System{}
	}
	return &Simulated{writers: writers, clock: c}
}

// BlockIP implements Executor.
func (s *Simulated) BlockIP(ctx context.Context, req BlockRequest) (model.ActionResult, error) {
	if err := ctx.Err(); err != nil {
		return model.ActionResult{}, err
	}
	ip := strings.TrimSpace(req.IP)
	switch {
	case ip == "":
		return model.ActionResult{}, model.Validation("block ip", "ip is empty")
	case req.DurationSeconds <= 0:
		return model.ActionResult{}, model.Validation("block ip", "duration must be positive, got %d", req.DurationSeconds)
	case req.OutPath == "":
		return model.ActionResult{}, model.Validation("block ip", "action log path is empty")
	}

	ts := req.ActionTime
	if ts == "" {
		ts = clock.NowString(s.clock)
	}
	rec := model.ActionRecord{
		Timestamp:       ts,
		RunID:           req.RunID,
		EpisodeID:       req.EpisodeID,
		Action:          ActionBlockIP,
		IP:              ip,
		DurationSeconds: req.DurationSeconds,
		Reason:          req.Reason,
		Status:          StatusSimulated,
	}

	w := s.writer(req.OutPath)
	if err := w.Append(rec); err != nil {
		return model.ActionResult{}, model.Dependency("block ip", err)
	}
	return model.ActionResult{OK: true, RecordedTo: w.Path(), Action: rec}, nil
}

func (s *Simulated) writer(path string) *jsonl.Writer {
	if s.writers != nil {
		return s.writers.Writer(path)
	}
	return jsonl.NewWriter(path)
}
