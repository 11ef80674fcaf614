package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/triage/internal/approval"
	"github.com/roach88/triage/internal/assets"
	"github.com/roach88/triage/internal/audit"
	"github.com/roach88/triage/internal/clock"
	"github.com/roach88/triage/internal/config"
	"github.com/roach88/triage/internal/enforce"
	"github.com/roach88/triage/internal/logquery"
	"github.com/roach88/triage/internal/metrics"
	"github.com/roach88/triage/internal/model"
)

// LogSearcher runs log queries. *logquery.Engine implements it.
type LogSearcher interface {
	Search(ctx context.Context, req logquery.Request) (*logquery.Result, error)
}

// MemorySearcher finds similar prior cases. *memory.Store implements it.
type MemorySearcher interface {
	Search(ctx context.Context, text string, k int, threshold float64) ([]model.MemoryHit, error)
}

// Deps are the collaborators of one run.
type Deps struct {
	Logs     LogSearcher
	Assets   assets.Directory
	Memory   MemorySearcher
	Approver approval.Approver
	Executor enforce.Executor
	Audit    *audit.Sink

	// Policy defaults to config.Default().Policy.
	Policy *config.Policy

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Pipeline executes the stage sequence.
//
// Thread-safety: Run is safe for concurrent use when the collaborators are.
// Each call owns its State.
type Pipeline struct {
	deps   Deps
	policy config.Policy
}

// stage is one step of the fixed sequence.
type stage struct {
	name string
	run  func(p *Pipeline, ctx context.Context, s *State) error
}

// stages is the only execution order.
var stages = []stage{
	{StageObserve, (*Pipeline).observe},
	{StageNormalize, (*Pipeline).normalize},
	{StageEnrich, (*Pipeline).enrich},
	{StageRetrieveMemory, (*Pipeline).retrieveMemory},
	{StageCorrelate, (*Pipeline).correlate},
	{StageDecide, (*Pipeline).decide},
	{StageAct, (*Pipeline).act},
	{StageAudit, (*Pipeline).audit},
}

// StageNames returns the stage names in execution order.
func StageNames() []string {
	names := make([]string, len(stages))
	for i, st := range stages {
		names[i] = st.name
	}
	return names
}

// New creates a pipeline. Logs, Executor and Audit are required; a nil
// Assets uses the default inventory, a nil Memory yields no hits, and a nil
// Approver cancels every request.
func New(deps Deps) (*Pipeline, error) {
	switch {
	case deps.Logs == nil:
		return nil, fmt.Errorf("pipeline: log searcher is required")
	case deps.Executor == nil:
		return nil, fmt.Errorf("pipeline: action executor is required")
	case deps.Audit == nil:
		return nil, fmt.Errorf("pipeline: audit sink is required")
	}
	if deps.Assets == nil {
		deps.Assets = assets.Default()
	}
	if deps.Approver == nil {
		deps.Approver = approval.Func(func(context.Context, approval.Request) (approval.Outcome, error) {
			return approval.Cancelled, nil
		})
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	policy := config.Default().Policy
	if deps.Policy != nil {
		policy = *deps.Policy
	}
	return &Pipeline{deps: deps, policy: policy}, nil
}

// Run executes every stage for in and returns the final state.
//
// On error the partial state is returned with State.Stage naming the stage
// that failed; no decision record is written.
func (p *Pipeline) Run(ctx context.Context, in Input) (*State, error) {
	s := &State{Input: in}
	log := p.deps.Logger.With("episode_id", in.EpisodeID, "run_id", in.RunID)
	p.deps.Metrics.IncRuns()

	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		s.Stage = st.name
		log.Debug("stage", "stage", st.name)

		start := time.Now()
		err := st.run(p, ctx, s)
		p.deps.Metrics.ObserveStage(st.name, time.Since(start))
		if err != nil {
			p.deps.Metrics.IncFailure(st.name)
			log.Error("stage failed", "stage", st.name, "error", err)
			return s, fmt.Errorf("stage %s: %w", st.name, err)
		}
	}

	log.Info("decision",
		"proposed", s.ProposedDecision,
		"final", s.FinalDecision,
		"confidence", s.Confidence,
		"prompted", s.Gating.Prompted,
		"t_detect", derefOr(s.TDetect, ""),
	)
	return s, nil
}

func derefOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}
