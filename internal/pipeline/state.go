package pipeline

import (
	"github.com/roach88/triage/internal/approval"
	"github.com/roach88/triage/internal/model"
)

// Stage names, in execution order.
const (
	StageObserve        = "observe"
	StageNormalize      = "normalize"
	StageEnrich         = "enrich"
	StageRetrieveMemory = "retrieve_memory"
	StageCorrelate      = "correlate"
	StageDecide         = "decide"
	StageAct            = "act"
	StageAudit          = "audit"
)

// Input starts one execution.
type Input struct {
	EpisodeID            int
	RunID                string
	ResponseDelaySeconds int
	Interactive          bool

	// ActionsPath is the run's action log.
	ActionsPath string
}

// State accumulates the outputs of each stage. A stage only reads fields
// written by earlier stages.
type State struct {
	Input

	// Observe
	RawEvents      []model.Event
	DetectionEvent *model.Event
	TDetect        *string

	// Normalize
	Events []model.Event

	// Enrich
	AssetContext model.AssetContext

	// RetrieveMemory
	CaseText   string
	MemoryHits []model.MemoryHit

	// Correlate
	Correlation model.Correlation

	// Decide
	ProposedDecision string
	Confidence       float64
	DecisionReason   string

	// Act
	FinalDecision   string
	Approved        bool
	Gating          model.Gating
	ApprovalOutcome approval.Outcome
	ActionResult    *model.ActionResult

	// Audit
	Record       *model.DecisionRecord
	FeedbackCase *model.Case

	// Stage is the last stage started.
	Stage string
}

// Evidence assembles the audit evidence from the accumulated state.
func (s *State) Evidence() model.Evidence {
	hits := s.MemoryHits
	if hits == nil {
		hits = []model.MemoryHit{}
	}
	return model.Evidence{
		RunID:            s.RunID,
		ProposedDecision: s.ProposedDecision,
		FinalDecision:    s.FinalDecision,
		Confidence:       s.Confidence,
		Gating:           s.Gating,
		Approved:         s.Gating.Approved,
		DetectionEvent:   s.DetectionEvent,
		AssetContext:     s.AssetContext,
		MemoryHits:       hits,
		Correlation:      s.Correlation,
		ActionResult:     s.ActionResult,
	}
}
