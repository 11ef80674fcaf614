package model

// Decision values.
const (
	DecisionBlockIP  = "block_ip"
	DecisionNoBlock  = "no_block"
	DecisionEscalate = "escalate"
)

// Case labels.
const (
	LabelTP        = "TP"
	LabelFP        = "FP"
	LabelUncertain = "UNCERTAIN"
)

// Gating outcome reasons. These are terminal branches of the Act stage,
// not errors.
const (
	ReasonHumanRejected     = "human_rejected"
	ReasonApprovalCancelled = "approval_cancelled"
	ReasonMissingIPOrTime   = "missing_ip_or_time"
)

// CaseSource identifies the execution that produced a case.
type CaseSource struct {
	EpisodeID int    `json:"episode_id"`
	RunID     string `json:"run_id"`
}

// Case is one labeled precedent in case memory.
type Case struct {
	CaseID    int64      `json:"case_id"`
	CreatedAt string     `json:"created_at"`
	Text      string     `json:"text"`
	Label     string     `json:"label"`
	Decision  string     `json:"decision"`
	Reason    string     `json:"reason"`
	Tags      []string   `json:"tags"`
	Source    CaseSource `json:"source"`
}

// Asset describes a host in the asset directory.
type Asset struct {
	Host        string      `json:"host" yaml:"host"`
	IP          string      `json:"ip" yaml:"ip"`
	Role        string      `json:"role" yaml:"role"`
	Criticality string      `json:"criticality" yaml:"criticality"`
	Owner       *string     `json:"owner" yaml:"owner,omitempty"`
	Allowlists  *Allowlists `json:"allowlists,omitempty" yaml:"allowlists,omitempty"`
}

// Allowlists are the benign identities known for an asset.
type Allowlists struct {
	Users  []string `json:"users" yaml:"users"`
	SrcIPs []string `json:"src_ips" yaml:"src_ips"`
	Tags   []string `json:"tags" yaml:"tags"`
}

// AssetContext is the result of an asset lookup.
type AssetContext struct {
	Found bool     `json:"found"`
	Query string   `json:"query,omitempty"`
	Asset *Asset   `json:"asset"`
	Notes []string `json:"notes"`
}

// Role returns the asset role or "" when no asset was found.
func (c AssetContext) Role() string {
	if c.Asset == nil {
		return ""
	}
	return c.Asset.Role
}

// Criticality returns the asset criticality, "low" when unknown.
func (c AssetContext) Criticality() string {
	if c.Asset == nil || c.Asset.Criticality == "" {
		return SeverityLow
	}
	return c.Asset.Criticality
}

// DecisionRecord is one line of the decision log.
type DecisionRecord struct {
	Timestamp string   `json:"timestamp"`
	EpisodeID int      `json:"episode_id"`
	RunID     string   `json:"run_id"`
	TDetect   *string  `json:"t_detect"`
	Decision  string   `json:"decision"`
	Reason    string   `json:"reason"`
	Evidence  Evidence `json:"evidence"`
}

// Evidence is everything the pipeline knew when it decided.
type Evidence struct {
	RunID            string        `json:"run_id"`
	ProposedDecision string        `json:"proposed_decision"`
	FinalDecision    string        `json:"final_decision"`
	Confidence       float64       `json:"confidence"`
	Gating           Gating        `json:"gating"`
	Approved         bool          `json:"approved"`
	DetectionEvent   *Event        `json:"detection_event"`
	AssetContext     AssetContext  `json:"asset_context"`
	MemoryHits       []MemoryHit   `json:"memory_hits"`
	Correlation      Correlation   `json:"correlation"`
	ActionResult     *ActionResult `json:"action_result"`
}

// Gating records whether a human was asked and what they answered.
type Gating struct {
	Prompted bool    `json:"prompted"`
	Approved bool    `json:"approved"`
	Reason   *string `json:"reason"`
}

// MemoryHit is a case-memory search result.
type MemoryHit struct {
	Score float64 `json:"score"`
	Case  Case    `json:"case"`
}

// Correlation summarizes co-located evidence around the detection event.
type Correlation struct {
	Signals int                 `json:"signals"`
	Summary string              `json:"summary,omitempty"`
	Primary *CorrelationPrimary `json:"primary,omitempty"`
	Window  *CorrelationWindow  `json:"window,omitempty"`
}

// CorrelationPrimary echoes the detection event fields used to correlate.
type CorrelationPrimary struct {
	EventType string   `json:"event_type"`
	Action    string   `json:"action"`
	Severity  string   `json:"severity"`
	Tags      []string `json:"tags"`
	SrcIP     *string  `json:"src_ip"`
	Host      string   `json:"host"`
}

// CorrelationWindow is the ±window query and its count.
type CorrelationWindow struct {
	Start      string `json:"start"`
	End        string `json:"end"`
	SrcIPCount int    `json:"src_ip_count"`
}

// ActionRecord is one line of the action log.
type ActionRecord struct {
	Timestamp       string `json:"timestamp"`
	RunID           string `json:"run_id"`
	EpisodeID       int    `json:"episode_id"`
	Action          string `json:"action"`
	IP              string `json:"ip"`
	DurationSeconds int    `json:"duration_seconds"`
	Reason          string `json:"reason"`
	Status          string `json:"status"`
}

// ActionResult is returned by the action executor.
type ActionResult struct {
	OK         bool         `json:"ok"`
	RecordedTo string       `json:"recorded_to"`
	Action     ActionRecord `json:"action"`
}
