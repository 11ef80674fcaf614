package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/triage/internal/approval"
	"github.com/roach88/triage/internal/assets"
	"github.com/roach88/triage/internal/audit"
	"github.com/roach88/triage/internal/clock"
	"github.com/roach88/triage/internal/enforce"
	"github.com/roach88/triage/internal/logquery"
	"github.com/roach88/triage/internal/model"
)

// Decision reasons.
const (
	reasonNoDetection      = "No detection event: no action taken."
	reasonAllowlisted      = "Allowlisted user or service account: avoid false positive."
	reasonMemoryFP         = "Memory suggests a similar false positive (score=%.2f): avoid blocking."
	reasonMemoryTP         = "Memory suggests a similar true positive (score=%.2f): contain."
	reasonHighCritical     = "High severity on critical asset: contain."
	reasonMediumCorrelated = "Sufficient evidence (>=2 signals) with medium severity: contain."
	reasonPartial          = "Partial evidence: escalate without automatic containment."

	summaryNoDetection = "No detection event."
)

// observe selects the detection event: the earliest event carrying a
// suspicious tag, else the earliest with the fallback severity.
func (p *Pipeline) observe(ctx context.Context, s *State) error {
	req := logquery.Request{
		EpisodeID: logquery.Episode(s.EpisodeID),
		Filters:   logquery.Filters{TagsAny: p.policy.SuspiciousTags},
		Limit:     p.policy.ObserveLimit,
	}
	res, err := p.deps.Logs.Search(ctx, req)
	if err != nil {
		return err
	}
	events := res.Events

	if len(events) == 0 {
		req.Filters = logquery.Filters{Fields: map[string]string{"severity": p.policy.FallbackSeverity}}
		res, err = p.deps.Logs.Search(ctx, req)
		if err != nil {
			return err
		}
		events = res.Events
	}

	// Fixed-width UTC timestamps sort chronologically as strings.
	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp < events[j].Timestamp })

	s.RawEvents = events
	if len(events) > 0 {
		det := events[0]
		ts := det.Timestamp
		s.DetectionEvent = &det
		s.TDetect = &ts
	}
	return nil
}

// normalize projects every event onto the total field set.
func (p *Pipeline) normalize(_ context.Context, s *State) error {
	s.Events = make([]model.Event, len(s.RawEvents))
	for i, ev := range s.RawEvents {
		s.Events[i] = ev.Normalize()
	}
	if s.DetectionEvent != nil {
		det := s.DetectionEvent.Normalize()
		s.DetectionEvent = &det
	}
	return nil
}

// enrich looks up the detection event's host.
func (p *Pipeline) enrich(ctx context.Context, s *State) error {
	if s.DetectionEvent == nil {
		s.AssetContext = model.AssetContext{Found: false, Notes: []string{assets.NoteNoDetectionEvent}}
		return nil
	}
	actx, err := p.deps.Assets.Lookup(ctx, s.DetectionEvent.Host)
	if err != nil {
		return model.Dependency("asset lookup", err)
	}
	if actx.Notes == nil {
		actx.Notes = []string{}
	}
	s.AssetContext = actx
	return nil
}

// retrieveMemory searches case memory with the detection's case text.
func (p *Pipeline) retrieveMemory(ctx context.Context, s *State) error {
	s.MemoryHits = []model.MemoryHit{}
	if s.DetectionEvent == nil {
		return nil
	}
	s.CaseText = CaseText(*s.DetectionEvent, s.AssetContext)
	if p.deps.Memory == nil {
		return nil
	}
	hits, err := p.deps.Memory.Search(ctx, s.CaseText, p.policy.MemoryK, p.policy.MemoryThreshold)
	if err != nil {
		return err
	}
	s.MemoryHits = hits
	p.deps.Metrics.AddMemoryHits(len(hits))
	return nil
}

// correlate counts events sharing the detection's src_ip around t_detect.
func (p *Pipeline) correlate(ctx context.Context, s *State) error {
	det := s.DetectionEvent
	if det == nil {
		s.Correlation = model.Correlation{Signals: 0, Summary: summaryNoDetection}
		return nil
	}

	corr := model.Correlation{
		Signals: 1,
		Primary: &model.CorrelationPrimary{
			EventType: det.EventType,
			Action:    det.Action,
			Severity:  det.Severity,
			Tags:      det.Tags,
			SrcIP:     det.SrcIP,
			Host:      det.Host,
		},
	}

	if det.SrcIP != nil && *det.SrcIP != "" && det.Timestamp != "" {
		t0, err := clock.Parse(det.Timestamp)
		if err != nil {
			return &model.Error{Code: model.ErrCodeParse, Op: "correlate", Message: "invalid detection timestamp", Err: err}
		}
		window := time.Duration(p.policy.CorrelationWindowSeconds) * time.Second
		start := clock.Format(t0.Add(-window))
		end := clock.Format(t0.Add(window))

		res, err := p.deps.Logs.Search(ctx, logquery.Request{
			EpisodeID:   logquery.Episode(s.EpisodeID),
			Start:       start,
			End:         end,
			Filters:     logquery.Filters{Fields: map[string]string{"src_ip": *det.SrcIP}},
			Limit:       0,
			Aggregation: &logquery.Aggregation{Type: logquery.AggCount},
		})
		if err != nil {
			return err
		}
		count := 0
		if res.Aggregation != nil && res.Aggregation.Count != nil {
			count = *res.Aggregation.Count
		}
		if count >= p.policy.CorrelationMinEvents {
			corr.Signals = 2
		}
		corr.Window = &model.CorrelationWindow{Start: start, End: end, SrcIPCount: count}
	}

	s.Correlation = corr
	return nil
}

// decide applies the override precedence.
func (p *Pipeline) decide(_ context.Context, s *State) error {
	conf := p.policy.Confidence
	set := func(decision string, confidence float64, reason string) error {
		s.ProposedDecision = decision
		s.Confidence = confidence
		s.DecisionReason = reason
		return nil
	}

	det := s.DetectionEvent
	if det == nil {
		return set(model.DecisionNoBlock, conf.NoDetection, reasonNoDetection)
	}

	if det.HasAnyTag(p.policy.AllowlistTags...) {
		return set(model.DecisionNoBlock, conf.Allowlist, reasonAllowlisted)
	}

	if len(s.MemoryHits) > 0 {
		top := s.MemoryHits[0]
		switch {
		case top.Case.Label == model.LabelFP && top.Score >= p.policy.MemoryFPScore:
			return set(model.DecisionNoBlock, conf.MemoryFP, fmt.Sprintf(reasonMemoryFP, top.Score))
		case top.Case.Label == model.LabelTP && top.Score >= p.policy.MemoryTPScore:
			return set(model.DecisionBlockIP, conf.MemoryTP, fmt.Sprintf(reasonMemoryTP, top.Score))
		}
	}

	crit := s.AssetContext.Criticality()
	signals := s.Correlation.Signals
	switch {
	case det.Severity == model.SeverityHigh && (crit == model.SeverityHigh || crit == model.SeverityMedium):
		c := conf.High
		if signals >= 2 {
			c = conf.HighCorrelated
		}
		return set(model.DecisionBlockIP, c, reasonHighCritical)
	case det.Severity == model.SeverityMedium && signals >= 2:
		return set(model.DecisionBlockIP, conf.MediumCorrelated, reasonMediumCorrelated)
	default:
		return set(model.DecisionEscalate, conf.Escalate, reasonPartial)
	}
}

// act gates low-confidence blocks and invokes the executor.
func (p *Pipeline) act(ctx context.Context, s *State) error {
	s.FinalDecision = s.ProposedDecision
	s.Approved = true
	s.Gating = model.Gating{Prompted: false, Approved: true}
	if s.ProposedDecision != model.DecisionBlockIP {
		return nil
	}

	det := s.DetectionEvent
	ip := ""
	if det != nil && det.SrcIP != nil {
		ip = *det.SrcIP
	}

	if s.Confidence < p.policy.GatingThreshold && s.Interactive {
		s.Gating.Prompted = true
		outcome, err := p.deps.Approver.Approve(ctx, approval.Request{
			EpisodeID:  s.EpisodeID,
			RunID:      s.RunID,
			IP:         ip,
			Decision:   s.ProposedDecision,
			Confidence: s.Confidence,
			Reason:     s.DecisionReason,
		})
		if err != nil {
			return model.Dependency("approval", err)
		}
		s.ApprovalOutcome = outcome
		p.deps.Metrics.IncGating(string(outcome))

		switch outcome {
		case approval.Approved:
		case approval.Cancelled:
			s.revoke(model.ReasonApprovalCancelled)
		default:
			s.revoke(model.ReasonHumanRejected)
		}
	}
	if !s.Approved {
		return nil
	}

	if ip == "" || s.TDetect == nil {
		s.revoke(model.ReasonMissingIPOrTime)
		return nil
	}
	t0, err := clock.Parse(*s.TDetect)
	if err != nil {
		return &model.Error{Code: model.ErrCodeParse, Op: "act", Message: "invalid detection timestamp", Err: err}
	}
	res, err := p.deps.Executor.BlockIP(ctx, enforce.BlockRequest{
		IP:              ip,
		DurationSeconds: p.policy.BlockDurationSeconds,
		EpisodeID:       s.EpisodeID,
		RunID:           s.RunID,
		Reason:          "triage: " + s.DecisionReason,
		ActionTime:      clock.Format(t0.Add(time.Duration(s.ResponseDelaySeconds) * time.Second)),
		OutPath:         s.ActionsPath,
	})
	if err != nil {
		return err
	}
	s.ActionResult = &res
	p.deps.Metrics.IncAction(res.Action.Action)
	return nil
}

// revoke downgrades an unexecuted block to escalate.
func (s *State) revoke(reason string) {
	s.Approved = false
	s.Gating.Approved = false
	s.Gating.Reason = &reason
	s.FinalDecision = model.DecisionEscalate
}

// audit appends the decision record and feeds a human answer back into
// case memory.
func (p *Pipeline) audit(ctx context.Context, s *State) error {
	reason := s.DecisionReason
	if s.ProposedDecision == model.DecisionBlockIP && s.FinalDecision != model.DecisionBlockIP && s.Gating.Reason != nil {
		reason = reason + " | block proposed but not executed: " + *s.Gating.Reason
	}

	rec := model.DecisionRecord{
		Timestamp: clock.NowString(p.deps.Clock),
		EpisodeID: s.EpisodeID,
		RunID:     s.RunID,
		TDetect:   s.TDetect,
		Decision:  s.FinalDecision,
		Reason:    reason,
		Evidence:  s.Evidence(),
	}
	if err := p.deps.Audit.Record(ctx, rec); err != nil {
		return err
	}
	s.Record = &rec

	// Only a human answer is learned from; a cancelled prompt carries none.
	if !s.Gating.Prompted || s.CaseText == "" || s.ApprovalOutcome == approval.Cancelled {
		return nil
	}
	c, err := p.deps.Audit.Feedback(ctx, audit.Feedback{
		Text:      s.CaseText,
		// The operator's answer is the label, even when a block approved here
		// is revoked afterwards for missing_ip_or_time.
		Approved:  s.ApprovalOutcome == approval.Approved,
		Decision:  s.FinalDecision,
		EpisodeID: s.EpisodeID,
		RunID:     s.RunID,
	})
	if err != nil {
		return err
	}
	s.FeedbackCase = c
	return nil
}

// CaseText is the deterministic summary used for case-memory similarity.
// Absent values render as model.NullString so texts match existing case
// logs.
func CaseText(ev model.Event, actx model.AssetContext) string {
	role, crit := model.NullString, model.NullString
	if actx.Asset != nil {
		role, crit = actx.Asset.Role, actx.Asset.Criticality
	}
	return fmt.Sprintf(
		"event_type=%s action=%s outcome=%s severity=%s user=%s src_ip=%s host=%s role=%s criticality=%s tags=%s",
		ev.EventType, ev.Action, ev.Outcome, ev.Severity,
		orNone(ev.User), orNone(ev.SrcIP), ev.Host,
		role, crit, strings.Join(ev.Tags, " "),
	)
}

func orNone(p *string) string {
	if p == nil {
		return model.NullString
	}
	return *p
}
