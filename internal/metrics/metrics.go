// Package metrics holds the Prometheus counters of triage executions.
//
// Triage is a batch tool, not a server, so metrics are not scraped: after
// each execution the registry is written to <run_dir>/metrics.prom in the
// text exposition format, ready for a node_exporter textfile collector.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all the Prometheus metrics of the pipeline.
type Metrics struct {
	registry *prometheus.Registry

	PipelineRuns     prometheus.Counter
	PipelineFailures *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	Decisions        *prometheus.CounterVec
	GatingPrompts    *prometheus.CounterVec
	Actions          *prometheus.CounterVec
	MemoryHits       prometheus.Counter
	CasesAdded       prometheus.Counter
	CasesDeduped     prometheus.Counter
}

// New creates a Metrics instance on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		PipelineRuns: f.NewCounter(prometheus.CounterOpts{
			Name: "triage_pipeline_runs_total",
			Help: "Total number of pipeline executions started",
		}),
		PipelineFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_pipeline_failures_total",
			Help: "Total number of pipeline executions aborted, by stage",
		}, []string{"stage"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "triage_stage_duration_seconds",
			Help:    "Wall time spent in each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"stage"}),
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_decisions_total",
			Help: "Total number of audited decisions, by final decision",
		}, []string{"decision"}),
		GatingPrompts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_gating_prompts_total",
			Help: "Total number of human approval requests, by outcome",
		}, []string{"outcome"}),
		Actions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_actions_total",
			Help: "Total number of recorded enforcement actions, by action",
		}, []string{"action"}),
		MemoryHits: f.NewCounter(prometheus.CounterOpts{
			Name: "triage_memory_hits_total",
			Help: "Total number of case-memory hits returned to the pipeline",
		}),
		CasesAdded: f.NewCounter(prometheus.CounterOpts{
			Name: "triage_memory_cases_added_total",
			Help: "Total number of cases fed back into case memory",
		}),
		CasesDeduped: f.NewCounter(prometheus.CounterOpts{
			Name: "triage_memory_cases_deduplicated_total",
			Help: "Total number of feedback cases skipped as duplicates",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// IncRuns counts a started execution.
func (m *Metrics) IncRuns() {
	if m != nil {
		m.PipelineRuns.Inc()
	}
}

// IncFailure counts an execution aborted in stage.
func (m *Metrics) IncFailure(stage string) {
	if m != nil {
		m.PipelineFailures.WithLabelValues(stage).Inc()
	}
}

// ObserveStage records the duration of a stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m != nil {
		m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// IncDecision counts an audited decision.
func (m *Metrics) IncDecision(decision string) {
	if m != nil {
		m.Decisions.WithLabelValues(decision).Inc()
	}
}

// IncGating counts an approval request by outcome.
func (m *Metrics) IncGating(outcome string) {
	if m != nil {
		m.GatingPrompts.WithLabelValues(outcome).Inc()
	}
}

// IncAction counts a recorded action.
func (m *Metrics) IncAction(action string) {
	if m != nil {
		m.Actions.WithLabelValues(action).Inc()
	}
}

// AddMemoryHits counts memory hits.
func (m *Metrics) AddMemoryHits(n int) {
	if m != nil {
		m.MemoryHits.Add(float64(n))
	}
}

// IncCaseAdded counts a case fed back into memory.
func (m *Metrics) IncCaseAdded() {
	if m != nil {
		m.CasesAdded.Inc()
	}
}

// IncCaseDeduped counts a feedback case skipped as a duplicate.
func (m *Metrics) IncCaseDeduped() {
	if m != nil {
		m.CasesDeduped.Inc()
	}
}

// WriteTextfile writes the registry to path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
