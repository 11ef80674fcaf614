package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.IncRuns()
	m.IncDecision("block_ip")
	m.IncDecision("block_ip")
	m.IncDecision("escalate")
	m.IncGating("rejected")
	m.AddMemoryHits(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PipelineRuns))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Decisions.WithLabelValues("block_ip")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("escalate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatingPrompts.WithLabelValues("rejected")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.MemoryHits))
}

func TestMetrics_InstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.IncRuns()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.PipelineRuns))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncRuns()
		m.IncFailure("observe")
		m.ObserveStage("observe", time.Millisecond)
		m.IncDecision("no_block")
		m.IncCaseAdded()
		require.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "m.prom")))
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := New()
	m.IncRuns()
	m.IncAction("block_ip")
	m.ObserveStage("decide", 2*time.Millisecond)

	path := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "triage_pipeline_runs_total 1")
	assert.Contains(t, string(data), `triage_actions_total{action="block_ip"} 1`)
	assert.Contains(t, string(data), `triage_stage_duration_seconds_count{stage="decide"} 1`)
}
