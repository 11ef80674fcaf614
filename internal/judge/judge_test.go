package judge

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/triage/internal/jsonl"
	"github.com/roach88/triage/internal/model"
)

func decision(ep int, decision string, tDetect *string) model.DecisionRecord {
	return model.DecisionRecord{Timestamp: "2026-02-19T12:00:00Z", EpisodeID: ep, RunID: "run-test", TDetect: tDetect, Decision: decision}
}

func block(ep int, ts string) model.ActionRecord {
	return model.ActionRecord{Timestamp: ts, RunID: "run-test", EpisodeID: ep, Action: "block_ip", IP: "10.0.10.21", DurationSeconds: 1800, Status: "simulated"}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// fixture lays out four episodes covering every ground-truth shape.
func fixture(t *testing.T) Options {
	t.Helper()
	dir := t.TempDir()
	opts := Options{
		GroundTruthDir: filepath.Join(dir, "ground_truth"),
		Decisions:      filepath.Join(dir, "run", "decisions.jsonl"),
		Actions:        filepath.Join(dir, "run", "enforcement_actions.jsonl"),
	}

	writeFile(t, filepath.Join(opts.GroundTruthDir, "episode_001.json"),
		`{"episode_id": 1, "t0": "2026-02-19T10:10:00Z", "injected_window": {"start": "2026-02-19T10:11:00Z", "end": "2026-02-19T10:13:00Z"}}`)
	writeFile(t, filepath.Join(opts.GroundTruthDir, "episode_2.json"),
		`{"window": {"start": "2026-02-19T10:21:00Z"}}`)
	writeFile(t, filepath.Join(opts.GroundTruthDir, "episode_003.json"),
		`{"injected_window": null, "t0": "2026-02-19T10:30:00Z"}`)

	require.NoError(t, jsonl.NewWriter(opts.Decisions).Append(
		decision(1, model.DecisionEscalate, model.Str("2026-02-19T10:11:30Z")),
		decision(4, model.DecisionBlockIP, model.Str("2026-02-19T10:41:00Z")),
		decision(3, model.DecisionNoBlock, nil),
		decision(2, model.DecisionEscalate, model.Str("2026-02-19T10:22:05Z")),
		decision(1, model.DecisionBlockIP, model.Str("2026-02-19T10:11:00Z")),
	))
	require.NoError(t, jsonl.NewWriter(opts.Actions).Append(
		block(1, "2026-02-19T10:12:00Z"),
		block(1, "2026-02-19T10:11:30Z"),
		block(4, "2026-02-19T10:41:30Z"),
		block(5, "2026-02-19T10:51:30Z"),
	))
	return opts
}

func TestReport_Golden(t *testing.T) {
	opts := fixture(t)
	out := filepath.Join(t.TempDir(), "results", "report.csv")

	rows, err := Report(opts, out)
	require.NoError(t, err)
	assert.Len(t, rows, 4)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "report", data)
}

func TestEvaluate_LastDecisionWins(t *testing.T) {
	rows, err := Evaluate(fixture(t))
	require.NoError(t, err)

	require.Equal(t, 1, rows[0].EpisodeID)
	assert.Equal(t, model.DecisionBlockIP, rows[0].Decision)
	require.NotNil(t, rows[0].MTTD)
	assert.Equal(t, 0.0, *rows[0].MTTD)
	require.NotNil(t, rows[0].MTTR)
	assert.Equal(t, 30.0, *rows[0].MTTR)
}

func TestEvaluate_MissingInputs(t *testing.T) {
	rows, err := Evaluate(fixture(t))
	require.NoError(t, err)

	third := rows[2]
	assert.Nil(t, third.TDetect)
	assert.Nil(t, third.MTTD)
	assert.Nil(t, third.TBlock)

	fourth := rows[3]
	assert.Nil(t, fourth.InjStart)
	assert.Nil(t, fourth.MTTD)
	assert.Nil(t, fourth.MTTR)
	assert.NotNil(t, fourth.TBlock)
}

func TestEvaluate_NoLogs(t *testing.T) {
	dir := t.TempDir()
	rows, err := Evaluate(Options{
		GroundTruthDir: dir,
		Decisions:      filepath.Join(dir, "missing.jsonl"),
		Actions:        filepath.Join(dir, "missing.jsonl"),
	})
	require.NoError(t, err)
	assert.Empty(t, rows)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows))
	assert.Equal(t, "episode_id,decision,inj_start,t_detect,t_block,MTTD_seconds,MTTR_seconds\n", buf.String())
}

func TestEvaluate_Errors(t *testing.T) {
	t.Run("malformed decision log", func(t *testing.T) {
		opts := fixture(t)
		writeFile(t, opts.Decisions, "{not json\n")
		_, err := Evaluate(opts)
		assert.True(t, model.IsParseError(err))
	})

	t.Run("malformed ground truth", func(t *testing.T) {
		opts := fixture(t)
		writeFile(t, filepath.Join(opts.GroundTruthDir, "episode_001.json"), "[")
		_, err := Evaluate(opts)
		assert.True(t, model.IsParseError(err))
	})

	t.Run("bad timestamp", func(t *testing.T) {
		opts := fixture(t)
		writeFile(t, filepath.Join(opts.GroundTruthDir, "episode_001.json"), `{"t0": "yesterday"}`)
		_, err := Evaluate(opts)
		assert.True(t, model.IsParseError(err))
	})
}

func TestSummarize(t *testing.T) {
	rows, err := Evaluate(fixture(t))
	require.NoError(t, err)

	s := Summarize(rows)
	assert.Equal(t, 4, s.Episodes)
	assert.Equal(t, 2, s.Detected)
	assert.Equal(t, 1, s.Blocked)
	require.NotNil(t, s.MeanMTTD)
	assert.InDelta(t, 32.5, *s.MeanMTTD, 1e-9)
	require.NotNil(t, s.MeanMTTR)
	assert.InDelta(t, 30.0, *s.MeanMTTR, 1e-9)

	empty := Summarize(nil)
	assert.Nil(t, empty.MeanMTTD)
	assert.Nil(t, empty.MeanMTTR)
}
