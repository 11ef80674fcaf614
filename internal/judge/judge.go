// Package judge scores a run against ground truth: mean time to detect
// (MTTD) and mean time to respond (MTTR) per episode.
//
// For each episode the LAST decision record counts. The injection start is
// read from the episode's ground truth (injected_window.start, else
// window.start, else t0); t_block is the earliest block_ip action logged
// for the episode. MTTD = t_detect - inj_start and MTTR = t_block -
// inj_start, in seconds. Missing inputs leave a cell empty.
package judge

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/roach88/triage/internal/clock"
	"github.com/roach88/triage/internal/enforce"
	"github.com/roach88/triage/internal/jsonl"
	"github.com/roach88/triage/internal/model"
)

// Header is the CSV column order.
var Header = []string{"episode_id", "decision", "inj_start", "t_detect", "t_block", "MTTD_seconds", "MTTR_seconds"}

// Options locates the inputs of a report.
type Options struct {
	GroundTruthDir string
	Decisions      string
	Actions        string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Row is one episode of the report. Nil fields are unknown.
type Row struct {
	EpisodeID int      `json:"episode_id"`
	Decision  string   `json:"decision"`
	InjStart  *string  `json:"inj_start"`
	TDetect   *string  `json:"t_detect"`
	TBlock    *string  `json:"t_block"`
	MTTD      *float64 `json:"mttd_seconds"`
	MTTR      *float64 `json:"mttr_seconds"`
}

// Summary aggregates a report.
type Summary struct {
	Episodes int      `json:"episodes"`
	Detected int      `json:"detected"`
	Blocked  int      `json:"blocked"`
	MeanMTTD *float64 `json:"mean_mttd_seconds"`
	MeanMTTR *float64 `json:"mean_mttr_seconds"`
}

// Evaluate computes one row per episode that has a decision, ordered by
// episode id. Missing decision or action logs count as empty.
func Evaluate(opts Options) ([]Row, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	decisions, err := jsonl.ReadAll[model.DecisionRecord](opts.Decisions, true)
	if err != nil {
		return nil, err
	}
	actions, err := jsonl.ReadAll[model.ActionRecord](opts.Actions, true)
	if err != nil {
		return nil, err
	}

	last := make(map[int]model.DecisionRecord)
	for _, d := range decisions {
		last[d.EpisodeID] = d
	}
	episodes := make([]int, 0, len(last))
	for ep := range last {
		episodes = append(episodes, ep)
	}
	sort.Ints(episodes)

	rows := make([]Row, 0, len(episodes))
	for _, ep := range episodes {
		d := last[ep]
		row := Row{EpisodeID: ep, Decision: d.Decision, TDetect: d.TDetect, TBlock: firstBlock(actions, ep)}

		row.InjStart, err = injectionStart(opts.GroundTruthDir, ep)
		if err != nil {
			return nil, err
		}
		if row.InjStart == nil {
			log.Warn("no ground truth for episode", "episode_id", ep, "dir", opts.GroundTruthDir)
		}
		if row.MTTD, err = elapsed(row.InjStart, row.TDetect); err != nil {
			return nil, err
		}
		if row.MTTR, err = elapsed(row.InjStart, row.TBlock); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Summarize averages the known MTTD and MTTR values.
func Summarize(rows []Row) Summary {
	s := Summary{Episodes: len(rows)}
	var sumD, sumR float64
	for _, r := range rows {
		if r.MTTD != nil {
			s.Detected++
			sumD += *r.MTTD
		}
		if r.MTTR != nil {
			s.Blocked++
			sumR += *r.MTTR
		}
	}
	if s.Detected > 0 {
		m := sumD / float64(s.Detected)
		s.MeanMTTD = &m
	}
	if s.Blocked > 0 {
		m := sumR / float64(s.Blocked)
		s.MeanMTTR = &m
	}
	return s
}

// WriteCSV writes the header and one line per row.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			strconv.Itoa(r.EpisodeID),
			r.Decision,
			cell(r.InjStart),
			cell(r.TDetect),
			cell(r.TBlock),
			seconds(r.MTTD),
			seconds(r.MTTR),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Report evaluates opts and writes the CSV to out, creating its directory.
func Report(opts Options, out string) ([]Row, error) {
	rows, err := Evaluate(opts)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	f, err := os.Create(out)
	if err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}
	if err := WriteCSV(f, rows); err != nil {
		f.Close()
		return nil, fmt.Errorf("write report: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close report: %w", err)
	}
	return rows, nil
}

func firstBlock(actions []model.ActionRecord, ep int) *string {
	var first *string
	for _, a := range actions {
		if a.Action != enforce.ActionBlockIP || a.EpisodeID != ep {
			continue
		}
		if first == nil || a.Timestamp < *first {
			ts := a.Timestamp
			first = &ts
		}
	}
	return first
}

// injectionStart reads the episode's ground truth, accepting both the
// padded and the plain file name. A missing file yields nil.
func injectionStart(dir string, ep int) (*string, error) {
	candidates := []string{
		filepath.Join(dir, fmt.Sprintf("episode_%03d.json", ep)),
		filepath.Join(dir, fmt.Sprintf("episode_%d.json", ep)),
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read ground truth: %w", err)
		}
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, &model.Error{Code: model.ErrCodeParse, Op: "judge", Path: path, Message: "malformed ground truth", Err: err}
		}
		return startOf(doc), nil
	}
	return nil, nil
}

func startOf(doc map[string]json.RawMessage) *string {
	for _, key := range []string{"injected_window", "window"} {
		raw, ok := doc[key]
		if !ok {
			continue
		}
		var w map[string]any
		if err := json.Unmarshal(raw, &w); err != nil || w == nil {
			continue
		}
		if s, ok := w["start"].(string); ok {
			return &s
		}
		return nil
	}
	var t0 string
	if err := json.Unmarshal(doc["t0"], &t0); err == nil && t0 != "" {
		return &t0
	}
	return nil
}

func elapsed(from, to *string) (*float64, error) {
	if from == nil || to == nil {
		return nil, nil
	}
	a, err := clock.Parse(*from)
	if err != nil {
		return nil, &model.Error{Code: model.ErrCodeParse, Op: "judge", Message: "invalid timestamp", Err: err}
	}
	b, err := clock.Parse(*to)
	if err != nil {
		return nil, &model.Error{Code: model.ErrCodeParse, Op: "judge", Message: "invalid timestamp", Err: err}
	}
	d := b.Sub(a).Seconds()
	return &d, nil
}

func cell(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func seconds(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}
