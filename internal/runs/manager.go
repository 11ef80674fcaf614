package runs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/roach88/triage/internal/clock"
	"github.com/roach88/triage/internal/jsonl"
	"github.com/roach88/triage/internal/model"
)

// File names inside a run directory.
const (
	DecisionsFile = "decisions.jsonl"
	ActionsFile   = "enforcement_actions.jsonl"
	MetaFile      = "run_meta.json"
	MetricsFile   = "metrics.prom"
	MemoryDirName = "memory"
)

// DefaultRunsDir is where runs are created when no directory is configured.
const DefaultRunsDir = "data/runs"

// Paths locates every file of a run.
type Paths struct {
	RunID     string `json:"run_id"`
	BaseDir   string `json:"base_dir"`
	Decisions string `json:"decisions_path"`
	Actions   string `json:"actions_path"`
	Meta      string `json:"meta_path"`
	Metrics   string `json:"metrics_path"`
	MemoryDir string `json:"memory_dir"`
}

// PrepareOptions controls Prepare.
type PrepareOptions struct {
	// Clean deletes an existing namespace before preparing it.
	Clean bool

	// Meta is merged into run_meta.json after run_id and created_at.
	Meta map[string]any

	// MemoryDir overrides the default <run_dir>/memory.
	MemoryDir string
}

// Run is a prepared namespace.
type Run struct {
	Paths Paths

	// Fresh is true when the logs were truncated and metadata written.
	Fresh bool

	// Meta is the metadata on disk after preparation.
	Meta map[string]any

	Decisions *jsonl.Writer
	Actions   *jsonl.Writer
}

// Manager prepares runs under one directory.
//
// Thread-safety: all methods are safe for concurrent use.
type Manager struct {
	runsDir string
	clock   clock.Clock

	mu      sync.Mutex
	writers map[string]*jsonl.Writer
}

// NewManager creates a manager rooted at runsDir. A nil clock uses the
// system clock.
func NewManager(runsDir string, c clock.Clock) *Manager {
	if runsDir == "" {
		runsDir = DefaultRunsDir
	}
	if c == nil {
		c = clock.System{}
	}
	return &Manager{runsDir: runsDir, clock: c, writers: make(map[string]*jsonl.Writer)}
}

// RunsDir returns the root directory.
func (m *Manager) RunsDir() string {
	return m.runsDir
}

// PathsFor computes the paths of a run without touching the filesystem.
func (m *Manager) PathsFor(runID string) Paths {
	base := filepath.Join(m.runsDir, runID)
	return Paths{
		RunID:     runID,
		BaseDir:   base,
		Decisions: filepath.Join(base, DecisionsFile),
		Actions:   filepath.Join(base, ActionsFile),
		Meta:      filepath.Join(base, MetaFile),
		Metrics:   filepath.Join(base, MetricsFile),
		MemoryDir: filepath.Join(base, MemoryDirName),
	}
}

// Prepare creates or reopens the namespace of runID.
//
// Decision and action logs are truncated only when the namespace is new or
// opts.Clean is set; otherwise they are created if missing and left intact.
// Metadata is written only when the namespace is new, opts.Clean is set, or
// the metadata file is missing.
func (m *Manager) Prepare(runID string, opts PrepareOptions) (*Run, error) {
	if err := validateRunID(runID); err != nil {
		return nil, err
	}
	paths := m.PathsFor(runID)
	if opts.MemoryDir != "" {
		paths.MemoryDir = opts.MemoryDir
	}

	exists, err := dirExists(paths.BaseDir)
	if err != nil {
		return nil, err
	}
	if opts.Clean && exists {
		if err := os.RemoveAll(paths.BaseDir); err != nil {
			return nil, fmt.Errorf("clean run %s: %w", runID, err)
		}
		exists = false
	}
	if err := os.MkdirAll(paths.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}

	fresh := !exists
	for _, p := range []string{paths.Decisions, paths.Actions} {
		if err := touch(p, fresh); err != nil {
			return nil, err
		}
	}

	meta, err := m.prepareMeta(paths, fresh, opts.Meta)
	if err != nil {
		return nil, err
	}

	return &Run{
		Paths:     paths,
		Fresh:     fresh,
		Meta:      meta,
		Decisions: m.Writer(paths.Decisions),
		Actions:   m.Writer(paths.Actions),
	}, nil
}

// Writer returns the shared writer for path, creating it on first use.
func (m *Manager) Writer(path string) *jsonl.Writer {
	key := filepath.Clean(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.writers[key]
	if !ok {
		w = jsonl.NewWriter(key)
		m.writers[key] = w
	}
	return w
}

func (m *Manager) prepareMeta(paths Paths, fresh bool, extra map[string]any) (map[string]any, error) {
	if !fresh {
		data, err := os.ReadFile(paths.Meta)
		if err == nil {
			var meta map[string]any
			if err := json.Unmarshal(data, &meta); err != nil {
				return nil, model.ParseError(paths.Meta, 0, err)
			}
			return meta, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read run meta: %w", err)
		}
	}

	meta := map[string]any{
		"run_id":     paths.RunID,
		"created_at": clock.NowString(m.clock),
	}
	for k, v := range extra {
		meta[k] = v
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode run meta: %w", err)
	}
	if err := os.WriteFile(paths.Meta, append(data, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("write run meta: %w", err)
	}
	return meta, nil
}

func validateRunID(runID string) error {
	switch {
	case runID == "":
		return model.Validation("prepare run", "run id is empty")
	case runID == "." || runID == "..":
		return model.Validation("prepare run", "invalid run id %q", runID)
	case strings.ContainsAny(runID, `/\`):
		return model.Validation("prepare run", "run id %q must not contain path separators", runID)
	}
	return nil
}

func dirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return false, fmt.Errorf("run path %s is not a directory", path)
		}
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat run dir: %w", err)
}

// touch creates path, truncating it when truncate is set.
func touch(path string, truncate bool) error {
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if truncate {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	return f.Close()
}
