package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/roach88/triage/internal/clock"
	"github.com/roach88/triage/internal/jsonl"
	"github.com/roach88/triage/internal/model"
)

// File names inside a memory directory.
const (
	CasesFile = "cases.jsonl"
	IndexFile = "index.db"
)

// Options configures Open.
type Options struct {
	// Embedder defaults to NewHashingEmbedder(DefaultDim).
	Embedder Embedder

	// Clock stamps created_at. Defaults to the system clock.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewCase is the caller-supplied content of a case. The store assigns
// case_id and created_at.
type NewCase struct {
	Text     string
	Label    string
	Decision string
	Reason   string
	Tags     []string
	Source   model.CaseSource
}

// Store is the case-memory store of one directory.
//
// Thread-safety: all methods are safe for concurrent use. Writes are
// serialized by an internal mutex.
type Store struct {
	dir      string
	cases    *jsonl.Writer
	index    *sqliteIndex
	embedder Embedder
	clock    clock.Clock
	logger   *slog.Logger

	mu      sync.RWMutex
	records []model.Case
	vectors [][]float32
}

// Open loads or initializes the store in dir, creating dir if needed.
//
// The persisted index is used only if it existed before Open, the case log
// is non-empty, and index and case log agree. Otherwise the index is
// rebuilt from the case log and persisted.
func Open(ctx context.Context, dir string, opts Options) (*Store, error) {
	if opts.Embedder == nil {
		opts.Embedder = NewHashingEmbedder(DefaultDim)
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}

	casesPath := filepath.Join(dir, CasesFile)
	records, err := jsonl.ReadAll[model.Case](casesPath, true)
	if err != nil {
		return nil, fmt.Errorf("load cases: %w", err)
	}

	indexPath := filepath.Join(dir, IndexFile)
	_, statErr := os.Stat(indexPath)
	indexExisted := statErr == nil
	if statErr != nil && !errors.Is(statErr, os.ErrNotExist) {
		return nil, fmt.Errorf("stat index: %w", statErr)
	}

	idx, err := openIndex(indexPath)
	if err != nil {
		return nil, err
	}

	s := &Store{
		dir:      dir,
		cases:    jsonl.NewWriter(casesPath),
		index:    idx,
		embedder: opts.Embedder,
		clock:    opts.Clock,
		logger:   opts.Logger,
		records:  records,
	}

	if err := s.loadIndex(ctx, indexExisted); err != nil {
		idx.close()
		return nil, err
	}
	return s, nil
}

func (s *Store) loadIndex(ctx context.Context, indexExisted bool) error {
	if indexExisted && len(s.records) > 0 {
		dim, entries, err := s.index.load(ctx)
		if err != nil {
			return err
		}
		reason := s.mismatch(dim, entries)
		if reason == "" {
			s.vectors = make([][]float32, len(entries))
			for i, e := range entries {
				s.vectors[i] = e.vector
			}
			s.logger.Debug("memory index loaded", "dir", s.dir, "cases", len(s.records))
			return nil
		}
		s.logger.Info("memory index out of sync, rebuilding", "dir", s.dir, "reason", reason)
	}
	return s.rebuild(ctx)
}

// mismatch explains why a persisted index cannot be used, or returns "".
func (s *Store) mismatch(dim int, entries []entry) string {
	if dim != s.embedder.Dim() {
		return fmt.Sprintf("dimension %d, embedder %d", dim, s.embedder.Dim())
	}
	if len(entries) != len(s.records) {
		return fmt.Sprintf("%d vectors for %d cases", len(entries), len(s.records))
	}
	for i, e := range entries {
		if e.caseID != s.records[i].CaseID || len(e.vector) != dim {
			return fmt.Sprintf("position %d holds case %d", i, e.caseID)
		}
	}
	return ""
}

// rebuild re-embeds every stored case text and persists the new index.
func (s *Store) rebuild(ctx context.Context) error {
	texts := make([]string, len(s.records))
	for i, c := range s.records {
		texts[i] = c.Text
	}
	var vectors [][]float32
	if len(texts) > 0 {
		var err error
		vectors, err = s.embed(ctx, texts)
		if err != nil {
			return err
		}
	}

	entries := make([]entry, len(vectors))
	for i, v := range vectors {
		entries[i] = entry{caseID: s.records[i].CaseID, vector: v}
	}
	if err := s.index.replace(ctx, s.embedder.Dim(), entries); err != nil {
		return err
	}
	s.vectors = vectors
	s.logger.Debug("memory index rebuilt", "dir", s.dir, "cases", len(s.records))
	return nil
}

func (s *Store) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, model.Dependency("embed", err)
	}
	if len(vectors) != len(texts) {
		return nil, model.Dependency("embed", fmt.Errorf("got %d vectors for %d texts", len(vectors), len(texts)))
	}
	for _, v := range vectors {
		if len(v) != s.embedder.Dim() {
			return nil, model.Dependency("embed", fmt.Errorf("got %d-dimensional vector, want %d", len(v), s.embedder.Dim()))
		}
	}
	return vectors, nil
}

// Close releases the index database.
func (s *Store) Close() error {
	return s.index.close()
}

// Dir returns the memory directory.
func (s *Store) Dir() string {
	return s.dir
}

// AddCase assigns the next case id, appends the case to the case log and its
// vector to the index, and returns the stored case.
func (s *Store) AddCase(ctx context.Context, nc NewCase) (model.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vectors, err := s.embed(ctx, []string{nc.Text})
	if err != nil {
		return model.Case{}, err
	}

	id := int64(1)
	if n := len(s.records); n > 0 {
		id = s.records[n-1].CaseID + 1
	}
	tags := nc.Tags
	if tags == nil {
		tags = []string{}
	}
	c := model.Case{
		CaseID:    id,
		CreatedAt: clock.NowString(s.clock),
		Text:      nc.Text,
		Label:     nc.Label,
		Decision:  nc.Decision,
		Reason:    nc.Reason,
		Tags:      tags,
		Source:    nc.Source,
	}

	if err := s.cases.Append(c); err != nil {
		return model.Case{}, fmt.Errorf("append case: %w", err)
	}
	position := len(s.records)
	s.records = append(s.records, c)
	s.vectors = append(s.vectors, vectors[0])

	if err := s.index.add(ctx, s.embedder.Dim(), position, entry{caseID: id, vector: vectors[0]}); err != nil {
		// The case is stored and searchable; the persisted index lags and the
		// next Open rebuilds it.
		return c, fmt.Errorf("index case %d: %w", id, err)
	}
	return c, nil
}

// Search returns up to k cases most similar to text with score >= threshold,
// highest score first. Equal scores keep case order. An empty store returns
// no hits.
func (s *Store) Search(ctx context.Context, text string, k int, threshold float64) ([]model.MemoryHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := []model.MemoryHit{}
	if len(s.records) == 0 || k <= 0 {
		return hits, nil
	}

	q, err := s.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	type scored struct {
		pos   int
		score float64
	}
	all := make([]scored, len(s.vectors))
	for i, v := range s.vectors {
		all[i] = scored{pos: i, score: dot(q[0], v)}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })
	if k < len(all) {
		all = all[:k]
	}
	for _, sc := range all {
		if sc.score < threshold {
			continue
		}
		hits = append(hits, model.MemoryHit{Score: sc.score, Case: s.records[sc.pos]})
	}
	return hits, nil
}

// Len returns the number of stored cases.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Recent returns the last n cases, oldest first. n <= 0 returns all.
func (s *Store) Recent(n int) []model.Case {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if n > 0 && n < len(s.records) {
		start = len(s.records) - n
	}
	return append([]model.Case(nil), s.records[start:]...)
}
