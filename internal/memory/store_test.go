package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/triage/internal/model"
	"github.com/roach88/triage/internal/testutil"
)

const (
	textBrute  = "event_type=auth action=login outcome=success severity=high user=admin src_ip=10.0.10.21 host=db-01 role=db criticality=high tags=auth success_after_fail"
	textBrute2 = "event_type=auth action=login outcome=success severity=high user=admin src_ip=10.0.10.22 host=db-01 role=db criticality=high tags=auth success_after_fail"
	textScan   = "event_type=network action=connect outcome=success severity=medium user=None src_ip=10.0.10.5 host=web-01 role=web criticality=medium tags=lateral_like"
)

func openTestStore(t *testing.T, dir string, opts Options) *Store {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = testutil.NewDeterministicClock(testutil.Epoch, time.Second)
	}
	s, err := Open(context.Background(), dir, opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func addCase(t *testing.T, s *Store, text, label string) model.Case {
	t.Helper()
	c, err := s.AddCase(context.Background(), NewCase{
		Text:     text,
		Label:    label,
		Decision: model.DecisionBlockIP,
		Reason:   "gating_feedback: approved=true",
		Tags:     []string{"gating_feedback"},
		Source:   model.CaseSource{EpisodeID: 1, RunID: "run-a"},
	})
	require.NoError(t, err)
	return c
}

func TestSearch_EmptyStore(t *testing.T) {
	s := openTestStore(t, t.TempDir(), Options{})
	hits, err := s.Search(context.Background(), textBrute, 3, 0.0)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.NotNil(t, hits)
}

func TestAddCase_AssignsSequentialIDs(t *testing.T) {
	s := openTestStore(t, t.TempDir(), Options{})

	c1 := addCase(t, s, textBrute, model.LabelTP)
	c2 := addCase(t, s, textScan, model.LabelFP)

	assert.Equal(t, int64(1), c1.CaseID)
	assert.Equal(t, int64(2), c2.CaseID)
	assert.Equal(t, "2026-02-19T10:00:00Z", c1.CreatedAt)
	assert.Equal(t, []string{"gating_feedback"}, c1.Tags)
	assert.Equal(t, 2, s.Len())

	stored, err := os.ReadFile(filepath.Join(s.Dir(), CasesFile))
	require.NoError(t, err)
	assert.Contains(t, string(stored), `"case_id":2`)
}

func TestAddCase_NilTagsStoredAsEmptyList(t *testing.T) {
	s := openTestStore(t, t.TempDir(), Options{})
	c, err := s.AddCase(context.Background(), NewCase{Text: "x", Label: model.LabelUncertain})
	require.NoError(t, err)
	assert.Equal(t, []string{}, c.Tags)
}

func TestSearch_RoundTripScoresOne(t *testing.T) {
	s := openTestStore(t, t.TempDir(), Options{})
	addCase(t, s, textScan, model.LabelFP)
	want := addCase(t, s, textBrute, model.LabelTP)

	hits, err := s.Search(context.Background(), textBrute, 3, 1.0-1e-6)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, want.CaseID, hits[0].Case.CaseID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestSearch_RanksBySimilarity(t *testing.T) {
	s := openTestStore(t, t.TempDir(), Options{})
	addCase(t, s, textScan, model.LabelFP)
	addCase(t, s, textBrute2, model.LabelTP)

	hits, err := s.Search(context.Background(), textBrute, 3, -1)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, textBrute2, hits[0].Case.Text)
	assert.Greater(t, hits[0].Score, hits[1].Score)
	assert.Greater(t, hits[0].Score, 0.78, "texts differing in one ip stay above the memory threshold")
}

func TestSearch_ThresholdAndK(t *testing.T) {
	s := openTestStore(t, t.TempDir(), Options{})
	for i := 0; i < 5; i++ {
		addCase(t, s, textBrute, model.LabelTP)
	}
	addCase(t, s, textScan, model.LabelFP)

	hits, err := s.Search(context.Background(), textBrute, 3, 0.99)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	// Equal scores keep case order
	assert.Equal(t, []int64{1, 2, 3}, []int64{hits[0].Case.CaseID, hits[1].Case.CaseID, hits[2].Case.CaseID})

	hits, err = s.Search(context.Background(), textBrute, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestOpen_LoadsPersistedIndex(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, Options{})
	addCase(t, s, textBrute, model.LabelTP)
	addCase(t, s, textScan, model.LabelFP)
	before := append([][]float32(nil), s.vectors...)
	require.NoError(t, s.Close())

	reopened := openTestStore(t, dir, Options{})
	assert.Equal(t, 2, reopened.Len())
	assert.Equal(t, before, reopened.vectors)

	c := addCase(t, reopened, textBrute2, model.LabelTP)
	assert.Equal(t, int64(3), c.CaseID)
}

func indexRows(t *testing.T, dir string) (int, []entry) {
	t.Helper()
	idx, err := openIndex(filepath.Join(dir, IndexFile))
	require.NoError(t, err)
	defer idx.close()
	dim, entries, err := idx.load(context.Background())
	require.NoError(t, err)
	return dim, entries
}

func TestOpen_RebuildsMissingIndex(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, Options{})
	addCase(t, s, textBrute, model.LabelTP)
	addCase(t, s, textScan, model.LabelFP)
	require.NoError(t, s.Close())

	for _, suffix := range []string{"", "-wal", "-shm"} {
		os.Remove(filepath.Join(dir, IndexFile+suffix))
	}

	reopened := openTestStore(t, dir, Options{})
	hits, err := reopened.Search(context.Background(), textScan, 1, 0.99)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(2), hits[0].Case.CaseID)
	require.NoError(t, reopened.Close())

	dim, entries := indexRows(t, dir)
	assert.Equal(t, DefaultDim, dim)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].caseID)
	assert.Equal(t, int64(2), entries[1].caseID)
}

func TestOpen_RebuildsOnDimensionChange(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, Options{})
	addCase(t, s, textBrute, model.LabelTP)
	require.NoError(t, s.Close())

	reopened := openTestStore(t, dir, Options{Embedder: NewHashingEmbedder(64)})
	hits, err := reopened.Search(context.Background(), textBrute, 1, 0.99)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.NoError(t, reopened.Close())

	dim, entries := indexRows(t, dir)
	assert.Equal(t, 64, dim)
	assert.Len(t, entries[0].vector, 64)
}

func TestOpen_RebuildsWhenIndexLagsCaseLog(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, Options{})
	addCase(t, s, textBrute, model.LabelTP)
	addCase(t, s, textScan, model.LabelFP)
	require.NoError(t, s.Close())

	idx, err := openIndex(filepath.Join(dir, IndexFile))
	require.NoError(t, err)
	_, err = idx.db.Exec(`DELETE FROM vectors WHERE case_id = 2`)
	require.NoError(t, err)
	require.NoError(t, idx.close())

	reopened := openTestStore(t, dir, Options{})
	require.Len(t, reopened.vectors, 2)
	require.NoError(t, reopened.Close())

	_, entries := indexRows(t, dir)
	assert.Len(t, entries, 2)
}

type failingEmbedder struct{}

func (failingEmbedder) Dim() int { return 8 }

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("model unavailable")
}

func TestAddCase_EmbeddingFailureWritesNothing(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, Options{Embedder: failingEmbedder{}})

	_, err := s.AddCase(context.Background(), NewCase{Text: textBrute, Label: model.LabelTP})
	require.Error(t, err)
	assert.True(t, model.IsDependency(err))
	assert.Equal(t, 0, s.Len())
	assert.NoFileExists(t, filepath.Join(dir, CasesFile))
}

func TestOpen_EmbeddingFailureDuringRebuild(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, Options{})
	addCase(t, s, textBrute, model.LabelTP)
	require.NoError(t, s.Close())

	_, err := Open(context.Background(), dir, Options{Embedder: failingEmbedder{}})
	require.Error(t, err)
	assert.True(t, model.IsDependency(err))
}

func TestOpen_MalformedCaseLog(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, CasesFile), []byte("{\"case_id\":1}\nnot json\n"), 0o644))

	_, err := Open(context.Background(), dir, Options{})
	require.Error(t, err)
	assert.True(t, model.IsParseError(err))
}

func TestAddCase_ConcurrentWritersNeverRepeatIDs(t *testing.T) {
	s := openTestStore(t, t.TempDir(), Options{})

	const n = 40
	ids := make([]int64, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			c, err := s.AddCase(context.Background(), NewCase{Text: textBrute, Label: model.LabelTP})
			assert.NoError(t, err)
			ids[i] = c.CaseID
		}(i)
	}
	wg.Wait()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		assert.Equal(t, int64(i+1), id)
	}
	assert.Len(t, s.vectors, n)
}

func TestRecent(t *testing.T) {
	s := openTestStore(t, t.TempDir(), Options{})
	for i := 0; i < 4; i++ {
		addCase(t, s, textBrute, model.LabelTP)
	}
	recent := s.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(3), recent[0].CaseID)
	assert.Equal(t, int64(4), recent[1].CaseID)
	assert.Len(t, s.Recent(0), 4)
	assert.Len(t, s.Recent(10), 4)
}
