package logquery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/triage/internal/jsonl"
	"github.com/roach88/triage/internal/model"
)

// Engine searches the episode logs of one directory.
type Engine struct {
	logsDir string
}

// New returns an engine over logsDir.
func New(logsDir string) *Engine {
	return &Engine{logsDir: logsDir}
}

// LogsDir returns the directory the engine reads.
func (e *Engine) LogsDir() string {
	return e.logsDir
}

// EpisodePath returns the log file path of an episode.
func EpisodePath(logsDir string, episodeID int) string {
	return filepath.Join(logsDir, fmt.Sprintf("episode_%03d.jsonl", episodeID))
}

var episodeFileRE = regexp.MustCompile(`^episode_(\d+)\.jsonl$`)

// ListEpisodes returns the ids of all episode files in logsDir, ascending.
func ListEpisodes(logsDir string) ([]int, error) {
	entries, err := os.ReadDir(logsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, model.NotFound("list episodes", logsDir)
		}
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	var ids []int
	for _, ent := range entries {
		m := episodeFileRE.FindStringSubmatch(ent.Name())
		if m == nil || ent.IsDir() {
			continue
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

// sources resolves the files a request reads, in scan order.
func (e *Engine) sources(episodeID *int) ([]string, error) {
	if episodeID != nil {
		p := EpisodePath(e.logsDir, *episodeID)
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, model.NotFound("search", p)
			}
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		return []string{p}, nil
	}

	entries, err := os.ReadDir(e.logsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, model.NotFound("search", e.logsDir)
		}
		return nil, fmt.Errorf("read logs dir: %w", err)
	}
	var paths []string
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() || !strings.HasPrefix(name, "episode_") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		paths = append(paths, filepath.Join(e.logsDir, name))
	}
	sort.Strings(paths)
	return paths, nil
}

// Search evaluates req and returns matching events and the aggregation.
//
// Errors: NOT_FOUND for a missing episode file, PARSE_ERROR for a malformed
// line or event timestamp, VALIDATION_ERROR for a malformed request.
func (e *Engine) Search(ctx context.Context, req Request) (*Result, error) {
	preds, err := Compile(req)
	if err != nil {
		return nil, err
	}
	paths, err := e.sources(req.EpisodeID)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit < 0 {
		limit = 0
	}

	ev := newEvaluator(preds)
	var topk *counter
	if req.Aggregation != nil && req.Aggregation.Type == AggTopK {
		topk = newCounter()
	}

	res := &Result{Events: []model.Event{}}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := jsonl.Each(p, func(line int, event model.Event) error {
			ok, err := ev.match(&event)
			if err != nil {
				return model.ParseError(p, line, err)
			}
			if !ok {
				return nil
			}
			res.Matched++
			if topk != nil {
				topk.add(event.FieldString(req.Aggregation.Field))
			}
			if len(res.Events) < limit {
				res.Events = append(res.Events, event)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	res.Returned = len(res.Events)

	if req.Aggregation != nil {
		switch req.Aggregation.Type {
		case AggCount:
			n := res.Matched
			res.Aggregation = &AggregationResult{Count: &n}
		case AggTopK:
			k := DefaultTopK
			if req.Aggregation.K != nil {
				k = *req.Aggregation.K
			}
			res.Aggregation = &AggregationResult{TopK: topk.top(k)}
		}
	}
	return res, nil
}

// Count returns the number of events matching req, returning no events.
func (e *Engine) Count(ctx context.Context, req Request) (int, error) {
	req.Limit = 0
	req.Aggregation = &Aggregation{Type: AggCount}
	res, err := e.Search(ctx, req)
	if err != nil {
		return 0, err
	}
	return *res.Aggregation.Count, nil
}
