// Package jsonl reads and appends line-delimited JSON files.
//
// Every log in a run (episode logs, decisions, actions, cases) is a JSONL
// file. Writers append whole lines under a mutex and never rewrite earlier
// content; readers are strict and fail on the first malformed line with its
// line number.
package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/roach88/triage/internal/model"
)

// Writer appends JSON records to a single file.
//
// Thread-safety: Append is safe for concurrent use. Two Writers for the same
// path do not coordinate; share one Writer per path instead.
type Writer struct {
	path string
	mu   sync.Mutex
}

// NewWriter returns a writer for path. The file is created on first append.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Path returns the file path.
func (w *Writer) Path() string {
	return w.path
}

// Append encodes each record as one line and appends them in order.
func (w *Writer) Append(records ...any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", w.path, err)
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", w.path, err)
	}
	defer f.Close()

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append %s: %w", w.path, err)
	}
	return nil
}

// Scan calls fn for each non-blank line of path with its 1-based line
// number. A missing file is reported as model.ErrCodeNotFound.
func Scan(path string, fn func(line int, data []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.NotFound("read", path)
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	line := 0
	for {
		data, readErr := r.ReadBytes('\n')
		if len(data) > 0 {
			line++
			data = bytes.TrimSpace(data)
			if len(data) > 0 {
				if err := fn(line, data); err != nil {
					return err
				}
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read %s: %w", path, readErr)
		}
	}
}

// Each decodes every line of path into a T and calls fn. Malformed lines
// abort with model.ErrCodeParse.
func Each[T any](path string, fn func(line int, v T) error) error {
	return Scan(path, func(line int, data []byte) error {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return model.ParseError(path, line, err)
		}
		return fn(line, v)
	})
}

// ReadAll decodes every line of path. A missing file yields an empty slice
// when missingOK is set.
func ReadAll[T any](path string, missingOK bool) ([]T, error) {
	out := []T{}
	err := Each(path, func(_ int, v T) error {
		out = append(out, v)
		return nil
	})
	if err != nil {
		if missingOK && model.IsNotFound(err) {
			return []T{}, nil
		}
		return nil, err
	}
	return out, nil
}
