// Package backup moves the pending queue and the cached task set in and out
// of JSONL files, one record per line.
package backup

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/taskmasterpro/tm/internal/offline/queue"
	"github.com/taskmasterpro/tm/internal/offline/schema"
)

// maxLine bounds a single JSONL record (payloads carry whole task bodies).
const maxLine = 8 << 20

// WriteJSONL writes one JSON document per line.
func WriteJSONL[T any](w io.Writer, records []T) (int, error) {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return i, fmt.Errorf("failed to encode record %d: %w", i+1, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return len(records), fmt.Errorf("failed to flush: %w", err)
	}
	return len(records), nil
}

// ReadOperations parses queued operations from JSONL. Blank lines are
// skipped; any invalid line fails the whole read with its line number.
func ReadOperations(r io.Reader) ([]schema.Operation, error) {
	return readJSONL[schema.Operation](r)
}

// ReadTasks parses tasks from JSONL.
func ReadTasks(r io.Reader) ([]schema.Task, error) {
	return readJSONL[schema.Task](r)
}

func readJSONL[T any](r io.Reader) ([]T, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	var out []T
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec T
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("invalid record at line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read line %d: %w", line+1, err)
	}
	return out, nil
}

// WriteFile writes records to path atomically: a temporary file in the same
// directory is renamed into place once fully written.
func WriteFile[T any](path string, records []T) (int, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := WriteJSONL(tmp, records)
	if err != nil {
		_ = tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("failed to move backup into place: %w", err)
	}
	return n, nil
}

// ImportOptions configures Import.
type ImportOptions struct {
	// Path of the JSONL file to read.
	Path string

	// DryRun reports what would be imported without touching the queue.
	DryRun bool
}

// ImportResult contains statistics about an import.
type ImportResult struct {
	Read     int
	Imported int
	// Skipped counts operations already queued (same id).
	Skipped int
	Errors  []string
}

// Import appends the operations in opts.Path to q, preserving file order.
// Operations whose id is already queued are skipped, so importing the same
// file twice is harmless.
func Import(ctx context.Context, q *queue.Queue, opts ImportOptions) (*ImportResult, error) {
	// #nosec G304 - path comes from the command line
	f, err := os.Open(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup: %w", err)
	}
	defer f.Close()

	ops, err := ReadOperations(f)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Read: len(ops)}
	for _, op := range ops {
		if q.Has(op.ID) {
			result.Skipped++
			continue
		}
		if opts.DryRun {
			result.Imported++
			continue
		}
		if _, err := q.Enqueue(ctx, op); err != nil {
			if errors.Is(err, queue.ErrQueueFull) {
				return result, fmt.Errorf("failed to import %s: %w", op, err)
			}
			if !errors.Is(err, queue.ErrNotPersisted) {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", op, err))
				continue
			}
		}
		result.Imported++
	}
	return result, nil
}

// ExportQueue writes every queued operation to path.
func ExportQueue(q *queue.Queue, path string) (int, error) {
	return WriteFile(path, q.List())
}
