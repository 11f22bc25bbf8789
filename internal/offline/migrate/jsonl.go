// Package migrate moves outbox contents to and from JSONL files, so queued
// changes survive a reinstall or a move to another device.
package migrate

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/clientdossiers/dsync/internal/offline/schema"
)

// Store is the part of the outbox store used by Export and Import.
type Store interface {
	ListAll(ctx context.Context) ([]schema.QueuedOperation, error)
	Append(ctx context.Context, kind schema.Kind, payload json.RawMessage, enqueuedAt time.Time) (int64, error)
}

// ImportOptions contains configuration for an import
type ImportOptions struct {
	FromJSONL string // Input JSONL file path
	DryRun    bool   // Validate without writing
}

// ImportResult contains statistics about an import
type ImportResult struct {
	Imported int
	Skipped  int
	Errors   []string
}

// Export writes every queued operation to path, one JSON object per line,
// in replay order. The file is replaced atomically.
func Export(ctx context.Context, src Store, path string) (int, error) {
	ops, err := src.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read outbox: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("failed to create export directory: %w", err)
	}

	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	w := bufio.NewWriter(file)
	if err := WriteJSONL(w, ops); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return 0, err
	}
	if err := w.Flush(); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to write export: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to close export: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}

	return len(ops), nil
}

// WriteJSONL encodes ops to w, one per line.
func WriteJSONL(w io.Writer, ops []schema.QueuedOperation) error {
	enc := json.NewEncoder(w)
	for _, op := range ops {
		if err := enc.Encode(op); err != nil {
			return fmt.Errorf("failed to encode operation %d: %w", op.ID, err)
		}
	}
	return nil
}

// FromJSONL reads a JSONL export.
func FromJSONL(jsonlPath string) ([]schema.QueuedOperation, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(jsonlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	return ReadJSONL(file)
}

// ReadJSONL decodes operations from r until EOF.
func ReadJSONL(r io.Reader) ([]schema.QueuedOperation, error) {
	var ops []schema.QueuedOperation
	decoder := json.NewDecoder(r)
	lineNum := 0

	for {
		var op schema.QueuedOperation
		if err := decoder.Decode(&op); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum+1, err)
		}
		lineNum++
		ops = append(ops, op)
	}

	return ops, nil
}

// check validates op the way Enqueue would have.
func check(op schema.QueuedOperation) error {
	if !op.Kind.Valid() {
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
	_, err := op.Decode()
	return err
}

// Import appends the operations of an export to dst after whatever is
// already queued, keeping their relative order and original enqueue times.
// Operations that would not pass Enqueue validation are skipped and listed
// in the result.
func Import(ctx context.Context, dst Store, opts ImportOptions) (*ImportResult, error) {
	result := &ImportResult{}

	ops, err := FromJSONL(opts.FromJSONL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSONL: %w", err)
	}

	for i, op := range ops {
		if err := check(op); err != nil {
			result.Skipped++
			result.Errors = append(result.Errors,
				fmt.Sprintf("line %d (operation %d): %v", i+1, op.ID, err))
			continue
		}

		if !opts.DryRun {
			enqueuedAt := op.EnqueuedAt
			if enqueuedAt.IsZero() {
				enqueuedAt = time.Now()
			}
			if _, err := dst.Append(ctx, op.Kind, op.Payload, enqueuedAt); err != nil {
				return result, fmt.Errorf("failed to append line %d: %w", i+1, err)
			}
		}
		result.Imported++
	}

	return result, nil
}
