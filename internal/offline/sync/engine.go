// Package sync replays queued offline operations against the backend.
//
// An Engine run takes a snapshot of the outbox, dispatches each operation in
// insertion order, and removes it once the backend has accepted it or
// rejected it permanently. Operations that fail transiently stay queued for a
// later run. Every removal is committed before the next operation is
// dispatched, so a crash mid-run loses no work and repeats at most the
// operation that was in flight.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/clientdossiers/dsync/internal/backend"
	"github.com/clientdossiers/dsync/internal/offline/schema"
)

// Policy controls what a run does after a transient failure.
type Policy int

const (
	// PolicyContinue skips the failed operation and goes on with the rest of
	// the snapshot. Later operations on the same record may then reach the
	// backend before the skipped one.
	PolicyContinue Policy = iota
	// PolicyHaltOnTransient ends the run at the first transient failure,
	// preserving the relative order of everything still queued.
	PolicyHaltOnTransient
)

// ParsePolicy converts a config value ("continue" or "halt") to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "continue":
		return PolicyContinue, nil
	case "halt", "halt-on-transient":
		return PolicyHaltOnTransient, nil
	default:
		return 0, fmt.Errorf("unknown sync policy %q", s)
	}
}

func (p Policy) String() string {
	if p == PolicyHaltOnTransient {
		return "halt"
	}
	return "continue"
}

// Queue is the part of the outbox the engine drains.
type Queue interface {
	DrainCandidates(ctx context.Context) ([]schema.QueuedOperation, error)
	Remove(ctx context.Context, id int64) error
}

// Discard describes an operation dropped after a permanent rejection.
type Discard struct {
	Operation schema.QueuedOperation
	Err       error
}

// Config configures an Engine.
type Config struct {
	Policy Policy

	// CallTimeout bounds each backend call. Zero means no limit beyond the
	// run's context.
	CallTimeout time.Duration

	// OnDiscard is called synchronously for every discarded operation.
	OnDiscard func(Discard)

	Logger *log.Logger
}

// Report summarizes one run.
type Report struct {
	Attempted int `json:"attempted"`
	Applied   int `json:"applied"`
	Discarded int `json:"discarded"`
	Retained  int `json:"retained"`

	// Halted is set when PolicyHaltOnTransient stopped the run early.
	Halted bool `json:"halted,omitempty"`

	// Keys lists, once each, the read views made stale by operations that
	// were applied or discarded.
	Keys []string `json:"keys,omitempty"`
}

// Engine drains a Queue into a backend.
type Engine struct {
	queue  Queue
	cfg    Config
	logger *log.Logger
}

// NewEngine creates an Engine.
func NewEngine(queue Queue, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Engine{
		queue:  queue,
		cfg:    cfg,
		logger: logger,
	}
}

// Run performs one pass over the operations queued when it starts.
// Operations enqueued during the run are left for the next one.
//
// A failing operation never aborts the run. The returned error is non-nil
// only when the outbox could not be read, when removals failed, or when ctx
// was cancelled between operations; the Report is valid in every case.
func (e *Engine) Run(ctx context.Context, b backend.Backend) (Report, error) {
	var report Report

	ops, err := e.queue.DrainCandidates(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to read outbox: %w", err)
	}
	if len(ops) == 0 {
		return report, nil
	}

	e.logger.Printf("Replaying %d queued operation(s)", len(ops))

	seen := make(map[string]bool)
	var errs []error

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		report.Attempted++
		outcome, keys, callErr := e.attempt(ctx, b, op)

		switch outcome {
		case Applied, Discarded:
			if err := e.queue.Remove(ctx, op.ID); err != nil {
				e.logger.Printf("Failed to remove operation %d: %v", op.ID, err)
				errs = append(errs, fmt.Errorf("failed to remove operation %d: %w", op.ID, err))
			}
			for _, k := range keys {
				if !seen[k] {
					seen[k] = true
					report.Keys = append(report.Keys, k)
				}
			}
		}

		switch outcome {
		case Applied:
			report.Applied++
		case Discarded:
			report.Discarded++
			e.logger.Printf("Discarded %s operation %d: %v", op.Kind, op.ID, callErr)
			if e.cfg.OnDiscard != nil {
				e.cfg.OnDiscard(Discard{Operation: op, Err: callErr})
			}
		case Retained:
			report.Retained++
			e.logger.Printf("Keeping %s operation %d for retry: %v", op.Kind, op.ID, callErr)
		}

		if outcome == Retained && e.cfg.Policy == PolicyHaltOnTransient {
			report.Halted = true
			break
		}
	}

	e.logger.Printf("Run complete: %d applied, %d discarded, %d retained",
		report.Applied, report.Discarded, report.Retained)

	return report, errors.Join(errs...)
}

// attempt dispatches one operation and classifies the result.
func (e *Engine) attempt(ctx context.Context, b backend.Backend, op schema.QueuedOperation) (Outcome, []string, error) {
	payload, err := op.Decode()
	if err != nil {
		return Discarded, nil, backend.Wrap(backend.CodeInvalid, "undecodable payload", err)
	}

	callCtx := ctx
	if e.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
	}

	err = Dispatch(callCtx, b, payload)
	return Classify(op.Kind, err), schema.InvalidationKeys(payload), err
}
