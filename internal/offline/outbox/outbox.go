// Package outbox is the narrow surface the rest of the application uses to
// defer mutations while offline.
//
// Callers decide whether a mutation goes straight to the backend or into the
// outbox; once queued, the sync engine drains it. The outbox never talks to
// the network.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/clientdossiers/dsync/internal/offline/schema"
)

// ErrInvalidOperation is returned by Enqueue for payloads that fail
// validation. Nothing is stored in that case.
var ErrInvalidOperation = errors.New("invalid offline operation")

// Store is the durable collection behind the outbox.
type Store interface {
	Append(ctx context.Context, kind schema.Kind, payload json.RawMessage, enqueuedAt time.Time) (int64, error)
	ListAll(ctx context.Context) ([]schema.QueuedOperation, error)
	RemoveByID(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)
}

// Outbox queues operations for later replay.
type Outbox struct {
	store  Store
	logger *log.Logger
	now    func() time.Time

	listenersMu sync.Mutex
	listeners   map[int]func()
	nextID      int
}

// New creates an Outbox over store.
//
// If logger is nil, a default logger writing to stderr is used.
func New(store Store, logger *log.Logger) *Outbox {
	if logger == nil {
		logger = log.New(os.Stderr, "[outbox] ", log.LstdFlags)
	}
	return &Outbox{
		store:     store,
		logger:    logger,
		now:       time.Now,
		listeners: make(map[int]func()),
	}
}

// SetClock replaces the clock used to stamp EnqueuedAt.
func (o *Outbox) SetClock(now func() time.Time) {
	o.now = now
}

// OnChange registers fn to be called after every successful enqueue or
// removal. Listeners run synchronously on the caller's goroutine and must not
// block. The returned func unregisters fn.
func (o *Outbox) OnChange(fn func()) func() {
	o.listenersMu.Lock()
	defer o.listenersMu.Unlock()

	id := o.nextID
	o.nextID++
	o.listeners[id] = fn

	return func() {
		o.listenersMu.Lock()
		defer o.listenersMu.Unlock()
		delete(o.listeners, id)
	}
}

func (o *Outbox) notify() {
	o.listenersMu.Lock()
	listeners := make([]func(), 0, len(o.listeners))
	for _, fn := range o.listeners {
		listeners = append(listeners, fn)
	}
	o.listenersMu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// Enqueue validates payload and appends it to the outbox.
//
// A storage failure is returned to the caller: the mutation was not recorded
// and must be reported, not assumed queued.
func (o *Outbox) Enqueue(ctx context.Context, payload schema.Payload) (int64, error) {
	kind, raw, err := schema.Encode(payload)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidOperation, err)
	}

	id, err := o.store.Append(ctx, kind, raw, o.now().UTC())
	if err != nil {
		o.logger.Printf("Failed to queue %s operation: %v", kind, err)
		return 0, fmt.Errorf("failed to queue %s operation: %w", kind, err)
	}

	o.logger.Printf("Queued %s operation %d", kind, id)
	o.notify()
	return id, nil
}

// PendingCount returns the number of operations waiting for replay.
func (o *Outbox) PendingCount(ctx context.Context) (int, error) {
	return o.store.Count(ctx)
}

// DrainCandidates returns a snapshot of the pending operations in insertion
// order.
func (o *Outbox) DrainCandidates(ctx context.Context) ([]schema.QueuedOperation, error) {
	return o.store.ListAll(ctx)
}

// Remove drops an operation once it has been applied or rejected.
// Removing an unknown id is not an error.
func (o *Outbox) Remove(ctx context.Context, id int64) error {
	if err := o.store.RemoveByID(ctx, id); err != nil {
		return err
	}
	o.notify()
	return nil
}
