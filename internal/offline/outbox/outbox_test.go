package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/clientdossiers/dsync/internal/offline/schema"
	"github.com/clientdossiers/dsync/internal/offline/store"
)

func newTestOutbox(t *testing.T) (*Outbox, *store.DB) {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "outbox.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return New(db, log.New(io.Discard, "", 0)), db
}

// failingStore simulates a local database that cannot be written.
type failingStore struct {
	err error
}

func (s failingStore) Append(context.Context, schema.Kind, json.RawMessage, time.Time) (int64, error) {
	return 0, s.err
}

func (s failingStore) ListAll(context.Context) ([]schema.QueuedOperation, error) {
	return nil, s.err
}

func (s failingStore) RemoveByID(context.Context, int64) error {
	return s.err
}

func (s failingStore) Count(context.Context) (int, error) {
	return 0, s.err
}

func TestEnqueue_RoundTrip(t *testing.T) {
	ctx := context.Background()
	ob, _ := newTestOutbox(t)

	at := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	ob.SetClock(func() time.Time { return at })

	p := &schema.AddInterventionPayload{
		ClientID: "acme",
		Comments: "annual maintenance",
		Media:    []schema.Blob{{Name: "before.jpg", ContentType: "image/jpeg", Data: []byte{1, 2, 3}}},
		Date:     schema.Date{Day: 4, Month: 3, Year: 2025},
	}

	id, err := ob.Enqueue(ctx, p)
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	ops, err := ob.DrainCandidates(ctx)
	if err != nil {
		t.Fatalf("DrainCandidates() failed: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("DrainCandidates() returned %d operations, want 1", len(ops))
	}

	op := ops[0]
	if op.ID != id {
		t.Errorf("ID = %d, want %d", op.ID, id)
	}
	if op.Kind != schema.KindAddIntervention {
		t.Errorf("Kind = %q, want %q", op.Kind, schema.KindAddIntervention)
	}
	if !op.EnqueuedAt.Equal(at) {
		t.Errorf("EnqueuedAt = %v, want %v", op.EnqueuedAt, at)
	}

	got, err := op.Decode()
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if !reflect.DeepEqual(got, p) {
		t.Errorf("Decode() = %#v, want %#v", got, p)
	}
}

func TestEnqueue_PendingCount(t *testing.T) {
	ctx := context.Background()
	ob, _ := newTestOutbox(t)

	for i, p := range []schema.Payload{
		&schema.ClientPayload{ID: "acme", Name: "Acme"},
		&schema.UnmarkBlacklistedPayload{ClientID: "acme"},
		&schema.CreateFolderPayload{Path: "manuals"},
	} {
		if _, err := ob.Enqueue(ctx, p); err != nil {
			t.Fatalf("Enqueue(%d) failed: %v", i, err)
		}
		count, err := ob.PendingCount(ctx)
		if err != nil {
			t.Fatalf("PendingCount() failed: %v", err)
		}
		if count != i+1 {
			t.Errorf("PendingCount() = %d, want %d", count, i+1)
		}
	}
}

func TestEnqueue_InvalidPayloadNotStored(t *testing.T) {
	ctx := context.Background()
	ob, _ := newTestOutbox(t)

	_, err := ob.Enqueue(ctx, &schema.ClientPayload{ID: "acme"})
	if !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("Enqueue() error = %v, want ErrInvalidOperation", err)
	}

	count, err := ob.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("PendingCount() = %d, want 0", count)
	}
}

func TestEnqueue_StorageFaultIsReturned(t *testing.T) {
	ob := New(failingStore{err: store.ErrStorage}, log.New(io.Discard, "", 0))

	notified := false
	ob.OnChange(func() { notified = true })

	_, err := ob.Enqueue(context.Background(), &schema.CreateFolderPayload{Path: "manuals"})
	if !errors.Is(err, store.ErrStorage) {
		t.Fatalf("Enqueue() error = %v, want ErrStorage", err)
	}
	if notified {
		t.Error("listeners notified although nothing was queued")
	}
}

func TestEnqueue_ClosedDatabase(t *testing.T) {
	ob, db := newTestOutbox(t)
	db.Close()

	if _, err := ob.Enqueue(context.Background(), &schema.CreateFolderPayload{Path: "manuals"}); !errors.Is(err, store.ErrStorage) {
		t.Errorf("Enqueue() error = %v, want ErrStorage", err)
	}
}

func TestOnChange(t *testing.T) {
	ctx := context.Background()
	ob, _ := newTestOutbox(t)

	calls := 0
	cancel := ob.OnChange(func() { calls++ })

	id, err := ob.Enqueue(ctx, &schema.CreateFolderPayload{Path: "manuals"})
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if err := ob.Remove(ctx, id); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}

	if calls != 2 {
		t.Errorf("listener called %d times, want 2", calls)
	}

	cancel()
	if _, err := ob.Enqueue(ctx, &schema.CreateFolderPayload{Path: "drawings"}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("listener called %d times after cancel, want 2", calls)
	}
}

func TestRemove_Idempotent(t *testing.T) {
	ctx := context.Background()
	ob, _ := newTestOutbox(t)

	id, err := ob.Enqueue(ctx, &schema.CreateFolderPayload{Path: "manuals"})
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := ob.Remove(ctx, id); err != nil {
			t.Fatalf("Remove() #%d failed: %v", i+1, err)
		}
	}
}
