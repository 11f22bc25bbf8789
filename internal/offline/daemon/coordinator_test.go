package daemon

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"reflect"
	gosync "sync"
	"testing"
	"time"

	"github.com/clientdossiers/dsync/internal/backend"
	"github.com/clientdossiers/dsync/internal/backend/memory"
	"github.com/clientdossiers/dsync/internal/offline/connectivity"
	"github.com/clientdossiers/dsync/internal/offline/outbox"
	"github.com/clientdossiers/dsync/internal/offline/schema"
	"github.com/clientdossiers/dsync/internal/offline/store"
	"github.com/clientdossiers/dsync/internal/offline/sync"
)

var quiet = log.New(io.Discard, "", 0)

func newTestOutbox(t *testing.T) (*outbox.Outbox, *store.DB) {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "outbox.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return outbox.New(db, quiet), db
}

func testConfig(l Listener, inv Invalidator) *Config {
	return &Config{
		PollInterval: 20 * time.Millisecond,
		Listener:     l,
		Invalidator:  inv,
		Logger:       quiet,
		EngineLogger: quiet,
	}
}

// recorder is a Listener that keeps everything it is told.
type recorder struct {
	mu          gosync.Mutex
	statuses    []Status
	invalidated [][]string
	discards    []sync.Discard
	completed   chan sync.Report
}

func newRecorder() *recorder {
	return &recorder{completed: make(chan sync.Report, 16)}
}

func (r *recorder) StatusChanged(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recorder) Invalidated(keys []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, keys)
}

func (r *recorder) OperationDiscarded(d sync.Discard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discards = append(r.discards, d)
}

func (r *recorder) SyncCompleted(report sync.Report, _ error) {
	r.completed <- report
}

func (r *recorder) waitRun(t *testing.T) sync.Report {
	t.Helper()
	select {
	case report := <-r.completed:
		return report
	case <-time.After(5 * time.Second):
		t.Fatal("no sync run completed")
		return sync.Report{}
	}
}

// countingInvalidator counts how often each view is invalidated.
type countingInvalidator struct {
	mu     gosync.Mutex
	counts map[string]int
}

func (c *countingInvalidator) Invalidate(_ context.Context, keys []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	for _, k := range keys {
		c.counts[k]++
	}
	return nil
}

// gatedBackend blocks CreateFolder until released.
type gatedBackend struct {
	backend.Backend
	entered chan string
	release chan struct{}
}

func newGatedBackend(inner backend.Backend) *gatedBackend {
	return &gatedBackend{
		Backend: inner,
		entered: make(chan string, 16),
		release: make(chan struct{}),
	}
}

func (g *gatedBackend) CreateFolder(ctx context.Context, path string) error {
	g.entered <- path
	<-g.release
	return g.Backend.CreateFolder(ctx, path)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func startCoordinator(t *testing.T, c *Coordinator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	})
}

func TestNewWithConfig_Validation(t *testing.T) {
	ob, _ := newTestOutbox(t)
	connect := backend.Static(memory.New())
	sw := connectivity.NewSwitch(true)

	if _, err := NewWithConfig(nil, connect, sw, nil); err == nil {
		t.Error("NewWithConfig(nil queue) succeeded")
	}
	if _, err := NewWithConfig(ob, nil, sw, nil); err == nil {
		t.Error("NewWithConfig(nil connector) succeeded")
	}
	if _, err := NewWithConfig(ob, connect, nil, nil); err == nil {
		t.Error("NewWithConfig(nil observer) succeeded")
	}
	c, err := NewWithConfig(ob, connect, sw, &Config{})
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	if c.config.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s default", c.config.PollInterval)
	}
}

func TestSyncNow_Offline(t *testing.T) {
	ob, _ := newTestOutbox(t)
	c, err := NewWithConfig(ob, backend.Static(memory.New()), connectivity.NewSwitch(false), testConfig(nil, nil))
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}

	ran, err := c.SyncNow(context.Background())
	if !errors.Is(err, ErrOffline) || ran {
		t.Errorf("SyncNow() = %v, %v, want false, ErrOffline", ran, err)
	}
}

// Two overlapping SyncNow calls produce one engine run; each queued
// operation reaches the backend exactly once.
func TestSyncNow_NoConcurrentRuns(t *testing.T) {
	ctx := context.Background()
	ob, _ := newTestOutbox(t)
	mem := memory.New()
	gated := newGatedBackend(mem.As("alice"))

	c, err := NewWithConfig(ob, backend.Static(gated), connectivity.NewSwitch(true), testConfig(nil, nil))
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}

	for _, p := range []string{"a", "b"} {
		if _, err := ob.Enqueue(ctx, &schema.CreateFolderPayload{Path: p}); err != nil {
			t.Fatalf("Enqueue() failed: %v", err)
		}
	}

	type result struct {
		ran bool
		err error
	}
	first := make(chan result, 1)
	go func() {
		ran, err := c.SyncNow(ctx)
		first <- result{ran, err}
	}()

	<-gated.entered
	if !c.Status().Syncing {
		t.Error("Status().Syncing = false during a run")
	}

	ran, err := c.SyncNow(ctx)
	if ran || err != nil {
		t.Errorf("overlapping SyncNow() = %v, %v, want false, nil", ran, err)
	}

	close(gated.release)
	res := <-first
	if !res.ran || res.err != nil {
		t.Fatalf("first SyncNow() = %v, %v, want true, nil", res.ran, res.err)
	}

	if want := []string{"createFolder(a)", "createFolder(b)"}; !reflect.DeepEqual(mem.Journal(), want) {
		t.Errorf("Journal() = %v, want %v", mem.Journal(), want)
	}
	if s := c.Status(); s.Syncing || s.Pending != 0 || s.CanSync {
		t.Errorf("Status() after run = %+v", s)
	}
}

// panickyBackend dies on every call.
type panickyBackend struct {
	backend.Backend
}

func (panickyBackend) CreateFolder(context.Context, string) error {
	panic("backend exploded")
}

func TestSyncNow_GuardReleasedOnPanic(t *testing.T) {
	ctx := context.Background()
	ob, _ := newTestOutbox(t)
	if _, err := ob.Enqueue(ctx, &schema.CreateFolderPayload{Path: "a"}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	mem := memory.New()
	var current backend.Backend = panickyBackend{mem.As("alice")}
	connect := func(context.Context) (backend.Backend, error) { return current, nil }

	c, err := NewWithConfig(ob, connect, connectivity.NewSwitch(true), testConfig(nil, nil))
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("SyncNow() did not propagate the panic")
			}
		}()
		c.SyncNow(ctx)
	}()

	if c.Status().Syncing {
		t.Fatal("run guard still held after panic")
	}

	current = mem.As("alice")
	ran, err := c.SyncNow(ctx)
	if !ran || err != nil {
		t.Fatalf("SyncNow() after panic = %v, %v, want true, nil", ran, err)
	}
	if len(mem.Journal()) != 1 {
		t.Errorf("Journal() = %v, want the queued folder", mem.Journal())
	}
}

func TestSyncNow_ConnectFailure(t *testing.T) {
	ctx := context.Background()
	ob, _ := newTestOutbox(t)
	if _, err := ob.Enqueue(ctx, &schema.CreateFolderPayload{Path: "a"}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	connect := func(context.Context) (backend.Backend, error) { return nil, backend.ErrUnauthorized }
	c, err := NewWithConfig(ob, connect, connectivity.NewSwitch(true), testConfig(nil, nil))
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}

	ran, err := c.SyncNow(ctx)
	if !ran || !errors.Is(err, backend.ErrUnauthorized) {
		t.Fatalf("SyncNow() = %v, %v, want true, Unauthorized", ran, err)
	}
	s := c.Status()
	if s.Pending != 1 || s.LastError == "" || s.Syncing {
		t.Errorf("Status() = %+v, want 1 pending with error", s)
	}
}

// Offline the user creates a client and an intervention for it; when
// connectivity returns both calls reach the backend in order, the queue
// drains, and each affected view is invalidated exactly once.
func TestCoordinator_ReconnectEndToEnd(t *testing.T) {
	ctx := context.Background()
	ob, db := newTestOutbox(t)
	mem := memory.New()
	sw := connectivity.NewSwitch(false)
	rec := newRecorder()
	inv := &countingInvalidator{}

	c, err := NewWithConfig(ob, backend.Static(mem.As("alice")), sw, testConfig(rec, inv))
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	startCoordinator(t, c)

	if _, err := ob.Enqueue(ctx, &schema.ClientPayload{ID: "acme", Name: "Acme"}); err != nil {
		t.Fatalf("Enqueue(client) failed: %v", err)
	}
	waitFor(t, "pending=1", func() bool { return c.Status().Pending == 1 })

	if _, err := ob.Enqueue(ctx, &schema.AddInterventionPayload{
		ClientID: "acme",
		Comments: "first visit",
		Date:     schema.Date{Day: 12, Month: 5, Year: 2025},
	}); err != nil {
		t.Fatalf("Enqueue(intervention) failed: %v", err)
	}
	waitFor(t, "pending=2", func() bool { return c.Status().Pending == 2 })

	if s := c.Status(); s.Online || s.CanSync {
		t.Errorf("Status() while offline = %+v", s)
	}

	sw.Set(true)
	report := rec.waitRun(t)

	if report.Applied != 2 {
		t.Errorf("report = %+v, want 2 applied", report)
	}
	want := []string{"createOrUpdateClient(acme)", "addIntervention(acme, 2025-05-12)"}
	if got := mem.Journal(); !reflect.DeepEqual(got, want) {
		t.Errorf("Journal() = %v, want %v", got, want)
	}

	if n, _ := db.Count(ctx); n != 0 {
		t.Errorf("store Count() = %d, want 0", n)
	}
	if s := c.Status(); s.Pending != 0 || s.Syncing {
		t.Errorf("Status() after run = %+v", s)
	}

	wantCounts := map[string]int{
		schema.ViewClients:               1,
		schema.ClientView("acme"):        1,
		schema.InterventionsView("acme"): 1,
		schema.ViewInterventionsByDay:    1,
	}
	inv.mu.Lock()
	if !reflect.DeepEqual(inv.counts, wantCounts) {
		t.Errorf("invalidations = %v, want %v", inv.counts, wantCounts)
	}
	inv.mu.Unlock()

	rec.mu.Lock()
	if len(rec.invalidated) != 1 {
		t.Errorf("Invalidated() called %d times, want 1", len(rec.invalidated))
	}
	rec.mu.Unlock()
}

// A run that leaves transiently failed work behind must not immediately
// start another one.
func TestCoordinator_NoRetryLoop(t *testing.T) {
	ctx := context.Background()
	ob, _ := newTestOutbox(t)
	mem := memory.New()
	mem.SetUnavailable(true)
	rec := newRecorder()

	if _, err := ob.Enqueue(ctx, &schema.CreateFolderPayload{Path: "a"}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	c, err := NewWithConfig(ob, backend.Static(mem.As("alice")), connectivity.NewSwitch(true), testConfig(rec, nil))
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	startCoordinator(t, c)

	report := rec.waitRun(t)
	if report.Retained != 1 {
		t.Fatalf("report = %+v, want 1 retained", report)
	}

	select {
	case r := <-rec.completed:
		t.Fatalf("unexpected second run: %+v", r)
	case <-time.After(200 * time.Millisecond):
	}

	if s := c.Status(); s.Pending != 1 || !s.CanSync {
		t.Errorf("Status() = %+v, want 1 pending and CanSync", s)
	}
}

func TestCoordinator_WorkQueuedDuringRun(t *testing.T) {
	ctx := context.Background()
	ob, _ := newTestOutbox(t)
	mem := memory.New()
	gated := newGatedBackend(mem.As("alice"))
	rec := newRecorder()

	c, err := NewWithConfig(ob, backend.Static(gated), connectivity.NewSwitch(true), testConfig(rec, nil))
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	startCoordinator(t, c)

	if _, err := ob.Enqueue(ctx, &schema.CreateFolderPayload{Path: "a"}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	<-gated.entered

	if _, err := ob.Enqueue(ctx, &schema.CreateFolderPayload{Path: "b"}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	close(gated.release)

	if r := rec.waitRun(t); r.Attempted != 1 {
		t.Errorf("first run attempted %d, want 1", r.Attempted)
	}
	if r := rec.waitRun(t); r.Attempted != 1 {
		t.Errorf("follow-up run attempted %d, want 1", r.Attempted)
	}

	waitFor(t, "empty outbox", func() bool { return c.Status().Pending == 0 })
	if want := []string{"createFolder(a)", "createFolder(b)"}; !reflect.DeepEqual(mem.Journal(), want) {
		t.Errorf("Journal() = %v, want %v", mem.Journal(), want)
	}
}

func TestCoordinator_DiscardsForwarded(t *testing.T) {
	ctx := context.Background()
	ob, _ := newTestOutbox(t)
	mem := memory.New()
	rec := newRecorder()

	if _, err := ob.Enqueue(ctx, &schema.UnmarkBlacklistedPayload{ClientID: "ghost"}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	c, err := NewWithConfig(ob, backend.Static(mem.As("alice")), connectivity.NewSwitch(true), testConfig(rec, nil))
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	if _, err := c.SyncNow(ctx); err != nil {
		t.Fatalf("SyncNow() failed: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.discards) != 1 || !errors.Is(rec.discards[0].Err, backend.ErrNotFound) {
		t.Fatalf("discards = %+v, want one NotFound", rec.discards)
	}
	if msg := DiscardMessage(rec.discards[0]); msg == "" {
		t.Error("DiscardMessage() is empty")
	}
}

func TestStart_Twice(t *testing.T) {
	ob, _ := newTestOutbox(t)
	c, err := NewWithConfig(ob, backend.Static(memory.New()), connectivity.NewSwitch(false), testConfig(nil, nil))
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	startCoordinator(t, c)
	waitFor(t, "coordinator start", func() bool { return c.active.Load() })

	if err := c.Start(context.Background()); err == nil {
		t.Error("second Start() succeeded")
	}
}

// listenerCountingQueue tracks how many change listeners are registered.
type listenerCountingQueue struct {
	*outbox.Outbox
	mu     gosync.Mutex
	active int
}

func (q *listenerCountingQueue) OnChange(fn func()) func() {
	q.mu.Lock()
	q.active++
	q.mu.Unlock()

	cancel := q.Outbox.OnChange(fn)
	return func() {
		cancel()
		q.mu.Lock()
		q.active--
		q.mu.Unlock()
	}
}

func (q *listenerCountingQueue) listeners() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

func TestStart_RestartDoesNotStackListeners(t *testing.T) {
	ob, _ := newTestOutbox(t)
	q := &listenerCountingQueue{Outbox: ob}
	c, err := NewWithConfig(q, backend.Static(memory.New()), connectivity.NewSwitch(false), testConfig(nil, nil))
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}

	for i := 1; i <= 3; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- c.Start(ctx) }()

		waitFor(t, "queue listener", func() bool { return q.listeners() == 1 })
		cancel()
		if err := <-done; err != nil {
			t.Fatalf("Start() #%d returned error: %v", i, err)
		}
		if n := q.listeners(); n != 0 {
			t.Errorf("after stop #%d, %d queue listeners remain", i, n)
		}
	}
}
