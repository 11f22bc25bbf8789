// Package daemon provides the sync coordinator that decides when queued
// offline operations are replayed.
//
// The coordinator:
//  1. Runs the sync engine when connectivity returns and work is pending
//  2. Exposes a manual trigger that never overlaps a run in flight
//  3. Periodically refreshes the pending count shown to the user
//  4. Invalidates cached reads and republishes status after every run
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	gosync "sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clientdossiers/dsync/internal/backend"
	"github.com/clientdossiers/dsync/internal/offline/connectivity"
	"github.com/clientdossiers/dsync/internal/offline/schema"
	"github.com/clientdossiers/dsync/internal/offline/sync"
)

// ErrOffline is returned by SyncNow while the device reports no connectivity.
var ErrOffline = errors.New("device is offline")

// Queue is the outbox as seen by the coordinator.
type Queue interface {
	sync.Queue
	PendingCount(ctx context.Context) (int, error)
	OnChange(fn func()) func()
}

// Invalidator drops cached reads made stale by a run.
type Invalidator interface {
	Invalidate(ctx context.Context, keys []string) error
}

// Config holds configuration for the coordinator.
type Config struct {
	// PollInterval is how often the pending count is refreshed.
	PollInterval time.Duration

	// Policy is passed to the sync engine.
	Policy sync.Policy

	// CallTimeout bounds each backend call; zero leaves timeouts to the
	// backend connection.
	CallTimeout time.Duration

	// Invalidator receives the stale read views after every run. Optional.
	Invalidator Invalidator

	// Listener receives status and run notifications. Optional.
	Listener Listener

	// Logger for coordinator activity
	Logger *log.Logger

	// EngineLogger is handed to the sync engine.
	EngineLogger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PollInterval: 5 * time.Second,
		Policy:       sync.PolicyContinue,
		Logger:       log.New(os.Stderr, "[daemon] ", log.LstdFlags),
		EngineLogger: log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// Status is the UI-facing snapshot of the offline subsystem.
type Status struct {
	Online    bool        `json:"online"`
	Syncing   bool        `json:"syncing"`
	Pending   int         `json:"pending"`
	CanSync   bool        `json:"can_sync"`
	LastRun   time.Time   `json:"last_run,omitempty"`
	LastError string      `json:"last_error,omitempty"`
	Last      sync.Report `json:"last_report"`
}

// Coordinator owns the Idle/Running state of the sync engine.
type Coordinator struct {
	queue    Queue
	connect  backend.Connector
	observer connectivity.Observer
	engine   *sync.Engine
	config   *Config
	listener Listener

	// running is the run guard: set by whoever starts a run, cleared when
	// the run ends however it ends.
	running atomic.Bool

	// active is set between Start and its return; automatic triggers are
	// ignored outside that window.
	active atomic.Bool

	mu           gosync.Mutex
	pending      int
	grewInRun    bool
	lastRun      time.Time
	lastErr      error
	lastReport   sync.Report
	unsubscribes []func()

	runs gosync.WaitGroup
}

// New creates a coordinator with the default configuration.
func New(queue Queue, connect backend.Connector, observer connectivity.Observer) (*Coordinator, error) {
	return NewWithConfig(queue, connect, observer, DefaultConfig())
}

// NewWithConfig creates a coordinator with custom configuration.
func NewWithConfig(queue Queue, connect backend.Connector, observer connectivity.Observer, config *Config) (*Coordinator, error) {
	if queue == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if connect == nil {
		return nil, fmt.Errorf("backend connector cannot be nil")
	}
	if observer == nil {
		return nil, fmt.Errorf("connectivity observer cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.EngineLogger == nil {
		config.EngineLogger = defaults.EngineLogger
	}

	c := &Coordinator{
		queue:    queue,
		connect:  connect,
		observer: observer,
		config:   config,
		listener: config.Listener,
	}
	if c.listener == nil {
		c.listener = NopListener{}
	}

	c.engine = sync.NewEngine(queue, sync.Config{
		Policy:      config.Policy,
		CallTimeout: config.CallTimeout,
		OnDiscard:   c.listener.OperationDiscarded,
		Logger:      config.EngineLogger,
	})

	return c, nil
}

// Status returns the current snapshot.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Coordinator) statusLocked() Status {
	s := Status{
		Online:  c.observer.IsOnline(),
		Syncing: c.running.Load(),
		Pending: c.pending,
		LastRun: c.lastRun,
		Last:    c.lastReport,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	s.CanSync = s.Online && !s.Syncing && s.Pending > 0
	return s
}

func (c *Coordinator) publish() {
	c.listener.StatusChanged(c.Status())
}

// SyncNow runs the sync engine once and waits for it to finish.
//
// It returns (false, nil) without doing anything when a run is already in
// flight, and ErrOffline when the device is offline. Cancelling ctx does not
// interrupt a run that has started.
func (c *Coordinator) SyncNow(ctx context.Context) (bool, error) {
	if !c.observer.IsOnline() {
		return false, ErrOffline
	}
	if !c.running.CompareAndSwap(false, true) {
		return false, nil
	}

	c.mu.Lock()
	c.grewInRun = false
	c.mu.Unlock()
	c.publish()

	_, err := c.runLocked(context.WithoutCancel(ctx))
	return true, err
}

// runLocked performs a run while holding the run guard and releases it on
// every exit path.
func (c *Coordinator) runLocked(ctx context.Context) (report sync.Report, err error) {
	defer func() {
		c.running.Store(false)
		c.finish(ctx, report, err)
	}()

	b, err := c.connect(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to connect to backend: %w", err)
	}

	c.config.Logger.Println("Sync started")
	return c.engine.Run(ctx, b)
}

// finish runs after every run: refresh the pending count, invalidate stale
// views once each, republish, and schedule a follow-up run for work that
// arrived while this one was in flight.
func (c *Coordinator) finish(ctx context.Context, report sync.Report, runErr error) {
	if len(report.Keys) > 0 {
		if c.config.Invalidator != nil {
			if err := c.config.Invalidator.Invalidate(ctx, report.Keys); err != nil {
				c.config.Logger.Printf("Failed to invalidate cached views: %v", err)
			}
		}
		c.listener.Invalidated(report.Keys)
	}

	count, countErr := c.queue.PendingCount(ctx)

	c.mu.Lock()
	if countErr == nil {
		c.pending = count
	} else {
		c.config.Logger.Printf("Failed to refresh pending count: %v", countErr)
	}
	c.lastRun = time.Now()
	c.lastErr = runErr
	c.lastReport = report
	followUp := c.grewInRun && c.pending > 0
	c.grewInRun = false
	c.mu.Unlock()

	if runErr != nil {
		c.config.Logger.Printf("Sync finished with error: %v", runErr)
	} else {
		c.config.Logger.Printf("Sync finished: %d applied, %d discarded, %d retained",
			report.Applied, report.Discarded, report.Retained)
	}

	c.publish()
	c.listener.SyncCompleted(report, runErr)

	if followUp {
		c.trigger("work queued during run")
	}
}

// trigger starts a background run if the device is online.
func (c *Coordinator) trigger(reason string) {
	if !c.active.Load() || !c.observer.IsOnline() || c.running.Load() {
		return
	}
	c.config.Logger.Printf("Starting automatic sync: %s", reason)

	c.runs.Add(1)
	go func() {
		defer c.runs.Done()
		if _, err := c.SyncNow(context.Background()); err != nil && !errors.Is(err, ErrOffline) {
			c.config.Logger.Printf("Automatic sync failed: %v", err)
		}
	}()
}

// RefreshPending re-reads the pending count, publishes it, and starts a run
// if new work appeared while online and idle.
func (c *Coordinator) RefreshPending(ctx context.Context) error {
	count, err := c.queue.PendingCount(ctx)
	if err != nil {
		return fmt.Errorf("failed to count pending operations: %w", err)
	}

	c.mu.Lock()
	grew := count > c.pending
	changed := count != c.pending
	c.pending = count
	if grew && c.running.Load() {
		c.grewInRun = true
	}
	c.mu.Unlock()

	if changed {
		c.publish()
	}
	if grew {
		c.trigger("new work queued")
	}
	return nil
}

func (c *Coordinator) onConnectivity(online bool) {
	c.config.Logger.Printf("Connectivity changed: online=%v", online)
	c.publish()
	if !online {
		return
	}

	c.mu.Lock()
	pending := c.pending
	c.mu.Unlock()
	if pending > 0 {
		c.trigger("connectivity restored")
	}
}

// Start runs the coordinator until ctx is done: it subscribes to
// connectivity and outbox changes, polls the pending count, and replays
// whatever is already queued if the device is online.
func (c *Coordinator) Start(ctx context.Context) error {
	c.config.Logger.Println("Starting coordinator")
	if !c.active.CompareAndSwap(false, true) {
		return fmt.Errorf("coordinator already running")
	}

	unsubscribeQueue := c.queue.OnChange(func() {
		if err := c.RefreshPending(context.Background()); err != nil {
			c.config.Logger.Printf("Warning: %v", err)
		}
	})

	c.mu.Lock()
	c.unsubscribes = append(c.unsubscribes, c.observer.Subscribe(c.onConnectivity), unsubscribeQueue)
	c.mu.Unlock()

	if err := c.RefreshPending(ctx); err != nil {
		c.stop()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(c.config.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := c.RefreshPending(gctx); err != nil && gctx.Err() == nil {
					c.config.Logger.Printf("Warning: %v", err)
				}
			}
		}
	})

	err := g.Wait()
	c.stop()
	return err
}

func (c *Coordinator) stop() {
	c.config.Logger.Println("Stopping coordinator")
	c.active.Store(false)

	c.mu.Lock()
	unsubscribes := c.unsubscribes
	c.unsubscribes = nil
	c.mu.Unlock()

	for _, cancel := range unsubscribes {
		cancel()
	}
	c.Wait()
}

// Wait blocks until background runs started by automatic triggers finish.
func (c *Coordinator) Wait() {
	c.runs.Wait()
}

// DiscardMessage is the user-facing text for a discarded operation.
func DiscardMessage(d sync.Discard) string {
	what := describe(d.Operation.Kind)
	return fmt.Sprintf("Could not %s (queued %s): %v", what,
		d.Operation.EnqueuedAt.Local().Format("2006-01-02 15:04"), d.Err)
}

func describe(k schema.Kind) string {
	switch k {
	case schema.KindCreateOrUpdateClient:
		return "save client"
	case schema.KindAddIntervention:
		return "add intervention"
	case schema.KindUpdateIntervention:
		return "update intervention"
	case schema.KindDeleteIntervention:
		return "delete intervention"
	case schema.KindMarkBlacklisted:
		return "blacklist client"
	case schema.KindUnmarkBlacklisted:
		return "remove client from blacklist"
	case schema.KindUploadFile:
		return "upload file"
	case schema.KindMoveFile:
		return "move file"
	case schema.KindRenameFolder:
		return "rename folder"
	case schema.KindCreateFolder:
		return "create folder"
	default:
		return string(k)
	}
}
