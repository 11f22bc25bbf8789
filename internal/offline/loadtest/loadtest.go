// Package loadtest exercises the outbox and sync engine under concurrent
// producers and a flaky backend.
//
// Several simulated devices enqueue operations in bursts while a drain loop
// replays the outbox against an in-memory backend that fails a configurable
// share of calls with a transient error. The run checks that every operation
// reaches the backend exactly once and, under the halt policy, in the order
// each device produced them.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	gosync "sync"
	"time"

	"github.com/clientdossiers/dsync/internal/backend"
	"github.com/clientdossiers/dsync/internal/backend/memory"
	"github.com/clientdossiers/dsync/internal/offline/outbox"
	"github.com/clientdossiers/dsync/internal/offline/schema"
	"github.com/clientdossiers/dsync/internal/offline/store"
	"github.com/clientdossiers/dsync/internal/offline/sync"
)

// Options configures a load test.
type Options struct {
	Devices      int
	OpsPerDevice int

	// FailureRate is the share of backend calls that fail transiently.
	FailureRate float64

	// Policy is handed to the engine. Order is only guaranteed per device
	// under PolicyHaltOnTransient.
	Policy sync.Policy

	// MaxRuns bounds the drain loop (default 10000).
	MaxRuns int

	Seed   int64
	Logger *log.Logger
}

// LatencyStats captures enqueue latency.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration // Median
	P95          time.Duration
	P99          time.Duration
	TotalQueries int
	Errors       int
}

// Result summarizes a load test.
type Result struct {
	Enqueue *LatencyStats

	Runs      int
	Applied   int
	Retained  int
	Elapsed   time.Duration
	Delivered int

	// Duplicates counts operations that reached the backend more than once.
	Duplicates int
	// Missing counts operations that never reached the backend.
	Missing int
	// OutOfOrder counts operations applied before an earlier one from the
	// same device.
	OutOfOrder int
}

// flaky fails CreateFolder transiently at the configured rate.
type flaky struct {
	backend.Backend
	mu   gosync.Mutex
	rng  *rand.Rand
	rate float64
}

func (f *flaky) CreateFolder(ctx context.Context, path string) error {
	f.mu.Lock()
	fail := f.rng.Float64() < f.rate
	f.mu.Unlock()
	if fail {
		return backend.New(backend.CodeUnavailable, "simulated outage")
	}
	return f.Backend.CreateFolder(ctx, path)
}

func folderPath(device, seq int) string {
	return fmt.Sprintf("dev-%03d/op-%06d", device, seq)
}

// Run executes a load test against a fresh outbox at dbPath.
func Run(ctx context.Context, dbPath string, opts Options) (*Result, error) {
	if opts.Devices <= 0 || opts.OpsPerDevice <= 0 {
		return nil, fmt.Errorf("devices and ops per device must be positive")
	}
	if opts.MaxRuns <= 0 {
		opts.MaxRuns = 10000
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	if err := db.InitSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ob := outbox.New(db, logger)
	mem := memory.New()
	remote := &flaky{
		Backend: mem.As("loadtest"),
		rng:     rand.New(rand.NewSource(opts.Seed)),
		rate:    opts.FailureRate,
	}
	engine := sync.NewEngine(ob, sync.Config{Policy: opts.Policy, Logger: logger})

	start := time.Now()
	result := &Result{}

	var wg gosync.WaitGroup
	defer wg.Wait()
	durations := make(chan []time.Duration, opts.Devices)
	errs := make(chan error, opts.Devices)

	for d := 0; d < opts.Devices; d++ {
		wg.Add(1)
		go func(device int) {
			defer wg.Done()

			ds := make([]time.Duration, 0, opts.OpsPerDevice)
			for seq := 0; seq < opts.OpsPerDevice; seq++ {
				began := time.Now()
				_, err := ob.Enqueue(ctx, &schema.CreateFolderPayload{Path: folderPath(device, seq)})
				ds = append(ds, time.Since(began))
				if err != nil {
					errs <- fmt.Errorf("device %d op %d failed: %w", device, seq, err)
					break
				}
			}
			durations <- ds
		}(d)
	}

	producing := make(chan struct{})
	go func() {
		wg.Wait()
		close(producing)
	}()

	done := false
	for !done {
		if result.Runs >= opts.MaxRuns {
			return nil, fmt.Errorf("outbox not drained after %d runs", result.Runs)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		select {
		case <-producing:
			pending, err := ob.PendingCount(ctx)
			if err != nil {
				return nil, err
			}
			done = pending == 0
		default:
		}
		if done {
			break
		}

		report, err := engine.Run(ctx, remote)
		if err != nil {
			return nil, fmt.Errorf("run %d failed: %w", result.Runs+1, err)
		}
		result.Runs++
		result.Applied += report.Applied
		result.Retained += report.Retained
		if report.Attempted == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	result.Elapsed = time.Since(start)

	close(durations)
	close(errs)

	var all []time.Duration
	for ds := range durations {
		all = append(all, ds...)
	}
	result.Enqueue = computeLatencyStats(all)
	for err := range errs {
		logger.Printf("Error: %v", err)
		result.Enqueue.Errors++
	}

	verify(result, mem.Journal(), opts)
	return result, nil
}

// verify checks the backend journal for exactly-once, per-device ordered
// delivery.
func verify(result *Result, journal []string, opts Options) {
	seen := make(map[string]int)
	last := make(map[int]int)

	for _, entry := range journal {
		path := strings.TrimSuffix(strings.TrimPrefix(entry, "createFolder("), ")")
		seen[path]++
		result.Delivered++

		device, seq, ok := parsePath(path)
		if !ok {
			continue
		}
		if prev, ok := last[device]; ok && seq < prev {
			result.OutOfOrder++
		}
		last[device] = seq
	}

	for d := 0; d < opts.Devices; d++ {
		for s := 0; s < opts.OpsPerDevice; s++ {
			switch n := seen[folderPath(d, s)]; {
			case n == 0:
				result.Missing++
			case n > 1:
				result.Duplicates += n - 1
			}
		}
	}
}

func parsePath(path string) (device, seq int, ok bool) {
	dev, op, found := strings.Cut(path, "/")
	if !found {
		return 0, 0, false
	}
	device, err1 := strconv.Atoi(strings.TrimPrefix(dev, "dev-"))
	seq, err2 := strconv.Atoi(strings.TrimPrefix(op, "op-"))
	return device, seq, err1 == nil && err2 == nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(durations)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalQueries: len(durations),
	}
}

// Print formats the result.
func (r *Result) Print(w io.Writer) {
	s := r.Enqueue
	fmt.Fprintf(w, "Enqueue latency:\n")
	fmt.Fprintf(w, "  Operations:    %d\n", s.TotalQueries)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
	fmt.Fprintf(w, "Replay:\n")
	fmt.Fprintf(w, "  Runs:          %d\n", r.Runs)
	fmt.Fprintf(w, "  Applied:       %d\n", r.Applied)
	fmt.Fprintf(w, "  Retries:       %d\n", r.Retained)
	fmt.Fprintf(w, "  Duplicates:    %d\n", r.Duplicates)
	fmt.Fprintf(w, "  Missing:       %d\n", r.Missing)
	fmt.Fprintf(w, "  Out of order:  %d\n", r.OutOfOrder)
	fmt.Fprintf(w, "  Elapsed:       %v\n", r.Elapsed)
}
