// Package sync drains the offline queue through the dispatcher: batched,
// deduplicated, ordered replay with explicit halt conditions for session
// expiry and rate limiting.
package sync

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/rahat/mess/internal/bus"
	"github.com/rahat/mess/internal/connectivity"
	"github.com/rahat/mess/internal/dispatch"
	"github.com/rahat/mess/internal/queue"
	"github.com/rahat/mess/internal/respcache"
)

const (
	// DefaultInterval is the periodic drain cadence.
	DefaultInterval = 5 * time.Minute
	// DefaultBatchLimit caps one drain's batch so a legacy queue holding
	// thousands of entries cannot flood the server.
	DefaultBatchLimit = 50
)

// ErrDrainInProgress is returned by SyncNow when a drain is already running.
var ErrDrainInProgress = errors.New("sync: drain already in progress")

// HaltReason explains why a drain stopped before exhausting its batch.
type HaltReason string

const (
	HaltNone           HaltReason = ""
	HaltOffline        HaltReason = "offline"
	HaltSessionExpired HaltReason = "session_expired"
	HaltRateLimited    HaltReason = "rate_limited"
)

// Report summarises one drain pass.
type Report struct {
	Started         time.Time
	Finished        time.Time
	Batch           int
	Succeeded       int
	DroppedTerminal int // terminal 4xx / session-expired removals
	DroppedUnknown  int // entries with no resolvable method
	DroppedDupes    int // redundant GETs within the batch
	DroppedExhaust  int // retry budget exceeded
	Kept            int
	Halt            HaltReason
}

// Engine owns the drain lifecycle. The running flag is its mutex: two drains
// never overlap.
type Engine struct {
	queue      *queue.Store
	dispatcher *dispatch.Dispatcher
	conn       *connectivity.Monitor
	bus        *bus.Bus
	cache      *respcache.Cache

	interval   time.Duration
	batchLimit int

	mu       sync.Mutex
	draining bool
	last     *Report

	stopOnce sync.Once
	stopCh   chan struct{}
	started  bool
	wg       sync.WaitGroup
}

// Option adjusts an Engine.
type Option func(*Engine)

// WithInterval overrides the periodic drain cadence.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// WithBatchLimit overrides the per-drain batch cap.
func WithBatchLimit(n int) Option {
	return func(e *Engine) { e.batchLimit = n }
}

// WithCache supplies the response cache so confirmed cache-busting writes can
// invalidate their prefixes on replay.
func WithCache(c *respcache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// NewEngine wires an Engine to its collaborators. b may be nil.
func NewEngine(q *queue.Store, d *dispatch.Dispatcher, conn *connectivity.Monitor, b *bus.Bus, opts ...Option) *Engine {
	e := &Engine{
		queue:      q,
		dispatcher: d,
		conn:       conn,
		bus:        b,
		interval:   DefaultInterval,
		batchLimit: DefaultBatchLimit,
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartSync launches the periodic drain timer. Calling it twice is a no-op.
func (e *Engine) StartSync() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-e.stopCh:
				return
			case <-ticker.C:
				if _, err := e.SyncNow(context.Background()); err != nil && err != ErrDrainInProgress {
					slog.Warn("sync: periodic drain", "err", err)
				}
			}
		}
	}()
}

// StopSync cancels the timer and waits for any in-flight loop iteration. An
// in-flight send is only cut short by its own request timeout.
func (e *Engine) StopSync() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

// SyncNow runs one out-of-band drain. Returns ErrDrainInProgress when a drain
// is already running.
func (e *Engine) SyncNow(ctx context.Context) (*Report, error) {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return nil, ErrDrainInProgress
	}
	e.draining = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.draining = false
		e.mu.Unlock()
	}()

	report := e.drain(ctx)

	e.mu.Lock()
	e.last = report
	e.mu.Unlock()
	return report, nil
}

// LastReport returns the most recent drain report, or nil before the first
// drain.
func (e *Engine) LastReport() *Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Draining reports whether a drain pass is currently running.
func (e *Engine) Draining() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draining
}

func (e *Engine) drain(ctx context.Context) *Report {
	report := &Report{Started: time.Now()}
	defer func() {
		report.Finished = time.Now()
		if e.bus != nil {
			// Halt branches return mid-loop after removing or updating
			// entries, so queue_changed belongs here, not after the loop.
			if report.Batch > 0 {
				e.bus.Publish(bus.Event{Type: bus.TypeQueueChanged})
			}
			e.bus.Publish(bus.Event{Type: bus.TypeSyncFinished, Data: report})
		}
	}()
	if e.bus != nil {
		e.bus.Publish(bus.Event{Type: bus.TypeSyncStarted})
	}

	if e.conn != nil && !e.conn.IsOnline(ctx) {
		report.Halt = HaltOffline
		return report
	}

	pending, err := e.queue.Pending()
	if err != nil {
		slog.Warn("sync: load pending", "err", err)
		return report
	}
	if len(pending) > e.batchLimit {
		pending = pending[:e.batchLimit]
	}
	report.Batch = len(pending)
	if len(pending) == 0 {
		return report
	}

	batch := e.dedupeReads(pending, report)

	for _, item := range batch {
		method, ok := item.ResolvedMethod()
		if !ok {
			// Cannot be replayed safely: guessing a method risks turning a
			// read into a destructive write.
			slog.Warn("sync: dropping entry with unknown method", "id", item.ID, "endpoint", item.Endpoint)
			if err := e.queue.Remove(item.ID); err != nil {
				slog.Warn("sync: remove unknown-method entry", "id", item.ID, "err", err)
			}
			report.DroppedUnknown++
			continue
		}

		res := e.dispatcher.Send(ctx, method, item.Endpoint, item.Body, dispatch.Options{
			Headers: item.Headers,
		})

		switch {
		case res.Success:
			if err := e.queue.Remove(item.ID); err != nil {
				slog.Warn("sync: remove confirmed entry", "id", item.ID, "err", err)
			}
			// The write carried its cache-busting prefixes into the queue;
			// confirming it invalidates them now, not back when it was queued.
			if e.cache != nil {
				for _, prefix := range item.Invalidate {
					e.cache.InvalidatePrefix(prefix)
				}
			}
			if method == http.MethodGet {
				// A fresh read supersedes every other queued read of the
				// same endpoint.
				if _, err := e.queue.RemoveByEndpoint(item.Endpoint); err != nil {
					slog.Warn("sync: supersede reads", "endpoint", item.Endpoint, "err", err)
				}
			}
			report.Succeeded++

		case res.SessionExpired():
			// Replaying the rest would fail the same way and risk repeated
			// logout signals.
			if err := e.queue.Remove(item.ID); err != nil {
				slog.Warn("sync: remove after session expiry", "id", item.ID, "err", err)
			}
			report.DroppedTerminal++
			report.Halt = HaltSessionExpired
			slog.Warn("sync: halting drain, session expired")
			return report

		case res.RateLimited():
			// Server asked to slow down: keep this item and the rest for the
			// next cycle.
			report.Kept += countRemaining(batch, item.ID)
			report.Halt = HaltRateLimited
			slog.Info("sync: halting drain, rate limited")
			return report

		case res.Failure != nil && res.Failure.Class.Terminal():
			if err := e.queue.Remove(item.ID); err != nil {
				slog.Warn("sync: remove terminal entry", "id", item.ID, "err", err)
			}
			report.DroppedTerminal++
			slog.Info("sync: dropped terminal entry", "id", item.ID, "endpoint", item.Endpoint, "status", res.Status)

		default:
			// Transport/server failure: record the attempt and keep the
			// entry unless its budget ran out.
			msg := ""
			if res.Failure != nil {
				msg = res.Failure.Message
			}
			kept, err := e.queue.RecordFailure(item.ID, msg)
			if err != nil {
				slog.Warn("sync: record failure", "id", item.ID, "err", err)
				continue
			}
			if kept {
				report.Kept++
			} else {
				report.DroppedExhaust++
			}
		}
	}

	return report
}

// dedupeReads keeps at most one GET per distinct endpoint within the batch.
// Redundant duplicates are removed from the store immediately.
func (e *Engine) dedupeReads(pending []queue.Request, report *Report) []queue.Request {
	seen := make(map[string]bool)
	out := pending[:0:0]
	for _, item := range pending {
		method, ok := item.ResolvedMethod()
		if ok && method == http.MethodGet {
			if seen[item.Endpoint] {
				if err := e.queue.Remove(item.ID); err != nil {
					slog.Warn("sync: remove duplicate read", "id", item.ID, "err", err)
				}
				report.DroppedDupes++
				continue
			}
			seen[item.Endpoint] = true
		}
		out = append(out, item)
	}
	return out
}

// countRemaining counts batch items from id onward (inclusive), i.e. the work
// left untouched by a halt.
func countRemaining(batch []queue.Request, id string) int {
	for i, item := range batch {
		if item.ID == id {
			return len(batch) - i
		}
	}
	return 0
}
