package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rahat/mess/internal/bus"
	"github.com/rahat/mess/internal/connectivity"
	"github.com/rahat/mess/internal/dispatch"
	"github.com/rahat/mess/internal/queue"
	"github.com/rahat/mess/internal/respcache"
	"github.com/rahat/mess/internal/storage"
)

type engineRig struct {
	engine *Engine
	queue  *queue.Store
	bus    *bus.Bus
	cache  *respcache.Cache
}

// newEngineRig wires an engine against an httptest server. The /health probe
// always answers 200; everything else goes to handler.
func newEngineRig(t *testing.T, handler http.HandlerFunc, opts ...Option) *engineRig {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	q := queue.NewStore(storage.NewMem())
	b := bus.New()
	cache := respcache.New()
	conn := connectivity.New(srv.URL)
	// MaxRetries -1 keeps drain tests fast: every failure is final on the
	// first attempt, no backoff sleeps.
	d := dispatch.New(dispatch.Config{BaseURL: srv.URL, MaxRetries: -1}, conn, nil, nil, nil)
	return &engineRig{
		engine: NewEngine(q, d, conn, b, append([]Option{WithCache(cache)}, opts...)...),
		queue:  q,
		bus:    b,
		cache:  cache,
	}
}

func enqueue(t *testing.T, q *queue.Store, req queue.Request) string {
	t.Helper()
	id, err := q.Enqueue(req)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	// Ids embed a nanosecond timestamp; keep consecutive enqueues distinct.
	time.Sleep(time.Millisecond)
	return id
}

func TestDrainReplaysInOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	rig := newEngineRig(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.Write([]byte(`{"success":true,"data":{}}`))
	})

	enqueue(t, rig.queue, queue.Request{Endpoint: "/api/meals", Method: http.MethodPost, Body: json.RawMessage(`{"n":1}`)})
	enqueue(t, rig.queue, queue.Request{Endpoint: "/api/bazar", Method: http.MethodPost, Body: json.RawMessage(`{"n":2}`)})
	enqueue(t, rig.queue, queue.Request{Endpoint: "/api/meals/7", Method: http.MethodDelete})

	report, err := rig.engine.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow: %v", err)
	}
	if report.Batch != 3 || report.Succeeded != 3 || report.Halt != HaltNone {
		t.Fatalf("report = %+v", report)
	}
	want := []string{"POST /api/meals", "POST /api/bazar", "DELETE /api/meals/7"}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Fatalf("requests = %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("request[%d] = %s, want %s", i, seen[i], want[i])
		}
	}
	if n, _ := rig.queue.PendingCount(); n != 0 {
		t.Fatalf("pending after drain = %d", n)
	}
}

func TestDrainHaltsWhenOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	q := queue.NewStore(storage.NewMem())
	conn := connectivity.New(srv.URL, connectivity.WithProbeTimeout(time.Second))
	d := dispatch.New(dispatch.Config{BaseURL: srv.URL}, conn, nil, nil, nil)
	e := NewEngine(q, d, conn, nil)

	enqueue(t, q, queue.Request{Endpoint: "/api/meals", Method: http.MethodPost})

	report, err := e.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow: %v", err)
	}
	if report.Halt != HaltOffline || report.Batch != 0 {
		t.Fatalf("report = %+v", report)
	}
	if n, _ := q.PendingCount(); n != 1 {
		t.Fatalf("pending = %d, want 1 (nothing sent offline)", n)
	}
}

func TestDrainDropsUnknownMethodEntries(t *testing.T) {
	var hits atomic.Int32
	rig := newEngineRig(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"success":true}`))
	})

	// Legacy entry with neither method nor a recognizable action tag.
	enqueue(t, rig.queue, queue.Request{Endpoint: "/api/meals", Action: "UPSERT"})
	enqueue(t, rig.queue, queue.Request{Endpoint: "/api/bazar", Method: http.MethodPost})

	report, _ := rig.engine.SyncNow(context.Background())
	if report.DroppedUnknown != 1 || report.Succeeded != 1 {
		t.Fatalf("report = %+v", report)
	}
	// The unresolvable entry was dropped without a network attempt.
	if n := hits.Load(); n != 1 {
		t.Fatalf("server hits = %d, want 1", n)
	}
	if n, _ := rig.queue.PendingCount(); n != 0 {
		t.Fatalf("pending = %d", n)
	}
}

func TestDrainDedupesQueuedReads(t *testing.T) {
	var gets atomic.Int32
	rig := newEngineRig(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
		}
		w.Write([]byte(`{"success":true,"data":[]}`))
	})

	for i := 0; i < 3; i++ {
		enqueue(t, rig.queue, queue.Request{Endpoint: "/api/meals?month=2026-01", Method: http.MethodGet})
	}

	report, _ := rig.engine.SyncNow(context.Background())
	if report.DroppedDupes != 2 || report.Succeeded != 1 {
		t.Fatalf("report = %+v", report)
	}
	if n := gets.Load(); n != 1 {
		t.Fatalf("network GETs = %d, want 1", n)
	}
	if n, _ := rig.queue.PendingCount(); n != 0 {
		t.Fatalf("pending = %d", n)
	}
}

func TestDrainBustsCacheOnConfirmedWrite(t *testing.T) {
	rig := newEngineRig(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":{"id":"m1"}}`))
	})

	// Reads cached before the write synced.
	rig.cache.Set("/meals?month=2026-01", json.RawMessage(`[]`), time.Minute)
	rig.cache.Set("/bazar?month=2026-01", json.RawMessage(`[]`), time.Minute)

	enqueue(t, rig.queue, queue.Request{
		Endpoint:   "/meals",
		Method:     http.MethodPost,
		Body:       json.RawMessage(`{"date":"2026-01-10"}`),
		Invalidate: []string{"/meals"},
	})

	report, err := rig.engine.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow: %v", err)
	}
	if report.Succeeded != 1 {
		t.Fatalf("report = %+v", report)
	}
	if _, ok := rig.cache.Get("/meals?month=2026-01"); ok {
		t.Fatal("stale cached read survived a confirmed cache-busting write")
	}
	if _, ok := rig.cache.Get("/bazar?month=2026-01"); !ok {
		t.Fatal("unrelated cache entry was invalidated")
	}
}

func TestDrainKeepsCacheWhenWriteFails(t *testing.T) {
	rig := newEngineRig(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	rig.cache.Set("/meals?month=2026-01", json.RawMessage(`[]`), time.Minute)
	enqueue(t, rig.queue, queue.Request{
		Endpoint:   "/meals",
		Method:     http.MethodPost,
		Invalidate: []string{"/meals"},
	})

	rig.engine.SyncNow(context.Background())
	if _, ok := rig.cache.Get("/meals?month=2026-01"); !ok {
		t.Fatal("cache busted although the write was not confirmed")
	}
}

func TestDrainHaltsOnSessionExpiry(t *testing.T) {
	var hits atomic.Int32
	rig := newEngineRig(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"success":false,"error":"token expired"}`))
	})

	enqueue(t, rig.queue, queue.Request{Endpoint: "/api/meals", Method: http.MethodPost})
	enqueue(t, rig.queue, queue.Request{Endpoint: "/api/bazar", Method: http.MethodPost})

	report, _ := rig.engine.SyncNow(context.Background())
	if report.Halt != HaltSessionExpired {
		t.Fatalf("report = %+v", report)
	}
	if report.DroppedTerminal != 1 {
		t.Fatalf("DroppedTerminal = %d", report.DroppedTerminal)
	}
	// Only the first item hit the network; the rest stay queued.
	if n := hits.Load(); n != 1 {
		t.Fatalf("server hits = %d, want 1", n)
	}
	if n, _ := rig.queue.PendingCount(); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}
}

func TestDrainHaltsOnRateLimitKeepingItems(t *testing.T) {
	rig := newEngineRig(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	first := enqueue(t, rig.queue, queue.Request{Endpoint: "/api/meals", Method: http.MethodPost})
	enqueue(t, rig.queue, queue.Request{Endpoint: "/api/bazar", Method: http.MethodPost})

	report, _ := rig.engine.SyncNow(context.Background())
	if report.Halt != HaltRateLimited || report.Kept != 2 {
		t.Fatalf("report = %+v", report)
	}

	// Both entries survive with untouched retry budgets.
	pending, _ := rig.queue.Pending()
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	for _, r := range pending {
		if r.RetryCount != 0 {
			t.Fatalf("retry count inflated on %s: %d", r.ID, r.RetryCount)
		}
	}
	if pending[0].ID != first {
		t.Fatal("halted item lost its queue position")
	}
}

func TestDrainDropsTerminalFailures(t *testing.T) {
	rig := newEngineRig(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success":false,"error":"no such meal"}`))
	})

	enqueue(t, rig.queue, queue.Request{Endpoint: "/api/meals/99", Method: http.MethodDelete})

	report, _ := rig.engine.SyncNow(context.Background())
	if report.DroppedTerminal != 1 || report.Halt != HaltNone {
		t.Fatalf("report = %+v", report)
	}
	if n, _ := rig.queue.PendingCount(); n != 0 {
		t.Fatalf("pending = %d, want 0 (terminal entries removed)", n)
	}
}

func TestDrainRecordsRetryableFailures(t *testing.T) {
	rig := newEngineRig(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	enqueue(t, rig.queue, queue.Request{Endpoint: "/api/meals", Method: http.MethodPost, MaxRetries: 2})

	report, _ := rig.engine.SyncNow(context.Background())
	if report.Kept != 1 {
		t.Fatalf("report = %+v", report)
	}
	pending, _ := rig.queue.Pending()
	if len(pending) != 1 || pending[0].RetryCount != 1 {
		t.Fatalf("pending = %+v", pending)
	}

	// Two more failed drains exhaust the budget and drop the entry.
	rig.engine.SyncNow(context.Background())
	report, _ = rig.engine.SyncNow(context.Background())
	if report.DroppedExhaust != 1 {
		t.Fatalf("report = %+v", report)
	}
	if n, _ := rig.queue.PendingCount(); n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
}

func TestDrainBatchCap(t *testing.T) {
	var hits atomic.Int32
	rig := newEngineRig(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"success":true}`))
	}, WithBatchLimit(2))

	for i := 0; i < 5; i++ {
		enqueue(t, rig.queue, queue.Request{Endpoint: "/api/meals", Method: http.MethodPost})
	}

	report, _ := rig.engine.SyncNow(context.Background())
	if report.Batch != 2 || report.Succeeded != 2 {
		t.Fatalf("report = %+v", report)
	}
	if n := hits.Load(); n != 2 {
		t.Fatalf("server hits = %d, want 2", n)
	}
	if n, _ := rig.queue.PendingCount(); n != 3 {
		t.Fatalf("pending = %d, want 3", n)
	}
}

func TestSyncNowRejectsOverlappingDrain(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var once atomic.Bool
	rig := newEngineRig(t, func(w http.ResponseWriter, r *http.Request) {
		if once.CompareAndSwap(false, true) {
			close(entered)
			<-release
		}
		w.Write([]byte(`{"success":true}`))
	})

	enqueue(t, rig.queue, queue.Request{Endpoint: "/api/meals", Method: http.MethodPost})

	done := make(chan struct{})
	go func() {
		defer close(done)
		rig.engine.SyncNow(context.Background())
	}()

	<-entered
	if !rig.engine.Draining() {
		t.Fatal("Draining = false during drain")
	}
	if _, err := rig.engine.SyncNow(context.Background()); err != ErrDrainInProgress {
		t.Fatalf("overlapping SyncNow err = %v, want ErrDrainInProgress", err)
	}

	close(release)
	<-done
	if rig.engine.Draining() {
		t.Fatal("Draining = true after drain finished")
	}
	// With the first drain finished a new one is accepted again.
	if _, err := rig.engine.SyncNow(context.Background()); err != nil {
		t.Fatalf("SyncNow after drain: %v", err)
	}
}

func TestDrainPublishesLifecycleEvents(t *testing.T) {
	rig := newEngineRig(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true}`))
	})
	sub := rig.bus.Subscribe(bus.TypeSyncStarted, bus.TypeSyncFinished)
	defer sub.Cancel()

	enqueue(t, rig.queue, queue.Request{Endpoint: "/api/meals", Method: http.MethodPost})
	rig.engine.SyncNow(context.Background())

	if ev := <-sub.C; ev.Type != bus.TypeSyncStarted {
		t.Fatalf("first event = %s", ev.Type)
	}
	ev := <-sub.C
	if ev.Type != bus.TypeSyncFinished {
		t.Fatalf("second event = %s", ev.Type)
	}
	report, ok := ev.Data.(*Report)
	if !ok || report.Succeeded != 1 {
		t.Fatalf("finished payload = %+v", ev.Data)
	}
}

func TestHaltedDrainStillPublishesQueueChanged(t *testing.T) {
	rig := newEngineRig(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"success":false,"error":"token expired"}`))
	})
	sub := rig.bus.Subscribe(bus.TypeQueueChanged)
	defer sub.Cancel()

	enqueue(t, rig.queue, queue.Request{Endpoint: "/api/meals", Method: http.MethodPost})
	enqueue(t, rig.queue, queue.Request{Endpoint: "/api/bazar", Method: http.MethodPost})

	report, _ := rig.engine.SyncNow(context.Background())
	if report.Halt != HaltSessionExpired {
		t.Fatalf("report = %+v", report)
	}
	// The halt removed an entry, so listeners still hear about it.
	select {
	case ev := <-sub.C:
		if ev.Type != bus.TypeQueueChanged {
			t.Fatalf("event = %s", ev.Type)
		}
	default:
		t.Fatal("no queue_changed after a halted drain that removed an entry")
	}
}

func TestStopSyncIsIdempotent(t *testing.T) {
	rig := newEngineRig(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true}`))
	}, WithInterval(time.Hour))

	rig.engine.StartSync()
	rig.engine.StartSync() // second start is a no-op
	rig.engine.StopSync()
	rig.engine.StopSync() // second stop must not panic
}
