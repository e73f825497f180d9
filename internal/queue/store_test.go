package queue

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rahat/mess/internal/storage"
)

// steppingClock returns strictly increasing times so ids never collide even on
// coarse clocks.
type steppingClock struct {
	t time.Time
}

func (c *steppingClock) now() time.Time {
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func newTestStore(kv storage.KV, opts ...StoreOption) *Store {
	s := NewStore(kv, opts...)
	s.now = (&steppingClock{t: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}).now
	return s
}

func TestEnqueueOrder(t *testing.T) {
	s := newTestStore(storage.NewMem())

	for _, ep := range []string{"/api/meals", "/api/bazar", "/api/payments"} {
		if _, err := s.Enqueue(Request{Endpoint: ep, Method: http.MethodPost}); err != nil {
			t.Fatalf("Enqueue(%s): %v", ep, err)
		}
	}

	reqs, err := s.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(reqs) != 3 {
		t.Fatalf("len = %d, want 3", len(reqs))
	}
	want := []string{"/api/meals", "/api/bazar", "/api/payments"}
	for i, r := range reqs {
		if r.Endpoint != want[i] {
			t.Fatalf("order[%d] = %s, want %s", i, r.Endpoint, want[i])
		}
	}
}

func TestEnqueueFillsDefaults(t *testing.T) {
	s := newTestStore(storage.NewMem())

	id, err := s.Enqueue(Request{Endpoint: "/api/meals", Method: http.MethodPost})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if id == "" {
		t.Fatal("empty id")
	}

	reqs, _ := s.Pending()
	r := reqs[0]
	if r.Kind != MethodExplicit {
		t.Fatalf("Kind = %s, want explicit", r.Kind)
	}
	if r.MaxRetries != DefaultMaxRetries {
		t.Fatalf("MaxRetries = %d, want %d", r.MaxRetries, DefaultMaxRetries)
	}
	if r.CreatedAt.IsZero() {
		t.Fatal("CreatedAt not filled")
	}
}

func TestSurvivesRestart(t *testing.T) {
	kv := storage.NewMem()

	s := newTestStore(kv)
	if _, err := s.Enqueue(Request{Endpoint: "/api/meals", Method: http.MethodPost, Body: []byte(`{"date":"2026-01-10"}`)}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// A fresh Store over the same backend sees the persisted entry.
	s2 := NewStore(kv)
	reqs, err := s2.Pending()
	if err != nil {
		t.Fatalf("Pending after restart: %v", err)
	}
	if len(reqs) != 1 || reqs[0].Endpoint != "/api/meals" {
		t.Fatalf("restart lost the entry: %+v", reqs)
	}
	if string(reqs[0].Body) != `{"date":"2026-01-10"}` {
		t.Fatalf("body = %s", reqs[0].Body)
	}
}

func TestResolve(t *testing.T) {
	readOnly := func(ep string) bool { return strings.HasPrefix(ep, "/api/summary") }

	tests := []struct {
		name     string
		method   string
		action   string
		endpoint string
		wantKind MethodKind
		wantMeth string
	}{
		{"explicit wins", http.MethodDelete, ActionCreate, "/api/meals", MethodExplicit, http.MethodDelete},
		{"create is post", "", ActionCreate, "/api/meals", MethodInferred, http.MethodPost},
		{"create on read-only is get", "", ActionCreate, "/api/summary/2026-01", MethodInferred, http.MethodGet},
		{"update is put", "", ActionUpdate, "/api/meals/7", MethodInferred, http.MethodPut},
		{"delete is delete", "", ActionDelete, "/api/meals/7", MethodInferred, http.MethodDelete},
		{"nothing is unknown", "", "", "/api/meals", MethodUnknown, ""},
		{"garbage action is unknown", "", "UPSERT", "/api/meals", MethodUnknown, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, method := Resolve(tt.method, tt.action, tt.endpoint, readOnly)
			if kind != tt.wantKind || method != tt.wantMeth {
				t.Fatalf("Resolve = (%s, %q), want (%s, %q)", kind, method, tt.wantKind, tt.wantMeth)
			}
		})
	}
}

func TestResolvedMethod(t *testing.T) {
	r := Request{Kind: MethodUnknown}
	if _, ok := r.ResolvedMethod(); ok {
		t.Fatal("unknown entry reported a method")
	}
	r = Request{Kind: MethodExplicit, Method: http.MethodPut}
	if m, ok := r.ResolvedMethod(); !ok || m != http.MethodPut {
		t.Fatalf("ResolvedMethod = (%q, %v)", m, ok)
	}
}

func TestLegacyEntryResolvedAtLoad(t *testing.T) {
	kv := storage.NewMem()
	// Entry persisted by an older client: action tag, no kind, no method.
	kv.SetItem("queue/00000000000000000001-aaaa", []byte(`{"id":"00000000000000000001-aaaa","endpoint":"/api/meals","action":"CREATE","created_at":"2026-01-09T10:00:00Z","retry_count":0,"max_retries":5}`))

	s := NewStore(kv)
	reqs, err := s.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(reqs) != 1 {
		t.Fatalf("len = %d", len(reqs))
	}
	if reqs[0].Kind != MethodInferred || reqs[0].Method != http.MethodPost {
		t.Fatalf("legacy entry resolved to (%s, %s)", reqs[0].Kind, reqs[0].Method)
	}
}

func TestRecordFailureAndExhaustion(t *testing.T) {
	s := newTestStore(storage.NewMem(), WithMaxRetries(2))

	id, err := s.Enqueue(Request{Endpoint: "/api/meals", Method: http.MethodPost})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for i := 1; i <= 2; i++ {
		kept, err := s.RecordFailure(id, "502 bad gateway")
		if err != nil {
			t.Fatalf("RecordFailure #%d: %v", i, err)
		}
		if !kept {
			t.Fatalf("entry dropped at retry %d, budget is 2", i)
		}
	}

	reqs, _ := s.Pending()
	if len(reqs) != 1 || reqs[0].RetryCount != 2 {
		t.Fatalf("pending = %+v", reqs)
	}
	if reqs[0].LastAttempt == nil || reqs[0].Error != "502 bad gateway" {
		t.Fatalf("attempt bookkeeping missing: %+v", reqs[0])
	}

	// Third failure exceeds the budget and removes the entry.
	kept, err := s.RecordFailure(id, "502 bad gateway")
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if kept {
		t.Fatal("exhausted entry was kept")
	}
	if n, _ := s.PendingCount(); n != 0 {
		t.Fatalf("PendingCount = %d, want 0", n)
	}
}

func TestRemoveByEndpoint(t *testing.T) {
	s := newTestStore(storage.NewMem())

	s.Enqueue(Request{Endpoint: "/api/meals?month=2026-01", Method: http.MethodGet})
	s.Enqueue(Request{Endpoint: "/api/meals?month=2026-01", Method: http.MethodGet})
	s.Enqueue(Request{Endpoint: "/api/bazar", Method: http.MethodPost})

	n, err := s.RemoveByEndpoint("/api/meals?month=2026-01")
	if err != nil {
		t.Fatalf("RemoveByEndpoint: %v", err)
	}
	if n != 2 {
		t.Fatalf("removed %d, want 2", n)
	}
	reqs, _ := s.Pending()
	if len(reqs) != 1 || reqs[0].Endpoint != "/api/bazar" {
		t.Fatalf("pending = %+v", reqs)
	}
}

func TestClearAndPurge(t *testing.T) {
	s := newTestStore(storage.NewMem())

	id, _ := s.Enqueue(Request{Endpoint: "/api/meals", Method: http.MethodPost})
	s.Enqueue(Request{Endpoint: "/api/bazar", Method: http.MethodPost})

	// Exhaust the first entry manually.
	reqs, _ := s.All()
	for _, r := range reqs {
		if r.ID == id {
			r.RetryCount = r.MaxRetries + 1
			if err := s.Update(r); err != nil {
				t.Fatalf("Update: %v", err)
			}
		}
	}

	n, err := s.PurgeExhausted()
	if err != nil {
		t.Fatalf("PurgeExhausted: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}
	if c, _ := s.PendingCount(); c != 1 {
		t.Fatalf("PendingCount = %d, want 1", c)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if all, _ := s.All(); len(all) != 0 {
		t.Fatalf("entries after Clear: %+v", all)
	}
}
