package respcache

import (
	"encoding/json"
	"testing"
	"time"
)

// fixedClock lets tests step time explicitly.
type fixedClock struct {
	t time.Time
}

func (c *fixedClock) now() time.Time          { return c.t }
func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache() (*Cache, *fixedClock) {
	clk := &fixedClock{t: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	c := New()
	c.now = clk.now
	return c, clk
}

func TestGetFreshAndStale(t *testing.T) {
	c, clk := newTestCache()
	c.Set("/api/meals?month=2026-01", json.RawMessage(`[{"id":1}]`), 5*time.Minute)

	clk.advance(5*time.Minute - time.Millisecond)
	if v, ok := c.Get("/api/meals?month=2026-01"); !ok {
		t.Fatal("entry just under ttl should hit")
	} else if string(v) != `[{"id":1}]` {
		t.Fatalf("payload = %s", v)
	}

	clk.advance(2 * time.Millisecond)
	if _, ok := c.Get("/api/meals?month=2026-01"); ok {
		t.Fatal("entry past ttl should miss")
	}
	// Lazy expiry: the stale entry still occupies a slot until invalidated.
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
}

func TestExactTTLBoundaryIsMiss(t *testing.T) {
	c, clk := newTestCache()
	c.Set("k", json.RawMessage(`1`), 300*time.Second)

	clk.advance(300 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("age == ttl must be a miss")
	}
}

func TestSetIgnoresNonPositiveTTL(t *testing.T) {
	c, _ := newTestCache()
	c.Set("k", json.RawMessage(`1`), 0)
	c.Set("k2", json.RawMessage(`1`), -time.Second)
	if c.Len() != 0 {
		t.Fatalf("Len = %d, want 0", c.Len())
	}
}

func TestInvalidatePrefix(t *testing.T) {
	c, _ := newTestCache()
	ttl := time.Minute
	c.Set("/api/meals?month=2026-01", json.RawMessage(`1`), ttl)
	c.Set("/api/meals?month=2026-02", json.RawMessage(`2`), ttl)
	c.Set("/api/bazar?month=2026-01", json.RawMessage(`3`), ttl)

	c.InvalidatePrefix("/api/meals")
	if _, ok := c.Get("/api/meals?month=2026-01"); ok {
		t.Fatal("prefixed entry survived invalidation")
	}
	if _, ok := c.Get("/api/bazar?month=2026-01"); !ok {
		t.Fatal("unrelated entry was invalidated")
	}

	c.InvalidatePrefix("")
	if c.Len() != 0 {
		t.Fatalf("Len after empty-prefix invalidate = %d, want 0", c.Len())
	}
}

func TestClear(t *testing.T) {
	c, _ := newTestCache()
	c.Set("a", json.RawMessage(`1`), time.Minute)
	c.Set("b", json.RawMessage(`2`), time.Minute)
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("Len after Clear = %d", c.Len())
	}
}
