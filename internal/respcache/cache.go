// Package respcache keeps last-known-good GET responses so reads can be
// served without network access while the entry is fresh.
package respcache

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

type entry struct {
	data     json.RawMessage
	storedAt time.Time
	ttl      time.Duration
}

// Cache is a TTL-keyed response store. Expiry is lazy: a stale entry is
// reported as a miss but only removed by Invalidate/Clear.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry

	now func() time.Time
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the cached payload for key, or nil and false when the entry is
// absent or older than its ttl.
func (c *Cache) Get(key string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.storedAt) >= e.ttl {
		return nil, false
	}
	return e.data, true
}

// Set stores data under key with the given ttl, overwriting any previous
// entry. A non-positive ttl stores nothing.
func (c *Cache) Set(key string, data json.RawMessage, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{data: data, storedAt: c.now(), ttl: ttl}
}

// Invalidate removes the exact key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidatePrefix removes every entry whose key starts with prefix. An empty
// prefix clears everything.
func (c *Cache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prefix == "" {
		c.entries = make(map[string]entry)
		return
	}
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

// Clear drops every entry. Used on logout and session expiry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Len returns the number of stored entries, counting stale ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
