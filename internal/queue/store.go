// Package queue is the durable, ordered store of pending offline requests.
// Requests are persisted one per key under a common prefix; the id embeds the
// enqueue timestamp so the backing store's key order is enqueue order.
//
// All mutations go through the Store's mutex: a read-modify-write on one
// entry can never interleave with a concurrent enqueue or removal.
package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rahat/mess/internal/storage"
)

const keyPrefix = "queue/"

// DefaultMaxRetries bounds replay attempts for entries enqueued without an
// explicit budget.
const DefaultMaxRetries = 5

// Store owns the persisted queue.
type Store struct {
	mu sync.Mutex
	kv storage.KV

	maxRetries int
	readOnly   ReadOnlyFunc
	now        func() time.Time
}

// StoreOption adjusts a Store.
type StoreOption func(*Store)

// WithMaxRetries overrides the default retry budget for new entries.
func WithMaxRetries(n int) StoreOption {
	return func(s *Store) { s.maxRetries = n }
}

// WithReadOnly supplies the read-only endpoint predicate used to resolve
// legacy CREATE-tagged entries.
func WithReadOnly(f ReadOnlyFunc) StoreOption {
	return func(s *Store) { s.readOnly = f }
}

// NewStore creates a Store over the given KV backend.
func NewStore(kv storage.KV, opts ...StoreOption) *Store {
	s := &Store{kv: kv, maxRetries: DefaultMaxRetries, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue persists a request and returns its assigned id. Kind/Method must
// already be resolved (see Resolve); zero CreatedAt and MaxRetries are filled
// with defaults.
func (s *Store) Enqueue(req Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now()
	}
	if req.MaxRetries == 0 {
		req.MaxRetries = s.maxRetries
	}
	if req.Kind == "" {
		req.Kind, req.Method = Resolve(req.Method, req.Action, req.Endpoint, s.readOnly)
	}
	req.ID = newID(req.CreatedAt)

	if err := s.put(req); err != nil {
		return "", err
	}
	slog.Debug("queue: enqueued", "id", req.ID, "endpoint", req.Endpoint, "method", req.Method)
	return req.ID, nil
}

// Pending returns all entries still inside their retry budget, in enqueue
// order.
func (s *Store) Pending() ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(func(r *Request) bool { return !r.Exhausted() })
}

// All returns every stored entry, exhausted ones included.
func (s *Store) All() ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(nil)
}

// PendingCount returns the number of entries inside their retry budget.
func (s *Store) PendingCount() (int, error) {
	reqs, err := s.Pending()
	if err != nil {
		return 0, err
	}
	return len(reqs), nil
}

// Remove deletes one entry by id.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.RemoveItem(keyPrefix + id)
}

// RemoveByEndpoint deletes every entry for the given endpoint and returns how
// many were removed.
func (s *Store) RemoveByEndpoint(endpoint string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reqs, err := s.load(nil)
	if err != nil {
		return 0, err
	}
	var doomed []string
	for _, r := range reqs {
		if r.Endpoint == endpoint {
			doomed = append(doomed, keyPrefix+r.ID)
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	if err := s.kv.MultiRemove(doomed); err != nil {
		return 0, err
	}
	return len(doomed), nil
}

// Update rewrites an existing entry (retry bookkeeping from the sync engine).
func (s *Store) Update(req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.ID == "" {
		return fmt.Errorf("update queue entry: empty id")
	}
	return s.put(req)
}

// RecordFailure increments the retry count and stamps the last attempt. When
// the budget is exceeded the entry is removed; the bool reports whether it was
// kept.
func (s *Store) RecordFailure(id string, attemptErr string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.get(id)
	if err != nil {
		return false, err
	}
	req.RetryCount++
	now := s.now()
	req.LastAttempt = &now
	req.Error = attemptErr

	if req.Exhausted() {
		slog.Warn("queue: dropping exhausted entry", "id", id, "endpoint", req.Endpoint, "retries", req.RetryCount)
		return false, s.kv.RemoveItem(keyPrefix + id)
	}
	return true, s.put(*req)
}

// Clear removes every entry.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.kv.KeysWithPrefix(keyPrefix)
	if err != nil {
		return fmt.Errorf("list queue keys: %w", err)
	}
	return s.kv.MultiRemove(keys)
}

// PurgeExhausted removes entries past their retry budget and returns the
// count.
func (s *Store) PurgeExhausted() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reqs, err := s.load(func(r *Request) bool { return r.Exhausted() })
	if err != nil {
		return 0, err
	}
	var doomed []string
	for _, r := range reqs {
		doomed = append(doomed, keyPrefix+r.ID)
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	if err := s.kv.MultiRemove(doomed); err != nil {
		return 0, err
	}
	return len(doomed), nil
}

// --- unexported helpers (callers hold s.mu) ---

func (s *Store) put(req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal queue entry %s: %w", req.ID, err)
	}
	if err := s.kv.SetItem(keyPrefix+req.ID, data); err != nil {
		return fmt.Errorf("persist queue entry %s: %w", req.ID, err)
	}
	return nil
}

func (s *Store) get(id string) (*Request, error) {
	data, err := s.kv.GetItem(keyPrefix + id)
	if err != nil {
		return nil, fmt.Errorf("load queue entry %s: %w", id, err)
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode queue entry %s: %w", id, err)
	}
	return &req, nil
}

// load reads entries in key (= enqueue) order, skipping any that fail filter.
// Undecodable entries are logged and skipped, never returned.
func (s *Store) load(filter func(*Request) bool) ([]Request, error) {
	keys, err := s.kv.KeysWithPrefix(keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list queue keys: %w", err)
	}

	var reqs []Request
	for _, k := range keys {
		data, err := s.kv.GetItem(k)
		if err != nil {
			if err == storage.ErrNotFound {
				continue
			}
			return nil, fmt.Errorf("load %s: %w", k, err)
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			slog.Warn("queue: skipping undecodable entry", "key", k, "err", err)
			continue
		}
		if req.Kind == "" {
			// Legacy entry persisted before the tagged-variant scheme:
			// resolve once here, not ad hoc at every replay.
			req.Kind, req.Method = Resolve(req.Method, req.Action, req.Endpoint, s.readOnly)
		}
		if filter != nil && !filter(&req) {
			continue
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}
