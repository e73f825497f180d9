// Package connectivity decides whether the sync server is reachable. The
// answer is a cached health probe, so callers can ask before every request
// without hammering the network.
package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	defaultProbeTimeout = 10 * time.Second
	defaultCacheWindow  = 60 * time.Second
	defaultHealthPath   = "/health"
)

// State is the last probe outcome.
type State struct {
	Online    bool
	CheckedAt time.Time
}

// Monitor probes {baseURL}{healthPath} and caches the verdict for a window.
// A 429 counts as online: the server is reachable, just rate-limiting us.
type Monitor struct {
	baseURL    string
	healthPath string
	window     time.Duration
	http       *http.Client

	mu    sync.Mutex
	state State

	now func() time.Time
}

// Option adjusts a Monitor.
type Option func(*Monitor)

// WithHealthPath overrides the probe path (default /health).
func WithHealthPath(path string) Option {
	return func(m *Monitor) { m.healthPath = path }
}

// WithCacheWindow overrides how long a probe result is trusted.
func WithCacheWindow(d time.Duration) Option {
	return func(m *Monitor) { m.window = d }
}

// WithProbeTimeout overrides the probe request timeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.http.Timeout = d }
}

// New creates a Monitor for the given server base URL.
func New(baseURL string, opts ...Option) *Monitor {
	m := &Monitor{
		baseURL:    baseURL,
		healthPath: defaultHealthPath,
		window:     defaultCacheWindow,
		http:       &http.Client{Timeout: defaultProbeTimeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsOnline reports server reachability, probing only when the cached state
// has aged past the window.
func (m *Monitor) IsOnline(ctx context.Context) bool {
	m.mu.Lock()
	if !m.state.CheckedAt.IsZero() && m.now().Sub(m.state.CheckedAt) < m.window {
		online := m.state.Online
		m.mu.Unlock()
		return online
	}
	m.mu.Unlock()
	return m.Refresh(ctx)
}

// Refresh forces a probe regardless of the cached state.
func (m *Monitor) Refresh(ctx context.Context) bool {
	online := m.probe(ctx)
	m.mu.Lock()
	m.state = State{Online: online, CheckedAt: m.now()}
	m.mu.Unlock()
	return online
}

// State returns the last recorded probe outcome without probing.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// probe issues one GET against the health path. No retries: a single fast
// failure is sufficient signal.
func (m *Monitor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+m.healthPath, nil)
	if err != nil {
		slog.Debug("connectivity: build probe", "err", err)
		return false
	}

	resp, err := m.http.Do(req)
	if err != nil {
		slog.Debug("connectivity: probe failed", "err", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return true // reachable, just throttled
	}
	slog.Debug("connectivity: probe status", "status", resp.StatusCode)
	return false
}
