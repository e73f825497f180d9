// Package dispatch performs single HTTP exchanges against the mess server:
// auth header resolution, cache lookups, offline queueing, bounded retries
// with backoff, and outcome classification. Every outcome is a typed Result;
// the package boundary never leaks raw errors or panics.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/rahat/mess/internal/connectivity"
	"github.com/rahat/mess/internal/queue"
	"github.com/rahat/mess/internal/respcache"
)

// Session is what the dispatcher needs from the auth coordinator: a token to
// attach, and a hook to fire when the server rejects it. The dispatcher never
// mutates session state itself.
type Session interface {
	Token() string
	HandleAuthFailure()
}

// Config carries dispatcher-wide defaults. Zero fields fall back to the
// documented defaults.
type Config struct {
	BaseURL string
	// Timeout bounds each individual network attempt. Default 15s.
	Timeout time.Duration
	// MaxRetries bounds retryable attempts per call. Default 3.
	MaxRetries int
	// RetryBase seeds the exponential backoff. Default 500ms.
	RetryBase time.Duration
	// RateLimitDelay is the fixed wait after a 429. Default 5s.
	RateLimitDelay time.Duration
	// CacheTTL is the default freshness window for cacheable GETs. Default 5m.
	CacheTTL time.Duration
	// AuthPaths are endpoint prefixes where a 401 is an expected domain
	// outcome (login, registration, password reset), not a session fault.
	AuthPaths []string
}

func (c *Config) fillDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 15 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBase == 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RateLimitDelay == 0 {
		c.RateLimitDelay = 5 * time.Second
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.AuthPaths == nil {
		c.AuthPaths = []string{"/auth/login", "/auth/register", "/auth/password-reset"}
	}
}

// Options adjust a single call.
type Options struct {
	// NoAuth skips the Authorization header (login/register).
	NoAuth bool
	// Cacheable allows serving/storing this GET from the response cache.
	Cacheable bool
	// CacheTTL overrides the config default for this call.
	CacheTTL time.Duration
	// AllowQueue enqueues the request instead of failing when offline or when
	// the send fails in a retryable way.
	AllowQueue bool
	// Invalidate lists cache key prefixes busted after a successful call.
	Invalidate []string
	// MaxRetries overrides the config default for this call (negative means
	// no retries).
	MaxRetries *int
	// Headers are extra request headers.
	Headers map[string]string
}

// Dispatcher sends requests. Construct with New; the zero value is not usable.
type Dispatcher struct {
	cfg     Config
	http    *http.Client
	conn    *connectivity.Monitor
	cache   *respcache.Cache
	queue   *queue.Store
	session Session

	sleep func(ctx context.Context, d time.Duration) error
	rnd   func() float64
}

// New wires a Dispatcher to its collaborators. cache, q, and session may be
// nil for callers that don't use those paths (the sync engine constructs a
// bare sender the same way).
func New(cfg Config, conn *connectivity.Monitor, cache *respcache.Cache, q *queue.Store, session Session) *Dispatcher {
	cfg.fillDefaults()
	return &Dispatcher{
		cfg:     cfg,
		http:    &http.Client{},
		conn:    conn,
		cache:   cache,
		queue:   q,
		session: session,
		sleep:   sleepCtx,
		rnd:     rand.Float64,
	}
}

// Request runs the full dispatch path: cache check, connectivity check with
// offline queueing, send with retries, classification, and cache maintenance.
func (d *Dispatcher) Request(ctx context.Context, method, endpoint string, body json.RawMessage, opts Options) Result {
	cacheKey := endpoint
	cacheable := method == http.MethodGet && opts.Cacheable && d.cache != nil

	if cacheable {
		if data, ok := d.cache.Get(cacheKey); ok {
			slog.Debug("dispatch: cache hit", "endpoint", endpoint)
			return Result{Success: true, Status: http.StatusOK, Data: data}
		}
	}

	if d.conn != nil && !d.conn.IsOnline(ctx) {
		return d.offlineFallback(method, endpoint, body, opts)
	}

	res := d.Send(ctx, method, endpoint, body, opts)

	if !res.Success && res.Failure != nil && opts.AllowQueue && retryableOffline(res.Failure.Class) {
		return d.enqueue(method, endpoint, body, opts, res.Failure.Message)
	}

	if res.Success {
		if cacheable {
			ttl := opts.CacheTTL
			if ttl == 0 {
				ttl = d.cfg.CacheTTL
			}
			d.cache.Set(cacheKey, res.Data, ttl)
		}
		if d.cache != nil {
			for _, prefix := range opts.Invalidate {
				d.cache.InvalidatePrefix(prefix)
			}
		}
	}
	return res
}

// Send performs the network exchange with retries and classification, without
// touching the cache or the offline queue. The sync engine replays queued
// requests through this path.
func (d *Dispatcher) Send(ctx context.Context, method, endpoint string, body json.RawMessage, opts Options) Result {
	maxRetries := d.cfg.MaxRetries
	if opts.MaxRetries != nil {
		maxRetries = *opts.MaxRetries
	}

	var lastErr string
	for attempt := 0; ; attempt++ {
		status, respBody, err := d.once(ctx, method, endpoint, body, opts)
		if err != nil {
			if ctx.Err() != nil {
				return failure(ClassTransport, 0, "request cancelled: %v", ctx.Err())
			}
			lastErr = err.Error()
			if attempt >= maxRetries {
				return failure(ClassTransport, 0, "giving up after %d attempts: %s", attempt+1, lastErr)
			}
			delay := backoffDelay(d.cfg.RetryBase, attempt, d.rnd)
			slog.Debug("dispatch: transport retry", "endpoint", endpoint, "attempt", attempt, "delay", delay, "err", err)
			if err := d.sleep(ctx, delay); err != nil {
				return failure(ClassTransport, 0, "request cancelled: %v", err)
			}
			continue
		}

		if status == http.StatusTooManyRequests {
			if attempt >= maxRetries {
				return failure(ClassRateLimited, status, "rate limited after %d attempts", attempt+1)
			}
			slog.Debug("dispatch: rate limited", "endpoint", endpoint, "attempt", attempt)
			if err := d.sleep(ctx, d.cfg.RateLimitDelay); err != nil {
				return failure(ClassRateLimited, status, "request cancelled: %v", err)
			}
			continue
		}

		if status >= 500 {
			_, msg := unwrap(respBody)
			if msg == "" {
				msg = "server error"
			}
			lastErr = msg
			if attempt >= maxRetries {
				return failure(ClassServer, status, "%s", msg)
			}
			delay := backoffDelay(d.cfg.RetryBase, attempt, d.rnd)
			slog.Debug("dispatch: server retry", "endpoint", endpoint, "status", status, "attempt", attempt, "delay", delay)
			if err := d.sleep(ctx, delay); err != nil {
				return failure(ClassServer, status, "request cancelled: %v", err)
			}
			continue
		}

		return d.classify(method, endpoint, status, respBody)
	}
}

// once performs one attempt with the per-request timeout.
func (d *Dispatcher) once(ctx context.Context, method, endpoint string, body json.RawMessage, opts Options) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.cfg.BaseURL+endpoint, reader)
	if err != nil {
		return 0, nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !opts.NoAuth && d.session != nil {
		if token := d.session.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// classify maps a final (non-retried) HTTP response onto a Result.
func (d *Dispatcher) classify(method, endpoint string, status int, body []byte) Result {
	switch {
	case status >= 200 && status < 300:
		data, _ := unwrap(body)
		return Result{Success: true, Status: status, Data: data}

	case status == http.StatusUnauthorized:
		_, msg := unwrap(body)
		if msg == "" {
			msg = "unauthorized"
		}
		if d.isAuthPath(endpoint) {
			// Wrong password on login is a domain outcome, not a dead session.
			return failure(ClassClient, status, "%s", msg)
		}
		slog.Warn("dispatch: session rejected", "endpoint", endpoint)
		if d.session != nil {
			d.session.HandleAuthFailure()
		}
		return failure(ClassSession, status, "session expired: %s", msg)

	default: // remaining 4xx
		_, msg := unwrap(body)
		if msg == "" {
			msg = http.StatusText(status)
		}
		slog.Debug("dispatch: client failure", "endpoint", endpoint, "method", method, "status", status)
		return failure(ClassClient, status, "%s", msg)
	}
}

// offlineFallback queues the request when allowed, otherwise fails fast. No
// network attempt is made.
func (d *Dispatcher) offlineFallback(method, endpoint string, body json.RawMessage, opts Options) Result {
	if opts.AllowQueue && d.queue != nil {
		return d.enqueue(method, endpoint, body, opts, "offline")
	}
	return failure(ClassOffline, 0, "no connectivity")
}

func (d *Dispatcher) enqueue(method, endpoint string, body json.RawMessage, opts Options, reason string) Result {
	req := queue.Request{
		Endpoint:   endpoint,
		Kind:       queue.MethodExplicit,
		Method:     method,
		Body:       body,
		Headers:    opts.Headers,
		Invalidate: opts.Invalidate,
		Error:      reason,
	}
	id, err := d.queue.Enqueue(req)
	if err != nil {
		slog.Warn("dispatch: enqueue failed", "endpoint", endpoint, "err", err)
		return failure(ClassOffline, 0, "no connectivity and queueing failed: %v", err)
	}
	res := failure(ClassQueued, 0, "saved locally, will sync when back online")
	res.QueuedID = id
	return res
}

func (d *Dispatcher) isAuthPath(endpoint string) bool {
	for _, p := range d.cfg.AuthPaths {
		if strings.HasPrefix(endpoint, p) {
			return true
		}
	}
	return false
}

// retryableOffline reports whether a send failure should fall back to the
// offline queue when the caller allows it.
func retryableOffline(c Class) bool {
	return c == ClassTransport || c == ClassServer || c == ClassRateLimited
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
