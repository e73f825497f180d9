// Package session owns authentication state: bearer tokens, the cached user
// profile, and the debounced session-expired signal. The dispatcher only
// reads tokens from here; all mutation goes through Set/Clear or
// HandleAuthFailure.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rahat/mess/internal/bus"
	"github.com/rahat/mess/internal/respcache"
	"github.com/rahat/mess/internal/storage"
)

// Storage keys, shared with the mobile client's conventions.
const (
	keyToken        = "auth_token"
	keyRefreshToken = "refresh_token"
	keyProfile      = "user_profile"
)

// DefaultDebounce is the minimum interval between session_expired emissions.
// A burst of in-flight requests that all come back 401 must trigger exactly
// one logout transition.
const DefaultDebounce = 2 * time.Second

// Profile is the cached user record.
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

// Coordinator supplies tokens and reacts to auth failures.
type Coordinator struct {
	kv    storage.KV
	bus   *bus.Bus
	cache *respcache.Cache

	mu          sync.Mutex
	token       string
	refresh     string
	loaded      bool
	lastExpired time.Time

	debounce time.Duration
	now      func() time.Time
}

// New creates a Coordinator over the given store. bus and cache may be nil in
// tests.
func New(kv storage.KV, b *bus.Bus, cache *respcache.Cache) *Coordinator {
	return &Coordinator{
		kv:       kv,
		bus:      b,
		cache:    cache,
		debounce: DefaultDebounce,
		now:      time.Now,
	}
}

// Token returns the current bearer token, or "" when logged out.
func (c *Coordinator) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked()
	return c.token
}

// RefreshToken returns the stored refresh token.
func (c *Coordinator) RefreshToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked()
	return c.refresh
}

// Authenticated reports whether a token is present.
func (c *Coordinator) Authenticated() bool {
	return c.Token() != ""
}

// SetSession persists a new token pair and announces the login.
func (c *Coordinator) SetSession(token, refreshToken string) error {
	c.mu.Lock()
	if err := c.kv.SetItem(keyToken, []byte(token)); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("store token: %w", err)
	}
	if err := c.kv.SetItem(keyRefreshToken, []byte(refreshToken)); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("store refresh token: %w", err)
	}
	c.token = token
	c.refresh = refreshToken
	c.loaded = true
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Publish(bus.Event{Type: bus.TypeLogin})
	}
	return nil
}

// ClearSession removes credentials, profile, and cached responses, and
// announces the logout.
func (c *Coordinator) ClearSession() error {
	if err := c.clear(); err != nil {
		return err
	}
	if c.bus != nil {
		c.bus.Publish(bus.Event{Type: bus.TypeLogout})
	}
	return nil
}

// SetProfile caches the user record alongside the credentials.
func (c *Coordinator) SetProfile(p Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	if err := c.kv.SetItem(keyProfile, data); err != nil {
		return fmt.Errorf("store profile: %w", err)
	}
	return nil
}

// Profile returns the cached user record, or nil when none is stored.
func (c *Coordinator) Profile() (*Profile, error) {
	data, err := c.kv.GetItem(keyProfile)
	if err == storage.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}

// HandleAuthFailure clears local credentials and emits one session_expired
// event, suppressing repeats inside the debounce window.
func (c *Coordinator) HandleAuthFailure() {
	if err := c.clear(); err != nil {
		slog.Warn("session: clear on auth failure", "err", err)
	}

	c.mu.Lock()
	now := c.now()
	if !c.lastExpired.IsZero() && now.Sub(c.lastExpired) < c.debounce {
		c.mu.Unlock()
		slog.Debug("session: expired signal debounced")
		return
	}
	c.lastExpired = now
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Publish(bus.Event{Type: bus.TypeSessionExpired})
	}
}

func (c *Coordinator) clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.kv.MultiRemove([]string{keyToken, keyRefreshToken, keyProfile}); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	c.token = ""
	c.refresh = ""
	c.loaded = true
	if c.cache != nil {
		c.cache.Clear()
	}
	return nil
}

// loadLocked lazily reads tokens from the store. Callers hold c.mu.
func (c *Coordinator) loadLocked() {
	if c.loaded {
		return
	}
	c.loaded = true
	if data, err := c.kv.GetItem(keyToken); err == nil {
		c.token = string(data)
	} else if err != storage.ErrNotFound {
		slog.Warn("session: load token", "err", err)
	}
	if data, err := c.kv.GetItem(keyRefreshToken); err == nil {
		c.refresh = string(data)
	} else if err != storage.ErrNotFound {
		slog.Warn("session: load refresh token", "err", err)
	}
}
