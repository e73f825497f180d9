// Package app wires the client together: storage, event bus, cache, queue,
// connectivity, dispatcher, session, sync engine, and the API client. The
// process-wide instance lives at the CLI entry point; the core packages never
// assume a global.
package app

import (
	"fmt"
	"time"

	"github.com/rahat/mess/internal/api"
	"github.com/rahat/mess/internal/bus"
	"github.com/rahat/mess/internal/config"
	"github.com/rahat/mess/internal/connectivity"
	"github.com/rahat/mess/internal/dispatch"
	"github.com/rahat/mess/internal/queue"
	"github.com/rahat/mess/internal/respcache"
	"github.com/rahat/mess/internal/session"
	"github.com/rahat/mess/internal/storage"
	syncengine "github.com/rahat/mess/internal/sync"
)

// App holds the constructed client graph.
type App struct {
	Config     *config.Config
	Store      storage.KV
	Bus        *bus.Bus
	Cache      *respcache.Cache
	Queue      *queue.Store
	Conn       *connectivity.Monitor
	Dispatcher *dispatch.Dispatcher
	Session    *session.Coordinator
	Engine     *syncengine.Engine
	API        *api.Client
}

// New builds the client from persisted config, opening the on-disk store.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	dataDir, err := config.DataDir()
	if err != nil {
		return nil, err
	}
	kv, err := storage.OpenDisk(dataDir)
	if err != nil {
		return nil, err
	}
	return build(cfg, kv), nil
}

// NewWithStore builds the client over an explicit KV backend (tests).
func NewWithStore(cfg *config.Config, kv storage.KV) *App {
	return build(cfg, kv)
}

func build(cfg *config.Config, kv storage.KV) *App {
	b := bus.New()
	cache := respcache.New()
	q := queue.NewStore(kv,
		queue.WithMaxRetries(cfg.ResolvedMaxRetries()),
		queue.WithReadOnly(api.ReadOnlyEndpoint),
	)
	conn := connectivity.New(cfg.ResolvedServerURL())
	sess := session.New(kv, b, cache)
	d := dispatch.New(dispatch.Config{
		BaseURL:    cfg.ResolvedServerURL(),
		MaxRetries: cfg.ResolvedMaxRetries(),
		CacheTTL:   cfg.ResolvedCacheTTL(),
	}, conn, cache, q, sess)
	engine := syncengine.NewEngine(q, d, conn, b,
		syncengine.WithInterval(cfg.ResolvedSyncInterval()),
		syncengine.WithBatchLimit(cfg.ResolvedBatchLimit()),
		syncengine.WithCache(cache),
	)

	return &App{
		Config:     cfg,
		Store:      kv,
		Bus:        b,
		Cache:      cache,
		Queue:      q,
		Conn:       conn,
		Dispatcher: d,
		Session:    sess,
		Engine:     engine,
		API:        api.New(d),
	}
}

// Close stops background work and releases the store.
func (a *App) Close() error {
	a.Engine.StopSync()
	return a.Store.Close()
}

// StartAutoSync launches the periodic drain when enabled in config.
func (a *App) StartAutoSync() {
	if a.Config.AutoSyncEnabled() {
		a.Engine.StartSync()
	}
}

// Uptime helpers shared by status/monitor surfaces.

// PendingCount returns the queue depth, swallowing store errors to zero.
func (a *App) PendingCount() int {
	n, err := a.Queue.PendingCount()
	if err != nil {
		return 0
	}
	return n
}

// LastChecked formats the connectivity state age for display.
func (a *App) LastChecked() string {
	st := a.Conn.State()
	if st.CheckedAt.IsZero() {
		return "never"
	}
	return time.Since(st.CheckedAt).Round(time.Second).String() + " ago"
}
