// Package agent runs the long-lived client process: cache refresh, periodic
// auto-unlock, the change feed and config reload, with a final auto-unlock
// pass on shutdown.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marcus/assetlock/internal/autounlock"
	"github.com/marcus/assetlock/internal/clientconfig"
	"github.com/marcus/assetlock/internal/lockclient"
	"github.com/marcus/assetlock/internal/lockcache"
)

const (
	minReconnect = time.Second
	maxReconnect = 30 * time.Second
)

// Watcher streams lock changes until the connection drops.
type Watcher interface {
	Watch(ctx context.Context, onChange func(lockclient.Change)) error
}

// Reloader re-reads the user identity.
type Reloader interface {
	Reload() bool
}

// Config controls the agent loops.
type Config struct {
	Root               string // working copy root, holds the instance lock
	RefreshInterval    time.Duration
	AutoUnlockInterval time.Duration
	WatchConfig        bool // reload identity when the config file changes
	DisableChangeFeed  bool
}

// Agent wires the core components into one process.
type Agent struct {
	cfg      Config
	cache    *lockcache.Cache
	engine   *autounlock.Engine
	feed     Watcher
	identity Reloader
	log      *slog.Logger

	// watchConfig is swapped in tests.
	watchConfig func(ctx context.Context, logger *slog.Logger, onChange func(*clientconfig.Config)) error
}

// New creates an agent. feed and identity may be nil.
func New(cfg Config, cache *lockcache.Cache, engine *autounlock.Engine, feed Watcher, identity Reloader, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		cfg:         cfg,
		cache:       cache,
		engine:      engine,
		feed:        feed,
		identity:    identity,
		log:         logger,
		watchConfig: clientconfig.Watch,
	}
}

// Run blocks until ctx is cancelled or a loop fails, then runs the shutdown
// auto-unlock pass before returning.
func (a *Agent) Run(ctx context.Context) error {
	if a.cfg.Root != "" {
		lock := newInstanceLock(a.cfg.Root)
		if err := lock.acquire(); err != nil {
			return err
		}
		defer lock.release()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.cache.Run(gctx, a.cfg.RefreshInterval)
		return nil
	})
	g.Go(func() error {
		a.engine.Run(gctx, a.cfg.AutoUnlockInterval)
		return nil
	})
	if a.feed != nil && !a.cfg.DisableChangeFeed {
		g.Go(func() error {
			a.changeFeed(gctx)
			return nil
		})
	}
	if a.cfg.WatchConfig && a.identity != nil {
		g.Go(func() error {
			return a.watchConfig(gctx, a.log, a.onConfigChange)
		})
	}

	a.log.Info("agent started", "refresh", a.cfg.RefreshInterval, "auto_unlock", a.cfg.AutoUnlockInterval)
	err := g.Wait()

	rep, serr := a.engine.Shutdown(context.Background())
	if serr != nil {
		a.log.Warn("shutdown auto-unlock failed", "err", serr)
	} else if len(rep.Released) > 0 {
		a.log.Info("shutdown auto-unlock", "released", rep.Released)
	}

	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// changeFeed refreshes the cache on every pushed change, reconnecting with
// backoff when the stream drops.
func (a *Agent) changeFeed(ctx context.Context) {
	backoff := minReconnect
	for {
		start := time.Now()
		err := a.feed.Watch(ctx, func(ch lockclient.Change) {
			a.log.Debug("lock changed", "path", ch.FilePath, "action", ch.Action, "holder", ch.Holder)
			a.cache.Refresh(ctx)
		})
		if ctx.Err() != nil {
			return
		}
		if time.Since(start) > maxReconnect {
			backoff = minReconnect
		}
		a.log.Debug("change feed disconnected", "err", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxReconnect)
	}
}

func (a *Agent) onConfigChange(*clientconfig.Config) {
	if a.identity.Reload() {
		a.log.Info("identity reloaded")
		a.cache.Refresh(context.Background())
	}
}
