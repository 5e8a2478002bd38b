// Package lockcache keeps the last known lock table for the current scope
// and refreshes it in the background.
package lockcache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/marcus/assetlock/internal/clock"
	"github.com/marcus/assetlock/internal/models"
)

// DefaultInterval is the periodic refresh interval.
const DefaultInterval = 10 * time.Second

// Fetcher retrieves the full lock table for a scope.
type Fetcher interface {
	QueryLockTable(ctx context.Context, s models.Scope) (models.LockTable, error)
}

// ScopeSource supplies the scope to fetch.
type ScopeSource interface {
	Current() models.Scope
}

// Snapshot is an immutable view of the cache. Table is a private copy.
type Snapshot struct {
	Scope       models.Scope
	Table       models.LockTable
	FetchedAt   time.Time // zero until the first successful refresh
	LastErr     error     // error of the most recent attempt, nil on success
	LastAttempt time.Time
}

// Loaded reports whether at least one refresh has succeeded.
func (s Snapshot) Loaded() bool {
	return !s.FetchedAt.IsZero()
}

// Status derives the status of path from the snapshot.
func (s Snapshot) Status(path string) models.LockStatus {
	return s.Table.Status(path)
}

// Cache holds the most recent lock table. The zero value is not usable;
// construct with New.
type Cache struct {
	fetcher Fetcher
	scopes  ScopeSource
	clock   clock.Clock
	log     *slog.Logger

	mu   sync.RWMutex
	snap Snapshot

	flightMu sync.Mutex
	done     chan struct{} // closed when the in-flight refresh finishes; nil when idle

	subMu  sync.Mutex
	subs   map[int]func(Snapshot)
	nextID int
}

// New creates an empty cache. A nil clock uses real time; a nil logger discards.
func New(f Fetcher, scopes ScopeSource, clk clock.Clock, logger *slog.Logger) *Cache {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cache{
		fetcher: f,
		scopes:  scopes,
		clock:   clk,
		log:     logger,
		snap:    Snapshot{Table: models.LockTable{}},
		subs:    make(map[int]func(Snapshot)),
	}
}

// Snapshot returns a copy of the current state.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.snap
	s.Table = c.snap.Table.Clone()
	return s
}

// Status derives the cached status of path.
func (c *Cache) Status(path string) models.LockStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.Table.Status(path)
}

// Refresh starts a background fetch and returns immediately. It returns false
// when a refresh is already in flight; the request is coalesced into it.
func (c *Cache) Refresh(ctx context.Context) bool {
	c.flightMu.Lock()
	if c.done != nil {
		c.flightMu.Unlock()
		return false
	}
	done := make(chan struct{})
	c.done = done
	c.flightMu.Unlock()

	go func() {
		defer func() {
			c.flightMu.Lock()
			c.done = nil
			c.flightMu.Unlock()
			close(done)
		}()
		c.refresh(ctx)
	}()
	return true
}

// Wait blocks until the refresh in flight at the time of the call, if any,
// has finished.
func (c *Cache) Wait() {
	c.flightMu.Lock()
	done := c.done
	c.flightMu.Unlock()
	if done != nil {
		<-done
	}
}

// RefreshNow fetches synchronously, for callers that need a current table
// before continuing. It joins an in-flight refresh rather than starting a
// second one.
func (c *Cache) RefreshNow(ctx context.Context) error {
	if !c.Refresh(ctx) {
		c.Wait()
		c.Refresh(ctx)
	}
	c.Wait()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.LastErr
}

func (c *Cache) refresh(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("lock table refresh panic", "panic", r)
		}
	}()

	s := c.scopes.Current()
	table, err := c.fetcher.QueryLockTable(ctx, s)
	now := c.clock.Now()

	c.mu.Lock()
	c.snap.LastAttempt = now
	if err != nil {
		c.snap.LastErr = err
		c.mu.Unlock()
		c.log.Warn("lock table refresh failed", "scope", s.String(), "err", err)
		return
	}
	if table == nil {
		table = models.LockTable{}
	}
	c.snap = Snapshot{
		Scope:       s,
		Table:       table.Clone(),
		FetchedAt:   now,
		LastAttempt: now,
	}
	c.mu.Unlock()

	c.log.Debug("lock table refreshed", "scope", s.String(), "locks", len(table))
	c.notify()
}

// Subscribe registers fn to be called with a snapshot after every successful
// refresh. The returned func unsubscribes.
func (c *Cache) Subscribe(fn func(Snapshot)) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subs, id)
	}
}

func (c *Cache) notify() {
	c.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()

	for _, fn := range fns {
		fn(c.Snapshot())
	}
}

// Run refreshes once immediately and then on every tick until ctx is done.
// It waits for the last refresh to finish before returning.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()
	defer c.Wait()

	c.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			c.Refresh(ctx)
		}
	}
}
