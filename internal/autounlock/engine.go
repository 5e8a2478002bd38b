// Package autounlock releases the current user's locks once version control
// shows the protected change is committed and pushed.
package autounlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/marcus/assetlock/internal/clock"
	"github.com/marcus/assetlock/internal/lockclient"
	"github.com/marcus/assetlock/internal/models"
	"github.com/marcus/assetlock/internal/notify"
)

const (
	// DefaultInterval is the period between scans.
	DefaultInterval = time.Minute
	// DefaultShutdownTimeout bounds the final pass at shutdown.
	DefaultShutdownTimeout = 15 * time.Second
)

// ErrScanInProgress is returned by Scan when another scan holds the guard.
var ErrScanInProgress = errors.New("auto-unlock scan already in progress")

// Client is the subset of the lock client the engine needs.
type Client interface {
	Scope() models.Scope
	CurrentUser() (string, error)
	QueryLockTable(ctx context.Context, s models.Scope) (models.LockTable, error)
	ReleaseLock(ctx context.Context, path string) (*lockclient.Result, error)
}

// VCS answers the eligibility questions.
type VCS interface {
	HasLocalChanges(path string) (bool, error)
	IsPushedToRemote() (bool, error)
}

// Refresher is asked to refresh after locks were released.
type Refresher interface {
	Refresh(ctx context.Context) bool
}

// Options configures an Engine.
type Options struct {
	Root            string // working copy root; lock paths are relative to it
	Cache           Refresher
	Sink            notify.Sink
	Clock           clock.Clock
	Logger          *slog.Logger
	ShutdownTimeout time.Duration
	// Exists overrides the on-disk check, mainly for tests.
	Exists func(path string) bool
}

// Skip records a held resource that was not released.
type Skip struct {
	Path   string
	Reason string
	Err    error
}

// Report is the result of one scan.
type Report struct {
	Held     []string // resources held by the current user when the scan began
	Released []string
	Skipped  []Skip
}

// Engine runs auto-unlock scans. At most one scan runs at a time.
type Engine struct {
	client Client
	vcs    VCS
	opts   Options
	log    *slog.Logger

	scanMu sync.Mutex
}

// New creates an engine.
func New(client Client, vcs VCS, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Sink == nil {
		opts.Sink = notify.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.Exists == nil {
		root := opts.Root
		opts.Exists = func(p string) bool {
			_, err := os.Stat(filepath.Join(root, filepath.FromSlash(p)))
			return err == nil
		}
	}
	return &Engine{client: client, vcs: vcs, opts: opts, log: opts.Logger}
}

// Scan runs one pass unless another is in progress, in which case it
// returns ErrScanInProgress without doing anything.
func (e *Engine) Scan(ctx context.Context) (Report, error) {
	if !e.scanMu.TryLock() {
		return Report{}, ErrScanInProgress
	}
	defer e.scanMu.Unlock()
	return e.scan(ctx)
}

func (e *Engine) scan(ctx context.Context) (Report, error) {
	var rep Report

	user, err := e.client.CurrentUser()
	if err != nil {
		return rep, fmt.Errorf("auto-unlock: %w", err)
	}
	s := e.client.Scope()
	table, err := e.client.QueryLockTable(ctx, s)
	if err != nil {
		return rep, fmt.Errorf("auto-unlock: query lock table: %w", err)
	}
	rep.Held = table.HeldBy(user)
	if len(rep.Held) == 0 {
		return rep, nil
	}

	pushed := e.pushedOnce()
	for _, p := range rep.Held {
		if ctx.Err() != nil {
			rep.Skipped = append(rep.Skipped, Skip{Path: p, Reason: "cancelled", Err: ctx.Err()})
			continue
		}
		if !e.opts.Exists(p) {
			rep.Skipped = append(rep.Skipped, Skip{Path: p, Reason: "missing on disk"})
			continue
		}
		if ok, skip := e.eligible(p, pushed); !ok {
			rep.Skipped = append(rep.Skipped, skip)
			continue
		}
		if _, err := e.client.ReleaseLock(ctx, p); err != nil {
			e.log.Warn("auto-unlock release failed", "path", p, "err", err)
			rep.Skipped = append(rep.Skipped, Skip{Path: p, Reason: "release failed", Err: err})
			continue
		}
		e.log.Info("auto-unlocked", "path", p, "scope", s.String())
		rep.Released = append(rep.Released, p)
	}

	if len(rep.Released) > 0 {
		e.opts.Sink.Notify(notify.Summary{Released: rep.Released})
		if e.opts.Cache != nil {
			e.opts.Cache.Refresh(context.WithoutCancel(ctx))
		}
	}
	return rep, nil
}

// eligible applies the release rule: no local changes to p and HEAD on a
// remote. Any VCS error makes p ineligible.
func (e *Engine) eligible(p string, pushed func() (bool, error)) (bool, Skip) {
	changed, err := e.vcs.HasLocalChanges(p)
	if err != nil {
		e.log.Debug("local change check failed", "path", p, "err", err)
		return false, Skip{Path: p, Reason: "local change check failed", Err: err}
	}
	if changed {
		return false, Skip{Path: p, Reason: "local changes"}
	}
	ok, err := pushed()
	if err != nil {
		return false, Skip{Path: p, Reason: "push check failed", Err: err}
	}
	if !ok {
		return false, Skip{Path: p, Reason: "not pushed"}
	}
	return true, Skip{}
}

// pushedOnce memoizes IsPushedToRemote for the duration of one scan.
func (e *Engine) pushedOnce() func() (bool, error) {
	var once sync.Once
	var pushed bool
	var err error
	return func() (bool, error) {
		once.Do(func() {
			pushed, err = e.vcs.IsPushedToRemote()
			if err != nil {
				e.log.Debug("push check failed", "err", err)
			}
		})
		return pushed, err
	}
}

// Run scans every interval until ctx is done. A tick that arrives while a
// scan is still running is dropped.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := e.opts.Clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if !e.scanMu.TryLock() {
				e.log.Debug("auto-unlock tick dropped, scan in progress")
				continue
			}
			go func() {
				defer e.scanMu.Unlock()
				if _, err := e.scan(ctx); err != nil && ctx.Err() == nil {
					e.log.Warn("auto-unlock scan failed", "err", err)
				}
			}()
		}
	}
}

// Shutdown waits for any in-flight scan, then runs exactly one final pass.
// Both are bounded by the shutdown timeout, independent of ctx cancellation.
func (e *Engine) Shutdown(ctx context.Context) (Report, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.ShutdownTimeout)
	defer cancel()

	acquired := make(chan struct{})
	go func() {
		e.scanMu.Lock()
		close(acquired)
	}()
	select {
	case <-acquired:
	case <-ctx.Done():
		// Release the guard once the abandoned scan finishes.
		go func() {
			<-acquired
			e.scanMu.Unlock()
		}()
		return Report{}, fmt.Errorf("auto-unlock shutdown: waiting for scan: %w", ctx.Err())
	}
	defer e.scanMu.Unlock()

	rep, err := e.scan(ctx)
	if err != nil {
		return rep, fmt.Errorf("auto-unlock shutdown: %w", err)
	}
	e.log.Info("auto-unlock shutdown pass", "released", len(rep.Released), "held", len(rep.Held))
	return rep, nil
}
