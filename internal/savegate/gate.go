// Package savegate decides which resources in a save batch may be written,
// acquiring locks implicitly for unlocked resources.
package savegate

import (
	"context"
	"log/slog"
	"path"
	"strings"

	"github.com/marcus/assetlock/internal/lockclient"
	"github.com/marcus/assetlock/internal/models"
)

// Rejection reasons reported to the user.
const (
	ReasonIndeterminate = "status indeterminate"
	ReasonNotAcquired   = "could not acquire lock"
	ReasonNoIdentity    = "no user identity configured"
)

// DefaultTrackedExtensions are the resource types that require a lock to save.
var DefaultTrackedExtensions = []string{".prefab", ".unity"}

// Client is the subset of the lock client the gate needs.
type Client interface {
	CurrentUser() (string, error)
	QuerySingleStatus(ctx context.Context, path string) (models.LockStatus, error)
	RequestLock(ctx context.Context, path string) (*lockclient.Result, error)
}

// Refresher is notified after implicit locks so the cached view catches up.
type Refresher interface {
	Refresh(ctx context.Context) bool
}

// Rejection names a resource that must not be saved and why.
type Rejection struct {
	Path   string
	Reason string
	Err    error
}

// Decision is the outcome of one save batch. Allowed preserves input order.
type Decision struct {
	Allowed  []string
	Rejected []Rejection
	Locked   []string // resources locked implicitly by this check
}

// OK reports whether every resource may be saved.
func (d Decision) OK() bool {
	return len(d.Rejected) == 0
}

// Gate filters save batches.
type Gate struct {
	client  Client
	cache   Refresher
	tracked map[string]bool
	log     *slog.Logger
}

// New creates a gate. A nil cache skips refreshes; an empty extension list
// uses DefaultTrackedExtensions.
func New(client Client, cache Refresher, extensions []string, logger *slog.Logger) *Gate {
	if len(extensions) == 0 {
		extensions = DefaultTrackedExtensions
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	tracked := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		tracked[ext] = true
	}
	return &Gate{client: client, cache: cache, tracked: tracked, log: logger}
}

// Tracked reports whether p is a resource type that needs a lock to save.
func (g *Gate) Tracked(p string) bool {
	return g.tracked[strings.ToLower(path.Ext(strings.ReplaceAll(p, "\\", "/")))]
}

// Check evaluates each path independently. Untracked paths are always
// allowed. A tracked path is allowed only when a fresh status query shows it
// free (and the implicit lock succeeds) or held by the caller.
func (g *Gate) Check(ctx context.Context, paths []string) Decision {
	var d Decision

	var tracked []string
	for _, p := range paths {
		if g.Tracked(p) {
			tracked = append(tracked, p)
		} else {
			d.Allowed = append(d.Allowed, p)
		}
	}
	if len(tracked) == 0 {
		return d
	}

	user, err := g.client.CurrentUser()
	if err != nil {
		for _, p := range tracked {
			d.Rejected = append(d.Rejected, Rejection{Path: p, Reason: ReasonNoIdentity, Err: err})
		}
		g.log.Warn("save blocked", "reason", ReasonNoIdentity, "count", len(tracked))
		return g.ordered(paths, d)
	}

	for _, p := range tracked {
		v, rej := g.checkOne(ctx, p, user)
		switch v {
		case verdictReject:
			d.Rejected = append(d.Rejected, rej)
		case verdictLocked:
			d.Locked = append(d.Locked, p)
			d.Allowed = append(d.Allowed, p)
		default:
			d.Allowed = append(d.Allowed, p)
		}
	}

	if len(d.Locked) > 0 && g.cache != nil {
		g.cache.Refresh(context.WithoutCancel(ctx))
	}
	return g.ordered(paths, d)
}

type verdict int

const (
	verdictAllow verdict = iota
	verdictLocked
	verdictReject
)

func (g *Gate) checkOne(ctx context.Context, p, user string) (verdict, Rejection) {
	st, err := g.client.QuerySingleStatus(ctx, p)
	switch models.Classify(st, user, err) {
	case models.StateHeldByMe:
		return verdictAllow, Rejection{}
	case models.StateHeldByOther:
		g.log.Info("save blocked", "path", p, "holder", st.Holder)
		return verdictReject, Rejection{Path: p, Reason: "locked by " + st.Holder}
	case models.StateFree:
		if _, err := g.client.RequestLock(ctx, p); err != nil {
			g.log.Warn("implicit lock failed", "path", p, "err", err)
			return verdictReject, Rejection{Path: p, Reason: ReasonNotAcquired, Err: err}
		}
		g.log.Info("implicitly locked", "path", p, "user", user)
		return verdictLocked, Rejection{}
	default:
		g.log.Warn("save blocked", "path", p, "reason", ReasonIndeterminate, "err", err)
		return verdictReject, Rejection{Path: p, Reason: ReasonIndeterminate, Err: err}
	}
}

// ordered restores input order for Allowed after tracked and untracked
// paths were handled separately.
func (g *Gate) ordered(paths []string, d Decision) Decision {
	allowed := make(map[string]int, len(d.Allowed))
	for _, p := range d.Allowed {
		allowed[p]++
	}
	out := make([]string, 0, len(d.Allowed))
	for _, p := range paths {
		if allowed[p] > 0 {
			allowed[p]--
			out = append(out, p)
		}
	}
	d.Allowed = out
	return d
}
