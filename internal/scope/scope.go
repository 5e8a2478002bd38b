// Package scope derives the lock namespace (origin and branch) and the
// scope-relative resource identifiers used in lock requests.
package scope

import (
	"errors"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/marcus/assetlock/internal/models"
)

// ErrEmptyPath is returned when a path normalizes to nothing.
var ErrEmptyPath = errors.New("empty resource path")

// ErrOutsideRoot is returned for absolute paths that are not inside the root.
var ErrOutsideRoot = errors.New("path is outside the repository")

// VCS is the subset of version-control answers the resolver needs.
type VCS interface {
	CurrentBranch() (string, error)
	CurrentOrigin() (string, error)
}

// Resolver computes the current scope on every call so a branch switch
// between operations is picked up.
type Resolver struct {
	vcs VCS
	log *slog.Logger
}

// NewResolver creates a resolver over vcs. A nil logger discards.
func NewResolver(vcs VCS, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{vcs: vcs, log: logger}
}

// Current returns the scope for the working copy. Unknown origin or branch
// falls back to models.UnknownScopeValue.
func (r *Resolver) Current() models.Scope {
	s := models.Scope{Origin: models.UnknownScopeValue, Branch: models.UnknownScopeValue}
	if r == nil || r.vcs == nil {
		return s
	}
	if origin, err := r.vcs.CurrentOrigin(); err != nil {
		r.log.Debug("origin unavailable", "err", err)
	} else if origin = strings.TrimSpace(origin); origin != "" {
		s.Origin = origin
	}
	if branch, err := r.vcs.CurrentBranch(); err != nil {
		r.log.Warn("branch unavailable", "err", err)
	} else if branch = strings.TrimSpace(branch); branch != "" {
		s.Branch = branch
	}
	return s
}

// Static returns a resolver that always reports s.
func Static(s models.Scope) *Resolver {
	return NewResolver(staticVCS(s), nil)
}

type staticVCS models.Scope

func (v staticVCS) CurrentBranch() (string, error) { return v.Branch, nil }
func (v staticVCS) CurrentOrigin() (string, error) { return v.Origin, nil }

// NormalizePath turns p into a scope-relative resource identifier: forward
// slashes, cleaned, no leading separator. Absolute paths are made relative
// to root, which must contain them.
func NormalizePath(root, p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", ErrEmptyPath
	}

	if filepath.IsAbs(p) && root != "" {
		rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(p))
		if err != nil {
			return "", ErrOutsideRoot
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", ErrOutsideRoot
		}
		p = rel
	}

	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	if p == "" || p == "." {
		return "", ErrEmptyPath
	}
	return p, nil
}
