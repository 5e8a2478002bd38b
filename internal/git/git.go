// Package git answers the version-control questions the lock client needs
// (branch, origin, dirty paths, push state) by shelling out to git.
package git

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CacheTTL bounds how long branch and origin answers are reused.
const CacheTTL = 30 * time.Second

const (
	keyBranch = "branch"
	keyOrigin = "origin"
)

// ErrNoOrigin is returned when the repository has no origin remote configured.
var ErrNoOrigin = errors.New("no origin remote configured")

// Repo runs git commands against one working copy. Branch and origin are
// cached for CacheTTL; everything else is asked fresh.
type Repo struct {
	dir   string
	cache *expirable.LRU[string, string]
}

// New creates a Repo rooted at dir. An empty dir means the process working directory.
func New(dir string) *Repo {
	return &Repo{
		dir:   dir,
		cache: expirable.NewLRU[string, string](4, nil, CacheTTL),
	}
}

// Dir returns the directory commands run in.
func (r *Repo) Dir() string {
	return r.dir
}

// Invalidate drops cached branch and origin, e.g. after a checkout.
func (r *Repo) Invalidate() {
	r.cache.Purge()
}

// CurrentBranch returns the checked out branch name ("HEAD" when detached).
func (r *Repo) CurrentBranch() (string, error) {
	if v, ok := r.cache.Get(keyBranch); ok {
		return v, nil
	}
	out, err := r.run("rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("current branch: %w", err)
	}
	branch := strings.TrimSpace(out)
	if branch == "" {
		return "", fmt.Errorf("current branch: empty output")
	}
	r.cache.Add(keyBranch, branch)
	return branch, nil
}

// CurrentOrigin returns the URL of the origin remote.
func (r *Repo) CurrentOrigin() (string, error) {
	if v, ok := r.cache.Get(keyOrigin); ok {
		return v, nil
	}
	out, err := r.run("config", "--get", "remote.origin.url")
	if err != nil {
		return "", ErrNoOrigin
	}
	origin := strings.TrimSpace(out)
	if origin == "" {
		return "", ErrNoOrigin
	}
	r.cache.Add(keyOrigin, origin)
	return origin, nil
}

// IsRepo checks if dir is inside a git working copy
func (r *Repo) IsRepo() bool {
	_, err := r.run("rev-parse", "--git-dir")
	return err == nil
}

// RootDir returns the git repository root directory
func (r *Repo) RootDir() (string, error) {
	out, err := r.run("rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	return filepath.FromSlash(strings.TrimSpace(out)), nil
}

// HasLocalChanges reports whether the repo-relative path (file or directory)
// is modified, staged, or untracked in the working copy or in a submodule
// containing it.
func (r *Repo) HasLocalChanges(path string) (bool, error) {
	path = strings.Trim(filepath.ToSlash(path), "/")
	if path == "" {
		return false, fmt.Errorf("has local changes: empty path")
	}

	out, err := r.run("status", "--porcelain", "-z", "-uall")
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	for _, changed := range parsePorcelainZ(out) {
		if pathMatches(path, changed) {
			return true, nil
		}
	}

	subs, err := r.submodules()
	if err != nil {
		return false, err
	}
	for _, sub := range subs {
		if !strings.HasPrefix(path, sub+"/") {
			continue
		}
		out, err := runGitIn(filepath.Join(r.dir, filepath.FromSlash(sub)), "status", "--porcelain", "-z", "-uall")
		if err != nil {
			return false, fmt.Errorf("git status in submodule %s: %w", sub, err)
		}
		inner := strings.TrimPrefix(path, sub+"/")
		for _, changed := range parsePorcelainZ(out) {
			if pathMatches(inner, changed) {
				return true, nil
			}
		}
	}
	return false, nil
}

// IsPushedToRemote reports whether the current HEAD commit is contained in
// at least one remote-tracking branch.
func (r *Repo) IsPushedToRemote() (bool, error) {
	sha, err := r.run("rev-parse", "HEAD")
	if err != nil {
		return false, fmt.Errorf("rev-parse HEAD: %w", err)
	}
	sha = strings.TrimSpace(sha)
	if sha == "" {
		return false, fmt.Errorf("rev-parse HEAD: empty output")
	}
	out, err := r.run("branch", "-r", "--contains", sha)
	if err != nil {
		return false, fmt.Errorf("branch --contains: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// submodules lists submodule paths relative to the repo root.
func (r *Repo) submodules() ([]string, error) {
	out, err := r.run("submodule", "--quiet", "foreach", "--recursive", "echo $displaypath")
	if err != nil {
		return nil, fmt.Errorf("list submodules: %w", err)
	}
	var subs []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.Trim(strings.TrimSpace(line), "/")
		if line != "" {
			subs = append(subs, line)
		}
	}
	return subs, nil
}

// parsePorcelainZ extracts paths from `git status --porcelain -z` output.
// Rename and copy entries carry the original path as an extra field, which is
// reported too.
func parsePorcelainZ(out string) []string {
	var paths []string
	fields := strings.Split(out, "\x00")
	for i := 0; i < len(fields); i++ {
		entry := fields[i]
		if len(entry) < 4 {
			continue
		}
		xy := entry[:2]
		paths = append(paths, strings.TrimSuffix(entry[3:], "/"))
		if (xy[0] == 'R' || xy[0] == 'C') && i+1 < len(fields) {
			i++
			if fields[i] != "" {
				paths = append(paths, fields[i])
			}
		}
	}
	return paths
}

func pathMatches(target, changed string) bool {
	if changed == "" {
		return false
	}
	return target == changed ||
		strings.HasPrefix(target, changed+"/") ||
		strings.HasPrefix(changed, target+"/")
}

func (r *Repo) run(args ...string) (string, error) {
	return runGitIn(r.dir, args...)
}

func runGitIn(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return "", fmt.Errorf("%s: %s", err, strings.TrimSpace(stderr.String()))
	}

	return stdout.String(), nil
}
