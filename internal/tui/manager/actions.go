package manager

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/marcus/assetlock/internal/autounlock"
	"github.com/marcus/assetlock/internal/lockclient"
	"github.com/marcus/assetlock/internal/models"
	"github.com/marcus/assetlock/internal/notify"
	"github.com/marcus/assetlock/internal/scope"
)

// refresh returns a command that refreshes the cache and sends a SnapshotMsg
func (m Model) refresh() tea.Cmd {
	cache, timeout := m.deps.Cache, m.deps.Timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := cache.RefreshNow(ctx)
		return SnapshotMsg{Snapshot: cache.Snapshot(), Err: err}
	}
}

func (m Model) lock(p string) tea.Cmd {
	client, timeout := m.deps.Client, m.deps.Timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		res, err := client.RequestLock(ctx, p)
		if err != nil {
			return ActionResultMsg{Err: actionError(p, err)}
		}
		if res.Outcome == models.OutcomeAlreadyLocked {
			return ActionResultMsg{Text: p + " is already locked by you"}
		}
		return ActionResultMsg{Text: "Locked " + p}
	}
}

func (m Model) unlock(p string) tea.Cmd {
	client, timeout := m.deps.Client, m.deps.Timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		res, err := client.ReleaseLock(ctx, p)
		if err != nil {
			return ActionResultMsg{Err: actionError(p, err)}
		}
		if res.Outcome == models.OutcomeNotLocked {
			return ActionResultMsg{Text: p + " was not locked"}
		}
		return ActionResultMsg{Text: "Unlocked " + p}
	}
}

func (m Model) scan() tea.Cmd {
	scanner := m.deps.Scanner
	return func() tea.Msg {
		rep, err := scanner.Scan(context.Background())
		if errors.Is(err, autounlock.ErrScanInProgress) {
			return ActionResultMsg{Text: "Auto-unlock is already running"}
		}
		if err != nil {
			return ActionResultMsg{Err: err}
		}
		return ActionResultMsg{Text: scanText(rep)}
	}
}

func scanText(rep autounlock.Report) string {
	switch {
	case len(rep.Released) > 0:
		return notify.Summary{Released: rep.Released}.Text()
	case len(rep.Held) == 0:
		return "You hold no locks"
	default:
		return fmt.Sprintf("None of your %d locks can be released yet", len(rep.Held))
	}
}

// actionError phrases a failed lock or unlock for the status line.
func actionError(p string, err error) error {
	if holder := lockclient.Holder(err); holder != "" {
		return fmt.Errorf("%s is locked by %s", p, holder)
	}
	return fmt.Errorf("%s: %s", p, lockclient.Reason(err))
}

func resourcePath(root, p string) (string, error) {
	rel, err := scope.NormalizePath(root, p)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", p, err)
	}
	return rel, nil
}
