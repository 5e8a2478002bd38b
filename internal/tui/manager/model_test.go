package manager

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"

	"github.com/marcus/assetlock/internal/autounlock"
	"github.com/marcus/assetlock/internal/lockcache"
	"github.com/marcus/assetlock/internal/lockclient"
	"github.com/marcus/assetlock/internal/models"
)

var testScope = models.Scope{Origin: "git@example.com:game.git", Branch: "main"}

type fakeClient struct {
	mu       sync.Mutex
	user     string
	locked   []string
	unlocked []string
	lockErr  error
}

func (f *fakeClient) CurrentUser() (string, error) { return f.user, nil }

func (f *fakeClient) RequestLock(_ context.Context, p string) (*lockclient.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lockErr != nil {
		return nil, f.lockErr
	}
	f.locked = append(f.locked, p)
	return &lockclient.Result{Outcome: models.OutcomeLocked}, nil
}

func (f *fakeClient) ReleaseLock(_ context.Context, p string) (*lockclient.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlocked = append(f.unlocked, p)
	return &lockclient.Result{Outcome: models.OutcomeUnlocked}, nil
}

type fakeCache struct {
	snap      lockcache.Snapshot
	refreshes int
}

func (c *fakeCache) Snapshot() lockcache.Snapshot { return c.snap }

func (c *fakeCache) RefreshNow(context.Context) error {
	c.refreshes++
	return nil
}

type fakeScanner struct {
	rep   autounlock.Report
	err   error
	calls int
}

func (s *fakeScanner) Scan(context.Context) (autounlock.Report, error) {
	s.calls++
	return s.rep, s.err
}

func newTestModel(t *testing.T, table models.LockTable) (Model, *fakeClient, *fakeCache, *fakeScanner) {
	t.Helper()
	client := &fakeClient{user: "alice"}
	cache := &fakeCache{snap: lockcache.Snapshot{Scope: testScope, Table: table, FetchedAt: time.Now()}}
	scanner := &fakeScanner{}
	m := NewModel(Deps{Client: client, Cache: cache, Scanner: scanner, Interval: time.Hour})
	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 20})
	m = update(t, m, SnapshotMsg{Snapshot: cache.Snapshot()})
	return m, client, cache, scanner
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

// press sends a key and runs the resulting command, feeding its message back.
func press(t *testing.T, m Model, k tea.KeyMsg) Model {
	t.Helper()
	next, cmd := m.Update(k)
	m = next.(Model)
	if cmd == nil {
		return m
	}
	msg := cmd()
	if _, ok := msg.(ActionResultMsg); ok {
		m = update(t, m, msg)
	}
	return m
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestSnapshotPopulatesRows(t *testing.T) {
	m, _, _, _ := newTestModel(t, models.LockTable{
		"Assets/B.prefab": "bob",
		"Assets/A.unity":  "alice",
	})

	if len(m.Rows) != 2 || m.Rows[0].ResourcePath != "Assets/A.unity" {
		t.Fatalf("rows not sorted by path: %+v", m.Rows)
	}
	if m.Me != "alice" {
		t.Fatalf("Me = %q, want alice", m.Me)
	}

	view := ansi.Strip(m.View())
	for _, want := range []string{"Assets/A.unity", "alice (you)", "Assets/B.prefab", "bob", "Updated"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestUnlockOwnLock(t *testing.T) {
	m, client, _, _ := newTestModel(t, models.LockTable{"Assets/A.unity": "alice"})

	m = press(t, m, runes("u"))

	if len(client.unlocked) != 1 || client.unlocked[0] != "Assets/A.unity" {
		t.Fatalf("unlocked = %v", client.unlocked)
	}
	if m.StatusErr || !strings.Contains(m.Status, "Unlocked Assets/A.unity") {
		t.Fatalf("status = %q (err=%v)", m.Status, m.StatusErr)
	}
	if m.Busy {
		t.Fatal("still busy after result")
	}
}

func TestUnlockForeignLockRefused(t *testing.T) {
	m, client, _, _ := newTestModel(t, models.LockTable{"Assets/B.prefab": "bob"})

	m = press(t, m, runes("u"))

	if len(client.unlocked) != 0 {
		t.Fatalf("foreign lock released: %v", client.unlocked)
	}
	if !m.StatusErr || !strings.Contains(m.Status, "locked by bob") {
		t.Fatalf("status = %q", m.Status)
	}
}

func TestLockTypedPath(t *testing.T) {
	m, client, _, _ := newTestModel(t, models.LockTable{})

	m = update(t, m, runes("l"))
	if m.Mode != ModeLockInput {
		t.Fatalf("mode = %v, want lock input", m.Mode)
	}
	m = update(t, m, runes("Assets\\Scenes/Main.unity"))
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	if m.Mode != ModeBrowse {
		t.Fatal("input mode not closed")
	}
	if len(client.locked) != 1 || client.locked[0] != "Assets/Scenes/Main.unity" {
		t.Fatalf("locked = %v", client.locked)
	}
	if !strings.Contains(m.Status, "Locked Assets/Scenes/Main.unity") {
		t.Fatalf("status = %q", m.Status)
	}
}

func TestLockRejectedShowsHolder(t *testing.T) {
	m, client, _, _ := newTestModel(t, models.LockTable{})
	client.lockErr = &lockclient.Error{Kind: lockclient.ErrRejected, Op: "lock", Holder: "bob", Reason: "locked by bob"}

	m = update(t, m, runes("l"))
	m = update(t, m, runes("Assets/X.prefab"))
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	if !m.StatusErr || m.Status != "Assets/X.prefab is locked by bob" {
		t.Fatalf("status = %q", m.Status)
	}
}

func TestLockInputEscCancels(t *testing.T) {
	m, client, _, _ := newTestModel(t, models.LockTable{})

	m = update(t, m, runes("l"))
	m = update(t, m, runes("Assets/X.prefab"))
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})

	if m.Mode != ModeBrowse || len(client.locked) != 0 {
		t.Fatalf("esc did not cancel: mode=%v locked=%v", m.Mode, client.locked)
	}
}

func TestAutoUnlockAction(t *testing.T) {
	m, _, _, scanner := newTestModel(t, models.LockTable{"Assets/A.unity": "alice"})
	scanner.rep = autounlock.Report{Held: []string{"Assets/A.unity"}, Released: []string{"Assets/A.unity"}}

	m = press(t, m, runes("a"))

	if scanner.calls != 1 {
		t.Fatalf("scan calls = %d", scanner.calls)
	}
	if m.Status != "Auto-unlocked asset: Assets/A.unity" {
		t.Fatalf("status = %q", m.Status)
	}

	scanner.err = autounlock.ErrScanInProgress
	m = press(t, m, runes("a"))
	if m.StatusErr || !strings.Contains(m.Status, "already running") {
		t.Fatalf("status = %q", m.Status)
	}
}

func TestScanText(t *testing.T) {
	tests := []struct {
		rep  autounlock.Report
		want string
	}{
		{autounlock.Report{}, "You hold no locks"},
		{autounlock.Report{Held: []string{"a", "b"}}, "None of your 2 locks can be released yet"},
		{autounlock.Report{Held: []string{"a", "b"}, Released: []string{"a", "b"}}, "2 assets auto-unlocked: [a, b]"},
	}
	for _, tt := range tests {
		if got := scanText(tt.rep); got != tt.want {
			t.Errorf("scanText(%+v) = %q, want %q", tt.rep, got, tt.want)
		}
	}
}

func TestCursorFollowsPathAcrossRefresh(t *testing.T) {
	m, _, _, _ := newTestModel(t, models.LockTable{
		"Assets/A.unity":  "alice",
		"Assets/C.prefab": "bob",
	})
	m = update(t, m, runes("j"))
	if row, _ := m.selected(); row.ResourcePath != "Assets/C.prefab" {
		t.Fatalf("selected %q", row.ResourcePath)
	}

	m = update(t, m, SnapshotMsg{Snapshot: lockcache.Snapshot{
		Scope:     testScope,
		Table:     models.LockTable{"Assets/A.unity": "alice", "Assets/B.prefab": "carol", "Assets/C.prefab": "bob"},
		FetchedAt: time.Now(),
	}})
	if row, _ := m.selected(); row.ResourcePath != "Assets/C.prefab" {
		t.Fatalf("cursor moved to %q", row.ResourcePath)
	}
}

func TestRefreshFailureKeepsRows(t *testing.T) {
	m, _, _, _ := newTestModel(t, models.LockTable{"Assets/A.unity": "alice"})

	m = update(t, m, SnapshotMsg{
		Snapshot: lockcache.Snapshot{Scope: testScope, Table: models.LockTable{"Assets/A.unity": "alice"}, LastErr: errors.New("dial tcp: refused")},
	})
	if len(m.Rows) != 1 {
		t.Fatalf("rows dropped: %+v", m.Rows)
	}
	if view := ansi.Strip(m.View()); !strings.Contains(view, "stale") {
		t.Fatalf("view does not flag stale data:\n%s", view)
	}
}

func TestCompactView(t *testing.T) {
	m, _, _, _ := newTestModel(t, models.LockTable{"Assets/A.unity": "alice", "Assets/B.prefab": "bob"})
	m = update(t, m, tea.WindowSizeMsg{Width: 30, Height: 5})

	view := m.View()
	if !strings.Contains(view, "Locks: 2 (yours: 1)") {
		t.Fatalf("compact view:\n%s", view)
	}
}
