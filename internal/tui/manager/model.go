// Package manager is the interactive lock management panel: the lock table
// of the current scope with unlock, lock, refresh and auto-unlock actions.
package manager

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/marcus/assetlock/internal/autounlock"
	"github.com/marcus/assetlock/internal/lockcache"
	"github.com/marcus/assetlock/internal/lockclient"
	"github.com/marcus/assetlock/internal/models"
)

// Client is the subset of the lock client the panel uses.
type Client interface {
	CurrentUser() (string, error)
	RequestLock(ctx context.Context, path string) (*lockclient.Result, error)
	ReleaseLock(ctx context.Context, path string) (*lockclient.Result, error)
}

// Cache supplies the lock table shown in the panel.
type Cache interface {
	Snapshot() lockcache.Snapshot
	RefreshNow(ctx context.Context) error
}

// Scanner runs an on-demand auto-unlock pass.
type Scanner interface {
	Scan(ctx context.Context) (autounlock.Report, error)
}

// Deps wires the panel to the core components.
type Deps struct {
	Client   Client
	Cache    Cache
	Scanner  Scanner // nil disables the auto-unlock action
	Root     string  // working copy root, for typed paths
	Interval time.Duration
	Timeout  time.Duration // per action
}

// Mode is the input mode of the panel.
type Mode int

const (
	ModeBrowse Mode = iota
	ModeLockInput
)

// MinWidth is the minimum terminal width for the full view
const MinWidth = 40

// MinHeight is the minimum terminal height for the full view
const MinHeight = 8

// Model is the Bubble Tea model for the manager panel
type Model struct {
	deps Deps

	// Window dimensions
	Width  int
	Height int

	// Data from the last snapshot
	Scope     models.Scope
	Rows      []models.LockEntry
	Me        string
	FetchedAt time.Time
	LastErr   error // last failed refresh; Rows are kept

	// UI state
	Cursor       int
	ScrollOffset int
	Mode         Mode
	Input        textinput.Model
	ShowHelp     bool
	Status       string
	StatusErr    bool
	Busy         bool
}

// TickMsg triggers a periodic refresh
type TickMsg time.Time

// SnapshotMsg carries the cache contents after a refresh
type SnapshotMsg struct {
	Snapshot lockcache.Snapshot
	Err      error
}

// ActionResultMsg reports the outcome of a lock, unlock or scan action
type ActionResultMsg struct {
	Text string
	Err  error
}

// NewModel creates a manager model
func NewModel(deps Deps) Model {
	if deps.Interval <= 0 {
		deps.Interval = lockcache.DefaultInterval
	}
	if deps.Timeout <= 0 {
		deps.Timeout = lockclient.DefaultTimeout
	}
	ti := textinput.New()
	ti.Placeholder = "Assets/Scenes/Main.unity"
	ti.Prompt = "lock: "
	ti.CharLimit = 512
	ti.Width = 50

	m := Model{deps: deps, Input: ti}
	m.Me, _ = deps.Client.CurrentUser()
	return m
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.refresh(),
		m.scheduleTick(),
	)
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.Mode == ModeLockInput {
			return m.handleInputKey(msg)
		}
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.clampScroll()
		return m, nil

	case TickMsg:
		return m, tea.Batch(m.refresh(), m.scheduleTick())

	case SnapshotMsg:
		m.applySnapshot(msg)
		return m, nil

	case ActionResultMsg:
		m.Busy = false
		if msg.Err != nil {
			m.setError(msg.Err.Error())
		} else {
			m.setStatus(msg.Text)
		}
		return m, m.refresh()
	}

	return m, nil
}

// handleKey processes key input in browse mode
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.ShowHelp {
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		default:
			m.ShowHelp = false
			return m, nil
		}
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "j", "down":
		if m.Cursor < len(m.Rows)-1 {
			m.Cursor++
		}
		m.clampScroll()
		return m, nil

	case "k", "up":
		if m.Cursor > 0 {
			m.Cursor--
		}
		m.clampScroll()
		return m, nil

	case "g", "home":
		m.Cursor = 0
		m.clampScroll()
		return m, nil

	case "G", "end":
		m.Cursor = max(len(m.Rows)-1, 0)
		m.clampScroll()
		return m, nil

	case "r":
		m.setStatus("Refreshing...")
		return m, m.refresh()

	case "u", "delete":
		return m.unlockSelected()

	case "l", "n":
		m.Mode = ModeLockInput
		m.Input.SetValue("")
		return m, m.Input.Focus()

	case "a":
		if m.deps.Scanner == nil || m.Busy {
			return m, nil
		}
		m.Busy = true
		m.setStatus("Checking for locks to auto-unlock...")
		return m, m.scan()

	case "?":
		m.ShowHelp = true
		return m, nil
	}

	return m, nil
}

// handleInputKey processes key input while typing a path to lock
func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.Mode = ModeBrowse
		m.Input.Blur()
		return m, nil

	case tea.KeyCtrlC:
		return m, tea.Quit

	case tea.KeyEnter:
		value := m.Input.Value()
		m.Mode = ModeBrowse
		m.Input.Blur()
		p, err := resourcePath(m.deps.Root, value)
		if err != nil {
			m.setError(err.Error())
			return m, nil
		}
		m.Busy = true
		m.setStatus("Locking " + p + "...")
		return m, m.lock(p)
	}

	var cmd tea.Cmd
	m.Input, cmd = m.Input.Update(msg)
	return m, cmd
}

// unlockSelected releases the selected lock when the current user holds it.
func (m Model) unlockSelected() (tea.Model, tea.Cmd) {
	row, ok := m.selected()
	if !ok || m.Busy {
		return m, nil
	}
	if row.Holder != m.Me {
		m.setError(row.ResourcePath + " is locked by " + row.Holder + "; only the holder can unlock it")
		return m, nil
	}
	m.Busy = true
	m.setStatus("Unlocking " + row.ResourcePath + "...")
	return m, m.unlock(row.ResourcePath)
}

func (m Model) selected() (models.LockEntry, bool) {
	if m.Cursor < 0 || m.Cursor >= len(m.Rows) {
		return models.LockEntry{}, false
	}
	return m.Rows[m.Cursor], true
}

// applySnapshot replaces the rows and keeps the cursor on the same path when
// it is still locked.
func (m *Model) applySnapshot(msg SnapshotMsg) {
	prev, hadPrev := m.selected()

	snap := msg.Snapshot
	m.Scope = snap.Scope
	m.Rows = snap.Table.Entries()
	m.FetchedAt = snap.FetchedAt
	m.LastErr = snap.LastErr
	if msg.Err != nil {
		m.LastErr = msg.Err
	}
	if user, err := m.deps.Client.CurrentUser(); err == nil {
		m.Me = user
	} else {
		m.Me = ""
	}

	m.Cursor = min(m.Cursor, max(len(m.Rows)-1, 0))
	if hadPrev {
		for i, r := range m.Rows {
			if r.ResourcePath == prev.ResourcePath {
				m.Cursor = i
				break
			}
		}
	}
	m.clampScroll()
}

func (m *Model) setStatus(s string) {
	m.Status = s
	m.StatusErr = false
}

func (m *Model) setError(s string) {
	m.Status = s
	m.StatusErr = true
}

// listHeight is the number of rows visible in the lock list.
func (m Model) listHeight() int {
	return max(m.Height-6, 1)
}

// clampScroll keeps the cursor inside the visible window.
func (m *Model) clampScroll() {
	h := m.listHeight()
	if m.Cursor < m.ScrollOffset {
		m.ScrollOffset = m.Cursor
	}
	if m.Cursor >= m.ScrollOffset+h {
		m.ScrollOffset = m.Cursor - h + 1
	}
	m.ScrollOffset = max(m.ScrollOffset, 0)
}

// View implements tea.Model
func (m Model) View() string {
	return m.renderView()
}

// scheduleTick returns a command that sends a TickMsg after the refresh interval
func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.deps.Interval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
