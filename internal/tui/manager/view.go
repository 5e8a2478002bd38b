package manager

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/marcus/assetlock/internal/output"
)

// renderView renders the complete TUI view
func (m Model) renderView() string {
	if m.Width == 0 || m.Height == 0 {
		return "Loading..."
	}

	// Handle small terminal sizes gracefully
	if m.Width < MinWidth || m.Height < MinHeight {
		return m.renderCompact()
	}

	if m.ShowHelp {
		return m.renderHelp()
	}

	list := m.wrapPanel(m.panelTitle(), m.renderList(), m.Height-2)
	return lipgloss.JoinVertical(lipgloss.Left, list, m.renderFooter())
}

// renderCompact renders a minimal view for small terminals
func (m Model) renderCompact() string {
	var s strings.Builder

	s.WriteString("assetlock manager (resize for full view)\n\n")
	mine := 0
	for _, r := range m.Rows {
		if r.Holder == m.Me {
			mine++
		}
	}
	s.WriteString(fmt.Sprintf("Locks: %d (yours: %d)\n", len(m.Rows), mine))
	s.WriteString(fmt.Sprintf("Updated: %s\n", output.FormatAge(m.FetchedAt)))
	s.WriteString("\nq:quit r:refresh ?:help")

	return s.String()
}

func (m Model) panelTitle() string {
	if m.Scope.IsZero() {
		return "LOCKED ASSETS"
	}
	return fmt.Sprintf("LOCKED ASSETS  %s (%s)", m.Scope.Origin, m.Scope.Branch)
}

// renderList renders the visible lock rows with the cursor highlighted.
func (m Model) renderList() string {
	if len(m.Rows) == 0 {
		if m.FetchedAt.IsZero() && m.LastErr == nil {
			return subtleStyle.Render("Loading lock table...")
		}
		return subtleStyle.Render("No locked assets")
	}

	contentWidth := m.Width - 4
	pathWidth := 0
	for _, r := range m.Rows {
		pathWidth = max(pathWidth, lipgloss.Width(r.ResourcePath))
	}
	pathWidth = min(pathWidth, max(contentWidth-24, 10))

	var content strings.Builder
	end := min(m.ScrollOffset+m.listHeight(), len(m.Rows))
	for i := m.ScrollOffset; i < end; i++ {
		r := m.Rows[i]
		path := ansi.Truncate(r.ResourcePath, pathWidth, "…")
		path += strings.Repeat(" ", max(pathWidth-lipgloss.Width(path), 0))

		var line string
		if i == m.Cursor {
			line = selectedRowStyle.Render("> "+path) + "  " + formatHolder(r.Holder, m.Me)
		} else {
			line = "  " + titleStyle.Render(path) + "  " + formatHolder(r.Holder, m.Me)
		}
		content.WriteString(line)
		content.WriteString("\n")
	}
	return strings.TrimSuffix(content.String(), "\n")
}

// renderFooter renders the key hints, cache age and the status line.
func (m Model) renderFooter() string {
	var left string
	if m.Mode == ModeLockInput {
		left = " " + m.Input.View() + helpStyle.Render("  enter:lock  esc:cancel")
	} else {
		left = " " + helpStyle.Render("q:quit ↑↓:select u:unlock l:lock r:refresh a:auto-unlock ?:help")
	}

	age := "Updated " + output.FormatAge(m.FetchedAt)
	right := subtleStyle.Render(age)
	if m.LastErr != nil {
		right = staleStyle.Render("stale: " + age)
	}

	padding := max(m.Width-lipgloss.Width(left)-lipgloss.Width(right)-1, 1)
	keys := left + strings.Repeat(" ", padding) + right

	status := m.Status
	if status == "" && m.LastErr != nil {
		status = "refresh failed: " + m.LastErr.Error()
		return keys + "\n " + errorStyle.Render(ansi.Truncate(status, m.Width-2, "…"))
	}
	status = ansi.Truncate(status, max(m.Width-2, 1), "…")
	if m.StatusErr {
		return keys + "\n " + errorStyle.Render(status)
	}
	return keys + "\n " + statusStyle.Render(status)
}

// renderHelp renders the help overlay
func (m Model) renderHelp() string {
	help := `
ASSETLOCK MANAGER - Key Bindings

NAVIGATION:
  ↑ / ↓ / j / k     Select lock
  g / G             First / last lock

ACTIONS:
  u / Delete        Unlock the selected asset (yours only)
  l / n             Lock a path typed at the prompt
  r                 Refresh the lock table
  a                 Run an auto-unlock check now
  q / Ctrl+C        Quit

Green holders are you, red holders are teammates.

Press any key to close help
`
	return helpStyle.Render(help)
}

// wrapPanel wraps content in a panel with title and border
func (m Model) wrapPanel(title, content string, height int) string {
	contentWidth := m.Width - 4 // Account for border and padding
	titleStr := panelTitleStyle.Render(ansi.Truncate(title, contentWidth-2, "…"))

	lines := strings.Split(content, "\n")
	contentHeight := height - 3 // Title + border

	// Pad or truncate lines
	for len(lines) < contentHeight {
		lines = append(lines, "")
	}
	if len(lines) > contentHeight {
		lines = lines[:contentHeight]
	}

	// Ensure each line fits width
	for i, line := range lines {
		if lipgloss.Width(line) > contentWidth {
			lines[i] = ansi.Truncate(line, contentWidth, "…")
		}
	}

	inner := lipgloss.JoinVertical(lipgloss.Left, titleStr, strings.Join(lines, "\n"))
	return panelStyle.Width(m.Width - 2).Render(inner)
}
