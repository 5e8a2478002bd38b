package manager

import "github.com/charmbracelet/lipgloss"

var (
	// Base colors
	primaryColor = lipgloss.Color("212")
	mutedColor   = lipgloss.Color("241")
	mineColor    = lipgloss.Color("42")
	otherColor   = lipgloss.Color("196")
	warningColor = lipgloss.Color("214")

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	// Text styles
	titleStyle       = lipgloss.NewStyle().Bold(true)
	subtleStyle      = lipgloss.NewStyle().Foreground(mutedColor)
	helpStyle        = lipgloss.NewStyle().Foreground(mutedColor)
	selectedRowStyle = lipgloss.NewStyle().Background(lipgloss.Color("237")).Bold(true)
	mineStyle        = lipgloss.NewStyle().Foreground(mineColor)
	otherStyle       = lipgloss.NewStyle().Foreground(otherColor)
	statusStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
	errorStyle       = lipgloss.NewStyle().Foreground(otherColor)
	staleStyle       = lipgloss.NewStyle().Foreground(warningColor)
)

// formatHolder colors a holder green when it is the current user and red otherwise
func formatHolder(holder, me string) string {
	if holder == me && me != "" {
		return mineStyle.Render(holder + " (you)")
	}
	return otherStyle.Render(holder)
}
