// Package output provides styled terminal output helpers (success, error,
// warning, lock formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/marcus/assetlock/internal/models"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	mineStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	otherStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	stateStyles  = map[models.LockState]lipgloss.Style{
		models.StateFree:        lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.StateHeldByMe:    mineStyle,
		models.StateHeldByOther: otherStyle,
		models.StateUnknown:     warningStyle,
	}
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeInvalidInput  = "invalid_input"
	ErrCodeRejected      = "rejected"
	ErrCodeIndeterminate = "indeterminate"
	ErrCodePrecondition  = "precondition"
	ErrCodeUnexpected    = "unexpected_response"
	ErrCodeGitError      = "git_error"
	ErrCodeConfigError   = "config_error"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	JSONErrorWithDetails(code, message, nil)
}

// JSONErrorWithDetails outputs an error as JSON with additional context
func JSONErrorWithDetails(code, message string, details map[string]interface{}) {
	errObj := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if len(details) > 0 {
		errObj["details"] = details
	}
	result := map[string]interface{}{
		"error": errObj,
	}
	data, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(data))
}

// FormatState formats a lock state with color
func FormatState(s models.LockState) string {
	style, ok := stateStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// FormatHolder colors a holder green when it is the current user and red otherwise.
func FormatHolder(holder, me string) string {
	if holder == "" {
		return subtleStyle.Render("-")
	}
	if holder == me {
		return mineStyle.Render(holder)
	}
	return otherStyle.Render(holder)
}

// FormatLockLine formats one lock table row: path and holder.
func FormatLockLine(e models.LockEntry, me string, width int) string {
	path := e.ResourcePath
	if width > 0 && len(path) < width {
		path += strings.Repeat(" ", width-len(path))
	}
	line := titleStyle.Render(path) + "  " + FormatHolder(e.Holder, me)
	if !e.LockedAt.IsZero() {
		line += "  " + subtleStyle.Render(FormatTimeAgo(e.LockedAt))
	}
	return line
}

// FormatLockTable formats a table sorted by path, or a placeholder when empty.
func FormatLockTable(t models.LockTable, me string) string {
	entries := t.Entries()
	if len(entries) == 0 {
		return subtleStyle.Render("No locked assets")
	}
	width := 0
	for _, e := range entries {
		width = max(width, len(e.ResourcePath))
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = FormatLockLine(e, me, width)
	}
	return strings.Join(lines, "\n")
}

// FormatStatusLine describes one path's lock status for the current user.
func FormatStatusLine(path string, st models.LockStatus, me string) string {
	state := models.Classify(st, me, nil)
	switch state {
	case models.StateFree:
		return fmt.Sprintf("%s %s", FormatState(state), path)
	default:
		return fmt.Sprintf("%s %s  locked by %s", FormatState(state), path, FormatHolder(st.Holder, me))
	}
}

var actionStyles = map[models.LockAction]lipgloss.Style{
	models.ActionLock:        successStyle,
	models.ActionUnlock:      subtleStyle,
	models.ActionForceUnlock: warningStyle,
}

// FormatEventLine formats one history event: when, action, path and user.
func FormatEventLine(e models.LockEvent, me string) string {
	action := string(e.Action)
	if style, ok := actionStyles[e.Action]; ok {
		action = style.Render(fmt.Sprintf("%-12s", action))
	}
	return fmt.Sprintf("%-10s %s %s  %s", FormatTimeAgo(e.CreatedAt), action, e.ResourcePath, FormatHolder(e.UserName, me))
}

// FormatAge formats how long ago t was, for cache freshness displays.
func FormatAge(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

// FormatTimeAgo formats a time as a compact "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}

// FormatScope formats a scope as "origin (branch)".
func FormatScope(s models.Scope) string {
	return fmt.Sprintf("%s %s", s.Origin, subtleStyle.Render("("+s.Branch+")"))
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nREJECTED:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// BulletList formats items as a bulleted list with optional indentation
func BulletList(items []string, indent int) []string {
	prefix := strings.Repeat(" ", indent)
	result := make([]string, len(items))
	for i, item := range items {
		result[i] = prefix + "- " + item
	}
	return result
}
