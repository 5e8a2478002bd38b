// Package notify delivers user-visible summaries from background work.
package notify

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/marcus/assetlock/internal/output"
)

// Summary reports the resources released by one auto-unlock scan.
type Summary struct {
	Released []string
}

// Text is the one-line form of the summary.
func (s Summary) Text() string {
	if len(s.Released) == 1 {
		return "Auto-unlocked asset: " + s.Released[0]
	}
	return fmt.Sprintf("%d assets auto-unlocked: [%s]", len(s.Released), strings.Join(s.Released, ", "))
}

// Markdown is the rich form shown in terminals.
func (s Summary) Markdown() string {
	var sb strings.Builder
	if len(s.Released) == 1 {
		sb.WriteString("**Auto-unlocked asset**\n\n")
	} else {
		fmt.Fprintf(&sb, "**%d assets auto-unlocked**\n\n", len(s.Released))
	}
	for _, p := range s.Released {
		fmt.Fprintf(&sb, "- `%s`\n", p)
	}
	return sb.String()
}

// Sink receives summaries. Implementations must be safe for concurrent use.
type Sink interface {
	Notify(Summary)
}

// Nop discards summaries.
type Nop struct{}

func (Nop) Notify(Summary) {}

// Func adapts a function to a Sink.
type Func func(Summary)

func (f Func) Notify(s Summary) { f(s) }

// Log writes summaries to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(s Summary) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info(s.Text(), "count", len(s.Released), "paths", s.Released)
}

// Terminal renders summaries as markdown to a writer.
type Terminal struct {
	mu    sync.Mutex
	w     io.Writer
	plain bool
}

// NewTerminal writes rendered summaries to w. Plain disables markdown rendering.
func NewTerminal(w io.Writer, plain bool) *Terminal {
	return &Terminal{w: w, plain: plain}
}

func (t *Terminal) Notify(s Summary) {
	text := s.Text()
	if !t.plain {
		text = output.RenderMarkdownOrPlain(s.Markdown())
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.w, text)
}

// Multi fans a summary out to several sinks.
type Multi []Sink

func (m Multi) Notify(s Summary) {
	for _, sink := range m {
		if sink != nil {
			sink.Notify(s)
		}
	}
}

// Recorder keeps every summary, for tests and the manager panel.
type Recorder struct {
	mu        sync.Mutex
	summaries []Summary
}

func (r *Recorder) Notify(s Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
}

// Summaries returns a copy of what was recorded.
func (r *Recorder) Summaries() []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Summary(nil), r.summaries...)
}
