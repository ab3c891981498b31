// Package ui renders analysis progress and the end-of-session summary on
// the terminal.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/kylegalloway/dataflame/internal/analysis"
)

var (
	colorGreen  = lipgloss.Color("#98C379")
	colorRed    = lipgloss.Color("#E06C75")
	colorBlue   = lipgloss.Color("#61AFEF")
	colorMuted  = lipgloss.Color("#636B78")
	colorYellow = lipgloss.Color("#E5C07B")
)

// Printer writes progress lines and the summary. Output is styled only
// when the writer is a terminal.
type Printer struct {
	w      io.Writer
	styled bool

	stage lipgloss.Style
	ok    lipgloss.Style
	fail  lipgloss.Style
	muted lipgloss.Style
	box   lipgloss.Style

	mu sync.Mutex
}

// NewPrinter creates a Printer for w.
func NewPrinter(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:      w,
		styled: IsTerminal(w),
		stage:  r.NewStyle().Foreground(colorBlue).Bold(true),
		ok:     r.NewStyle().Foreground(colorGreen),
		fail:   r.NewStyle().Foreground(colorRed),
		muted:  r.NewStyle().Foreground(colorMuted),
		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorYellow).
			Padding(0, 1),
	}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// RoundDone implements analysis.Observer.
func (p *Printer) RoundDone(pr analysis.Progress) {
	ps := ProgressState{
		Stage:     strings.ToLower(string(pr.State)),
		Round:     pr.Round,
		MaxRounds: pr.MaxRounds,
		OK:        pr.OK,
		Kind:      string(pr.Kind),
		Charts:    pr.Charts,
		Elapsed:   pr.Elapsed,
	}
	line := FormatProgress(ps)
	if p.styled {
		line = p.styleProgress(ps, line)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}

func (p *Printer) styleProgress(ps ProgressState, line string) string {
	tag := "[" + ps.Stage + "]"
	rest := strings.TrimPrefix(line, tag)
	outcome := p.ok
	if !ps.OK {
		outcome = p.fail
	}
	parts := strings.SplitN(rest, " | ", 3)
	if len(parts) != 3 {
		return line
	}
	return p.stage.Render(tag) + parts[0] + p.muted.Render(" | ") + outcome.Render(parts[1]) + p.muted.Render(" | "+parts[2])
}

// Summary prints the end-of-session summary for a finished analysis.
func (p *Printer) Summary(res *analysis.Result, maxRounds int) {
	text := FormatSummary(Summarize(res, maxRounds))
	if p.styled {
		text = p.box.Render(strings.Trim(text, "\n")) + "\n"
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.w, text)
}

// Summarize converts an analysis result for display.
func Summarize(res *analysis.Result, maxRounds int) SessionSummary {
	return SessionSummary{
		SessionID:    res.SessionID,
		Dir:          res.Dir,
		Rounds:       res.Rounds,
		MaxRounds:    maxRounds,
		Attempts:     res.Attempts,
		Failures:     res.Failures,
		Abandoned:    res.Abandoned,
		Charts:       res.Artifacts,
		Dropped:      res.Dropped,
		ReportPath:   res.Report.MarkdownPath,
		DocumentPath: res.Report.DocumentPath,
		Fallback:     res.Report.Fallback,
		Cancelled:    res.Cancelled,
		Duration:     res.Duration,
	}
}
