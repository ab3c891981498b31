package ui

import (
	"fmt"
	"strings"
	"time"
)

// ProgressState holds the current state for progress display.
type ProgressState struct {
	Stage     string
	Round     int
	MaxRounds int
	OK        bool
	Kind      string
	Charts    int
	Elapsed   time.Duration
}

// SessionSummary holds the end-of-session report.
type SessionSummary struct {
	SessionID    string
	Dir          string
	Rounds       int
	MaxRounds    int
	Attempts     int
	Failures     int
	Abandoned    int
	Charts       []string
	Dropped      []string
	ReportPath   string
	DocumentPath string
	Fallback     bool
	Cancelled    bool
	Duration     time.Duration
}

// FormatProgress returns a single-line progress string for one executed round.
func FormatProgress(ps ProgressState) string {
	outcome := "ok"
	if !ps.OK {
		outcome = "failed"
		if ps.Kind != "" {
			outcome = "failed " + ps.Kind
		}
	}
	return fmt.Sprintf("[%s] round %d/%d | %s | %s | %v",
		ps.Stage, ps.Round, ps.MaxRounds, outcome, plural(ps.Charts, "chart"), ps.Elapsed.Truncate(time.Second))
}

// FormatSummary returns a multi-line summary for end-of-session display.
func FormatSummary(s SessionSummary) string {
	var b strings.Builder
	b.WriteString("\n=== Session Summary ===\n")
	fmt.Fprintf(&b, "Session:    %s\n", s.SessionID)
	if s.Dir != "" {
		fmt.Fprintf(&b, "Directory:  %s\n", s.Dir)
	}
	fmt.Fprintf(&b, "Duration:   %v\n", s.Duration.Truncate(time.Second))
	if s.MaxRounds > 0 {
		fmt.Fprintf(&b, "Rounds:     %d/%d\n", s.Rounds, s.MaxRounds)
	} else {
		fmt.Fprintf(&b, "Rounds:     %d\n", s.Rounds)
	}
	b.WriteString("\nExecutions:\n")
	fmt.Fprintf(&b, "  Total:     %d\n", s.Attempts)
	fmt.Fprintf(&b, "  Failed:    %d\n", s.Failures)
	fmt.Fprintf(&b, "  Abandoned: %d\n", s.Abandoned)
	fmt.Fprintf(&b, "\nCharts:     %d\n", len(s.Charts))
	for _, c := range s.Charts {
		fmt.Fprintf(&b, "  %s\n", c)
	}
	if len(s.Dropped) > 0 {
		fmt.Fprintf(&b, "  dropped from report: %s\n", strings.Join(s.Dropped, ", "))
	}
	b.WriteString("\nReport:\n")
	fmt.Fprintf(&b, "  Markdown:  %s\n", s.ReportPath)
	if s.DocumentPath != "" {
		fmt.Fprintf(&b, "  Document:  %s\n", s.DocumentPath)
	}
	switch {
	case s.Cancelled:
		b.WriteString("  (partial: the analysis was cancelled)\n")
	case s.Fallback:
		b.WriteString("  (partial: assembled without the model)\n")
	}
	b.WriteString("=======================\n")
	return b.String()
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%d %ss", n, word)
}
