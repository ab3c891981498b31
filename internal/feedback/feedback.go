// Package feedback turns execution outcomes into the compact text the
// model sees after every round.
package feedback

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kylegalloway/dataflame/internal/sandbox"
	"github.com/kylegalloway/dataflame/internal/sanitize"
)

const (
	// TruncatedMarker ends any text cut to fit a limit.
	TruncatedMarker = "…truncated"

	// Unformattable replaces a summary that could not be produced.
	Unformattable = "unformattable result"

	maxVars = 20
)

// Formatter renders outcomes within fixed size bounds.
type Formatter struct {
	stdoutLimit int
	budget      int
}

// New creates a Formatter. Non-positive limits fall back to 2000 bytes of
// stdout and 6000 bytes overall.
func New(stdoutLimit, budget int) *Formatter {
	if stdoutLimit <= 0 {
		stdoutLimit = 2000
	}
	if budget <= 0 {
		budget = 6000
	}
	return &Formatter{stdoutLimit: stdoutLimit, budget: budget}
}

// Format summarizes out for the model. It never fails: a panic while
// formatting yields Unformattable.
func (f *Formatter) Format(out sandbox.Outcome) (text string) {
	defer func() {
		if r := recover(); r != nil {
			text = Unformattable
		}
	}()

	var b strings.Builder
	if out.OK() {
		f.success(&b, out)
	} else {
		f.failure(&b, out)
	}
	return Truncate(b.String(), f.budget)
}

func (f *Formatter) success(b *strings.Builder, out sandbox.Outcome) {
	fmt.Fprintf(b, "Execution succeeded in %s.\n", out.Duration.Round(time.Millisecond))

	if len(out.NewVars) == 0 {
		b.WriteString("No variables changed.\n")
	} else {
		b.WriteString("Changed variables:\n")
		for i, v := range out.NewVars {
			if i == maxVars {
				fmt.Fprintf(b, "- ... and %d more\n", len(out.NewVars)-maxVars)
				break
			}
			if v.Summary != "" {
				fmt.Fprintf(b, "- %s (%s): %s\n", v.Name, v.Type, sanitize.Untrusted(v.Summary))
			} else {
				fmt.Fprintf(b, "- %s (%s)\n", v.Name, v.Type)
			}
		}
	}

	if len(out.NewArtifacts) > 0 {
		fmt.Fprintf(b, "New charts: %s\n", strings.Join(out.NewArtifacts, ", "))
	}

	f.stdout(b, "Output", out.Stdout)
}

func (f *Formatter) failure(b *strings.Builder, out sandbox.Outcome) {
	fl := out.Failure
	fmt.Fprintf(b, "Execution failed: %s (%s).\n", fl.Kind, fl.Category())
	fmt.Fprintf(b, "Error: %s\n", sanitize.Untrusted(fl.Message))
	if hint := Hint(fl.Kind, fl.Message); hint != "" {
		fmt.Fprintf(b, "Hint: %s\n", hint)
	}
	if fl.Trace != "" {
		fmt.Fprintf(b, "Trace:\n%s\n", sanitize.Untrusted(fl.Trace))
	}
	f.stdout(b, "Partial output", out.Stdout)
}

func (f *Formatter) stdout(b *strings.Builder, label, s string) {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		fmt.Fprintf(b, "%s: (none)\n", label)
		return
	}
	fmt.Fprintf(b, "%s:\n%s\n", label, Truncate(sanitize.Untrusted(s), f.stdoutLimit))
}

// OneLine is the compressed form of an outcome used for older rounds.
func OneLine(out sandbox.Outcome) string {
	if !out.OK() {
		msg := firstLine(sanitize.Untrusted(out.Failure.Message))
		return Truncate(fmt.Sprintf("failed %s: %s", out.Failure.Kind, msg), 160)
	}
	parts := []string{"ok"}
	if n := len(out.NewVars); n > 0 {
		names := make([]string, 0, min(n, 6))
		for i, v := range out.NewVars {
			if i == 6 {
				names = append(names, "...")
				break
			}
			names = append(names, v.Name)
		}
		parts = append(parts, "set "+strings.Join(names, ", "))
	}
	if len(out.NewArtifacts) > 0 {
		parts = append(parts, "charts "+strings.Join(out.NewArtifacts, ", "))
	}
	return Truncate(strings.Join(parts, "; "), 160)
}

// Truncate cuts s to at most limit bytes on a rune boundary, appending
// TruncatedMarker when anything was removed.
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit - len(TruncatedMarker) - 1
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n" + TruncatedMarker
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
