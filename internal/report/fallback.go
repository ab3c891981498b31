package report

import (
	"fmt"
	"strings"

	"github.com/kylegalloway/dataflame/internal/feedback"
	"github.com/kylegalloway/dataflame/internal/sanitize"
	"github.com/kylegalloway/dataflame/internal/session"
)

// FallbackInput is what a locally assembled report is built from.
type FallbackInput struct {
	Request   string
	Rounds    []session.Round
	Artifacts []string
	// Reason says why the model did not write the report.
	Reason string
}

// Fallback assembles a report from the round log when the model cannot
// write one.
func Fallback(in FallbackInput) string {
	var b strings.Builder
	b.WriteString("# Analysis report (partial)\n\n")
	if in.Reason != "" {
		fmt.Fprintf(&b, "> This report was assembled from the analysis log because %s.\n\n", sanitize.Secrets(in.Reason))
	}

	b.WriteString("## Request\n\n")
	fmt.Fprintf(&b, "%s\n\n", sanitize.Secrets(strings.TrimSpace(in.Request)))

	b.WriteString("## Analysis steps\n\n")
	failed := 0
	for _, r := range in.Rounds {
		if !r.OK() {
			failed++
		}
		fmt.Fprintf(&b, "### Round %d (%s)\n\n", r.Seq, r.Stage)
		if reasoning := strings.TrimSpace(r.Reasoning); reasoning != "" {
			fmt.Fprintf(&b, "%s\n\n", sanitize.Secrets(reasoning))
		}
		fmt.Fprintf(&b, "Outcome: %s\n\n", feedback.OneLine(r.Outcome))
		if out := strings.TrimSpace(r.Outcome.Stdout); r.OK() && out != "" {
			fmt.Fprintf(&b, "```\n%s\n```\n\n", feedback.Truncate(sanitize.Secrets(out), 1500))
		}
	}
	if len(in.Rounds) == 0 {
		b.WriteString("No analysis step was executed.\n\n")
	}

	if len(in.Artifacts) > 0 {
		b.WriteString("## Charts\n\n")
		for _, a := range in.Artifacts {
			fmt.Fprintf(&b, "![%s](./%s)\n\n", a, a)
		}
	}

	if failed > 0 {
		b.WriteString("## Notes\n\n")
		fmt.Fprintf(&b, "%d of %d executions failed; their results are not part of the findings above.\n", failed, len(in.Rounds))
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
