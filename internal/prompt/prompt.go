// Package prompt assembles the conversation sent to the model each round:
// a fixed system instruction, a bounded window of round history and a
// stage-specific trailing instruction.
package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/kylegalloway/dataflame/internal/extract"
	"github.com/kylegalloway/dataflame/internal/feedback"
	"github.com/kylegalloway/dataflame/internal/llm"
	"github.com/kylegalloway/dataflame/internal/sandbox"
	"github.com/kylegalloway/dataflame/internal/sanitize"
	"github.com/kylegalloway/dataflame/internal/session"
)

// Stage selects the trailing instruction.
type Stage string

const (
	StageExplore Stage = "explore"
	StageAnalyze Stage = "analyze"
	StageRecover Stage = "recover"
	StageDecide  Stage = "decide"
	StageReport  Stage = "report"
)

// maxCompressed caps the one-line entries kept for rounds outside the
// recency window.
const maxCompressed = 40

// Input is everything a prompt can draw on.
type Input struct {
	Request   string
	Inputs    []string
	Namespace []sandbox.VarInfo
	// History holds the rounds before the latest one.
	History []session.Round
	// Latest is the formatted result of the most recent round, if any.
	Latest string
	Stage  Stage

	Round     int // successful analysis rounds so far
	MaxRounds int

	Attempt     int // recover attempt, from 1
	MaxAttempts int

	// Notice is a correction about the previous reply, e.g. a missing
	// code block.
	Notice string

	Artifacts []string
	Figures   []extract.Figure
	Failed    int // rounds that ended in failure
}

// Builder renders Inputs into messages.
type Builder struct {
	system        string
	recencyWindow int
}

// NewBuilder creates a Builder advertising the given importable modules.
// Rounds older than recencyWindow are compressed to one line.
func NewBuilder(modules []string, recencyWindow int) *Builder {
	if recencyWindow < 1 {
		recencyWindow = 1
	}
	return &Builder{
		system:        renderSystem(modules),
		recencyWindow: recencyWindow,
	}
}

// System returns the fixed system instruction.
func (b *Builder) System() string { return b.system }

// Build returns the ordered conversation for in.
func (b *Builder) Build(in Input) []llm.Message {
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: b.system},
		{Role: llm.RoleUser, Content: renderTask(in)},
	}

	history := in.History
	if n := len(history) - b.recencyWindow; n > 0 {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: renderCompressed(history[:n])})
		history = history[n:]
	}
	for _, r := range history {
		msgs = append(msgs,
			llm.Message{Role: llm.RoleAssistant, Content: renderCode(r)},
			llm.Message{Role: llm.RoleUser, Content: wrapResult(r.Seq, r.Summary)},
		)
	}

	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: b.trailing(in)})
	return msgs
}

func renderTask(in Input) string {
	var s strings.Builder
	s.WriteString("Analyze the data for this request:\n")
	fmt.Fprintf(&s, "<user-request>\n%s\n</user-request>\n\n", sanitize.Untrusted(strings.TrimSpace(in.Request)))
	s.WriteString("<input-files>\n")
	for _, f := range in.Inputs {
		fmt.Fprintf(&s, "- %s\n", sanitize.PromptContent(f))
	}
	s.WriteString("</input-files>")
	return s.String()
}

func renderCompressed(rounds []session.Round) string {
	var s strings.Builder
	s.WriteString("<analysis-history>\nEarlier rounds, compressed to (code hash, outcome):\n")
	if len(rounds) > maxCompressed {
		fmt.Fprintf(&s, "- %d earlier rounds omitted\n", len(rounds)-maxCompressed)
		rounds = rounds[len(rounds)-maxCompressed:]
	}
	for _, r := range rounds {
		fmt.Fprintf(&s, "- round %d [%s] %s: %s\n", r.Seq, CodeHash(r.Code), r.Stage, feedback.OneLine(r.Outcome))
	}
	s.WriteString("</analysis-history>")
	return s.String()
}

func renderCode(r session.Round) string {
	var s strings.Builder
	if r.Reasoning != "" {
		fmt.Fprintf(&s, "%s\n\n", firstParagraph(r.Reasoning))
	}
	fmt.Fprintf(&s, "```python\n%s\n```", strings.TrimRight(r.Code, "\n"))
	return s.String()
}

func wrapResult(seq int, summary string) string {
	return fmt.Sprintf("<execution-result>\nRound %d\n%s\n</execution-result>", seq, sanitize.PromptContent(strings.TrimRight(summary, "\n")))
}

// CodeHash is the short identifier of a code fragment in compressed history.
func CodeHash(code string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(code)))
	return hex.EncodeToString(sum[:4])
}

func firstParagraph(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "\n\n"); i >= 0 {
		s = s[:i]
	}
	return feedback.Truncate(s, 400)
}

func (b *Builder) trailing(in Input) string {
	var s strings.Builder
	if in.Latest != "" {
		s.WriteString(wrapResult(len(in.History)+1, in.Latest))
		s.WriteString("\n\n")
	}
	if in.Notice != "" {
		fmt.Fprintf(&s, "Note: %s\n\n", in.Notice)
	}
	if in.Stage != StageReport {
		s.WriteString(renderNamespace(in.Namespace))
		s.WriteString("\n\n")
	}

	switch in.Stage {
	case StageExplore:
		s.WriteString(exploreInstruction)
	case StageAnalyze:
		fmt.Fprintf(&s, analyzeInstruction, in.Round+1, in.MaxRounds)
	case StageRecover:
		fmt.Fprintf(&s, recoverInstruction, in.Attempt, in.MaxAttempts)
	case StageDecide:
		fmt.Fprintf(&s, decideInstruction, in.Round, in.MaxRounds)
	case StageReport:
		s.WriteString(renderReportContext(in))
		s.WriteString(reportInstruction)
	}
	return s.String()
}

func renderNamespace(vars []sandbox.VarInfo) string {
	var s strings.Builder
	s.WriteString("<namespace>\n")
	if len(vars) == 0 {
		s.WriteString("(empty)\n")
	}
	for _, v := range vars {
		if v.Summary != "" {
			fmt.Fprintf(&s, "- %s (%s): %s\n", v.Name, v.Type, sanitize.Untrusted(v.Summary))
		} else {
			fmt.Fprintf(&s, "- %s (%s)\n", v.Name, v.Type)
		}
	}
	s.WriteString("</namespace>")
	return s.String()
}

func renderReportContext(in Input) string {
	var s strings.Builder
	fmt.Fprintf(&s, "Completed analysis rounds: %d", in.Round)
	if in.Failed > 0 {
		fmt.Fprintf(&s, " (%d executions failed along the way)", in.Failed)
	}
	s.WriteString("\n\nCharts available for the report:\n")
	if len(in.Artifacts) == 0 {
		s.WriteString("- none\n")
	}
	notes := make(map[string]string)
	for _, f := range in.Figures {
		notes[f.File] = f.Description
	}
	for _, a := range in.Artifacts {
		if d := notes[a]; d != "" {
			fmt.Fprintf(&s, "- %s: %s\n", a, sanitize.Untrusted(d))
		} else {
			fmt.Fprintf(&s, "- %s\n", a)
		}
	}
	s.WriteString("\n")
	return s.String()
}
