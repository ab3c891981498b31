// Package extract pulls the structured parts out of model replies: the
// code to execute, the continue/report decision and the final report.
//
// Code extraction fails closed. Only a fenced block is ever returned as
// code; a reply without one, or with several candidates, is an error.
package extract

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrNoCodeBlock   = errors.New("reply has no fenced code block")
	ErrAmbiguousCode = errors.New("reply has more than one code block")
	ErrNoDecision    = errors.New("reply has no continue/report decision")
	ErrEmptyReport   = errors.New("reply has no report text")
)

// Reply actions.
const (
	ActionGenerateCode     = "generate_code"
	ActionCollectFigures   = "collect_figures"
	ActionAnalysisComplete = "analysis_complete"
)

// Figure is the model's description of a chart it produced.
type Figure struct {
	File        string `yaml:"file" json:"file"`
	Description string `yaml:"description" json:"description"`
}

// Reply is a parsed code-generation reply.
type Reply struct {
	Action    string
	Reasoning string
	Code      string
	NextSteps []string
	Figures   []Figure
}

// Complete reports whether the model declared the analysis finished
// instead of sending code.
func (r Reply) Complete() bool { return r.Action == ActionAnalysisComplete && r.Code == "" }

// CollectsFigures reports whether the reply only describes charts and
// carries no code to run.
func (r Reply) CollectsFigures() bool { return r.Action == ActionCollectFigures && r.Code == "" }

// collectedFigure is one entry of a figures_to_collect list.
type collectedFigure struct {
	Filename    string `yaml:"filename"`
	FilePath    string `yaml:"file_path"`
	Description string `yaml:"description"`
	Analysis    string `yaml:"analysis"`
}

func (c collectedFigure) figure() Figure {
	file := c.Filename
	if file == "" {
		file = c.FilePath
	}
	desc := strings.TrimSpace(c.Description)
	if a := strings.TrimSpace(c.Analysis); a != "" {
		desc = strings.TrimSpace(desc + " " + a)
	}
	return Figure{File: path.Base(strings.ReplaceAll(strings.TrimSpace(file), "\\", "/")), Description: desc}
}

type yamlReply struct {
	Action    string            `yaml:"action"`
	Reasoning string            `yaml:"reasoning"`
	Code      string            `yaml:"code"`
	NextSteps []string          `yaml:"next_steps"`
	Figures   []Figure          `yaml:"figures"`
	Collect   []collectedFigure `yaml:"figures_to_collect"`
	Decision  string            `yaml:"decision"`
	Report    string            `yaml:"final_report"`
}

var codeLangs = map[string]bool{"": true, "python": true, "py": true, "starlark": true, "star": true, "bzl": true}

func isYAML(lang string) bool { return lang == "yaml" || lang == "yml" }

// Code extracts the code fragment from a reply. A single fenced yaml block
// with a code key, action: analysis_complete, or action: collect_figures
// with a non-empty figure list takes precedence; otherwise
// exactly one python/starlark (or untagged) fenced block must be present.
func Code(text string) (Reply, error) {
	blocks := fences(text)

	var yamlBlocks []block
	for _, b := range blocks {
		if isYAML(b.lang) {
			yamlBlocks = append(yamlBlocks, b)
		}
	}
	if len(yamlBlocks) > 1 {
		return Reply{}, fmt.Errorf("%w: %d yaml blocks", ErrAmbiguousCode, len(yamlBlocks))
	}
	if len(yamlBlocks) == 1 {
		var y yamlReply
		if err := yaml.Unmarshal([]byte(yamlBlocks[0].body), &y); err == nil {
			r := Reply{
				Action:    strings.TrimSpace(y.Action),
				Reasoning: strings.TrimSpace(y.Reasoning),
				Code:      strings.TrimSpace(y.Code),
				NextSteps: y.NextSteps,
				Figures:   y.Figures,
			}
			for _, c := range y.Collect {
				if f := c.figure(); f.File != "." && f.File != "/" {
					r.Figures = append(r.Figures, f)
				}
			}
			if r.Code != "" {
				if r.Action == "" {
					r.Action = ActionGenerateCode
				}
				return r, nil
			}
			if r.Action == ActionAnalysisComplete {
				return r, nil
			}
			if r.Action == ActionCollectFigures && len(r.Figures) > 0 {
				return r, nil
			}
		}
	}

	var code []block
	for _, b := range blocks {
		if codeLangs[b.lang] {
			code = append(code, b)
		}
	}
	switch len(code) {
	case 0:
		return Reply{}, ErrNoCodeBlock
	case 1:
		body := strings.TrimSpace(code[0].body)
		if body == "" {
			return Reply{}, fmt.Errorf("%w: the code block is empty", ErrNoCodeBlock)
		}
		return Reply{Action: ActionGenerateCode, Reasoning: outside(text), Code: body}, nil
	default:
		return Reply{}, fmt.Errorf("%w: %d code blocks", ErrAmbiguousCode, len(code))
	}
}

// Decision is the model's answer to "analyze further or report?".
type Decision struct {
	Continue bool
	Reason   string
}

// ParseDecision reads a continue/report decision. It accepts a yaml block
// with an action or decision key, or a reply whose first word is the
// decision.
func ParseDecision(text string) (Decision, error) {
	for _, b := range fences(text) {
		if !isYAML(b.lang) {
			continue
		}
		var y yamlReply
		if err := yaml.Unmarshal([]byte(b.body), &y); err != nil {
			continue
		}
		word := y.Decision
		if word == "" {
			word = y.Action
		}
		if d, ok := decisionWord(word); ok {
			return Decision{Continue: d, Reason: strings.TrimSpace(y.Reasoning)}, nil
		}
	}

	fields := strings.Fields(text)
	if len(fields) > 0 {
		if d, ok := decisionWord(strings.Trim(fields[0], "*:.,`\"'")); ok {
			return Decision{Continue: d, Reason: strings.TrimSpace(strings.Join(fields[1:], " "))}, nil
		}
	}
	return Decision{}, ErrNoDecision
}

func decisionWord(word string) (cont bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(word)) {
	case "continue", ActionGenerateCode:
		return true, true
	case "report", "stop", "done", ActionAnalysisComplete:
		return false, true
	}
	return false, false
}

// Report extracts final report markdown. A yaml final_report key wins,
// then a markdown fence; otherwise the whole reply is the report.
func Report(text string) (string, error) {
	for _, b := range fences(text) {
		if !isYAML(b.lang) {
			continue
		}
		var y yamlReply
		if err := yaml.Unmarshal([]byte(b.body), &y); err == nil && strings.TrimSpace(y.Report) != "" {
			return strings.TrimSpace(y.Report), nil
		}
	}

	if md, ok := markdownFence(text); ok {
		if md == "" {
			return "", ErrEmptyReport
		}
		return md, nil
	}

	report := strings.TrimSpace(text)
	if report == "" {
		return "", ErrEmptyReport
	}
	return report, nil
}

// markdownFence returns the body of a ```markdown fence, closing at the
// last fence line in the reply so code samples inside the report survive.
func markdownFence(text string) (string, bool) {
	lines := strings.Split(text, "\n")
	start := -1
	for i, line := range lines {
		trimmed := strings.ToLower(strings.TrimSpace(line))
		if trimmed == "```markdown" || trimmed == "```md" {
			start = i
			break
		}
	}
	if start < 0 {
		return "", false
	}
	for end := len(lines) - 1; end > start; end-- {
		if strings.TrimSpace(lines[end]) == "```" {
			return strings.TrimSpace(strings.Join(lines[start+1:end], "\n")), true
		}
	}
	return "", false
}
