// Package report validates model-written reports against the session's
// artifacts and renders them to disk.
package report

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// ErrIntegrity marks a report reference to a file that is not a session
// artifact. Such references are dropped, never returned to the caller.
var ErrIntegrity = errors.New("report references a missing artifact")

// refPattern matches Markdown images and links: ![alt](target "title").
var refPattern = regexp.MustCompile(`(!?)\[([^\]]*)\]\(\s*<?([^)\s>]+)>?(?:\s+"[^"]*")?\s*\)`)

var artifactExts = map[string]bool{".png": true, ".svg": true, ".jpg": true, ".jpeg": true, ".gif": true}

// Checked is the outcome of Check.
type Checked struct {
	Markdown   string
	Referenced []string
	Dropped    []string
}

// Errors returns one ErrIntegrity error per dropped reference.
func (c Checked) Errors() []error {
	errs := make([]error, 0, len(c.Dropped))
	for _, ref := range c.Dropped {
		errs = append(errs, fmt.Errorf("%w: %s", ErrIntegrity, ref))
	}
	return errs
}

// Check rewrites markdown so that every image, and every link to an
// image file, points at an existing artifact. References resolve by base
// name and are normalized to ./name. A dangling image is removed; a
// dangling link keeps its text. Fenced code is left alone.
func Check(markdown string, artifacts []string) Checked {
	known := make(map[string]bool, len(artifacts))
	for _, a := range artifacts {
		known[path.Base(a)] = true
	}

	var c Checked
	seen := make(map[string]bool)
	lines := strings.Split(markdown, "\n")
	fence := ""
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if fence != "" {
			if strings.HasPrefix(trimmed, fence) {
				fence = ""
			}
			continue
		}
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			fence = trimmed[:3]
			continue
		}
		lines[i] = refPattern.ReplaceAllStringFunc(line, func(m string) string {
			sub := refPattern.FindStringSubmatch(m)
			image, text, target := sub[1] == "!", sub[2], sub[3]
			if !local(target) || (!image && !artifactExts[strings.ToLower(path.Ext(target))]) {
				return m
			}
			name := path.Base(strings.ReplaceAll(target, `\`, "/"))
			if !known[name] {
				c.Dropped = append(c.Dropped, target)
				if image {
					return ""
				}
				return text
			}
			if !seen[name] {
				seen[name] = true
				c.Referenced = append(c.Referenced, name)
			}
			return fmt.Sprintf("%s[%s](./%s)", sub[1], text, name)
		})
	}
	c.Markdown = strings.Join(lines, "\n")
	return c
}

func local(target string) bool {
	if strings.HasPrefix(target, "#") || strings.HasPrefix(target, "mailto:") || strings.HasPrefix(target, "data:") {
		return false
	}
	return !strings.Contains(target, "://")
}
