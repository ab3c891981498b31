package report

import (
	"bytes"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
)

const (
	MarkdownFile = "report.md"
	DocumentFile = "report.html"
)

// Output locates the rendered report files.
type Output struct {
	MarkdownPath string
	DocumentPath string
}

// Renderer writes a checked report. artifacts lists the chart files the
// report references.
type Renderer interface {
	Render(markdown string, artifacts []string) (Output, error)
}

// FileRenderer writes report.md and an HTML rendering into Dir, next to
// the charts so relative image links resolve.
type FileRenderer struct {
	Dir string
	md  goldmark.Markdown
}

// NewFileRenderer creates a renderer writing into dir.
func NewFileRenderer(dir string) *FileRenderer {
	return &FileRenderer{
		Dir: dir,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		),
	}
}

// Render implements Renderer.
func (r *FileRenderer) Render(markdown string, artifacts []string) (Output, error) {
	for _, a := range artifacts {
		if _, err := os.Stat(filepath.Join(r.Dir, a)); err != nil {
			return Output{}, fmt.Errorf("%w: %s", ErrIntegrity, a)
		}
	}

	out := Output{
		MarkdownPath: filepath.Join(r.Dir, MarkdownFile),
		DocumentPath: filepath.Join(r.Dir, DocumentFile),
	}
	if err := os.WriteFile(out.MarkdownPath, []byte(markdown), 0o644); err != nil {
		return Output{}, fmt.Errorf("write report: %w", err)
	}

	var body bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &body); err != nil {
		return Output{}, fmt.Errorf("convert report: %w", err)
	}
	doc := fmt.Sprintf(documentTemplate, html.EscapeString(Title(markdown)), body.String())
	if err := os.WriteFile(out.DocumentPath, []byte(doc), 0o644); err != nil {
		return Output{}, fmt.Errorf("write report document: %w", err)
	}
	return out, nil
}

const documentTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: sans-serif; max-width: 52em; margin: 2em auto; line-height: 1.5; }
img { max-width: 100%%; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 0.3em 0.6em; }
pre { background: #f6f6f6; padding: 0.8em; overflow-x: auto; }
</style>
</head>
<body>
%s</body>
</html>
`

// Title returns the first level-one heading, or a generic title.
func Title(markdown string) string {
	for _, line := range strings.Split(markdown, "\n") {
		if t, ok := strings.CutPrefix(strings.TrimSpace(line), "# "); ok && strings.TrimSpace(t) != "" {
			return strings.TrimSpace(t)
		}
	}
	return "Analysis report"
}

// MemoryRenderer records renders without touching the filesystem.
type MemoryRenderer struct {
	Err error

	mu    sync.Mutex
	calls []Rendered
}

// Rendered is one recorded MemoryRenderer call.
type Rendered struct {
	Markdown  string
	Artifacts []string
}

// Render implements Renderer.
func (m *MemoryRenderer) Render(markdown string, artifacts []string) (Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return Output{}, m.Err
	}
	m.calls = append(m.calls, Rendered{Markdown: markdown, Artifacts: append([]string(nil), artifacts...)})
	return Output{MarkdownPath: MarkdownFile, DocumentPath: DocumentFile}, nil
}

// Calls returns the recorded renders.
func (m *MemoryRenderer) Calls() []Rendered {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Rendered(nil), m.calls...)
}
