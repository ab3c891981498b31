package report

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylegalloway/dataflame/internal/sandbox"
	"github.com/kylegalloway/dataflame/internal/session"
)

func TestCheckDropsDanglingImage(t *testing.T) {
	md := "# Sales\n\n![Revenue](./revenue.png)\n\n![Missing](chart_99.png)\n\nDone."
	c := Check(md, []string{"revenue.png"})

	assert.Equal(t, "# Sales\n\n![Revenue](./revenue.png)\n\n\n\nDone.", c.Markdown)
	assert.Equal(t, []string{"revenue.png"}, c.Referenced)
	assert.Equal(t, []string{"chart_99.png"}, c.Dropped)

	errs := c.Errors()
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], ErrIntegrity))
	assert.Contains(t, errs[0].Error(), "chart_99.png")
}

func TestCheckReferences(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		want       string
		referenced []string
		dropped    []string
	}{
		{
			name:       "nested path resolves by base name",
			in:         "![a](outputs/session_1/a.png)",
			want:       "![a](./a.png)",
			referenced: []string{"a.png"},
		},
		{
			name:       "title is dropped on rewrite",
			in:         `![a](a.png "Chart A")`,
			want:       "![a](./a.png)",
			referenced: []string{"a.png"},
		},
		{
			name:    "dangling link keeps its text",
			in:      "see [the chart](gone.svg) above",
			want:    "see the chart above",
			dropped: []string{"gone.svg"},
		},
		{
			name: "links to other files are untouched",
			in:   "[data](data/sales.csv) and [docs](https://example.com/x.png)",
			want: "[data](data/sales.csv) and [docs](https://example.com/x.png)",
		},
		{
			name: "anchors are untouched",
			in:   "[jump](#findings)",
			want: "[jump](#findings)",
		},
		{
			name: "fenced code is untouched",
			in:   "```\n![x](nope.png)\n```",
			want: "```\n![x](nope.png)\n```",
		},
		{
			name:       "repeated reference listed once",
			in:         "![a](a.png) ![again](./a.png)",
			want:       "![a](./a.png) ![again](./a.png)",
			referenced: []string{"a.png"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Check(tt.in, []string{"a.png", "b.png"})
			assert.Equal(t, tt.want, c.Markdown)
			assert.Equal(t, tt.referenced, c.Referenced)
			assert.Equal(t, tt.dropped, c.Dropped)
		})
	}
}

func TestFileRendererWritesBothDocuments(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), []byte("png"), 0o644))

	md := "# Regional sales\n\n![a](./a.png)\n\n| region | revenue |\n|---|---|\n| north | 150 |\n\n<script>alert(1)</script>\n"
	out, err := NewFileRenderer(dir).Render(md, []string{"a.png"})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, MarkdownFile), out.MarkdownPath)
	assert.Equal(t, filepath.Join(dir, DocumentFile), out.DocumentPath)

	gotMD, err := os.ReadFile(out.MarkdownPath)
	require.NoError(t, err)
	assert.Equal(t, md, string(gotMD))

	doc, err := os.ReadFile(out.DocumentPath)
	require.NoError(t, err)
	assert.Contains(t, string(doc), "<title>Regional sales</title>")
	assert.Contains(t, string(doc), `<img src="./a.png" alt="a">`)
	assert.Contains(t, string(doc), "<table>")
	assert.NotContains(t, string(doc), "<script>")
}

func TestFileRendererRejectsMissingArtifact(t *testing.T) {
	_, err := NewFileRenderer(t.TempDir()).Render("# r", []string{"nope.png"})
	require.ErrorIs(t, err, ErrIntegrity)
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Findings", Title("intro\n# Findings\n## more"))
	assert.Equal(t, "Analysis report", Title("## only level two"))
}

func TestMemoryRenderer(t *testing.T) {
	m := &MemoryRenderer{}
	out, err := m.Render("# r", []string{"a.png"})
	require.NoError(t, err)
	assert.Equal(t, MarkdownFile, out.MarkdownPath)
	require.Len(t, m.Calls(), 1)
	assert.Equal(t, []string{"a.png"}, m.Calls()[0].Artifacts)

	m.Err = errors.New("disk full")
	_, err = m.Render("# r", nil)
	assert.EqualError(t, err, "disk full")
}

func TestFallback(t *testing.T) {
	rounds := []session.Round{
		{
			Seq: 1, Stage: "explore", Reasoning: "Load the data.",
			Outcome: sandbox.Outcome{Stdout: "['region', 'revenue']", NewVars: []sandbox.VarInfo{{Name: "df"}}},
		},
		{
			Seq: 2, Stage: "analyze",
			Outcome: sandbox.Outcome{Failure: &sandbox.Failure{Kind: sandbox.KindAttributeOrKey, Message: `column "revenu" not found`}},
		},
	}
	md := Fallback(FallbackInput{
		Request:   "Compare regions",
		Rounds:    rounds,
		Artifacts: []string{"revenue.png"},
		Reason:    "the model service was unavailable",
	})

	assert.Contains(t, md, "# Analysis report (partial)")
	assert.Contains(t, md, "because the model service was unavailable.")
	assert.Contains(t, md, "## Request\n\nCompare regions")
	assert.Contains(t, md, "### Round 1 (explore)\n\nLoad the data.\n\nOutcome: ok; set df")
	assert.Contains(t, md, "```\n['region', 'revenue']\n```")
	assert.Contains(t, md, `Outcome: failed AttributeOrKey: column "revenu" not found`)
	assert.Contains(t, md, "![revenue.png](./revenue.png)")
	assert.Contains(t, md, "1 of 2 executions failed")

	// A fallback report always passes its own integrity check.
	c := Check(md, []string{"revenue.png"})
	assert.Empty(t, c.Dropped)
}

func TestFallbackWithoutRounds(t *testing.T) {
	md := Fallback(FallbackInput{Request: "r"})
	assert.Contains(t, md, "No analysis step was executed.")
	assert.NotContains(t, md, "## Charts")
	assert.NotContains(t, md, "## Notes")
}
