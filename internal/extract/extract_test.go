package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeFromYAML(t *testing.T) {
	reply := "Here is the next step.\n\n```yaml\naction: \"generate_code\"\nreasoning: \"Load the data\"\ncode: |\n  df = table.read_csv(\"sales.csv\")\n  print(df.columns)\nnext_steps: [\"inspect\", \"plot\"]\nfigures:\n  - file: chart_1.png\n    description: revenue by region\n```\n"
	r, err := Code(reply)
	require.NoError(t, err)
	assert.Equal(t, ActionGenerateCode, r.Action)
	assert.Equal(t, "Load the data", r.Reasoning)
	assert.Equal(t, "df = table.read_csv(\"sales.csv\")\nprint(df.columns)", r.Code)
	assert.Equal(t, []string{"inspect", "plot"}, r.NextSteps)
	require.Len(t, r.Figures, 1)
	assert.Equal(t, "chart_1.png", r.Figures[0].File)
	assert.False(t, r.Complete())
}

func TestCodeFromFence(t *testing.T) {
	for _, lang := range []string{"python", "starlark", "py", ""} {
		reply := "I will check the columns first.\n```" + lang + "\nprint(df.columns)\n```\nThen plot."
		r, err := Code(reply)
		require.NoError(t, err, lang)
		assert.Equal(t, "print(df.columns)", r.Code, lang)
		assert.Equal(t, "I will check the columns first.\nThen plot.", r.Reasoning, lang)
	}
}

func TestCodeTildeFence(t *testing.T) {
	r, err := Code("~~~python\nx = 1\n~~~")
	require.NoError(t, err)
	assert.Equal(t, "x = 1", r.Code)
}

func TestCodeAnalysisComplete(t *testing.T) {
	r, err := Code("```yaml\naction: analysis_complete\nreasoning: all questions answered\n```")
	require.NoError(t, err)
	assert.True(t, r.Complete())
	assert.Equal(t, "all questions answered", r.Reasoning)
}

func TestCodeCollectFigures(t *testing.T) {
	reply := "```yaml\naction: \"collect_figures\"\nreasoning: two charts are ready\nfigures_to_collect:\n" +
		"  - figure_number: 1\n    filename: \"revenue.png\"\n    file_path: \"/tmp/out/session_1/revenue.png\"\n" +
		"    description: \"Revenue by region\"\n    analysis: \"North leads.\"\n" +
		"  - figure_number: 2\n    file_path: \"/tmp/out/session_1/units.png\"\n    description: \"Units sold\"\n```"
	r, err := Code(reply)
	require.NoError(t, err)
	assert.True(t, r.CollectsFigures())
	assert.False(t, r.Complete())
	assert.Empty(t, r.Code)
	assert.Equal(t, []Figure{
		{File: "revenue.png", Description: "Revenue by region North leads."},
		{File: "units.png", Description: "Units sold"},
	}, r.Figures)

	_, err = Code("```yaml\naction: collect_figures\nreasoning: nothing to list\n```")
	assert.ErrorIs(t, err, ErrNoCodeBlock)
}

func TestCodeFailsClosed(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		want  error
	}{
		{"prose only", "df = table.read_csv('a.csv')", ErrNoCodeBlock},
		{"unclosed fence", "```python\nx = 1\n", ErrNoCodeBlock},
		{"empty fence", "```python\n\n```", ErrNoCodeBlock},
		{"other language", "```sql\nselect 1\n```", ErrNoCodeBlock},
		{"invalid yaml", "```yaml\ncode: [unclosed\n```", ErrNoCodeBlock},
		{"yaml without code", "```yaml\nreasoning: thinking\n```", ErrNoCodeBlock},
		{"two code blocks", "```python\nx = 1\n```\nor\n```python\nx = 2\n```", ErrAmbiguousCode},
		{"two yaml blocks", "```yaml\ncode: x = 1\n```\n```yaml\ncode: x = 2\n```", ErrAmbiguousCode},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Code(tc.reply)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCodeYAMLPreferredOverFence(t *testing.T) {
	reply := "```python\nprint('example')\n```\n```yaml\ncode: x = 1\n```"
	r, err := Code(reply)
	require.NoError(t, err)
	assert.Equal(t, "x = 1", r.Code)
}

func TestParseDecision(t *testing.T) {
	cases := []struct {
		reply string
		cont  bool
	}{
		{"```yaml\naction: continue\nreasoning: check seasonality\n```", true},
		{"```yaml\ndecision: report\n```", false},
		{"```yaml\naction: analysis_complete\n```", false},
		{"CONTINUE - look at regional trends", true},
		{"**Report**: enough evidence", false},
		{"stop.", false},
	}
	for _, tc := range cases {
		d, err := ParseDecision(tc.reply)
		require.NoError(t, err, tc.reply)
		assert.Equal(t, tc.cont, d.Continue, tc.reply)
	}

	d, err := ParseDecision("```yaml\naction: continue\nreasoning: check seasonality\n```")
	require.NoError(t, err)
	assert.Equal(t, "check seasonality", d.Reason)

	_, err = ParseDecision("maybe, hard to say")
	assert.ErrorIs(t, err, ErrNoDecision)
}

func TestReport(t *testing.T) {
	md := "# Sales Report\n\n![Revenue](./chart_1.png)\n\n```python\nx = 1\n```\n\nDone."

	got, err := Report("```markdown\n" + md + "\n```")
	require.NoError(t, err)
	assert.Equal(t, md, got)

	got, err = Report("```yaml\naction: analysis_complete\nfinal_report: |\n  # Title\n  Body\n```")
	require.NoError(t, err)
	assert.Equal(t, "# Title\nBody", got)

	got, err = Report("  # Plain report\n")
	require.NoError(t, err)
	assert.Equal(t, "# Plain report", got)

	_, err = Report("   ")
	assert.ErrorIs(t, err, ErrEmptyReport)
	_, err = Report("```markdown\n\n```")
	assert.ErrorIs(t, err, ErrEmptyReport)
}
