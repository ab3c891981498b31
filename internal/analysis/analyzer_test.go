package analysis

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylegalloway/dataflame/internal/config"
	"github.com/kylegalloway/dataflame/internal/llm"
	"github.com/kylegalloway/dataflame/internal/report"
	"github.com/kylegalloway/dataflame/internal/sandbox"
	"github.com/kylegalloway/dataflame/internal/session"
)

const salesCSV = "region,revenue,units\nnorth,100,3\nsouth,250.5,7\nnorth,50,1\neast,80,2\n"

func code(src string) string { return "Next step.\n\n```python\n" + src + "\n```\n" }

const (
	exploreCode = `import table
df = table.read_csv("sales.csv")
print(df.columns)`
	analyzeCode = `import plot
by_region = df.group_by("region", "revenue", agg="sum")
chart = plot.bar(by_region["region"], by_region["revenue_sum"], title="Revenue by region", file="revenue.png")`
)

type fixture struct {
	t        *testing.T
	cfg      *config.Config
	client   *llm.ScriptedClient
	renderer *report.MemoryRenderer
	analyzer *Analyzer
	input    string
	progress []Progress
}

func (f *fixture) RoundDone(p Progress) { f.progress = append(f.progress, p) }

func newFixture(t *testing.T, client *llm.ScriptedClient, mutate func(*config.Config)) *fixture {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "sales.csv")
	require.NoError(t, os.WriteFile(input, []byte(salesCSV), 0o644))

	cfg := config.Default()
	cfg.Output.Dir = filepath.Join(dir, "outputs")
	cfg.Output.MinFreeDiskMB = 0
	cfg.Limits.ExecTimeout = 5 * time.Second
	if mutate != nil {
		mutate(cfg)
	}

	f := &fixture{t: t, cfg: cfg, client: client, renderer: &report.MemoryRenderer{}, input: input}
	f.analyzer = New(cfg, client, nil)
	f.analyzer.SetObserver(f)
	f.analyzer.SetRenderer(func(string) report.Renderer { return f.renderer })
	return f
}

func (f *fixture) run(maxRounds int) (*Result, error) {
	return f.analyzer.Analyze(context.Background(), "Which region earns the most?", []string{f.input}, maxRounds)
}

func journal(t *testing.T, res *Result) *session.Journal {
	t.Helper()
	j, err := session.LoadJournal(res.Dir)
	require.NoError(t, err)
	return j
}

func states(j *session.Journal) []string {
	var out []string
	for _, tr := range j.Transitions {
		out = append(out, tr.To)
	}
	return out
}

func lastMessage(msgs []llm.Message) string {
	return msgs[len(msgs)-1].Content
}

func TestAnalyzeSingleRoundForcesReport(t *testing.T) {
	client := llm.Script(
		code(exploreCode),
		code(analyzeCode),
		"```markdown\n# Revenue\n\n![Revenue](revenue.png)\n\n![Old](chart_99.png)\n\nSouth leads.\n```",
	)
	f := newFixture(t, client, nil)

	res, err := f.run(1)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Rounds)
	assert.Equal(t, 2, res.Attempts)
	assert.Zero(t, res.Failures)
	assert.Equal(t, []string{"revenue.png"}, res.Artifacts)
	assert.Equal(t, []string{"chart_99.png"}, res.Dropped)
	assert.False(t, res.Report.Fallback)
	assert.Equal(t, []string{"revenue.png"}, res.Report.Artifacts)
	assert.FileExists(t, filepath.Join(res.Dir, "revenue.png"))
	assert.FileExists(t, filepath.Join(res.Dir, "executed_code.star"))

	// explore, analyze, report: no decision is requested at the round limit.
	require.Len(t, client.Calls(), 3)
	assert.Contains(t, lastMessage(client.Calls()[2]), "Stage: report")
	assert.Contains(t, lastMessage(client.Calls()[2]), "- revenue.png")

	calls := f.renderer.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Markdown, "![Revenue](./revenue.png)")
	assert.NotContains(t, calls[0].Markdown, "chart_99")
	assert.Equal(t, []string{"revenue.png"}, calls[0].Artifacts)

	j := journal(t, res)
	assert.Equal(t, []string{"Explore", "Analyze", "Decide", "Report", "Done"}, states(j))
	assert.Equal(t, "Done", j.State)
	require.NotNil(t, j.Report)
	assert.Equal(t, report.MarkdownFile, j.Report.MarkdownPath)
}

func TestAnalyzeRecoversFromMisspelledColumn(t *testing.T) {
	client := llm.Script(
		code(exploreCode),
		code(`import stats
total = stats.sum(df["revenu"])`),
		code(`import stats
total = stats.sum(df["revenue"])`),
		"```markdown\n# Total\n\nRevenue totals 480.5.\n```",
	)
	f := newFixture(t, client, nil)

	res, err := f.run(1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rounds)
	assert.Equal(t, 1, res.Failures)
	assert.Zero(t, res.Abandoned)

	j := journal(t, res)
	require.Len(t, j.Rounds, 3)
	for i, r := range j.Rounds {
		assert.Equal(t, i+1, r.Seq)
	}
	assert.Equal(t, []string{"explore", "analyze", "recover"}, []string{j.Rounds[0].Stage, j.Rounds[1].Stage, j.Rounds[2].Stage})
	require.NotNil(t, j.Rounds[1].Outcome.Failure)
	assert.Equal(t, sandbox.KindAttributeOrKey, j.Rounds[1].Outcome.Failure.Kind)
	assert.True(t, j.Rounds[2].OK())
	assert.Contains(t, states(j), "Recover")

	recoverPrompt := lastMessage(client.Calls()[2])
	assert.Contains(t, recoverPrompt, "Stage: recover, attempt 1 of 3")
	assert.Contains(t, recoverPrompt, "AttributeOrKey")
	assert.Contains(t, recoverPrompt, "Verify the exact column names")

	require.Len(t, f.progress, 3)
	assert.False(t, f.progress[1].OK)
	assert.Equal(t, sandbox.KindAttributeOrKey, f.progress[1].Kind)
	assert.Equal(t, 1, f.progress[2].Round)
}

func TestAnalyzePolicyViolationAbandonsThread(t *testing.T) {
	client := llm.Script(
		code(exploreCode),
		code("import os\nos.system('rm -rf /')"),
		code("import subprocess"),
		"```markdown\n# Partial\n\nOnly the overview is available.\n```",
	)
	f := newFixture(t, client, func(c *config.Config) { c.Limits.MaxRecoverAttempts = 1 })

	res, err := f.run(1)
	require.NoError(t, err)
	assert.Zero(t, res.Rounds)
	assert.Equal(t, 1, res.Abandoned)
	assert.Equal(t, 2, res.Failures)

	j := journal(t, res)
	require.Len(t, j.Rounds, 3)
	assert.Equal(t, sandbox.KindPolicy, j.Rounds[1].Outcome.Failure.Kind)
	assert.Equal(t, sandbox.KindPolicy, j.Rounds[2].Outcome.Failure.Kind)
	assert.Contains(t, lastMessage(client.Calls()[3]), "Stage: report")
}

func TestAnalyzeNeverExceedsMaxRounds(t *testing.T) {
	client := &llm.ScriptedClient{
		Replies: []llm.ScriptedReply{
			{Text: code(exploreCode)},
			{Text: code("a = 1")},
			{Text: "```yaml\naction: continue\nreasoning: more to see\n```"},
			{Text: code("b = 2")},
			{Text: "```yaml\naction: continue\n```"},
			{Text: code("c = 3")},
			{Text: "# Report\n\nDone."},
		},
		Default: &llm.ScriptedReply{Text: "```yaml\naction: continue\n```"},
	}
	f := newFixture(t, client, nil)

	res, err := f.run(3)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rounds)
	require.Len(t, client.Calls(), 7)
	assert.Contains(t, lastMessage(client.Calls()[2]), "1 of at most 3 analysis rounds")

	j := journal(t, res)
	assert.Equal(t, "Report", j.Transitions[len(j.Transitions)-2].To)
	assert.Equal(t, "round limit 3 reached", j.Transitions[len(j.Transitions)-2].Note)
	assert.Equal(t, "# Report\n\nDone.", f.renderer.Calls()[0].Markdown)
}

func TestAnalyzeModelDecidesToReport(t *testing.T) {
	client := llm.Script(
		code(exploreCode),
		code("a = 1"),
		"report: the question is answered",
		"```markdown\n# Done\n```",
	)
	f := newFixture(t, client, nil)

	res, err := f.run(10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rounds)
	require.Len(t, client.Calls(), 4)
}

func TestAnalyzeUnreadableDecisionContinues(t *testing.T) {
	client := llm.Script(
		code(exploreCode),
		code("a = 1"),
		"hmm, hard to say",
		code("b = 2"),
		"# Report",
	)
	f := newFixture(t, client, nil)

	res, err := f.run(2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rounds)
}

func TestAnalyzeThresholdDecision(t *testing.T) {
	client := llm.Script(
		code(exploreCode),
		code("a = 1"),
		code("b = 2"),
		"# Report",
	)
	f := newFixture(t, client, func(c *config.Config) {
		c.Decision.Mode = config.DecisionThreshold
		c.Decision.Threshold = 2
	})

	res, err := f.run(5)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rounds)
	for _, call := range client.Calls() {
		assert.NotContains(t, lastMessage(call), "Stage: decide")
	}
}

func TestAnalyzeRetriesExtraction(t *testing.T) {
	client := llm.Script(
		code(exploreCode),
		"I would look at revenue by region next.",
		code("a = 1"),
		"# Report",
	)
	f := newFixture(t, client, nil)

	res, err := f.run(1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rounds)
	require.Len(t, client.Calls(), 4)
	assert.Contains(t, lastMessage(client.Calls()[2]), "Note: your previous reply contained no code block")

	j := journal(t, res)
	assert.Len(t, j.Rounds, 2)
}

func TestAnalyzeExtractionExhaustionAbandonsThread(t *testing.T) {
	client := llm.Script(
		code(exploreCode),
		"no code",
		"still no code",
		"# Report",
	)
	f := newFixture(t, client, func(c *config.Config) { c.Limits.MaxExtractionRetries = 1 })

	res, err := f.run(1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Abandoned)
	assert.Zero(t, res.Rounds)
}

func TestAnalyzeFigureRepliesDoNotUseExtractionRetries(t *testing.T) {
	client := llm.Script(
		code(exploreCode),
		code(analyzeCode),
		"continue",
		"```yaml\naction: collect_figures\nreasoning: describe the chart\nfigures_to_collect:\n"+
			"  - filename: revenue.png\n    description: Revenue by region\n    analysis: South leads.\n```",
		code("total = 1"),
		"# Report",
	)
	f := newFixture(t, client, func(c *config.Config) { c.Limits.MaxExtractionRetries = 0 })

	res, err := f.run(2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rounds)
	assert.Zero(t, res.Abandoned)

	calls := client.Calls()
	require.Len(t, calls, 6)
	assert.Contains(t, lastMessage(calls[4]), "Note: the descriptions of revenue.png were recorded")
	assert.Contains(t, lastMessage(calls[5]), "- revenue.png: Revenue by region South leads.")
}

func TestAnalyzeModelReportsComplete(t *testing.T) {
	client := llm.Script(
		code(exploreCode),
		"```yaml\naction: analysis_complete\nreasoning: the overview answers it\n```",
		"# Report",
	)
	f := newFixture(t, client, nil)

	res, err := f.run(5)
	require.NoError(t, err)
	assert.Zero(t, res.Rounds)
	assert.Len(t, client.Calls(), 3)
	assert.Equal(t, "model reported the analysis complete", journal(t, res).Transitions[2].Note)
}

func TestAnalyzeFallbackReportOnModelError(t *testing.T) {
	client := &llm.ScriptedClient{Replies: []llm.ScriptedReply{
		{Text: code(exploreCode)},
		{Err: &llm.ModelError{StatusCode: 401, Err: errors.New("invalid api key")}},
	}}
	f := newFixture(t, client, nil)

	res, err := f.run(3)
	require.NoError(t, err)
	assert.True(t, res.Report.Fallback)
	assert.False(t, res.Cancelled)
	require.Len(t, client.Calls(), 2)

	md := f.renderer.Calls()[0].Markdown
	assert.Contains(t, md, "# Analysis report (partial)")
	assert.Contains(t, md, "invalid api key")
	assert.Contains(t, md, "### Round 1 (explore)")
}

func TestAnalyzeFailsWithoutAnySuccess(t *testing.T) {
	client := &llm.ScriptedClient{Replies: []llm.ScriptedReply{
		{Err: &llm.ModelError{StatusCode: 403, Err: errors.New("forbidden")}},
	}}
	f := newFixture(t, client, nil)

	res, err := f.run(3)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrAnalysis)

	var me *llm.ModelError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, 403, me.StatusCode)

	var ae *AnalysisError
	require.ErrorAs(t, err, &ae)
	assert.Zero(t, ae.Rounds)
	assert.Empty(t, f.renderer.Calls())
}

func TestAnalyzeCancelledBetweenRounds(t *testing.T) {
	client := llm.Script(code(exploreCode))
	f := newFixture(t, client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.analyzer.SetObserver(observerFunc(func(Progress) { cancel() }))

	res, err := f.analyzer.Analyze(ctx, "Summarize", []string{f.input}, 5)
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.True(t, res.Report.Fallback)
	assert.Len(t, client.Calls(), 1)
	assert.Contains(t, f.renderer.Calls()[0].Markdown, "the analysis was cancelled")
}

type observerFunc func(Progress)

func (fn observerFunc) RoundDone(p Progress) { fn(p) }

func TestAnalyzeRejectsBadInput(t *testing.T) {
	f := newFixture(t, llm.Script(), nil)

	_, err := f.analyzer.Analyze(context.Background(), "r", []string{filepath.Join(t.TempDir(), "missing.csv")}, 3)
	assert.ErrorIs(t, err, session.ErrInput)

	_, err = f.analyzer.Analyze(context.Background(), "r", []string{f.input}, 0)
	assert.ErrorIs(t, err, session.ErrInput)

	_, err = f.analyzer.Analyze(context.Background(), "   ", []string{f.input}, 3)
	assert.ErrorIs(t, err, session.ErrInput)

	assert.NoDirExists(t, f.cfg.Output.Dir)
	assert.Empty(t, f.client.Calls())
}

func TestAnalyzeFileRenderer(t *testing.T) {
	client := llm.Script(
		code(exploreCode),
		code(analyzeCode),
		"```markdown\n# Revenue\n\n![Revenue by region](revenue.png)\n```",
	)
	f := newFixture(t, client, nil)
	f.analyzer.SetRenderer(func(dir string) report.Renderer { return report.NewFileRenderer(dir) })

	res, err := f.run(1)
	require.NoError(t, err)

	md, err := os.ReadFile(res.Report.MarkdownPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "![Revenue by region](./revenue.png)")

	doc, err := os.ReadFile(res.Report.DocumentPath)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(doc), `src="./revenue.png"`))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateInit, StateExplore))
	assert.True(t, CanTransition(StateDecide, StateAnalyze))
	assert.True(t, CanTransition(StateRecover, StateRecover))
	assert.False(t, CanTransition(StateInit, StateReport))
	assert.False(t, CanTransition(StateDone, StateAnalyze))
}
