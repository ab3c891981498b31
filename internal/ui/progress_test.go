package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kylegalloway/dataflame/internal/analysis"
	"github.com/kylegalloway/dataflame/internal/session"
)

func TestFormatProgress(t *testing.T) {
	tests := []struct {
		name string
		ps   ProgressState
		want string
	}{
		{
			name: "ok",
			ps:   ProgressState{Stage: "analyze", Round: 3, MaxRounds: 20, OK: true, Charts: 2, Elapsed: 12400 * time.Millisecond},
			want: "[analyze] round 3/20 | ok | 2 charts | 12s",
		},
		{
			name: "failed with kind",
			ps:   ProgressState{Stage: "recover", Round: 1, MaxRounds: 5, Kind: "AttributeOrKey", Charts: 1, Elapsed: time.Minute},
			want: "[recover] round 1/5 | failed AttributeOrKey | 1 chart | 1m0s",
		},
		{
			name: "failed without kind",
			ps:   ProgressState{Stage: "explore", MaxRounds: 5},
			want: "[explore] round 0/5 | failed | 0 charts | 0s",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatProgress(tt.ps))
		})
	}
}

func TestFormatSummary(t *testing.T) {
	s := SessionSummary{
		SessionID:    "abc123",
		Dir:          "outputs/session_abc123",
		Rounds:       3,
		MaxRounds:    20,
		Attempts:     5,
		Failures:     2,
		Abandoned:    1,
		Charts:       []string{"revenue.png", "units.svg"},
		Dropped:      []string{"chart_99.png"},
		ReportPath:   "outputs/session_abc123/report.md",
		DocumentPath: "outputs/session_abc123/report.html",
		Duration:     90 * time.Second,
	}

	got := FormatSummary(s)
	for _, want := range []string{
		"Session:    abc123",
		"Duration:   1m30s",
		"Rounds:     3/20",
		"Total:     5",
		"Failed:    2",
		"Abandoned: 1",
		"Charts:     2",
		"  revenue.png\n",
		"dropped from report: chart_99.png",
		"Markdown:  outputs/session_abc123/report.md",
		"Document:  outputs/session_abc123/report.html",
	} {
		assert.Contains(t, got, want)
	}
	assert.NotContains(t, got, "partial")
}

func TestFormatSummaryPartial(t *testing.T) {
	got := FormatSummary(SessionSummary{SessionID: "x", Fallback: true})
	assert.Contains(t, got, "assembled without the model")

	got = FormatSummary(SessionSummary{SessionID: "x", Fallback: true, Cancelled: true})
	assert.Contains(t, got, "the analysis was cancelled")
	assert.NotContains(t, got, "Document:")
}

func TestPrinterPlainOutput(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	assert.False(t, IsTerminal(&buf))

	p.RoundDone(analysis.Progress{State: analysis.StateAnalyze, Round: 2, MaxRounds: 4, OK: true, Charts: 1, Elapsed: 3 * time.Second})
	assert.Equal(t, "[analyze] round 2/4 | ok | 1 chart | 3s\n", buf.String())

	buf.Reset()
	p.Summary(&analysis.Result{
		SessionID: "s1",
		Rounds:    2,
		Report:    session.ReportRef{MarkdownPath: "report.md"},
	}, 4)
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "\n=== Session Summary ==="))
	assert.Contains(t, out, "Rounds:     2/4")
	assert.NotContains(t, out, "\x1b[")
}

func TestSummarize(t *testing.T) {
	res := &analysis.Result{
		SessionID: "s1",
		Rounds:    1,
		Artifacts: []string{"a.png"},
		Report:    session.ReportRef{MarkdownPath: "r.md", DocumentPath: "r.html", Fallback: true},
		Cancelled: true,
	}
	s := Summarize(res, 3)
	assert.Equal(t, 3, s.MaxRounds)
	assert.Equal(t, []string{"a.png"}, s.Charts)
	assert.Equal(t, "r.html", s.DocumentPath)
	assert.True(t, s.Fallback)
	assert.True(t, s.Cancelled)
}
