package feedback

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kylegalloway/dataflame/internal/sandbox"
)

func TestFormatSuccess(t *testing.T) {
	f := New(0, 0)
	text := f.Format(sandbox.Outcome{
		Stdout: "(4, 3)\n",
		NewVars: []sandbox.VarInfo{
			{Name: "df", Type: "table", Summary: "shape=(4, 3) columns=[a, b, c]"},
			{Name: "fn", Type: "function"},
		},
		NewArtifacts: []string{"chart_1.png"},
		Duration:     1234 * time.Microsecond,
	})
	assert.Contains(t, text, "Execution succeeded in 1ms.")
	assert.Contains(t, text, "- df (table): shape=(4, 3) columns=[a, b, c]")
	assert.Contains(t, text, "- fn (function)\n")
	assert.Contains(t, text, "New charts: chart_1.png")
	assert.Contains(t, text, "Output:\n(4, 3)")
}

func TestFormatEmptySuccess(t *testing.T) {
	text := New(0, 0).Format(sandbox.Outcome{})
	assert.Contains(t, text, "No variables changed.")
	assert.Contains(t, text, "Output: (none)")
}

func TestFormatFailureHints(t *testing.T) {
	f := New(0, 0)
	cases := map[sandbox.Kind]string{
		sandbox.KindAttributeOrKey: "column names",
		sandbox.KindEncoding:       "encoding=",
		sandbox.KindPolicy:         "allowed modules",
		sandbox.KindTimeout:        "time limit",
	}
	for kind, want := range cases {
		text := f.Format(sandbox.Outcome{
			Stdout:  "partial\n",
			Failure: &sandbox.Failure{Kind: kind, Message: "boom", Trace: "Traceback..."},
		})
		assert.Contains(t, text, "Execution failed: "+string(kind), kind)
		assert.Contains(t, text, "Error: boom", kind)
		assert.Contains(t, text, "Hint: ", kind)
		assert.Contains(t, text, want, kind)
		assert.Contains(t, text, "Partial output:\npartial", kind)
		assert.Contains(t, text, "Trace:\nTraceback...", kind)
	}
}

func TestFormatIterationHint(t *testing.T) {
	text := New(0, 0).Format(sandbox.Outcome{
		Failure: &sandbox.Failure{Kind: sandbox.KindValue, Message: "append: cannot append to list during iteration"},
	})
	assert.Contains(t, text, "after the loop")
}

func TestFormatTruncatesStdout(t *testing.T) {
	f := New(100, 0)
	text := f.Format(sandbox.Outcome{Stdout: strings.Repeat("x", 500)})
	assert.Contains(t, text, TruncatedMarker)
	assert.NotContains(t, text, strings.Repeat("x", 101))
}

func TestFormatBudget(t *testing.T) {
	vars := make([]sandbox.VarInfo, 50)
	for i := range vars {
		vars[i] = sandbox.VarInfo{Name: strings.Repeat("v", 30), Type: "list", Summary: strings.Repeat("s", 100)}
	}
	text := New(2000, 500).Format(sandbox.Outcome{NewVars: vars, Stdout: strings.Repeat("y", 2000)})
	assert.LessOrEqual(t, len(text), 500)
	assert.True(t, strings.HasSuffix(text, TruncatedMarker))
}

func TestFormatRedactsSecrets(t *testing.T) {
	text := New(0, 0).Format(sandbox.Outcome{Stdout: "api_key=abcdefghijklmnopqrstu\n"})
	assert.NotContains(t, text, "abcdefghijklmnopqrstu")
}

func TestFormatNeverPanics(t *testing.T) {
	// A nil formatter panics internally.
	var f *Formatter
	assert.Equal(t, Unformattable, f.Format(sandbox.Outcome{Stdout: "x"}))
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "ok", OneLine(sandbox.Outcome{}))
	assert.Equal(t, "ok; set a, b; charts c.png", OneLine(sandbox.Outcome{
		NewVars:      []sandbox.VarInfo{{Name: "a"}, {Name: "b"}},
		NewArtifacts: []string{"c.png"},
	}))
	assert.Equal(t, "failed Name: undefined: x", OneLine(sandbox.Outcome{
		Failure: &sandbox.Failure{Kind: sandbox.KindName, Message: "undefined: x\nmore"},
	}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	out := Truncate(strings.Repeat("é", 50), 30)
	assert.LessOrEqual(t, len(out), 30)
	assert.True(t, strings.HasSuffix(out, TruncatedMarker))
	assert.True(t, strings.HasPrefix(out, "é"))
}
