package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylegalloway/dataflame/internal/sandbox"
)

func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCreateSession(t *testing.T) {
	src := t.TempDir()
	csv := writeInput(t, src, "sales.csv", "a,b\n1,2\n")
	js := writeInput(t, src, "items.json", "[]")

	st := NewStore(filepath.Join(t.TempDir(), "outputs"), 0, nil)
	s, err := st.Create("summarize sales", []string{csv, js})
	require.NoError(t, err)
	defer s.Close()

	assert.Len(t, s.ID, 32)
	assert.Equal(t, "session_"+s.ID, filepath.Base(s.Dir))
	assert.Equal(t, []string{"sales.csv", "items.json"}, s.Inputs)
	assert.FileExists(t, filepath.Join(s.DataDir(), "sales.csv"))
	assert.FileExists(t, filepath.Join(s.DataDir(), "items.json"))
	assert.FileExists(t, filepath.Join(s.Dir, "session.lock"))
	assert.Equal(t, s.Dir, s.ChartDir())

	v, ok := s.Namespace.Lookup(InputFilesVar)
	require.True(t, ok)
	assert.Equal(t, `("sales.csv", "items.json")`, v.String())
	assert.Equal(t, []string{InputFilesVar}, s.Namespace.Names())

	j, err := LoadJournal(s.Dir)
	require.NoError(t, err)
	assert.Equal(t, s.ID, j.SessionID)
	assert.Equal(t, "Init", j.State)
}

func TestCreateSessionsAreDistinct(t *testing.T) {
	src := t.TempDir()
	csv := writeInput(t, src, "a.csv", "x\n1\n")
	st := NewStore(t.TempDir(), 0, nil)

	a, err := st.Create("r", []string{csv})
	require.NoError(t, err)
	defer a.Close()
	b, err := st.Create("r", []string{csv})
	require.NoError(t, err)
	defer b.Close()
	assert.NotEqual(t, a.Dir, b.Dir)
}

func TestCreateRejectsBadInputs(t *testing.T) {
	src := t.TempDir()
	good := writeInput(t, src, "ok.csv", "x\n1\n")
	other := t.TempDir()
	dup := writeInput(t, other, "ok.csv", "y\n2\n")
	xlsx := writeInput(t, src, "book.xlsx", "binary")
	require.NoError(t, os.Mkdir(filepath.Join(src, "dir.csv"), 0o755))

	cases := []struct {
		name    string
		request string
		inputs  []string
		reason  string
	}{
		{"no files", "r", nil, "at least one"},
		{"empty request", " ", []string{good}, "request is empty"},
		{"missing", "r", []string{filepath.Join(src, "nope.csv")}, "does not exist"},
		{"unsupported", "r", []string{xlsx}, "unsupported file type"},
		{"directory", "r", []string{filepath.Join(src, "dir.csv")}, "not a regular file"},
		{"duplicate name", "r", []string{good, dup}, "collides"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root := filepath.Join(t.TempDir(), "out")
			_, err := NewStore(root, 0, nil).Create(tc.request, tc.inputs)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInput))
			var inErr *InputError
			require.ErrorAs(t, err, &inErr)
			assert.Contains(t, inErr.Reason, tc.reason)

			_, statErr := os.Stat(root)
			assert.True(t, os.IsNotExist(statErr), "nothing is written for bad input")
		})
	}
}

func TestAppendNumbersRoundsAndTracksArtifacts(t *testing.T) {
	src := t.TempDir()
	csv := writeInput(t, src, "a.csv", "x\n1\n")
	s, err := NewStore(t.TempDir(), 0, nil).Create("r", []string{csv})
	require.NoError(t, err)
	defer s.Close()

	r1, err := s.Append(Round{Stage: "explore", Code: "x = 1", Outcome: sandbox.Outcome{NewArtifacts: []string{"chart_1.png"}}})
	require.NoError(t, err)
	r2, err := s.Append(Round{Stage: "recover", Code: "y = z", Outcome: sandbox.Outcome{Failure: &sandbox.Failure{Kind: sandbox.KindName, Message: "undefined: z"}}})
	require.NoError(t, err)
	r3, err := s.Append(Round{Stage: "analyze", Code: "y = 2", Outcome: sandbox.Outcome{NewArtifacts: []string{"chart_1.png", "chart_2.png"}}})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, []int{r1.Seq, r2.Seq, r3.Seq})
	assert.Equal(t, []string{"chart_1.png", "chart_2.png"}, s.Artifacts())
	assert.True(t, s.HasArtifact("chart_2.png"))
	assert.False(t, s.HasArtifact("chart_99.png"))

	// The returned log is a copy.
	rounds := s.Rounds()
	rounds[0].Code = "changed"
	assert.Equal(t, "x = 1", s.Rounds()[0].Code)

	require.NoError(t, s.Transition("Explore", ""))
	j, err := LoadJournal(s.Dir)
	require.NoError(t, err)
	assert.Len(t, j.Rounds, 3)
	assert.Equal(t, "Explore", j.State)
	require.Len(t, j.Transitions, 1)
	assert.Equal(t, "Init", j.Transitions[0].From)
	assert.Equal(t, 3, j.Transitions[0].Round)
}

func TestWriteCodeLog(t *testing.T) {
	src := t.TempDir()
	csv := writeInput(t, src, "a.csv", "x\n1\n")
	s, err := NewStore(t.TempDir(), 0, nil).Create("r", []string{csv})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Append(Round{Stage: "explore", Code: "x = 1\n"})
	require.NoError(t, err)
	_, err = s.Append(Round{Stage: "analyze", Code: "y = x / 0", Outcome: sandbox.Outcome{Failure: &sandbox.Failure{Kind: sandbox.KindValue, Message: "division by zero"}}})
	require.NoError(t, err)

	path, err := s.WriteCodeLog()
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "# Round 1 (explore)\n# Execution: ok")
	assert.Contains(t, text, "# Execution: failed (Value)\n#   division by zero")
	assert.True(t, strings.Index(text, "x = 1") < strings.Index(text, "y = x / 0"))
}

func TestLockHeldUntilClose(t *testing.T) {
	dir := t.TempDir()
	l, err := acquireLock(dir, "a")
	require.NoError(t, err)

	_, err = acquireLock(dir, "b")
	assert.ErrorIs(t, err, ErrLocked)

	l.release()
	l2, err := acquireLock(dir, "b")
	require.NoError(t, err)
	l2.release()
}

func TestCheckDiskSpace(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, CheckDiskSpace(dir, 1))
	assert.NoError(t, CheckDiskSpace(dir, 0))
	err := CheckDiskSpace(dir, 1<<40)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient disk space")
	assert.Error(t, CheckDiskSpace(filepath.Join(dir, "missing"), 1))
}
