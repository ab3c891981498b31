// Package session owns the per-analysis working directory: copied inputs,
// chart artifacts, the round log and its on-disk journal.
package session

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.starlark.net/starlark"

	"github.com/kylegalloway/dataflame/internal/sandbox"
)

const (
	dataDir     = "data"
	codeLogFile = "executed_code.star"
)

// InputFilesVar is the namespace binding listing the input file names.
const InputFilesVar = "input_files"

// Store creates sessions under a root output directory.
type Store struct {
	root      string
	minFreeMB int
	logger    *slog.Logger
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string, minFreeMB int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{root: dir, minFreeMB: minFreeMB, logger: logger}
}

// Create validates the inputs, then creates a fresh session directory,
// copies the inputs into its data directory and takes the session lock.
// Input problems are reported as *InputError before anything is written.
func (st *Store) Create(request string, inputs []string) (*Session, error) {
	if strings.TrimSpace(request) == "" {
		return nil, &InputError{Reason: "analysis request is empty"}
	}
	if err := ValidateInputs(inputs); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(st.root, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if err := CheckDiskSpace(st.root, st.minFreeMB); err != nil {
		return nil, err
	}

	id := uuid.New()
	sessionID := hex.EncodeToString(id[:])
	dir := filepath.Join(st.root, "session_"+sessionID)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	s, err := st.populate(dir, sessionID, request, inputs)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	st.logger.Info("session created", "session_id", sessionID, "dir", dir, "inputs", len(inputs))
	return s, nil
}

func (st *Store) populate(dir, sessionID, request string, inputs []string) (*Session, error) {
	if err := os.Mkdir(filepath.Join(dir, dataDir), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	lock, err := acquireLock(dir, sessionID)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if err := copyInput(in, filepath.Join(dir, dataDir)); err != nil {
			lock.release()
			return nil, err
		}
		names = append(names, filepath.Base(in))
	}

	s := &Session{
		ID:        sessionID,
		Dir:       dir,
		Request:   request,
		Inputs:    names,
		Namespace: sandbox.NewNamespace(),
		artifacts: make(map[string]bool),
		lock:      lock,
		logger:    st.logger.With("session_id", sessionID),
		journal: Journal{
			SessionID: sessionID,
			Request:   request,
			Inputs:    names,
			State:     "Init",
			StartTime: time.Now(),
		},
	}

	files := make(starlark.Tuple, len(names))
	for i, n := range names {
		files[i] = starlark.String(n)
	}
	s.Namespace.Bind(InputFilesVar, files)

	if err := s.save(); err != nil {
		lock.release()
		return nil, err
	}
	return s, nil
}

// Session is the state of one analysis. It is used by a single goroutine.
type Session struct {
	ID        string
	Dir       string
	Request   string
	Inputs    []string
	Namespace *sandbox.Namespace

	journal   Journal
	artifacts map[string]bool
	lock      *dirLock
	logger    *slog.Logger
}

// DataDir holds the copied input files.
func (s *Session) DataDir() string { return filepath.Join(s.Dir, dataDir) }

// ChartDir is the session directory itself; charts sit next to the report.
func (s *Session) ChartDir() string { return s.Dir }

// Path returns the absolute path of a file in the session directory.
func (s *Session) Path(name string) string { return filepath.Join(s.Dir, name) }

// Append assigns the next sequence number to r, records its artifacts and
// persists the journal. The returned Round is the stored copy.
func (s *Session) Append(r Round) (Round, error) {
	r.Seq = len(s.journal.Rounds) + 1
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	for _, a := range r.Outcome.NewArtifacts {
		if !s.artifacts[a] {
			s.artifacts[a] = true
			s.journal.Artifacts = append(s.journal.Artifacts, a)
		}
	}
	s.journal.Rounds = append(s.journal.Rounds, r)
	return r, s.save()
}

// Rounds returns the round log in order.
func (s *Session) Rounds() []Round {
	return slices.Clone(s.journal.Rounds)
}

// Artifacts lists chart files produced by successful rounds, in creation order.
func (s *Session) Artifacts() []string {
	return slices.Clone(s.journal.Artifacts)
}

// HasArtifact reports whether name belongs to the artifact set.
func (s *Session) HasArtifact(name string) bool { return s.artifacts[name] }

// State returns the last recorded loop state.
func (s *Session) State() string { return s.journal.State }

// Transition records a loop state change.
func (s *Session) Transition(to, note string) error {
	t := Transition{From: s.journal.State, To: to, Round: len(s.journal.Rounds), Note: note, At: time.Now()}
	s.journal.Transitions = append(s.journal.Transitions, t)
	s.journal.State = to
	s.logger.Debug("state transition", "from", t.From, "to", to, "round", t.Round, "note", note)
	return s.save()
}

// SetReport records the rendered report.
func (s *Session) SetReport(ref ReportRef) error {
	s.journal.Report = &ref
	return s.save()
}

// Report returns the recorded report, if any.
func (s *Session) Report() (ReportRef, bool) {
	if s.journal.Report == nil {
		return ReportRef{}, false
	}
	return *s.journal.Report, true
}

// WriteCodeLog writes every executed fragment, annotated with its outcome,
// to executed_code.star in the session directory.
func (s *Session) WriteCodeLog() (string, error) {
	var b strings.Builder
	b.WriteString("# Executed code history\n")
	fmt.Fprintf(&b, "# Session %s, %d rounds\n\n", s.ID, len(s.journal.Rounds))
	rule := strings.Repeat("=", 72)
	for _, r := range s.journal.Rounds {
		if strings.TrimSpace(r.Code) == "" {
			continue
		}
		fmt.Fprintf(&b, "# %s\n# Round %d (%s)\n", rule, r.Seq, r.Stage)
		if r.OK() {
			b.WriteString("# Execution: ok\n")
		} else {
			fmt.Fprintf(&b, "# Execution: failed (%s)\n", r.Outcome.Failure.Kind)
			for _, line := range strings.Split(r.Outcome.Failure.Message, "\n") {
				fmt.Fprintf(&b, "#   %s\n", line)
			}
		}
		fmt.Fprintf(&b, "# %s\n\n%s\n\n", rule, strings.TrimRight(r.Code, "\n"))
	}

	path := s.Path(codeLogFile)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write code log: %w", err)
	}
	return path, nil
}

// Close persists the journal and releases the session lock. Artifacts
// stay on disk.
func (s *Session) Close() error {
	err := s.save()
	s.lock.release()
	return err
}

func (s *Session) save() error {
	if err := saveJournal(s.Dir, &s.journal); err != nil {
		return fmt.Errorf("save journal: %w", err)
	}
	return nil
}
