package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kylegalloway/dataflame/internal/sandbox"
)

const journalFile = "journal.json"

// Round is one ask-execute-summarize cycle. Rounds are immutable once
// appended to a session.
type Round struct {
	Seq       int             `json:"seq"`
	Stage     string          `json:"stage"`
	Code      string          `json:"code"`
	Outcome   sandbox.Outcome `json:"outcome"`
	Summary   string          `json:"summary"`
	Reasoning string          `json:"reasoning,omitempty"`
	Time      time.Time       `json:"time"`
}

// OK reports whether the round's execution succeeded.
func (r Round) OK() bool { return r.Outcome.OK() }

// Transition records one state change of the analysis loop.
type Transition struct {
	From  string    `json:"from"`
	To    string    `json:"to"`
	Round int       `json:"round"`
	Note  string    `json:"note,omitempty"`
	At    time.Time `json:"at"`
}

// ReportRef points at the rendered report files inside the session directory.
type ReportRef struct {
	MarkdownPath string   `json:"markdown_path"`
	DocumentPath string   `json:"document_path,omitempty"`
	Artifacts    []string `json:"artifacts,omitempty"`
	Fallback     bool     `json:"fallback,omitempty"`
}

// Journal is the persisted record of a session, rewritten after every change.
type Journal struct {
	SessionID   string       `json:"session_id"`
	Request     string       `json:"request"`
	Inputs      []string     `json:"inputs"`
	State       string       `json:"state"`
	Rounds      []Round      `json:"rounds"`
	Transitions []Transition `json:"transitions"`
	Artifacts   []string     `json:"artifacts"`
	Report      *ReportRef   `json:"report,omitempty"`
	StartTime   time.Time    `json:"start_time"`
	LastSave    time.Time    `json:"last_save"`
}

// saveJournal persists the journal atomically.
func saveJournal(dir string, j *Journal) error {
	j.LastSave = time.Now()

	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal journal: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "journal-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, filepath.Join(dir, journalFile)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// LoadJournal reads the journal of the session stored in dir.
func LoadJournal(dir string) (*Journal, error) {
	data, err := os.ReadFile(filepath.Join(dir, journalFile))
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	var j Journal
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse journal: %w", err)
	}
	return &j, nil
}
