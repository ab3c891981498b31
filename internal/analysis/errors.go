package analysis

import (
	"errors"
	"fmt"
)

// ErrAnalysis marks an analysis that ended without any successful round,
// so no report could be written.
var ErrAnalysis = errors.New("analysis failed")

// AnalysisError is returned when a session produced no usable result.
// Rounds counts the rounds that were attempted.
type AnalysisError struct {
	SessionID string
	Rounds    int
	Err       error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis failed after %d rounds: %v", e.Rounds, e.Err)
}

// Unwrap exposes both ErrAnalysis and the underlying cause.
func (e *AnalysisError) Unwrap() []error { return []error{ErrAnalysis, e.Err} }

var (
	errNoSuccess = errors.New("no analysis round succeeded")
	errCancelled = errors.New("the analysis was cancelled")
)
