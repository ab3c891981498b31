package sandbox

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failed execution.
type Kind string

const (
	KindPolicy         Kind = "PolicyViolation"
	KindSyntax         Kind = "Syntax"
	KindName           Kind = "Name"
	KindAttributeOrKey Kind = "AttributeOrKey"
	KindType           Kind = "Type"
	KindValue          Kind = "Value"
	KindEncoding       Kind = "Encoding"
	KindIODenied       Kind = "IODenied"
	KindTimeout        Kind = "Timeout"
	KindRuntime        Kind = "Runtime"
)

// Errors returned by sandbox builtins. They survive interpreter wrapping
// and drive failure classification.
var (
	ErrPolicy         = errors.New("operation not permitted")
	ErrColumnNotFound = errors.New("column not found")
	ErrEncoding       = errors.New("cannot decode input")
	ErrIODenied       = errors.New("path outside the session workspace")
	ErrValue          = errors.New("invalid value")
)

// Failure describes why an execution did not succeed.
type Failure struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Trace   string `json:"trace,omitempty"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Category groups a failure the way the analysis loop reacts to it:
// PolicyViolation, Timeout, or RuntimeFailure for everything raised
// while permitted code was running.
func (f *Failure) Category() string {
	switch f.Kind {
	case KindPolicy:
		return "PolicyViolation"
	case KindTimeout:
		return "Timeout"
	default:
		return "RuntimeFailure"
	}
}

// VarInfo is a bounded description of a top-level binding.
type VarInfo struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Summary string `json:"summary,omitempty"`
}

// Outcome is the immutable result of one Execute call. Exactly one of
// the success fields or Failure is meaningful: Failure == nil means success.
type Outcome struct {
	Stdout       string        `json:"stdout,omitempty"`
	NewVars      []VarInfo     `json:"new_vars,omitempty"`
	NewArtifacts []string      `json:"new_artifacts,omitempty"`
	Failure      *Failure      `json:"failure,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// OK reports whether the execution succeeded.
func (o Outcome) OK() bool { return o.Failure == nil }

func failed(kind Kind, msg, trace string) Outcome {
	return Outcome{Failure: &Failure{Kind: kind, Message: msg, Trace: trace}}
}
