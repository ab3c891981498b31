package session

import (
	"errors"
	"fmt"
)

// ErrInput marks caller-supplied files or arguments that cannot be analyzed.
var ErrInput = errors.New("invalid input")

// InputError reports which input was rejected and why.
type InputError struct {
	Path   string
	Reason string
}

func (e *InputError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid input: %s", e.Reason)
	}
	return fmt.Sprintf("invalid input %s: %s", e.Path, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrInput }
