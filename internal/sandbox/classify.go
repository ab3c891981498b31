package sandbox

import (
	"errors"
	"strings"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

const (
	maxTraceLines = 12
	maxTraceBytes = 1500
)

// classify maps an interpreter error onto a Failure. Sentinel errors from
// builtins win; message matching covers the interpreter's own errors.
func classify(err error) *Failure {
	f := &Failure{Kind: kindOf(err), Message: err.Error()}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		f.Trace = truncateTrace(evalErr.Backtrace())
	}
	return f
}

func kindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrPolicy):
		return KindPolicy
	case errors.Is(err, ErrIODenied):
		return KindIODenied
	case errors.Is(err, ErrEncoding):
		return KindEncoding
	case errors.Is(err, ErrColumnNotFound):
		return KindAttributeOrKey
	case errors.Is(err, ErrValue):
		return KindValue
	}

	var synErr syntax.Error
	if errors.As(err, &synErr) {
		return KindSyntax
	}
	var resErrs resolve.ErrorList
	if errors.As(err, &resErrs) {
		for _, e := range resErrs {
			if strings.HasPrefix(e.Msg, "undefined:") {
				return KindName
			}
		}
		return KindSyntax
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "Starlark computation cancelled"):
		return KindTimeout
	case containsAny(msg, "referenced before assignment", "undefined:"):
		return KindName
	case containsAny(msg, "field or method", "not in dict", "not in table", "no such key", "load: name"):
		return KindAttributeOrKey
	case containsAny(msg, "unknown binary op", "unknown unary op", "invalid call of non-function",
		"unhashable", "got ", "want ", "not iterable", "not indexable", "not callable",
		"unexpected keyword", "missing argument", "too many", "does not accept"):
		return KindType
	case containsAny(msg, "division by zero", "out of range", "invalid literal", "invalid syntax for",
		"cannot parse", "empty sequence", "frozen", "during iteration"):
		return KindValue
	}
	return KindRuntime
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func truncateTrace(trace string) string {
	lines := strings.Split(strings.TrimRight(trace, "\n"), "\n")
	if len(lines) > maxTraceLines {
		lines = append([]string{"..."}, lines[len(lines)-maxTraceLines:]...)
	}
	out := strings.Join(lines, "\n")
	if len(out) > maxTraceBytes {
		out = "..." + out[len(out)-maxTraceBytes:]
	}
	return out
}
