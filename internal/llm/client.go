// Package llm is the model client used by the analysis loop: a
// role-tagged message type, the Client interface, an openai-go backed
// implementation and the retry and fallback wrappers around it.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged entry of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client completes a conversation with the next assistant reply.
type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// ModelError is a failed model request. Retryable errors may succeed if
// the same request is sent again.
type ModelError struct {
	Retryable bool
	// Filtered marks a request rejected by the provider's content filter;
	// it is not retried on the same endpoint but may go to a fallback.
	Filtered   bool
	StatusCode int
	Err        error
}

func (e *ModelError) Error() string {
	kind := "terminal"
	if e.Retryable {
		kind = "retryable"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("model request failed (%s, status %d): %v", kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("model request failed (%s): %v", kind, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a retryable ModelError.
func IsRetryable(err error) bool {
	var me *ModelError
	return errors.As(err, &me) && me.Retryable
}

func isFiltered(err error) bool {
	var me *ModelError
	return errors.As(err, &me) && me.Filtered
}

// retryableStatus lists HTTP statuses worth retrying.
func retryableStatus(code int) bool {
	switch {
	case code == 408, code == 409, code == 429:
		return true
	case code >= 500:
		return true
	}
	return false
}
