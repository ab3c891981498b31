package llm

import (
	"context"
	"errors"
	"sync"
)

// ErrScriptExhausted is returned by ScriptedClient when no reply is left.
var ErrScriptExhausted = errors.New("scripted client has no more replies")

// ScriptedReply is one predetermined answer.
type ScriptedReply struct {
	Text string
	Err  error
}

// ScriptedClient implements Client with predetermined replies for testing.
// Replies are returned in order; Calls records every conversation sent.
type ScriptedClient struct {
	Replies []ScriptedReply
	// Default answers once Replies is exhausted. When nil the client fails
	// with ErrScriptExhausted.
	Default *ScriptedReply

	mu    sync.Mutex
	next  int
	calls [][]Message
}

// Script builds a ScriptedClient from reply texts.
func Script(texts ...string) *ScriptedClient {
	c := &ScriptedClient{}
	for _, t := range texts {
		c.Replies = append(c.Replies, ScriptedReply{Text: t})
	}
	return c
}

// Complete implements Client.
func (c *ScriptedClient) Complete(ctx context.Context, messages []Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, append([]Message(nil), messages...))
	if err := ctx.Err(); err != nil {
		return "", &ModelError{Err: err}
	}

	var r ScriptedReply
	switch {
	case c.next < len(c.Replies):
		r = c.Replies[c.next]
		c.next++
	case c.Default != nil:
		r = *c.Default
	default:
		return "", &ModelError{Err: ErrScriptExhausted}
	}
	return r.Text, r.Err
}

// Calls returns the conversations received so far.
func (c *ScriptedClient) Calls() [][]Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]Message(nil), c.calls...)
}

// LastCall returns the most recent conversation, or nil.
func (c *ScriptedClient) LastCall() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		return nil
	}
	return c.calls[len(c.calls)-1]
}
