package llm

import (
	"context"
	"log/slog"
)

// FallbackClient sends requests to Primary and, when it fails with a
// retryable or content-filter error, to Fallback.
type FallbackClient struct {
	Primary  Client
	Fallback Client
	Logger   *slog.Logger
}

// Complete implements Client.
func (f *FallbackClient) Complete(ctx context.Context, messages []Message) (string, error) {
	reply, err := f.Primary.Complete(ctx, messages)
	if err == nil || f.Fallback == nil {
		return reply, err
	}
	if ctx.Err() != nil || (!IsRetryable(err) && !isFiltered(err)) {
		return "", err
	}
	if f.Logger != nil {
		f.Logger.Warn("primary model failed, using fallback", "error", err)
	}
	return f.Fallback.Complete(ctx, messages)
}
