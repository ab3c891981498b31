package llm

import (
	"context"
	"log/slog"
	"time"
)

// RetryClient retries retryable failures of the wrapped client with a
// linear backoff of Delay*(attempt+1).
type RetryClient struct {
	Client     Client
	Name       string
	MaxRetries int
	Delay      time.Duration
	Logger     *slog.Logger

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Complete implements Client.
func (r *RetryClient) Complete(ctx context.Context, messages []Message) (string, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	sleep := r.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		start := time.Now()
		reply, err := r.Client.Complete(ctx, messages)
		if err == nil {
			logger.Debug("model reply", "endpoint", r.Name, "attempt", attempt+1, "duration", time.Since(start), "bytes", len(reply))
			return reply, nil
		}
		lastErr = err
		if !IsRetryable(err) || isFiltered(err) {
			logger.Warn("model request failed", "endpoint", r.Name, "attempt", attempt+1, "error", err)
			return "", err
		}
		if attempt == r.MaxRetries {
			break
		}
		wait := r.Delay * time.Duration(attempt+1)
		logger.Warn("model request failed, retrying", "endpoint", r.Name, "attempt", attempt+1, "max_attempts", r.MaxRetries+1, "wait", wait, "error", err)
		if err := sleep(ctx, wait); err != nil {
			return "", &ModelError{Err: err}
		}
	}
	logger.Error("model retries exhausted", "endpoint", r.Name, "attempts", r.MaxRetries+1, "error", lastErr)
	return "", lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
