package llm

import (
	"log/slog"

	"github.com/kylegalloway/dataflame/internal/config"
)

// FromConfig builds the production client: the primary endpoint wrapped
// in retries, plus a retried fallback endpoint when one is configured.
func FromConfig(cfg config.ModelConfig, logger *slog.Logger) Client {
	primary := &RetryClient{
		Client: NewOpenAIClient(Endpoint{
			BaseURL:        cfg.BaseURL,
			APIKey:         cfg.APIKey,
			Model:          cfg.Name,
			Temperature:    cfg.Temperature,
			MaxTokens:      cfg.MaxTokens,
			RequestTimeout: cfg.RequestTimeout,
		}),
		Name:       "primary",
		MaxRetries: cfg.MaxRetries,
		Delay:      cfg.RetryDelay,
		Logger:     logger,
	}
	if cfg.Fallback == nil {
		return primary
	}

	fb := cfg.Fallback
	name := fb.Name
	if name == "" {
		name = cfg.Name
	}
	fallback := &RetryClient{
		Client: NewOpenAIClient(Endpoint{
			BaseURL:        fb.BaseURL,
			APIKey:         fb.APIKey,
			Model:          name,
			Temperature:    cfg.Temperature,
			MaxTokens:      cfg.MaxTokens,
			RequestTimeout: cfg.RequestTimeout,
		}),
		Name:       "fallback",
		MaxRetries: cfg.MaxRetries,
		Delay:      cfg.RetryDelay,
		Logger:     logger,
	}
	return &FallbackClient{Primary: primary, Fallback: fallback, Logger: logger}
}
