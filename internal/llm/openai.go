package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Endpoint configures one OpenAI-compatible chat completion endpoint.
type Endpoint struct {
	BaseURL        string
	APIKey         string
	Model          string
	Temperature    float64
	MaxTokens      int
	RequestTimeout time.Duration
}

// OpenAIClient talks to an OpenAI-compatible chat completions API.
type OpenAIClient struct {
	client   openai.Client
	endpoint Endpoint
}

// NewOpenAIClient creates a client for ep. Retries are left to RetryClient.
func NewOpenAIClient(ep Endpoint) *OpenAIClient {
	options := []option.RequestOption{option.WithMaxRetries(0)}
	if ep.BaseURL != "" {
		options = append(options, option.WithBaseURL(ep.BaseURL))
	}
	if ep.APIKey != "" {
		options = append(options, option.WithAPIKey(ep.APIKey))
	}
	return &OpenAIClient{client: openai.NewClient(options...), endpoint: ep}
}

// Complete sends messages and returns the first choice's content.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       c.endpoint.Model,
		Messages:    toParams(messages),
		Temperature: openai.Float(c.endpoint.Temperature),
	}
	if c.endpoint.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.endpoint.MaxTokens))
	}

	reqCtx := ctx
	if c.endpoint.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.endpoint.RequestTimeout)
		defer cancel()
	}

	completion, err := c.client.Chat.Completions.New(reqCtx, params)
	if err != nil {
		return "", classifyError(ctx, err)
	}
	if len(completion.Choices) == 0 {
		return "", &ModelError{Retryable: true, Err: errors.New("completion has no choices")}
	}
	content := completion.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", &ModelError{Retryable: true, Err: fmt.Errorf("empty completion (finish reason %q)", completion.Choices[0].FinishReason)}
	}
	return content, nil
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// classifyError maps a transport or API error onto a ModelError. The
// caller's own cancellation is terminal; a per-request timeout is not.
func classifyError(parent context.Context, err error) error {
	if parent.Err() != nil {
		return &ModelError{Retryable: false, Err: parent.Err()}
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ModelError{
			Retryable:  retryableStatus(apiErr.StatusCode),
			Filtered:   contentFiltered(apiErr),
			StatusCode: apiErr.StatusCode,
			Err:        err,
		}
	}
	// Per-request deadline, connection resets, DNS failures.
	return &ModelError{Retryable: true, Err: err}
}

func contentFiltered(e *openai.Error) bool {
	if e.StatusCode != 400 {
		return false
	}
	code := strings.ToLower(e.Code)
	return code == "content_filter" || code == "1301" || strings.Contains(strings.ToLower(e.Message), "content filter")
}
