package src

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v4"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

const (
	defaultCallTimeout = 60 * time.Second
	maxCallAttempts    = 3

	chatTemperature = 0.7
	chatMaxTokens   = 30000

	codeTemperature = 0.3
	codeMaxTokens   = 4000
)

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Completer is the narrow model-call interface the engines depend on.
type Completer interface {
	Complete(ctx context.Context, messages []ChatMessage, model string, temperature float32, maxTokens int) (string, error)
}

// Client talks to Groq's OpenAI-compatible chat completions endpoint.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewClient builds a Groq client from config. The API key comes from the
// config file or the GROQ_API_KEY environment variable.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("missing API key: set GROQ_API_KEY or api_key in ~/.groq/config.yaml")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = groqBaseURL

	model := cfg.DefaultModel
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		api:     openai.NewClientWithConfig(oc),
		model:   model,
		timeout: defaultCallTimeout,
		logger:  logger,
	}, nil
}

// SetTimeout overrides the per-call deadline.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Model returns the client's default model ID.
func (c *Client) Model() string { return c.model }

// Complete performs one synchronous chat completion. Transient failures are
// retried with exponential backoff; the per-call deadline applies across all
// attempts.
func (c *Client) Complete(ctx context.Context, messages []ChatMessage, model string, temperature float32, maxTokens int) (string, error) {
	if model == "" {
		model = c.model
	}
	callCtx := ctx
	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); !ok {
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(messages),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	content, err := retry.DoWithData(
		func() (string, error) {
			resp, err := c.api.CreateChatCompletion(callCtx, req)
			if err != nil {
				return "", err
			}
			if len(resp.Choices) == 0 {
				return "", errors.New("empty response from model")
			}
			return resp.Choices[0].Message.Content, nil
		},
		retry.Context(callCtx),
		retry.Attempts(maxCallAttempts),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransientAPIError),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("model call retry",
				zap.Uint("attempt", n+1),
				zap.String("model", model),
				zap.Error(err))
		}),
	)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", &TimeoutError{Op: "model call", Limit: c.timeout}
		}
		return "", &APICallError{Model: model, Attempts: maxCallAttempts, Err: err}
	}
	return content, nil
}

// Chat runs a conversational completion with chat defaults.
func (c *Client) Chat(ctx context.Context, messages []ChatMessage) (string, error) {
	return c.Complete(ctx, messages, c.model, chatTemperature, chatMaxTokens)
}

// GenerateCode runs a low-temperature completion tuned for code output and
// strips a single wrapping markdown fence if the model added one.
func (c *Client) GenerateCode(ctx context.Context, prompt string) (string, error) {
	messages := []ChatMessage{{Role: RoleUser, Content: prompt}}
	out, err := c.Complete(ctx, messages, c.model, codeTemperature, codeMaxTokens)
	if err != nil {
		return "", err
	}
	return stripCodeFence(out), nil
}

func toOpenAIMessages(messages []ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// isTransientAPIError reports whether a failure is worth retrying: network
// errors, rate limits, and server-side errors. Auth and bad-request errors
// are permanent.
func isTransientAPIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// go-openai wraps some transport failures in plain errors.
	msg := err.Error()
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "EOF")
}

// stripCodeFence removes one outer ``` fence, keeping the body verbatim.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return s
	}
	last := len(lines) - 1
	if strings.TrimSpace(lines[last]) != "```" {
		return s
	}
	return strings.Join(lines[1:last], "\n")
}

// CompleteWithFallback tries the requested model, then walks the fallback
// chain on permanent model errors (decommissioned or unknown IDs).
func (c *Client) CompleteWithFallback(ctx context.Context, messages []ChatMessage, model string, temperature float32, maxTokens int) (string, string, error) {
	tried := map[string]bool{}
	current := model
	if current == "" {
		current = c.model
	}
	for current != "" && !tried[current] {
		tried[current] = true
		out, err := c.Complete(ctx, messages, current, temperature, maxTokens)
		if err == nil {
			return out, current, nil
		}
		var apiErr *APICallError
		if !errors.As(err, &apiErr) {
			return "", current, err
		}
		next := FallbackFor(current)
		if next == "" || tried[next] {
			return "", current, err
		}
		c.logger.Warn("model unavailable, falling back",
			zap.String("from", current),
			zap.String("to", next),
			zap.Error(err))
		current = next
	}
	return "", current, fmt.Errorf("no usable model in fallback chain")
}
