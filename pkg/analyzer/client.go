package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/commerceops/driftwatch/pkg/config"
)

// LLMClient is the completion surface the analyzer needs. Satisfied by the
// Anthropic client and by fakes in tests.
type LLMClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// AnthropicClient calls the Anthropic Messages API through the official SDK.
type AnthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicClient builds a client from config, reading the API key from
// the configured environment variable.
func NewAnthropicClient(cfg config.LLMConfig) (*AnthropicClient, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("LLM API key env %s is not set", cfg.APIKeyEnv)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicClient{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
	}, nil
}

// Complete sends one user turn and returns the text response. Temperature is
// pinned to zero: analysis must be as deterministic as the model allows.
func (c *AnthropicClient) Complete(ctx context.Context, system, user string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(0),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			switch apiErr.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
				return "", fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
			}
		}
		return "", fmt.Errorf("llm request failed: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("llm response contained no text block")
	}
	return text, nil
}
