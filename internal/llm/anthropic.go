package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nugget/sage-agent/internal/config"
	"github.com/nugget/sage-agent/internal/httpkit"
)

// defaultAnthropicMaxTokens is used when the config leaves max_tokens
// unset; the Messages API requires a value.
const defaultAnthropicMaxTokens = 2048

// AnthropicClient completes prompts with the Anthropic Messages API.
type AnthropicClient struct {
	client      anthropic.Client
	model       string
	temperature float64
	maxTokens   int64
	logger      *slog.Logger
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(cfg config.ModelConfig, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithHTTPClient(httpkit.NewClient(httpkit.WithTimeout(cfg.Timeout()))),
		option.WithMaxRetries(1),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Name
	if model == "" {
		model = string(anthropic.ModelClaude3_5HaikuLatest)
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	return &AnthropicClient{
		client:      anthropic.NewClient(opts...),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		logger:      logger.With("provider", "anthropic"),
	}
}

// Complete sends prompt as a single user message and joins the text
// blocks of the reply.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	c.logger.Log(ctx, config.LevelTrace, "messages request", "model", c.model, "prompt", prompt)

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}
	if msg.StopReason == "refusal" {
		return "", ErrContentFiltered
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	c.logger.Log(ctx, config.LevelTrace, "messages response",
		"model", msg.Model,
		"stop_reason", msg.StopReason,
		"input_tokens", msg.Usage.InputTokens,
		"output_tokens", msg.Usage.OutputTokens,
		"content", sb.String(),
	)
	return sb.String(), nil
}
