package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"

	"github.com/nugget/sage-agent/internal/config"
	"github.com/nugget/sage-agent/internal/httpkit"
)

// OpenAIClient completes prompts with the Chat Completions API, either
// against OpenAI (or a compatible base URL) or an Azure OpenAI
// deployment.
type OpenAIClient struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
	logger      *slog.Logger
}

// NewOpenAIClient creates a client. For the azure provider, BaseURL is
// the resource endpoint, APIVersion is required and Name is the
// deployment.
func NewOpenAIClient(cfg config.ModelConfig, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithHTTPClient(httpkit.NewClient(
			httpkit.WithTimeout(cfg.Timeout()),
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		)),
		option.WithMaxRetries(1),
	}
	if cfg.Provider == config.ProviderAzure {
		opts = append(opts,
			azure.WithEndpoint(cfg.BaseURL, cfg.APIVersion),
			azure.WithAPIKey(cfg.APIKey),
		)
	} else {
		if cfg.APIKey != "" {
			opts = append(opts, option.WithAPIKey(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
	}

	model := cfg.Name
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}

	return &OpenAIClient{
		client:      openai.NewClient(opts...),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger.With("provider", cfg.Provider),
	}
}

// Complete sends prompt as a single user message.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model:       openai.ChatModel(c.model),
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.maxTokens))
	}

	c.logger.Log(ctx, config.LevelTrace, "chat completion request", "model", c.model, "prompt", prompt)

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.Code == contentFilterMarker {
			return "", fmt.Errorf("%w: %s", ErrContentFiltered, apiErr.Message)
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: no choices returned")
	}

	choice := resp.Choices[0]
	if choice.FinishReason == contentFilterMarker {
		return "", ErrContentFiltered
	}

	c.logger.Log(ctx, config.LevelTrace, "chat completion response",
		"model", resp.Model,
		"finish_reason", choice.FinishReason,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"content", choice.Message.Content,
	)
	return choice.Message.Content, nil
}
