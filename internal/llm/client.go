// Package llm provides the text-generation clients the agent talks to.
//
// Every provider is reduced to one call, [Client.Complete], which maps a
// prompt to the model's text. Providers report content-policy refusals
// as errors matching [ErrContentFiltered] so callers can treat them
// differently from other failures.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/sage-agent/internal/config"
)

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Complete sends prompt as a single user turn and returns the
	// generated text.
	Complete(ctx context.Context, prompt string) (string, error)
}

// ErrContentFiltered is returned when the provider refused the prompt
// or the completion on content-policy grounds.
var ErrContentFiltered = errors.New("content_filter: completion blocked by provider content policy")

// contentFilterMarker is the substring providers put in content-policy
// error bodies (Azure OpenAI's error code, OpenAI's finish_reason).
const contentFilterMarker = "content_filter"

// IsContentFiltered reports whether err is a content-policy refusal,
// either wrapped [ErrContentFiltered] or any error whose text carries
// the provider marker.
func IsContentFiltered(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrContentFiltered) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), contentFilterMarker)
}

// ClientFunc adapts a function to [Client].
type ClientFunc func(ctx context.Context, prompt string) (string, error)

// Complete calls f.
func (f ClientFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// New builds the client selected by cfg.Provider.
func New(cfg config.ModelConfig, logger *slog.Logger) (Client, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI, config.ProviderAzure:
		return NewOpenAIClient(cfg, logger), nil
	case config.ProviderAnthropic:
		return NewAnthropicClient(cfg, logger), nil
	case config.ProviderOllama:
		return NewOllamaClient(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}
