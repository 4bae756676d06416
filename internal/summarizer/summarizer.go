// Package summarizer condenses older conversation turns into a short
// prose summary by asking the model. It holds no state between calls:
// the same messages always produce the same prompt.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/sage-agent/internal/llm"
	"github.com/nugget/sage-agent/internal/memory"
	"github.com/nugget/sage-agent/internal/prompts"
)

// Config controls summarization.
type Config struct {
	// Timeout per summarization model call.
	// Default: 60 seconds.
	Timeout time.Duration

	// MaxTokens caps the conversation text sent in one model call.
	// Longer histories are split into chunks that are summarized
	// separately and then merged.
	// Default: 2000.
	MaxTokens int
}

// DefaultConfig returns sensible defaults for the summarizer.
func DefaultConfig() Config {
	return Config{
		Timeout:   60 * time.Second,
		MaxTokens: 2000,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
}

// Summarizer implements memory.Summarizer on top of an llm.Client.
type Summarizer struct {
	client  llm.Client
	counter *llm.TokenCounter
	logger  *slog.Logger
	config  Config
}

// New creates a summarizer. counter may be nil, in which case token
// counts are estimated.
func New(client llm.Client, counter *llm.TokenCounter, logger *slog.Logger, cfg Config) *Summarizer {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{
		client:  client,
		counter: counter,
		logger:  logger.With("component", "summarizer"),
		config:  cfg,
	}
}

// Summarize returns a summary of msgs.
func (s *Summarizer) Summarize(ctx context.Context, msgs []memory.Message) (string, error) {
	if len(msgs) == 0 {
		return "", errors.New("nothing to summarize")
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	chunks := chunkTranscript(msgs, s.config.MaxTokens, s.counter)
	start := time.Now()

	partials := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		out, err := s.client.Complete(ctx, prompts.SummaryPrompt(chunk))
		if err != nil {
			return "", fmt.Errorf("summarize %d messages (chunk %d of %d): %w", len(msgs), i+1, len(chunks), err)
		}
		partials = append(partials, strings.TrimSpace(out))
	}

	summary := partials[0]
	if len(partials) > 1 {
		out, err := s.client.Complete(ctx, prompts.CombineSummariesPrompt(partials))
		if err != nil {
			return "", fmt.Errorf("combine %d partial summaries: %w", len(partials), err)
		}
		summary = strings.TrimSpace(out)
	}

	s.logger.Debug("history summarized",
		"messages", len(msgs),
		"chunks", len(chunks),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return summary, nil
}

// chunkTranscript renders msgs oldest first as role-prefixed lines,
// packed into chunks of at most maxTokens. A single message larger than
// the budget gets a chunk of its own. Every message lands in exactly
// one chunk.
func chunkTranscript(msgs []memory.Message, maxTokens int, counter *llm.TokenCounter) []string {
	var (
		chunks []string
		b      strings.Builder
		total  int
	)
	flush := func() {
		if b.Len() > 0 {
			chunks = append(chunks, strings.TrimRight(b.String(), "\n"))
			b.Reset()
			total = 0
		}
	}
	for _, m := range msgs {
		line := memory.FormatLine(m.Role, m.Content)
		n := counter.Count(line)
		if total+n > maxTokens {
			flush()
		}
		b.WriteString(line)
		total += n
	}
	flush()
	return chunks
}
