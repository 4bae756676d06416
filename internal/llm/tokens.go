package llm

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// defaultEncoding approximates token counts for every supported
// provider closely enough for budgeting.
const defaultEncoding = "cl100k_base"

// TokenCounter counts prompt tokens. Without an encoder it estimates
// one token per four characters.
type TokenCounter struct {
	mu      sync.Mutex
	encoder *tiktoken.Tiktoken
}

// NewTokenCounter returns a counter. When exact is false, or the BPE
// ranks cannot be loaded, the counter falls back to estimation.
func NewTokenCounter(exact bool, logger *slog.Logger) *TokenCounter {
	if !exact {
		return &TokenCounter{}
	}
	enc, err := tiktoken.GetEncoding(defaultEncoding)
	if err != nil {
		if logger != nil {
			logger.Warn("token encoder unavailable, estimating from length",
				"encoding", defaultEncoding, "error", err)
		}
		return &TokenCounter{}
	}
	return &TokenCounter{encoder: enc}
}

// Count returns the number of tokens in text. A nil counter estimates.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.encoder == nil {
		return EstimateTokens(text)
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.encoder.Encode(text, nil, nil))
}

// Exact reports whether counts come from a real tokenizer.
func (tc *TokenCounter) Exact() bool {
	return tc != nil && tc.encoder != nil
}

// EstimateTokens approximates a token count from the rune length.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
