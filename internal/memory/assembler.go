package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nugget/sage-agent/internal/prompts"
)

const (
	// DefaultRecentWindow is how many transcript lines appear verbatim.
	DefaultRecentWindow = 6
)

// Summarizer condenses older messages into prose.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []Message) (string, error)
}

// AssemblerConfig tunes an Assembler.
type AssemblerConfig struct {
	RecentWindow int
	// CacheSummaries reuses a session's summary while its transcript
	// length is unchanged.
	CacheSummaries bool
}

// Assembler combines the user profile, a summary of older turns and the
// most recent transcript lines into the context block of the prompt,
// and writes finished turns back to the Store.
type Assembler struct {
	store      Store
	summarizer Summarizer
	window     int
	logger     *slog.Logger

	cache *summaryCache
}

// NewAssembler creates an Assembler. A nil summarizer disables the
// summary part of the context.
func NewAssembler(store Store, summarizer Summarizer, cfg AssemblerConfig, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = DefaultRecentWindow
	}
	a := &Assembler{
		store:      store,
		summarizer: summarizer,
		window:     cfg.RecentWindow,
		logger:     logger.With("component", "memory"),
	}
	if cfg.CacheSummaries {
		a.cache = &summaryCache{entries: make(map[string]cachedSummary)}
	}
	return a
}

// Store returns the backing store.
func (a *Assembler) Store() Store { return a.store }

// GetContext assembles the memory context for one agent run. Parts are
// the profile, the summary of lines older than the recent window and
// the recent window itself, in that order; empty parts are left out.
func (a *Assembler) GetContext(ctx context.Context, sessionID, userID string) (string, error) {
	profile, err := a.store.Profile(ctx, userID)
	if err != nil {
		return "", err
	}
	transcript, err := a.store.Transcript(ctx, sessionID)
	if err != nil {
		return "", err
	}

	var parts []string
	if len(profile) > 0 {
		parts = append(parts, "User Profile:\n"+RenderProfile(profile))
	}

	older, recent := SplitWindow(transcript, a.window)
	if summary := a.summarize(ctx, sessionID, len(transcript), older); summary != "" {
		parts = append(parts, "Conversation Summary:\n"+summary)
	}
	if len(recent) > 0 {
		parts = append(parts, "Recent Messages:\n"+strings.Join(recent, "\n"))
	}

	if len(parts) == 0 {
		return prompts.NoHistory, nil
	}
	return strings.Join(parts, "\n\n"), nil
}

// summarize returns the summary of the older lines, or "" when there
// are none or summarization fails.
func (a *Assembler) summarize(ctx context.Context, sessionID string, size int, older []string) string {
	if a.summarizer == nil || len(older) == 0 {
		return ""
	}
	if s, ok := a.cache.get(sessionID, size); ok {
		return s
	}
	msgs := ParseTranscript(strings.Join(older, "\n"))
	if len(msgs) == 0 {
		return ""
	}
	summary, err := a.summarizer.Summarize(ctx, msgs)
	if err != nil {
		a.logger.Warn("summary skipped", "session", sessionID, "error", err)
		return ""
	}
	summary = strings.TrimSpace(summary)
	a.cache.put(sessionID, size, summary)
	return summary
}

// AppendTurn records a finished question and answer.
func (a *Assembler) AppendTurn(ctx context.Context, sessionID, userID, question, answer string) error {
	if userID == "" {
		userID = DefaultUserID
	}
	return a.store.AppendTranscript(ctx, sessionID, userID, FormatTurn(question, answer))
}

// UpdateProfile merges info into the user's profile and returns the
// mapping that was stored.
func (a *Assembler) UpdateProfile(ctx context.Context, userID string, info any) (map[string]any, error) {
	m := NormalizeProfileInfo(info)
	if err := a.store.MergeProfile(ctx, userID, m); err != nil {
		return nil, err
	}
	a.logger.Info("profile updated", "user", userID, "keys", len(m))
	return m, nil
}

// History renders a session's transcript for clients.
func (a *Assembler) History(ctx context.Context, sessionID string) ([]HistoryEntry, error) {
	transcript, err := a.store.Transcript(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return History(transcript), nil
}

// ListSessions lists every session, newest first.
func (a *Assembler) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	return a.store.ListSessions(ctx)
}

// DeleteSession removes a session and any cached summary of it.
func (a *Assembler) DeleteSession(ctx context.Context, sessionID string) error {
	if err := a.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	a.cache.drop(sessionID)
	return nil
}

// ProfileJSON renders a stored profile mapping for observations.
func ProfileJSON(m map[string]any) string {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprint(m)
	}
	return string(b)
}

type cachedSummary struct {
	size    int
	summary string
}

// summaryCache holds the last summary per session. A nil cache is
// valid and never hits.
type summaryCache struct {
	mu      sync.Mutex
	entries map[string]cachedSummary
}

func (c *summaryCache) get(sessionID string, size int) (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[sessionID]
	if !ok || e.size != size {
		return "", false
	}
	return e.summary, true
}

func (c *summaryCache) put(sessionID string, size int, summary string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[sessionID] = cachedSummary{size: size, summary: summary}
}

func (c *summaryCache) drop(sessionID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sessionID)
}
