// Package search provides the web_search tool and the providers behind
// it. A [Manager] holds the configured providers and routes each query
// to the default one.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// DefaultCount is the number of results requested when the caller
// does not ask for a specific count.
const DefaultCount = 5

// NoResults is the observation when a search finds nothing.
const NoResults = "No results found."

// Result is a single search result.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Options are optional parameters for a search query.
type Options struct {
	// Count is the maximum number of results. Zero means DefaultCount.
	Count int

	// Language is an ISO 639-1 code; providers that cannot filter by
	// language ignore it.
	Language string
}

func (o Options) count() int {
	if o.Count <= 0 {
		return DefaultCount
	}
	return o.Count
}

// Provider is a search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager routes searches to a provider. It is built once at startup.
type Manager struct {
	providers map[string]Provider
	primary   string
}

// NewManager creates a manager over providers. An empty primary picks
// the first provider given.
func NewManager(primary string, providers ...Provider) *Manager {
	m := &Manager{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		m.providers[p.Name()] = p
		if primary == "" {
			primary = p.Name()
		}
	}
	m.primary = primary
	return m
}

// Search runs a query against the primary provider.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	return m.SearchWith(ctx, m.primary, query, opts)
}

// SearchWith runs a query against a named provider.
func (m *Manager) SearchWith(ctx context.Context, provider, query string, opts Options) ([]Result, error) {
	p, ok := m.providers[provider]
	if !ok {
		return nil, fmt.Errorf("search provider %q not configured", provider)
	}
	return p.Search(ctx, query, opts)
}

// Providers returns the registered provider names, sorted.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Configured reports whether at least one provider is registered.
func (m *Manager) Configured() bool {
	return len(m.providers) > 0
}

// FormatResults renders results as Title/URL/Content blocks separated
// by blank lines.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return NoResults
	}
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, fmt.Sprintf("Title: %s\nURL: %s\nContent: %s\n", r.Title, r.URL, r.Snippet))
	}
	return strings.Join(blocks, "\n\n")
}
