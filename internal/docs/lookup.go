package docs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/nugget/sage-agent/internal/tools"
)

const (
	// ToolName is the registry name of the documentation lookup tool.
	ToolName = "rag_search"

	// DefaultBaseURL completes relative endpoints found in the docs.
	DefaultBaseURL = "https://fakestoreapi.com"

	// NoDocs is the observation when no documentation exists.
	NoDocs = "No API documentation found."
)

var methodPattern = regexp.MustCompile(`\b(GET|POST|PUT|DELETE|PATCH)\b`)

// Lookup answers documentation queries from a Retriever, falling back
// to keyword matching over the flat documents at Path.
type Lookup struct {
	Retriever Retriever // optional
	Path      string
	BaseURL   string
	TopK      int
	Logger    *slog.Logger
}

// Search returns the rag_search observation for query.
func (l *Lookup) Search(ctx context.Context, query string) (string, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	k := l.TopK
	if k <= 0 {
		k = 3
	}

	var content string
	if l.Retriever != nil {
		chunks, err := l.Retriever.Search(ctx, query, k)
		if err != nil {
			logger.Warn("vector search failed, scanning documents", "error", err)
		}
		content = strings.Join(chunks, "\n")
	}

	if strings.TrimSpace(content) == "" {
		if l.Path == "" {
			return NoDocs, nil
		}
		sections, err := Load(l.Path)
		if errors.Is(err, fs.ErrNotExist) {
			return NoDocs, nil
		}
		if err != nil {
			return "", err
		}
		content = keywordMatch(sections, query, k)
	}

	base := l.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return FormatResult(content, base), nil
}

// keywordMatch returns the k sections containing the most query words.
// When no section matches, every section is returned.
func keywordMatch(sections []Section, query string, k int) string {
	words := strings.Fields(strings.ToLower(query))

	type scored struct {
		score int
		idx   int
	}
	var hits []scored
	for i, s := range sections {
		lower := strings.ToLower(s.Text)
		score := 0
		for _, w := range words {
			if strings.Contains(lower, w) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{score, i})
		}
	}

	texts := make([]string, 0, len(sections))
	if len(hits) == 0 {
		for _, s := range sections {
			texts = append(texts, s.Text)
		}
		return strings.Join(texts, "\n\n")
	}

	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
	for i, h := range hits {
		if i == k {
			break
		}
		texts = append(texts, sections[h.idx].Text)
	}
	return strings.Join(texts, "\n\n")
}

// APIDetails is an endpoint pulled out of documentation text.
type APIDetails struct {
	Method   string
	Endpoint string
	BaseURL  string
}

// FullURL joins the base URL and endpoint. Absolute endpoints are
// returned unchanged.
func (d APIDetails) FullURL() string {
	if strings.HasPrefix(d.Endpoint, "http://") || strings.HasPrefix(d.Endpoint, "https://") {
		return d.Endpoint
	}
	return strings.TrimRight(d.BaseURL, "/") + d.Endpoint
}

// ExtractAPIDetails finds the first endpoint in content: an explicit
// "Endpoint:" line, otherwise the first line naming an HTTP method and
// a path. For an explicit endpoint the method comes from a "Method:"
// line, the endpoint line itself or the first method mentioned, in
// that order. "Base URL:" lines override defaultBase.
func ExtractAPIDetails(content, defaultBase string) (APIDetails, bool) {
	d := APIDetails{Method: "GET", BaseURL: defaultBase}
	var explicitMethod, endpointMethod, firstMethod string
	var fallback, fallbackMethod string

	for _, line := range strings.Split(content, "\n") {
		text := strings.TrimSpace(line)
		lower := strings.ToLower(text)
		m := methodPattern.FindString(strings.ToUpper(text))
		if m != "" && firstMethod == "" {
			firstMethod = m
		}

		switch {
		case strings.HasPrefix(lower, "base url:"):
			if v := strings.TrimSpace(text[len("base url:"):]); v != "" {
				d.BaseURL = v
			}
		case strings.HasPrefix(lower, "method:"):
			if explicitMethod == "" {
				explicitMethod = m
			}
		case strings.HasPrefix(lower, "endpoint:"):
			if d.Endpoint != "" {
				continue
			}
			v := strings.TrimSpace(text[len("endpoint:"):])
			if m != "" && strings.HasPrefix(strings.ToUpper(v), m) {
				endpointMethod = m
				v = strings.TrimSpace(v[len(m):])
			}
			d.Endpoint = firstField(v)
		case fallback == "" && m != "" && strings.Contains(text, "/"):
			fallback = pathFrom(text)
			fallbackMethod = m
		}
	}

	if d.Endpoint == "" {
		if fallback == "" {
			return d, false
		}
		d.Endpoint = fallback
		d.Method = fallbackMethod
		return d, true
	}
	for _, m := range []string{explicitMethod, endpointMethod, firstMethod} {
		if m != "" {
			d.Method = m
			break
		}
	}
	return d, true
}

// pathFrom returns the URL or path token in a line like
// "GET /products/{id}" or "GET https://host/products".
func pathFrom(line string) string {
	for _, f := range strings.Fields(line) {
		if strings.HasPrefix(f, "http://") || strings.HasPrefix(f, "https://") {
			return strings.TrimRight(f, ".,;)`")
		}
	}
	i := strings.Index(line, "/")
	return strings.TrimRight(firstField(line[i:]), ".,;)`")
}

func firstField(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}

// FormatResult renders documentation content with the extracted
// endpoint details appended when one is found.
func FormatResult(content, baseURL string) string {
	var sb strings.Builder
	sb.WriteString("API Documentation Found:\n\n")
	sb.WriteString(content)
	sb.WriteString("\n\n")
	if d, ok := ExtractAPIDetails(content, baseURL); ok {
		fmt.Fprintf(&sb, "Extracted API Details:\nMethod: %s\nEndpoint: %s\nBase URL: %s\nFull URL: %s\n",
			d.Method, d.Endpoint, d.BaseURL, d.FullURL())
	}
	return sb.String()
}

// Tool returns the rag_search tool backed by l.
func Tool(l *Lookup) *tools.Tool {
	return &tools.Tool{
		Name:        ToolName,
		Description: "Search the API documentation. Returns the matching docs plus the HTTP method, endpoint and full URL to pass to api_agent. Input is any question or query.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What to look up in the documentation.",
				},
			},
			"required": []string{"query"},
		},
		InputKey: "query",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			return l.Search(ctx, query)
		},
	}
}
