package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/sage-agent/internal/tools"
)

// ToolName is the registry name of the search tool.
const ToolName = "web_search"

// Tool returns the web_search tool backed by mgr.
func Tool(mgr *Manager) *tools.Tool {
	return &tools.Tool{
		Name:        ToolName,
		Description: "Search the web for current information, real-time data or factual lookup. Input is the search query.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query string.",
				},
				"count": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"maximum":     10,
					"description": "Maximum number of results. Default: 5.",
				},
				"language": map[string]any{
					"type":        "string",
					"description": "ISO 639-1 language code for results (e.g. 'en').",
				},
			},
			"required": []string{"query"},
		},
		InputKey: "query",
		Handler:  handler(mgr),
	}
}

func handler(mgr *Manager) tools.Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		query, _ := args["query"].(string)
		query = strings.TrimSpace(query)
		if query == "" {
			return "", fmt.Errorf("web_search: query is required")
		}

		opts := Options{}
		if count, ok := args["count"].(float64); ok {
			opts.Count = int(count)
		}
		if lang, ok := args["language"].(string); ok {
			opts.Language = lang
		}

		results, err := mgr.Search(ctx, query, opts)
		if err != nil {
			return "", err
		}
		return FormatResults(results), nil
	}
}
