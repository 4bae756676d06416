package fetch

import (
	"context"
	"fmt"

	"github.com/nugget/sage-agent/internal/tools"
)

// ToolName is the registry name of the fetch tool.
const ToolName = "web_fetch"

// Tool returns the web_fetch tool backed by f.
func Tool(f *Fetcher) *tools.Tool {
	return &tools.Tool{
		Name:        ToolName,
		Description: "Download a web page and return its readable text. Input is the URL.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "URL to fetch.",
				},
				"max_chars": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"description": fmt.Sprintf("Maximum characters to return. Default: %d.", DefaultMaxChars),
				},
			},
			"required": []string{"url"},
		},
		InputKey: "url",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			url, _ := args["url"].(string)
			maxChars := 0
			if mc, ok := args["max_chars"].(float64); ok {
				maxChars = int(mc)
			}
			page, err := f.Fetch(ctx, url, maxChars)
			if err != nil {
				return "", err
			}
			return page.String(), nil
		},
	}
}
