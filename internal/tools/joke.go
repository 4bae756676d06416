package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/nugget/sage-agent/internal/httpkit"
)

// DefaultJokeURL serves one random joke per request.
const DefaultJokeURL = "https://official-joke-api.appspot.com/random_joke"

type joke struct {
	Setup     string `json:"setup"`
	Punchline string `json:"punchline"`
}

// JokeGenerator returns the joke_generator tool. url defaults to
// DefaultJokeURL.
func JokeGenerator(client *http.Client, url string) *Tool {
	if client == nil {
		client = httpkit.NewClient()
	}
	if url == "" {
		url = DefaultJokeURL
	}
	return &Tool{
		Name:        JokeToolName,
		Description: "Fetch a random joke. Takes no input.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(ctx context.Context, _ map[string]any) (string, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return "", fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("Accept", "application/json")

			resp, err := client.Do(req)
			if err != nil {
				return "", fmt.Errorf("fetch joke: %w", err)
			}
			defer httpkit.DrainAndClose(resp.Body, 4096)

			if resp.StatusCode != http.StatusOK {
				return "", fmt.Errorf("joke service returned %d: %s",
					resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
			}

			var j joke
			if err := json.NewDecoder(resp.Body).Decode(&j); err != nil {
				return "", fmt.Errorf("decode joke: %w", err)
			}
			if strings.TrimSpace(j.Setup) == "" {
				return "", fmt.Errorf("joke service returned no joke")
			}
			return j.Setup + " ... " + j.Punchline, nil
		},
	}
}
