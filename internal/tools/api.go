package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/sage-agent/internal/httpkit"
)

const (
	apiAgentTimeout  = 10 * time.Second
	apiAgentMaxRunes = 50000
)

// APIAgent returns the api_agent tool, which performs a GET against an
// endpoint with optional query parameters and returns the body text.
// Failures are reported to the model as an observation rather than an
// error so it can try a different endpoint.
func APIAgent(client *http.Client, logger *slog.Logger) *Tool {
	if client == nil {
		client = httpkit.NewClient(httpkit.WithTimeout(apiAgentTimeout))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tool{
		Name:        APIAgentToolName,
		Description: `Call an HTTP API with GET and return the response body. Input: {"endpoint": "<full URL>", "params": {<query parameters>}} or just the URL. Use rag_search first to find the endpoint.`,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"endpoint": map[string]any{
					"description": "Full URL to call, or an object holding endpoint and params.",
				},
				"params": map[string]any{
					"type":        "object",
					"description": "Optional query parameters.",
				},
			},
			"required": []string{"endpoint"},
		},
		InputKey: "endpoint",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			endpoint, params, err := apiTarget(args)
			if err != nil {
				return "API call failed: " + err.Error(), nil
			}
			body, err := apiGet(ctx, client, endpoint, params)
			if err != nil {
				logger.Warn("api call failed", "endpoint", endpoint, "error", err)
				return "API call failed: " + err.Error(), nil
			}
			return body, nil
		},
	}
}

// apiTarget extracts the endpoint and params. The endpoint may itself
// be an object or a JSON string carrying both.
func apiTarget(args map[string]any) (string, map[string]any, error) {
	params, _ := args["params"].(map[string]any)

	switch ep := args["endpoint"].(type) {
	case map[string]any:
		return apiTarget(ep)
	case string:
		ep = strings.TrimSpace(ep)
		if strings.HasPrefix(ep, "{") {
			var payload map[string]any
			if err := json.Unmarshal([]byte(ep), &payload); err != nil {
				return "", nil, fmt.Errorf("decode endpoint payload: %w", err)
			}
			return apiTarget(payload)
		}
		if ep == "" {
			return "", nil, fmt.Errorf("endpoint is required")
		}
		return ep, params, nil
	default:
		return "", nil, fmt.Errorf("endpoint is required")
	}
}

func apiGet(ctx context.Context, client *http.Client, endpoint string, params map[string]any) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, fmt.Sprint(v))
		}
		u.RawQuery = q.Encode()
	}

	ctx, cancel := context.WithTimeout(ctx, apiAgentTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%d %s for url: %s", resp.StatusCode, http.StatusText(resp.StatusCode), u.String())
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4*apiAgentMaxRunes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	text := []rune(string(data))
	if len(text) > apiAgentMaxRunes {
		return string(text[:apiAgentMaxRunes]) + "\n\n[Response truncated]", nil
	}
	return string(text), nil
}
