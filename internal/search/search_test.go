package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	name    string
	results []Result
	err     error
	gotOpts Options
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) Search(_ context.Context, _ string, opts Options) ([]Result, error) {
	m.gotOpts = opts
	return m.results, m.err
}

func TestManager(t *testing.T) {
	primary := &mockProvider{name: "primary", results: []Result{{Title: "Primary"}}}
	secondary := &mockProvider{name: "secondary", results: []Result{{Title: "Secondary"}}}
	mgr := NewManager("", primary, secondary)

	assert.True(t, mgr.Configured())
	assert.Equal(t, []string{"primary", "secondary"}, mgr.Providers())

	results, err := mgr.Search(t.Context(), "q", Options{})
	require.NoError(t, err)
	assert.Equal(t, "Primary", results[0].Title)

	results, err = mgr.SearchWith(t.Context(), "secondary", "q", Options{})
	require.NoError(t, err)
	assert.Equal(t, "Secondary", results[0].Title)

	_, err = NewManager("missing").Search(t.Context(), "q", Options{})
	assert.ErrorContains(t, err, `"missing" not configured`)
}

func TestFormatResults(t *testing.T) {
	out := FormatResults([]Result{
		{Title: "First", URL: "https://a.com", Snippet: "Snippet A"},
		{Title: "Second", URL: "https://b.com"},
	})
	assert.Equal(t, "Title: First\nURL: https://a.com\nContent: Snippet A\n\n\nTitle: Second\nURL: https://b.com\nContent: \n", out)
	assert.Equal(t, NoResults, FormatResults(nil))
}

func TestTool(t *testing.T) {
	p := &mockProvider{name: "mock", results: []Result{{Title: "Go", URL: "https://go.dev", Snippet: "The Go language"}}}
	tool := Tool(NewManager("mock", p))
	assert.Equal(t, ToolName, tool.Name)
	assert.Equal(t, "query", tool.InputKey)

	out, err := tool.Handler(t.Context(), map[string]any{"query": "golang", "count": float64(3)})
	require.NoError(t, err)
	assert.Contains(t, out, "Title: Go")
	assert.Equal(t, 3, p.gotOpts.Count)

	_, err = tool.Handler(t.Context(), map[string]any{"query": "  "})
	assert.Error(t, err)

	p.err = errors.New("quota exceeded")
	_, err = tool.Handler(t.Context(), map[string]any{"query": "golang"})
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestTavily(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req tavilyRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "k", req.APIKey)
		assert.Equal(t, "weather", req.Query)
		assert.Equal(t, DefaultCount, req.MaxResults)
		assert.Equal(t, "basic", req.SearchDepth)

		fmt.Fprint(w, `{"results":[{"title":"Forecast","url":"https://wx.example","content":"Sunny"}]}`)
	}))
	defer srv.Close()

	results, err := NewTavily("k", srv.URL).Search(t.Context(), "weather", Options{})
	require.NoError(t, err)
	assert.Equal(t, []Result{{Title: "Forecast", URL: "https://wx.example", Snippet: "Sunny"}}, results)
}

func TestTavily_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewTavily("k", srv.URL).Search(t.Context(), "x", Options{})
	assert.ErrorContains(t, err, "HTTP 401")
}

func TestSearXNG_LimitsCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		fmt.Fprint(w, `{"results":[{"title":"a"},{"title":"b"},{"title":"c"}]}`)
	}))
	defer srv.Close()

	results, err := NewSearXNG(srv.URL+"/").Search(t.Context(), "x", Options{Count: 2})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestBrave(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "5", r.URL.Query().Get("count"))
		fmt.Fprint(w, `{"web":{"results":[{"title":"t","url":"u","description":"d"}]}}`)
	}))
	defer srv.Close()

	results, err := NewBrave("secret", srv.URL).Search(t.Context(), "x", Options{})
	require.NoError(t, err)
	assert.Equal(t, []Result{{Title: "t", URL: "u", Snippet: "d"}}, results)
}
