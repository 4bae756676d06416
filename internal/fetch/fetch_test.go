package fetch

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractHTML(t *testing.T) {
	src := `<!DOCTYPE html>
<html>
<head><title> Test Page </title><style>.x{}</style></head>
<body>
<nav>Navigation stuff</nav>
<script>var x = 1;</script>
<main>
<h1>Hello World</h1>
<p>This is a test paragraph with <strong>bold text</strong>.</p>
<ul><li>one</li><li>two</li></ul>
</main>
<footer>Footer stuff</footer>
</body>
</html>`

	title, text := extractHTML(src)
	assert.Equal(t, "Test Page", title)
	assert.Contains(t, text, "Hello World")
	assert.Contains(t, text, "bold text")
	assert.Contains(t, text, "one\n")
	assert.NotContains(t, text, "var x")
	assert.NotContains(t, text, "Navigation")
	assert.NotContains(t, text, "Footer")
	assert.NotContains(t, text, "\n\n\n")
}

func TestNormalizeSpace(t *testing.T) {
	got := normalizeSpace("  Hello   world  \n\n\n\n  Second line  \n\n\n Third  ")
	assert.Equal(t, "Hello world\n\nSecond line\n\nThird", got)
}

func TestFetch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.Header.Get("User-Agent"), "sage-agent/"), r.Header.Get("User-Agent"))
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte(`<html><head><title>Test</title></head><body><p>Hello from test server</p></body></html>`))
		case "/plain":
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte(strings.Repeat("é", 50)))
		case "/binary":
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write([]byte{0xff, 0xfe, 0x00, 0x81})
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	f := New(nil)

	page, err := f.Fetch(t.Context(), ts.URL+"/page", 0)
	require.NoError(t, err)
	assert.Equal(t, "Test", page.Title)
	assert.Equal(t, "Hello from test server", page.Text)
	assert.Equal(t, http.StatusOK, page.StatusCode)

	page, err = f.Fetch(t.Context(), ts.URL+"/plain", 10)
	require.NoError(t, err)
	assert.True(t, page.Truncated)
	assert.Equal(t, strings.Repeat("é", 10), page.Text)
	assert.Contains(t, page.String(), "[Content truncated]")

	_, err = f.Fetch(t.Context(), ts.URL+"/binary", 0)
	assert.ErrorContains(t, err, "binary content")

	_, err = f.Fetch(t.Context(), ts.URL+"/missing", 0)
	assert.ErrorContains(t, err, "HTTP 404")

	_, err = f.Fetch(t.Context(), "  ", 0)
	assert.Error(t, err)
}

func TestTool(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Tool Test</title></head><body><p>Content here</p></body></html>`))
	}))
	defer ts.Close()

	tool := Tool(New(ts.Client()))
	assert.Equal(t, "url", tool.InputKey)

	out, err := tool.Handler(t.Context(), map[string]any{"url": ts.URL})
	require.NoError(t, err)
	assert.Equal(t, "Title: Tool Test\nURL: "+ts.URL+"\n\nContent here", out)
}
