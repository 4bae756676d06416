// Package fetch downloads web pages and reduces them to readable text
// for the web_fetch tool.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nugget/sage-agent/internal/httpkit"
)

const (
	// DefaultTimeout bounds a single page download.
	DefaultTimeout = 20 * time.Second

	// DefaultMaxBytes caps the response body read from the server.
	DefaultMaxBytes int64 = 5 << 20

	// DefaultMaxChars caps the extracted text handed to the model.
	DefaultMaxChars = 20000
)

// Page is the readable content of a fetched URL.
type Page struct {
	URL        string
	Title      string
	Text       string
	StatusCode int
	Truncated  bool
}

// Fetcher downloads and extracts readable content from web pages.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// New creates a Fetcher. A nil client gets an httpkit client with
// DefaultTimeout.
func New(client *http.Client) *Fetcher {
	if client == nil {
		client = httpkit.NewClient(httpkit.WithTimeout(DefaultTimeout))
	}
	return &Fetcher{client: client, maxBytes: DefaultMaxBytes}
}

// Fetch downloads rawURL and extracts its readable text, cut to
// maxChars runes (0 means DefaultMaxChars). Bare hosts get https://.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxChars int) (*Page, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, errors.New("url is required")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: HTTP %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}

	page := &Page{URL: rawURL, StatusCode: resp.StatusCode}
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	switch {
	case strings.Contains(ct, "html"):
		page.Title, page.Text = extractHTML(string(body))
	case utf8.Valid(body):
		page.Text = strings.TrimSpace(string(body))
	default:
		return nil, fmt.Errorf("fetch %s: binary content (%s) is not supported", rawURL, ct)
	}

	if utf8.RuneCountInString(page.Text) > maxChars {
		page.Text = string([]rune(page.Text)[:maxChars])
		page.Truncated = true
	}
	return page, nil
}

// String renders the page as an observation.
func (p *Page) String() string {
	var sb strings.Builder
	if p.Title != "" {
		sb.WriteString("Title: ")
		sb.WriteString(p.Title)
		sb.WriteString("\n")
	}
	sb.WriteString("URL: ")
	sb.WriteString(p.URL)
	sb.WriteString("\n\n")
	sb.WriteString(p.Text)
	if p.Truncated {
		sb.WriteString("\n\n[Content truncated]")
	}
	return sb.String()
}
