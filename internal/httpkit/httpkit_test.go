package httpkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Timeouts(t *testing.T) {
	assert.Equal(t, DefaultTimeout, NewClient().Timeout)
	assert.Equal(t, 5*time.Second, NewClient(WithTimeout(5*time.Second)).Timeout)
	assert.Zero(t, NewClient(WithTimeout(0)).Timeout)
}

func echoUserAgent(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, c *http.Client, req *http.Request) string {
	t.Helper()
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNewClient_UserAgent(t *testing.T) {
	srv := echoUserAgent(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	assert.True(t, strings.HasPrefix(get(t, NewClient(), req), "sage-agent/"))

	req, _ = http.NewRequest(http.MethodGet, srv.URL, nil)
	assert.Equal(t, "TestBot/1.0", get(t, NewClient(WithUserAgent("TestBot/1.0")), req))

	req, _ = http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("User-Agent", "Caller/2.0")
	assert.Equal(t, "Caller/2.0", get(t, NewClient(), req))
}

func TestReadErrorBody(t *testing.T) {
	assert.Equal(t, "boom", ReadErrorBody(io.NopCloser(strings.NewReader("boom")), 512))
	assert.Equal(t, "abc", ReadErrorBody(io.NopCloser(strings.NewReader("abcdef")), 3))
	assert.Empty(t, ReadErrorBody(nil, 10))
}

type failingRoundTripper struct {
	failures int
	calls    int
	err      error
}

func (f *failingRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	f.calls++
	if f.calls <= f.failures {
		if f.err != nil {
			return nil, f.err
		}
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.EHOSTUNREACH)}
	}
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("ok"))}, nil
}

func TestRetryTransport(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		err       error
		wantCalls int
		wantErr   bool
	}{
		{"success after one retry", 1, nil, 2, false},
		{"no retry on success", 0, nil, 1, false},
		{"exhausts retries", 10, nil, 3, true},
		{"non-retryable error", 1, errors.New("tls: bad certificate"), 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &failingRoundTripper{failures: tt.failures, err: tt.err}
			rt := &retryTransport{base: ft, count: 2, delay: time.Millisecond}

			req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
			resp, err := rt.RoundTrip(req)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, http.StatusOK, resp.StatusCode)
			}
			assert.Equal(t, tt.wantCalls, ft.calls)
		})
	}
}

func TestRetryTransport_RespectsContextCancellation(t *testing.T) {
	ft := &failingRoundTripper{failures: 10}
	rt := &retryTransport{base: ft, count: 5, delay: 5 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://example.com", nil)

	_, err := rt.RoundTrip(req)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, ft.calls)
}

func TestRetryTransport_NoRetryWithoutGetBody(t *testing.T) {
	ft := &failingRoundTripper{failures: 1}
	rt := &retryTransport{base: ft, count: 2, delay: time.Millisecond}

	req, _ := http.NewRequest(http.MethodPost, "http://example.com", io.NopCloser(strings.NewReader("x")))
	req.GetBody = nil
	_, err := rt.RoundTrip(req)
	assert.Error(t, err)
	assert.Equal(t, 1, ft.calls)
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, isRetryableError(syscall.ECONNREFUSED))
	assert.True(t, isRetryableError(fmt.Errorf("wrapped: %w", syscall.ENETUNREACH)))
	assert.False(t, isRetryableError(syscall.ECONNRESET))
	assert.False(t, isRetryableError(errors.New("plain")))
}
