package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/sage-agent/internal/agent"
	"github.com/nugget/sage-agent/internal/connwatch"
	"github.com/nugget/sage-agent/internal/memory"
)

type fakeRunner struct {
	mu  sync.Mutex
	got agent.Request
	err error
}

func (f *fakeRunner) Run(_ context.Context, req agent.Request) (*agent.Response, error) {
	f.mu.Lock()
	f.got = req
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &agent.Response{Output: "answer to " + req.Question, SessionID: req.SessionID}, nil
}

func (f *fakeRunner) last() agent.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.got
}

func newTestServer(t *testing.T, runner Runner, sessions Sessions) *httptest.Server {
	t.Helper()
	s := NewServer(Config{AllowedOrigins: []string{"http://localhost:5173"}}, runner, sessions, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestAsk(t *testing.T) {
	runner := &fakeRunner{}
	ts := newTestServer(t, runner, memory.NewAssembler(memory.NewMemStore(), nil, memory.AssemblerConfig{}, nil))

	resp := do(t, http.MethodPost, ts.URL+"/ask", `{"user_input": "hi", "session_id": "s1", "user_id": "u1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, agent.Request{Question: "hi", SessionID: "s1", UserID: "u1"}, runner.last())

	got := decode[map[string]string](t, resp)
	assert.Equal(t, map[string]string{"output": "answer to hi", "session_id": "s1"}, got)
}

func TestAsk_Defaults(t *testing.T) {
	runner := &fakeRunner{}
	ts := newTestServer(t, runner, nil)

	resp := do(t, http.MethodPost, ts.URL+"/ask", `{"user_input": "hi"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, runner.last().SessionID)
	assert.Equal(t, memory.DefaultUserID, runner.last().UserID)

	got := decode[map[string]string](t, resp)
	assert.Equal(t, runner.last().SessionID, got["session_id"])
}

func TestAsk_BadRequests(t *testing.T) {
	ts := newTestServer(t, &fakeRunner{}, nil)

	for name, body := range map[string]string{
		"empty input": `{"user_input": "  "}`,
		"missing":     `{}`,
		"not json":    `hello`,
	} {
		t.Run(name, func(t *testing.T) {
			resp := do(t, http.MethodPost, ts.URL+"/ask", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestAsk_ModelFailure(t *testing.T) {
	ts := newTestServer(t, &fakeRunner{err: &agent.ModelError{Err: errors.New("down")}}, nil)

	resp := do(t, http.MethodPost, ts.URL+"/ask", `{"user_input": "hi"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body := decode[map[string]map[string]any](t, resp)
	assert.NotContains(t, body["error"]["message"], "down")
}

func TestAskStream(t *testing.T) {
	ts := newTestServer(t, &fakeRunner{}, nil)

	resp := do(t, http.MethodPost, ts.URL+"/ask/stream", `{"user_input": "hi", "session_id": "s9"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "s9", resp.Header.Get("X-Session-ID"))

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "answer to hi", string(b))
}

func TestSessionsAndHistory(t *testing.T) {
	store := memory.NewMemStore()
	mem := memory.NewAssembler(store, nil, memory.AssemblerConfig{}, nil)
	ts := newTestServer(t, &fakeRunner{}, mem)

	resp := do(t, http.MethodGet, ts.URL+"/sessions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]memory.SessionInfo](t, resp))

	require.NoError(t, mem.AppendTurn(t.Context(), "s1", "u1", "hi", "hello"))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, mem.AppendTurn(t.Context(), "s2", "u1", "second chat", "ok"))

	resp = do(t, http.MethodGet, ts.URL+"/sessions", "")
	sessions := decode[[]map[string]any](t, resp)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s2", sessions[0]["session_id"])
	assert.Equal(t, "second chat", sessions[0]["title"])
	assert.Equal(t, "u1", sessions[1]["user_id"])
	assert.Contains(t, sessions[1], "last_updated")

	resp = do(t, http.MethodGet, ts.URL+"/history/s1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []memory.HistoryEntry{{Type: "human", Content: "hi"}, {Type: "ai", Content: "hello"}},
		decode[[]memory.HistoryEntry](t, resp))

	resp = do(t, http.MethodGet, ts.URL+"/history/unknown", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]memory.HistoryEntry](t, resp))

	resp = do(t, http.MethodDelete, ts.URL+"/sessions/s1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]bool{"deleted": true}, decode[map[string]bool](t, resp))

	resp = do(t, http.MethodDelete, ts.URL+"/sessions/s1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndVersion(t *testing.T) {
	ts := newTestServer(t, &fakeRunner{}, nil)

	resp := do(t, http.MethodGet, ts.URL+"/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", decode[map[string]string](t, resp)["status"])

	resp = do(t, http.MethodGet, ts.URL+"/v1/version", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, decode[map[string]string](t, resp), "version")

	resp = do(t, http.MethodGet, ts.URL+"/health", "")
	assert.NotEmpty(t, resp.Header.Get("Content-Type"))
}

type fakeHealth struct {
	status map[string]connwatch.ServiceStatus
}

func (f fakeHealth) Ready() bool {
	for _, s := range f.status {
		if !s.Ready {
			return false
		}
	}
	return true
}

func (f fakeHealth) Status() map[string]connwatch.ServiceStatus { return f.status }

func TestHealth_ReportsServices(t *testing.T) {
	s := NewServer(Config{}, &fakeRunner{}, nil, nil)
	s.SetHealth(fakeHealth{status: map[string]connwatch.ServiceStatus{
		"model":   {Ready: true},
		"storage": {Ready: false, LastError: "connection refused", Failures: 3},
	}})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	resp := do(t, http.MethodGet, ts.URL+"/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[struct {
		Status   string                             `json:"status"`
		Services map[string]connwatch.ServiceStatus `json:"services"`
	}](t, resp)
	assert.Equal(t, "degraded", body.Status)
	assert.True(t, body.Services["model"].Ready)
	assert.Equal(t, "connection refused", body.Services["storage"].LastError)
	assert.Equal(t, 3, body.Services["storage"].Failures)
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, &fakeRunner{}, nil)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodOptions, ts.URL+"/ask", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))

	req, err = http.NewRequestWithContext(t.Context(), http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://evil.example")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Empty(t, resp2.Header.Get("Access-Control-Allow-Origin"))
}
