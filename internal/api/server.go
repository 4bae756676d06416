// Package api serves the agent over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nugget/sage-agent/internal/agent"
	"github.com/nugget/sage-agent/internal/buildinfo"
	"github.com/nugget/sage-agent/internal/connwatch"
	"github.com/nugget/sage-agent/internal/memory"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Runner answers questions.
type Runner interface {
	Run(ctx context.Context, req agent.Request) (*agent.Response, error)
}

// Sessions gives operator access to stored conversations.
type Sessions interface {
	ListSessions(ctx context.Context) ([]memory.SessionInfo, error)
	History(ctx context.Context, sessionID string) ([]memory.HistoryEntry, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Health reports the reachability of the services the agent uses.
type Health interface {
	Ready() bool
	Status() map[string]connwatch.ServiceStatus
}

// Config holds the listener settings.
type Config struct {
	Address        string
	Port           int
	AllowedOrigins []string
}

// Server is the HTTP API server.
type Server struct {
	cfg      Config
	runner   Runner
	sessions Sessions
	health   Health
	logger   *slog.Logger
	server   *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg Config, runner Runner, sessions Sessions, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		runner:   runner,
		sessions: sessions,
		logger:   logger.With("component", "api"),
	}
}

// SetHealth makes /health report the services watched by h.
func (s *Server) SetHealth(h Health) {
	s.health = h
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.withLogging)
	r.Use(middleware.Recoverer)
	r.Use(cors(s.cfg.AllowedOrigins))

	r.Post("/ask", s.handleAsk)
	r.Post("/ask/stream", s.handleAskStream)

	r.Get("/sessions", s.handleSessionList)
	r.Delete("/sessions/{sessionID}", s.handleSessionDelete)
	r.Get("/history/{sessionID}", s.handleHistory)

	r.Get("/health", s.handleHealth)
	r.Get("/v1/version", s.handleVersion)
	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute, // agent runs are long
	}

	addr := s.cfg.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.cfg.Port)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}

// cors allows the configured browser origins. "*" allows any origin
// but never with credentials.
func cors(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				for _, o := range allowedOrigins {
					if o != "*" && o != origin {
						continue
					}
					h := w.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
					h.Set("Access-Control-Allow-Headers", "Content-Type")
					h.Add("Vary", "Origin")
					if o != "*" {
						h.Set("Access-Control-Allow-Credentials", "true")
					}
					break
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

// handleHealth answers 200 even when degraded. The body names the
// services that failed their last probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "healthy"}
	if s.health != nil {
		if !s.health.Ready() {
			body["status"] = "degraded"
		}
		body["services"] = s.health.Status()
	}
	writeJSON(w, http.StatusOK, body, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Info(), s.logger)
}

// askRequest is the body of /ask and /ask/stream.
type askRequest struct {
	UserInput string `json:"user_input"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// ask decodes the request and runs the agent. On failure it has
// already written the error response and returns nil.
func (s *Server) ask(w http.ResponseWriter, r *http.Request) *agent.Response {
	var req askRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return nil
	}
	if strings.TrimSpace(req.UserInput) == "" {
		s.errorResponse(w, http.StatusBadRequest, "user_input is required")
		return nil
	}
	if req.SessionID == "" {
		req.SessionID = agent.NewSessionID()
	}
	if req.UserID == "" {
		req.UserID = memory.DefaultUserID
	}

	resp, err := s.runner.Run(r.Context(), agent.Request{
		Question:  req.UserInput,
		SessionID: req.SessionID,
		UserID:    req.UserID,
	})
	if err != nil {
		s.logger.Error("agent run failed",
			"session_id", req.SessionID,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		s.errorResponse(w, http.StatusInternalServerError, "agent failed to produce a response")
		return nil
	}
	return resp
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if resp := s.ask(w, r); resp != nil {
		writeJSON(w, http.StatusOK, resp, s.logger)
	}
}

// handleAskStream answers with the plain output text in one write.
func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	resp := s.ask(w, r)
	if resp == nil {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Session-ID", resp.SessionID)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(resp.Output)); err != nil {
		s.logger.Debug("failed to write stream response", "error", err)
	}
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.ListSessions(r.Context())
	if err != nil {
		s.logger.Error("list sessions failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []memory.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, sessions, s.logger)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	history, err := s.sessions.History(r.Context(), id)
	if err != nil {
		s.logger.Error("read history failed", "session_id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	writeJSON(w, http.StatusOK, history, s.logger)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	err := s.sessions.DeleteSession(r.Context(), id)
	switch {
	case errors.Is(err, memory.ErrNotFound):
		s.errorResponse(w, http.StatusNotFound, "session not found")
	case err != nil:
		s.logger.Error("delete session failed", "session_id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to delete session")
	default:
		s.logger.Info("session deleted", "session_id", id)
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": true}, s.logger)
	}
}
