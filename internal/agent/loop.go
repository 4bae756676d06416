// Package agent implements the reasoning loop: prompt the model, parse
// its Thought/Action/Final Answer text, run the requested tool, feed
// the observation back and repeat until the model answers or the
// iteration budget runs out.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/sage-agent/internal/config"
	"github.com/nugget/sage-agent/internal/llm"
	"github.com/nugget/sage-agent/internal/memory"
	"github.com/nugget/sage-agent/internal/prompts"
	"github.com/nugget/sage-agent/internal/protocol"
	"github.com/nugget/sage-agent/internal/safety"
	"github.com/nugget/sage-agent/internal/tools"
)

// DefaultMaxIterations bounds a run when no budget is configured.
const DefaultMaxIterations = 15

// Fixed replies.
const (
	ContentFilterMessage = "I'm sorry, I encountered a content filter while processing your request. This often happens if personal data like phone numbers are included. I will try to save your information separately next time."
	TimeoutMessage       = "I couldn't find a final answer in time."
	FormatReminder       = "No action or final answer provided. Please follow the format: Thought, Action, Action Input, or provide a Final Answer."
)

// Request is one user question.
type Request struct {
	Question  string `json:"user_input"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// Response is the loop's reply.
type Response struct {
	Output    string `json:"output"`
	SessionID string `json:"session_id"`
}

// ModelError is a model failure other than a content-filter refusal.
// It ends the run without a response.
type ModelError struct {
	Err error
}

func (e *ModelError) Error() string { return "model call failed: " + e.Err.Error() }

func (e *ModelError) Unwrap() error { return e.Err }

// Memory is the part of the memory assembler the loop uses.
type Memory interface {
	GetContext(ctx context.Context, sessionID, userID string) (string, error)
	AppendTurn(ctx context.Context, sessionID, userID, question, answer string) error
	UpdateProfile(ctx context.Context, userID string, info any) (map[string]any, error)
}

// Config tunes a Loop.
type Config struct {
	MaxIterations int
}

// Loop runs questions through the model and tools. It holds no
// per-run state and is safe for concurrent use.
type Loop struct {
	model    llm.Client
	registry *tools.Registry
	memory   Memory
	safety   safety.Classifier
	counter  *llm.TokenCounter
	logger   *slog.Logger
	maxIter  int
}

// NewLoop wires a Loop. A nil classifier allows everything and a nil
// counter estimates token counts.
func NewLoop(model llm.Client, registry *tools.Registry, mem Memory, classifier safety.Classifier, counter *llm.TokenCounter, logger *slog.Logger, cfg Config) *Loop {
	if classifier == nil {
		classifier = safety.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	return &Loop{
		model:    model,
		registry: registry,
		memory:   mem,
		safety:   classifier,
		counter:  counter,
		logger:   logger.With("component", "agent"),
		maxIter:  cfg.MaxIterations,
	}
}

// NewSessionID returns a fresh, time-ordered session identifier.
func NewSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// outcome labels a finished run in logs.
type outcome string

const (
	outcomeAnswered outcome = "answered"
	outcomeRefused  outcome = "refused"
	outcomeFiltered outcome = "content_filtered"
	outcomeTimeout  outcome = "budget_exhausted"
	outcomeFailed   outcome = "failed"
)

// Run answers one question. Only a successful final answer is written
// to the session transcript. The error is a *ModelError when the model
// fails, or a storage error.
func (l *Loop) Run(ctx context.Context, req Request) (*Response, error) {
	if req.SessionID == "" {
		req.SessionID = NewSessionID()
	}
	if req.UserID == "" {
		req.UserID = memory.DefaultUserID
	}

	start := time.Now()
	log := l.logger.With("session_id", req.SessionID, "user_id", req.UserID)
	iterations := 0
	result := outcomeFailed
	defer func() {
		log.Info("agent run finished",
			"outcome", result,
			"iterations", iterations,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
	}()

	reply := func(output string, o outcome) (*Response, error) {
		result = o
		return &Response{Output: output, SessionID: req.SessionID}, nil
	}

	question, ok := l.screenInput(ctx, req.Question, log)
	if !ok {
		return reply(safety.Refusal, outcomeRefused)
	}

	history, err := l.memory.GetContext(ctx, req.SessionID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("assemble context: %w", err)
	}

	ctx = tools.WithSession(ctx, req.SessionID, req.UserID)
	catalog := l.registry.Catalog()
	var pad scratchpad

	for iterations < l.maxIter {
		iterations++
		prompt := prompts.AgentPrompt(catalog, history, question, pad.String())

		output, err := l.model.Complete(ctx, prompt)
		if err != nil {
			if llm.IsContentFiltered(err) {
				log.Warn("model refused on content policy", "iteration", iterations, "error", err)
				return reply(ContentFilterMessage, outcomeFiltered)
			}
			return nil, &ModelError{Err: err}
		}

		parsed := protocol.Parse(output)
		log.Debug("agent iteration",
			"iteration", iterations,
			"action", parsed.Action,
			"final", parsed.HasFinal,
			"prompt_tokens", l.counter.Count(prompt),
		)
		log.Log(ctx, config.LevelTrace, "model output", "iteration", iterations, "output", output)

		if parsed.HasAction() {
			tool, err := l.registry.Resolve(parsed.Action)
			if err == nil {
				pad.step(parsed, l.dispatch(ctx, tool, parsed.Input, req.UserID, log))
				continue
			}
			var unavailable *tools.ErrToolUnavailable
			if !parsed.HasFinal && errors.As(err, &unavailable) {
				log.Warn("unknown tool requested", "tool", parsed.Action, "iteration", iterations)
				pad.step(parsed, unavailable.Observation())
				continue
			}
		}

		if parsed.HasFinal {
			answer := l.screenOutput(ctx, question, parsed.Final, log)
			if err := l.memory.AppendTurn(ctx, req.SessionID, req.UserID, question, answer); err != nil {
				return nil, fmt.Errorf("record turn: %w", err)
			}
			return reply(answer, outcomeAnswered)
		}

		pad.observe(FormatReminder)
	}

	return reply(TimeoutMessage, outcomeTimeout)
}

// dispatch runs a resolved tool and returns its observation. Failures
// become observations so the model can correct itself.
func (l *Loop) dispatch(ctx context.Context, tool *tools.Tool, input protocol.ActionInput, userID string, log *slog.Logger) string {
	if tool.Name == tools.ProfileToolName {
		info := profilePayload(input)
		stored, err := l.memory.UpdateProfile(ctx, userID, info)
		if err != nil {
			log.Warn("profile update failed", "error", err)
			return "Error running tool: " + err.Error()
		}
		return "Successfully saved to user profile: " + memory.ProfileJSON(stored)
	}

	out, err := l.registry.Invoke(ctx, tool, input)
	if err != nil {
		return "Error running tool: " + err.Error()
	}
	return out
}

// profilePayload is what save_user_profile stores: the decoded object
// when the model sent JSON, otherwise the text itself.
func profilePayload(input protocol.ActionInput) any {
	if obj, ok := input.Object(); ok {
		return obj
	}
	if input.IsStructured() {
		return input.Structured
	}
	return input.Raw
}

// screenInput returns the sanitized question and whether it may be
// answered. Classifier failures refuse. An empty sanitized text keeps
// the original question.
func (l *Loop) screenInput(ctx context.Context, question string, log *slog.Logger) (string, bool) {
	v, err := l.safety.CheckInput(ctx, question)
	if err != nil {
		log.Error("input screening failed, refusing", "error", err)
		return "", false
	}
	if !v.Allowed {
		log.Info("question rejected", "risk", v.Risk)
		return "", false
	}
	if s := strings.TrimSpace(v.Sanitized); s != "" {
		return s, true
	}
	return question, true
}

// screenOutput returns the answer to show, or the refusal when the
// classifier rejects it or fails.
func (l *Loop) screenOutput(ctx context.Context, question, answer string, log *slog.Logger) string {
	v, err := l.safety.CheckOutput(ctx, question, answer)
	if err != nil {
		log.Error("output screening failed, refusing", "error", err)
		return safety.Refusal
	}
	if !v.Allowed {
		log.Info("answer rejected", "risk", v.Risk)
		return safety.Refusal
	}
	return strings.TrimSpace(v.Sanitized)
}
