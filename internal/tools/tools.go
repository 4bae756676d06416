// Package tools defines the tools available to the agent and the
// immutable registry that dispatches to them.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/sahilm/fuzzy"
	"github.com/xeipuuv/gojsonschema"

	"github.com/nugget/sage-agent/internal/protocol"
)

// DefaultTimeout bounds a single tool call when the registry is built
// without one.
const DefaultTimeout = 10 * time.Second

// Handler runs a tool with JSON-style arguments and returns the
// observation text shown to the model.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`

	// InputKey is the argument a plain-text Action Input is stored
	// under. Tools without one ignore plain-text input.
	InputKey string `json:"-"`

	// Timeout overrides the registry timeout for this tool when set.
	Timeout time.Duration `json:"-"`

	Handler Handler `json:"-"`
}

// Registry is a fixed set of tools. It is built once and never
// modified, so it can be shared by concurrent agent runs.
type Registry struct {
	tools   map[string]*Tool
	names   []string
	schemas map[string]*gojsonschema.Schema
	timeout time.Duration
	logger  *slog.Logger
}

// NewRegistry builds a registry from tools. Names must be unique and
// every tool needs a handler and a valid parameter schema.
func NewRegistry(timeout time.Duration, logger *slog.Logger, tools ...*Tool) (*Registry, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		tools:   make(map[string]*Tool, len(tools)),
		schemas: make(map[string]*gojsonschema.Schema, len(tools)),
		timeout: timeout,
		logger:  logger.With("component", "tools"),
	}
	for _, t := range tools {
		if t == nil || t.Name == "" {
			return nil, errors.New("tool with empty name")
		}
		if t.Handler == nil {
			return nil, fmt.Errorf("tool %q has no handler", t.Name)
		}
		if _, dup := r.tools[t.Name]; dup {
			return nil, fmt.Errorf("tool %q registered twice", t.Name)
		}
		if len(t.Parameters) > 0 {
			schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(t.Parameters))
			if err != nil {
				return nil, fmt.Errorf("tool %q: invalid parameter schema: %w", t.Name, err)
			}
			r.schemas[t.Name] = schema
		}
		r.tools[t.Name] = t
		r.names = append(r.names, t.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Resolve looks a tool up by name. Unknown names return an
// *ErrToolUnavailable carrying the valid names and close matches.
func (r *Registry) Resolve(name string) (*Tool, error) {
	if t, ok := r.tools[name]; ok {
		return t, nil
	}
	return nil, &ErrToolUnavailable{
		ToolName:    name,
		Available:   r.Names(),
		Suggestions: r.Suggest(name),
	}
}

// Names returns the tool names in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Catalog renders one "- name: description" line per tool for the
// agent prompt.
func (r *Registry) Catalog() string {
	var sb strings.Builder
	for i, name := range r.names {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "- %s: %s", name, r.tools[name].Description)
	}
	return sb.String()
}

// Suggest returns registered names that fuzzily match name, best
// first, at most three.
func (r *Registry) Suggest(name string) []string {
	if name == "" {
		return nil
	}
	matches := fuzzy.Find(strings.ToLower(name), r.names)
	var out []string
	for _, m := range matches {
		out = append(out, m.Str)
		if len(out) == 3 {
			break
		}
	}
	return out
}

// Invoke runs tool with the parsed Action Input. Arguments are mapped
// to the tool's parameters, validated against its schema and passed to
// the handler under the tool's timeout, or the registry's when the
// tool sets none. Any failure, including a panic or timeout, comes
// back as an *ExecutionError.
func (r *Registry) Invoke(ctx context.Context, tool *Tool, input protocol.ActionInput) (string, error) {
	args, err := buildArgs(tool, input)
	if err != nil {
		return "", &ExecutionError{Tool: tool.Name, Err: err}
	}
	if err := r.validate(tool.Name, args); err != nil {
		return "", &ExecutionError{Tool: tool.Name, Err: err}
	}

	timeout := r.timeoutFor(tool)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		out string
		err error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("tool panicked",
					"tool", tool.Name,
					"panic", p,
					"stack", string(debug.Stack()),
				)
				done <- outcome{err: fmt.Errorf("tool panicked: %v", p)}
			}
		}()
		out, err := tool.Handler(ctx, args)
		done <- outcome{out: out, err: err}
	}()

	logger := r.logger.With("tool", tool.Name, "session_id", SessionIDFromContext(ctx))

	select {
	case o := <-done:
		if o.err != nil {
			logger.Warn("tool failed", "error", o.err, "elapsed", time.Since(start))
			return "", &ExecutionError{Tool: tool.Name, Err: o.err}
		}
		logger.Debug("tool completed", "elapsed", time.Since(start), "output_len", len(o.out))
		return o.out, nil
	case <-ctx.Done():
		logger.Warn("tool timed out", "timeout", timeout)
		return "", &ExecutionError{Tool: tool.Name, Err: fmt.Errorf("timed out after %s", timeout)}
	}
}

func (r *Registry) timeoutFor(tool *Tool) time.Duration {
	if tool.Timeout > 0 {
		return tool.Timeout
	}
	return r.timeout
}

// buildArgs maps an Action Input onto a tool's argument object. A JSON
// object is used as-is. Plain text and JSON arrays are stored under
// the tool's InputKey.
func buildArgs(tool *Tool, input protocol.ActionInput) (map[string]any, error) {
	if obj, ok := input.Object(); ok {
		return obj, nil
	}
	if tool.InputKey == "" {
		return map[string]any{}, nil
	}
	if input.IsStructured() {
		return map[string]any{tool.InputKey: input.Structured}, nil
	}
	if input.Raw == "" {
		return map[string]any{}, nil
	}
	return map[string]any{tool.InputKey: input.Raw}, nil
}

func (r *Registry) validate(name string, args map[string]any) error {
	schema, ok := r.schemas[name]
	if !ok {
		return nil
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("validate arguments: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid arguments: %s", strings.Join(msgs, "; "))
}
