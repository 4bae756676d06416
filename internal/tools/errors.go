package tools

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownTool matches any *ErrToolUnavailable via errors.Is.
var ErrUnknownTool = errors.New("unknown tool")

// ErrToolUnavailable is returned when an action names a tool that is
// not in the registry. The agent turns it into an observation listing
// the valid tools.
type ErrToolUnavailable struct {
	ToolName    string
	Available   []string
	Suggestions []string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}

// Unwrap returns ErrUnknownTool.
func (e *ErrToolUnavailable) Unwrap() error {
	return ErrUnknownTool
}

// Observation renders the error for the model.
func (e *ErrToolUnavailable) Observation() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Unknown tool %q. Valid tools: %s.", e.ToolName, strings.Join(e.Available, ", "))
	if len(e.Suggestions) > 0 {
		fmt.Fprintf(&sb, " Did you mean: %s?", strings.Join(e.Suggestions, ", "))
	}
	return sb.String()
}

// ExecutionError wraps a failure inside a tool. Its message is the
// underlying error's message, unchanged.
type ExecutionError struct {
	Tool string
	Err  error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}
