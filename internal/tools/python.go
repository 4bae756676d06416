package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nugget/sage-agent/internal/llm"
	"github.com/nugget/sage-agent/internal/prompts"
)

// PythonExpert returns the python_expert tool, which forwards the
// question to the model under a Python-only instruction. timeout bounds
// the model call in place of the registry default; zero keeps the
// default.
func PythonExpert(client llm.Client, timeout time.Duration) *Tool {
	return &Tool{
		Name:        PythonExpertToolName,
		Description: "Ask a Python expert: explains concepts, fixes bugs in Python code and suggests best practices. Input is the question or code.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"user_input": map[string]any{
					"type":        "string",
					"description": "The Python question or code snippet.",
				},
			},
			"required": []string{"user_input"},
		},
		InputKey: "user_input",
		Timeout:  timeout,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			input, _ := args["user_input"].(string)
			if strings.TrimSpace(input) == "" {
				return "", fmt.Errorf("user_input is required")
			}
			out, err := client.Complete(ctx, prompts.PythonExpertPrompt(input))
			if err != nil {
				return "", fmt.Errorf("python expert: %w", err)
			}
			return strings.TrimSpace(out), nil
		},
	}
}
