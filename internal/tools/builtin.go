package tools

import (
	"context"
	"time"
)

// Tool names the agent knows by heart.
const (
	CurrentTimeToolName  = "current_time"
	SolveMathToolName    = "solve_math"
	JokeToolName         = "joke_generator"
	APIAgentToolName     = "api_agent"
	PythonExpertToolName = "python_expert"

	// ProfileToolName is handled by the agent loop itself: its input
	// is merged into the user profile instead of being dispatched.
	ProfileToolName = "save_user_profile"
)

// TimeFormat is the layout returned by current_time.
const TimeFormat = "2006-01-02 15:04:05"

// CurrentTime returns the current_time tool. now defaults to time.Now.
func CurrentTime(now func() time.Time) *Tool {
	if now == nil {
		now = time.Now
	}
	return &Tool{
		Name:        CurrentTimeToolName,
		Description: "Get the current local date and time. Takes no input.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(_ context.Context, _ map[string]any) (string, error) {
			return now().Format(TimeFormat), nil
		},
	}
}

// SaveUserProfile describes the profile tool so it appears in the
// catalog. Its handler only runs if something bypasses the agent.
func SaveUserProfile() *Tool {
	return &Tool{
		Name:        ProfileToolName,
		Description: `Save facts about the user (name, email, phone, preferences) to their long-term profile. Input is a JSON object, e.g. {"name": "Ada", "city": "London"}.`,
		InputKey:    "info",
		Handler: func(_ context.Context, _ map[string]any) (string, error) {
			return "Profile updates are applied by the agent.", nil
		},
	}
}
