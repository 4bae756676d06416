package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name          string
		text          string
		wantReasoning string
		wantAction    string
		wantRaw       string
		wantFinal     string
		wantHasFinal  bool
		wantEmpty     bool
	}{
		{
			name:          "tool call",
			text:          "Thought: I should check the clock.\nAction: current_time\nAction Input: {}",
			wantReasoning: "I should check the clock.",
			wantAction:    "current_time",
			wantRaw:       "{}",
		},
		{
			name:         "final answer only",
			text:         "Final Answer:  Paris is the capital of France.  ",
			wantFinal:    "Paris is the capital of France.",
			wantHasFinal: true,
		},
		{
			name:          "thought then final answer",
			text:          "Thought: I know this.\nFinal Answer: 4",
			wantReasoning: "I know this.",
			wantFinal:     "4",
			wantHasFinal:  true,
		},
		{
			name:       "action and final answer together",
			text:       "Action: solve_math\nAction Input: 2+2\nFinal Answer: 4",
			wantAction: "solve_math",
			wantRaw:    "2+2",
			wantFinal:  "4", wantHasFinal: true,
		},
		{
			name:         "last final answer marker wins",
			text:         "Final Answer: draft\nObservation: tool said Final Answer: bogus\nFinal Answer: real",
			wantFinal:    "real",
			wantHasFinal: true,
		},
		{
			name:         "marker mid-line",
			text:         "So the Final Answer: 42",
			wantFinal:    "42",
			wantHasFinal: true,
		},
		{
			name:          "multi-line continuation",
			text:          "Thought: first part\nsecond part\nAction: api_agent\nAction Input: {\"endpoint\":\n\"https://fakestoreapi.com/products\"}",
			wantReasoning: "first part second part",
			wantAction:    "api_agent",
			wantRaw:       "{\"endpoint\": \"https://fakestoreapi.com/products\"}",
		},
		{
			name:          "indented labels",
			text:          "   Thought: spaced\n\tAction: joke_generator",
			wantReasoning: "spaced",
			wantAction:    "joke_generator",
		},
		{
			name:       "labels are case-sensitive",
			text:       "thought: lower\naction: current_time",
			wantEmpty:  true,
			wantAction: "",
		},
		{
			name:      "sentinel none",
			text:      "Thought: nothing to do\nAction: None\nAction Input: ",
			wantEmpty: true, wantReasoning: "nothing to do",
		},
		{
			name:       "decorated action name",
			text:       "Action: `rag_search`\nAction Input: products endpoint",
			wantAction: "rag_search",
			wantRaw:    "products endpoint",
		},
		{
			name:       "hallucinated observation locks fields",
			text:       "Action: current_time\nAction Input: {}\nObservation: 10:00\nThought: now answer\nAction: joke_generator",
			wantAction: "current_time",
			wantRaw:    "{}",
		},
		{
			name:      "unparsable text",
			text:      "I am not sure what to do here.",
			wantEmpty: true,
		},
		{
			name:      "empty output",
			text:      "",
			wantEmpty: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.text)
			assert.Equal(t, tt.wantReasoning, got.Reasoning, "reasoning")
			assert.Equal(t, tt.wantAction, got.Action, "action")
			assert.Equal(t, tt.wantRaw, got.Input.Raw, "input")
			assert.Equal(t, tt.wantHasFinal, got.HasFinal, "has final")
			assert.Equal(t, tt.wantFinal, got.Final, "final")
			assert.Equal(t, tt.wantEmpty, got.Empty(), "empty")
		})
	}
}

func TestParse_DecodesStructuredInput(t *testing.T) {
	got := Parse("Action: save_user_profile\nAction Input: {\"name\": \"Ada\"}")
	require.True(t, got.Input.IsStructured())
	obj, ok := got.Input.Object()
	require.True(t, ok)
	assert.Equal(t, map[string]any{"name": "Ada"}, obj)
}

func TestDecodeInput(t *testing.T) {
	tests := []struct {
		name           string
		raw            string
		wantRaw        string
		wantStructured any
	}{
		{"empty", "  ", "", nil},
		{"plain text", "what is REST?", "what is REST?", nil},
		{"object", `{"endpoint": "https://x", "params": {"limit": 5}}`, `{"endpoint": "https://x", "params": {"limit": 5}}`,
			map[string]any{"endpoint": "https://x", "params": map[string]any{"limit": float64(5)}}},
		{"array", `[1, 2]`, `[1, 2]`, []any{float64(1), float64(2)}},
		{"malformed json falls back", `{"endpoint": `, `{"endpoint":`, nil},
		{"json string literal", `"2 * (3 + 4)"`, "2 * (3 + 4)", nil},
		{"fenced json", "```json\n{\"a\": 1}\n```", `{"a": 1}`, map[string]any{"a": float64(1)}},
		{"inline backticks", "`12/4`", "12/4", nil},
		{"number stays text", "42", "42", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeInput(tt.raw)
			assert.Equal(t, tt.wantRaw, got.Raw)
			assert.Equal(t, tt.wantStructured, got.Structured)
			assert.Equal(t, tt.wantStructured != nil, got.IsStructured())
		})
	}
}

func TestResultHelpers(t *testing.T) {
	assert.True(t, Result{}.Empty())
	assert.False(t, Result{Action: "x"}.Empty())
	assert.False(t, Result{HasFinal: true}.Empty())
	assert.True(t, Result{Action: "x"}.HasAction())
}
