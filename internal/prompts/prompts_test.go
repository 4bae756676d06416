package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAgentPrompt(t *testing.T) {
	got := AgentPrompt("- current_time: Return the current time.", "User Profile:\nname: Ada", "what time is it?", "\nObservation: 12:00\n")

	assert.Contains(t, got, "Tools:\n- current_time: Return the current time.")
	assert.Contains(t, got, "History and Profile:\nUser Profile:\nname: Ada")
	assert.Contains(t, got, "\nHuman: what time is it?\n")
	assert.True(t, strings.HasSuffix(got, "\nObservation: 12:00\n"))
	assert.NotContains(t, got, "{{")

	for _, label := range []string{"Thought:", "Action:", "Action Input:", "Observation:", "Final Answer:"} {
		assert.Contains(t, got, label)
	}
}

func TestAgentPrompt_EmptyHistory(t *testing.T) {
	got := AgentPrompt("", "  ", "hi", "")
	assert.Contains(t, got, "History and Profile:\n"+NoHistory)
}

func TestAgentPrompt_PreambleNotIndented(t *testing.T) {
	got := AgentPrompt("x", "y", "z", "")
	assert.True(t, strings.HasPrefix(got, "You are a helpful"))
	assert.Contains(t, got, "\nResponse Format:\nThought:")
}

func TestSummaryPrompt(t *testing.T) {
	got := SummaryPrompt("user: hi\nassistant: hello")
	assert.Contains(t, got, "user: hi\nassistant: hello")
	assert.True(t, strings.HasSuffix(got, "Summary:"))
}

func TestPythonExpertPrompt(t *testing.T) {
	got := PythonExpertPrompt("why does my list comprehension fail?")
	assert.Contains(t, got, "why does my list comprehension fail?")
	assert.Contains(t, got, PythonRefusal)
}

func TestCombineSummariesPrompt(t *testing.T) {
	got := CombineSummariesPrompt([]string{"They met.", "They argued."})
	assert.Contains(t, got, "1. They met.\n2. They argued.")
	assert.True(t, strings.HasSuffix(got, "Summary:"))
}
