package prompts

import (
	"strings"

	"github.com/MakeNowJust/heredoc"
)

// NoHistory is the context text used when a session has no profile,
// summary or recent messages yet.
const NoHistory = "No previous history."

// agentPreamble is the fixed instruction block. The response format
// section must stay in step with the labels in package protocol.
var agentPreamble = heredoc.Doc(`
	You are a helpful and polite technical assistant. You have access to tools and memory to help you provide better answers.

	Tools:
	{{tools}}

	History and Profile:
	{{history}}

	Guidance:
	- If the user shares personal details (like their name, contact info, or preferences), use 'save_user_profile' to remember them for future chats.
	- Use 'rag_search' to look up technical documentation when needed.
	- Use 'api_agent' for any external data requests or actions.
	- Never invent data that one of the tools could fetch. Call the tool and use its Observation.
	- Use exactly one Action per response and wait for its Observation before concluding.
	- Keep your tone collaborative.

	Response Format:
	Thought: [describe your next step]
	Action: [the tool to use]
	Action Input: [JSON for the tool]
	Observation: [result from the tool]
	... (continue if more steps are needed)
	Final Answer: [your clear and direct response to the user]
`)

// AgentPrompt assembles the full prompt for one loop iteration: the
// preamble with the tool catalog and memory context filled in, the
// user's question, and the scratchpad of earlier steps in this turn.
func AgentPrompt(toolCatalog, history, question, scratchpad string) string {
	if strings.TrimSpace(history) == "" {
		history = NoHistory
	}
	r := strings.NewReplacer("{{tools}}", toolCatalog, "{{history}}", history)

	var sb strings.Builder
	sb.WriteString(r.Replace(agentPreamble))
	sb.WriteString("\nHuman: ")
	sb.WriteString(question)
	sb.WriteString("\n")
	sb.WriteString(scratchpad)
	return sb.String()
}
