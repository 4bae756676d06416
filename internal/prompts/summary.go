package prompts

import (
	"fmt"
	"strings"
)

// summaryTemplate asks for a running summary of older conversation
// turns. The single format verb is the conversation text.
const summaryTemplate = `Progressively summarize the lines of conversation provided, producing a concise summary.
Keep facts the user stated about themselves, questions that were answered, and anything left unresolved.
Write in the third person, at most 150 words, plain prose without bullet points.

Conversation:
%s

Summary:`

// SummaryPrompt returns the prompt used to summarize older history.
// conversationText is role-prefixed lines ("user: ...").
func SummaryPrompt(conversationText string) string {
	return fmt.Sprintf(summaryTemplate, conversationText)
}

const combineTemplate = `The following are summaries of consecutive parts of one conversation, oldest first.
Merge them into a single concise summary. Keep facts the user stated about themselves, questions that were answered, and anything left unresolved.
Write in the third person, at most 150 words, plain prose without bullet points.

Partial summaries:
%s

Summary:`

// CombineSummariesPrompt merges partial summaries of a long history,
// given in chronological order.
func CombineSummariesPrompt(partials []string) string {
	lines := make([]string, len(partials))
	for i, p := range partials {
		lines[i] = fmt.Sprintf("%d. %s", i+1, p)
	}
	return fmt.Sprintf(combineTemplate, strings.Join(lines, "\n"))
}
