package memory

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Transcript roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// History entry types as the chat UI names them.
const (
	TypeHuman = "human"
	TypeAI    = "ai"
)

const (
	// DefaultTitle names a session with no transcript.
	DefaultTitle = "New Chat"

	titleRunes = 40
)

// Message is one role-tagged transcript entry.
type Message struct {
	Role    string
	Content string
}

// HistoryEntry is a transcript message rendered for clients.
type HistoryEntry struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// FormatLine renders one transcript line: "<role>: <content>\n".
func FormatLine(role, content string) string {
	return role + ": " + content + "\n"
}

// FormatTurn renders a question and its answer as two transcript lines.
func FormatTurn(question, answer string) string {
	return FormatLine(RoleUser, question) + FormatLine(RoleAssistant, answer)
}

// ParseTranscript splits a transcript back into messages. A line
// without a role prefix continues the previous message, so multi-line
// answers survive the round trip. Text before the first role line is
// dropped.
func ParseTranscript(transcript string) []Message {
	var out []Message
	for _, line := range strings.Split(transcript, "\n") {
		role, content, ok := splitRole(line)
		if ok {
			out = append(out, Message{Role: role, Content: content})
			continue
		}
		if len(out) > 0 {
			out[len(out)-1].Content += "\n" + line
		}
	}
	for i := range out {
		out[i].Content = strings.TrimRight(out[i].Content, "\n")
	}
	return out
}

func splitRole(line string) (role, content string, ok bool) {
	for _, r := range []string{RoleUser, RoleAssistant} {
		if c, found := strings.CutPrefix(line, r+": "); found {
			return r, c, true
		}
	}
	return "", "", false
}

// FormatMessages renders messages back into transcript text.
func FormatMessages(msgs []Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString(FormatLine(m.Role, m.Content))
	}
	return sb.String()
}

// Lines returns the non-empty lines of a transcript.
func Lines(transcript string) []string {
	var out []string
	for _, line := range strings.Split(transcript, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

// SplitWindow divides the non-empty transcript lines into the older
// part and the verbatim last n lines.
func SplitWindow(transcript string, n int) (older, recent []string) {
	lines := Lines(transcript)
	if n < 0 {
		n = 0
	}
	if len(lines) <= n {
		return nil, lines
	}
	return lines[:len(lines)-n], lines[len(lines)-n:]
}

// History renders a transcript as typed entries for the chat UI.
func History(transcript string) []HistoryEntry {
	msgs := ParseTranscript(transcript)
	out := make([]HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		typ := TypeHuman
		if m.Role == RoleAssistant {
			typ = TypeAI
		}
		out = append(out, HistoryEntry{Type: typ, Content: m.Content})
	}
	return out
}

// Title derives a session title from the first transcript line.
func Title(transcript string) string {
	lines := Lines(transcript)
	if len(lines) == 0 {
		return DefaultTitle
	}
	title := strings.TrimSpace(strings.TrimPrefix(lines[0], RoleUser+": "))
	if title == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(title) > titleRunes {
		title = string([]rune(title)[:titleRunes])
	}
	return title
}

// RenderProfile renders a profile as "key: value" lines in key order.
// Strings are written bare, anything else as JSON.
func RenderProfile(profile map[string]any) string {
	keys := make([]string, 0, len(profile))
	for k := range profile {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%s: %s", k, renderValue(profile[k]))
	}
	return sb.String()
}

func renderValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// NormalizeProfileInfo turns a save_user_profile payload into a
// mapping: objects are used as-is, JSON text holding an object is
// decoded, anything else is stored under "info".
func NormalizeProfileInfo(info any) map[string]any {
	switch v := info.(type) {
	case map[string]any:
		return v
	case string:
		var obj map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(v)), &obj); err == nil && obj != nil {
			return obj
		}
		return map[string]any{"info": v}
	default:
		return map[string]any{"info": v}
	}
}
