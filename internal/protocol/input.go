package protocol

import (
	"encoding/json"
	"strings"
)

// ActionInput is the argument of an Action, decided once at parse
// time: either plain text (Raw only) or a decoded JSON object or array
// (Structured set, Raw keeping the original text).
type ActionInput struct {
	Raw        string
	Structured any // map[string]any or []any; nil for plain text
}

// IsStructured reports whether the input decoded as JSON.
func (in ActionInput) IsStructured() bool {
	return in.Structured != nil
}

// Object returns the decoded JSON object, if the input was one.
func (in ActionInput) Object() (map[string]any, bool) {
	m, ok := in.Structured.(map[string]any)
	return m, ok
}

// String renders the input for the scratchpad.
func (in ActionInput) String() string {
	return in.Raw
}

// DecodeInput decodes raw opportunistically. Text that looks like a
// JSON object or array is decoded; a JSON string literal is unquoted;
// anything else, including malformed JSON, stays plain text.
func DecodeInput(raw string) ActionInput {
	raw = stripFence(strings.TrimSpace(raw))
	if raw == "" {
		return ActionInput{}
	}

	switch raw[0] {
	case '{', '[':
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			return ActionInput{Raw: raw, Structured: v}
		}
	case '"':
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err == nil {
			return ActionInput{Raw: s}
		}
	}
	return ActionInput{Raw: raw}
}

// stripFence removes a Markdown code fence or inline backticks around
// the input.
func stripFence(s string) string {
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		return strings.TrimSpace(s)
	}
	if len(s) >= 2 && s[0] == '`' && s[len(s)-1] == '`' {
		return strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
