// Package protocol parses the text format the agent asks the model to
// answer in:
//
//	Thought: <reasoning>
//	Action: <tool name>
//	Action Input: <argument, JSON or plain text>
//
// or, when the model is done,
//
//	Final Answer: <reply to the user>
//
// The labels are a versioned constant set ([Version]); the agent prompt
// in package prompts teaches the same labels.
package protocol

import (
	"strings"
)

// Version names the label set below. Bump it when a label changes.
const Version = "react-v1"

// Field labels. Matching is case-sensitive and happens after leading
// whitespace is trimmed from the line.
const (
	LabelThought     = "Thought:"
	LabelAction      = "Action:"
	LabelActionInput = "Action Input:"
	LabelObservation = "Observation:"

	// FinalAnswerMarker is found anywhere in the output, not only at
	// the start of a line.
	FinalAnswerMarker = "Final Answer:"
)

// noActionValues are Action values that mean "no tool", compared
// case-insensitively.
var noActionValues = map[string]bool{
	"":     true,
	"none": true,
	"n/a":  true,
	"na":   true,
	"null": true,
	"nil":  true,
	"-":    true,
}

// Result is the structured form of one model output.
type Result struct {
	// Reasoning is the Thought text, possibly empty.
	Reasoning string

	// Action is the requested tool name. Empty means no action.
	Action string

	// Input is the decoded Action Input.
	Input ActionInput

	// HasFinal reports whether FinalAnswerMarker appears anywhere in
	// the output. Final is the trimmed text after its last occurrence.
	HasFinal bool
	Final    string
}

// HasAction reports whether the output requested a tool.
func (r Result) HasAction() bool {
	return r.Action != ""
}

// Empty reports an output with neither an action nor a final answer.
// Callers treat this as a protocol violation.
func (r Result) Empty() bool {
	return !r.HasAction() && !r.HasFinal
}

type field int

const (
	fieldNone field = iota
	fieldThought
	fieldAction
	fieldInput
	fieldSink // Observation or Final Answer text: not collected
)

// lineLabels maps line prefixes to the field they start.
var lineLabels = []struct {
	label string
	field field
}{
	{LabelActionInput, fieldInput},
	{LabelAction, fieldAction},
	{LabelThought, fieldThought},
	{LabelObservation, fieldSink},
	{FinalAnswerMarker, fieldSink},
}

// Parse extracts the fields of one model output. It never fails: text
// that matches nothing yields an [Result.Empty] result.
//
// Lines that start with no label continue the most recently assigned
// field and are joined with a single space. Once the model writes an
// Observation line after choosing an action, the rest of the output is
// its own invention and later Thought/Action lines are ignored.
func Parse(text string) Result {
	var (
		thought, action, input []string
		current                field
		locked                 bool
	)

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		matched := false
		for _, l := range lineLabels {
			rest, ok := strings.CutPrefix(line, l.label)
			if !ok {
				continue
			}
			matched = true
			rest = strings.TrimSpace(rest)

			if locked {
				current = fieldSink
				break
			}

			current = l.field
			switch l.field {
			case fieldThought:
				thought = startField(rest)
			case fieldAction:
				action = startField(rest)
			case fieldInput:
				input = startField(rest)
			case fieldSink:
				if l.label == LabelObservation && len(action) > 0 {
					locked = true
				}
			}
			break
		}
		if matched {
			continue
		}

		switch current {
		case fieldThought:
			thought = append(thought, line)
		case fieldAction:
			action = append(action, line)
		case fieldInput:
			input = append(input, line)
		}
	}

	res := Result{
		Reasoning: strings.Join(thought, " "),
		Action:    normalizeAction(strings.Join(action, " ")),
		Input:     DecodeInput(strings.Join(input, " ")),
	}

	if idx := strings.LastIndex(text, FinalAnswerMarker); idx >= 0 {
		res.HasFinal = true
		res.Final = strings.TrimSpace(text[idx+len(FinalAnswerMarker):])
	}
	return res
}

// startField begins a field's value list, skipping an empty first part.
func startField(first string) []string {
	if first == "" {
		return []string{}
	}
	return []string{first}
}

// normalizeAction strips decoration models put around tool names
// (backticks, brackets, quotes, bold markers) and maps "no action"
// sentinels to the empty string.
func normalizeAction(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "`*[]\"' ")
	if noActionValues[strings.ToLower(s)] {
		return ""
	}
	return s
}
