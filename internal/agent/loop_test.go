package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/sage-agent/internal/llm"
	"github.com/nugget/sage-agent/internal/memory"
	"github.com/nugget/sage-agent/internal/safety"
	"github.com/nugget/sage-agent/internal/tools"
)

// scriptedModel replays outputs in order and repeats the last one.
type scriptedModel struct {
	mu      sync.Mutex
	outputs []string
	err     error
	prompts []string
}

func (m *scriptedModel) Complete(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	i := min(len(m.prompts)-1, len(m.outputs)-1)
	return m.outputs[i], nil
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

func (m *scriptedModel) lastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prompts[len(m.prompts)-1]
}

// blocklist rejects text containing any listed word.
type blocklist struct {
	words []string
	err   error
}

func (b blocklist) verdict(text string) (safety.Verdict, error) {
	if b.err != nil {
		return safety.Verdict{}, b.err
	}
	for _, w := range b.words {
		if strings.Contains(strings.ToLower(text), w) {
			return safety.Verdict{Sanitized: text, Risk: 1}, nil
		}
	}
	return safety.Verdict{Sanitized: text, Allowed: true}, nil
}

func (b blocklist) CheckInput(_ context.Context, text string) (safety.Verdict, error) {
	return b.verdict(text)
}

func (b blocklist) CheckOutput(_ context.Context, _, output string) (safety.Verdict, error) {
	return b.verdict(output)
}

// redactor allows everything but masks a secret word.
type redactor struct{ word string }

func (r redactor) CheckInput(_ context.Context, text string) (safety.Verdict, error) {
	return safety.Verdict{Sanitized: strings.ReplaceAll(text, r.word, "[redacted]"), Allowed: true}, nil
}

func (r redactor) CheckOutput(_ context.Context, _, output string) (safety.Verdict, error) {
	return safety.Verdict{Sanitized: output, Allowed: true}, nil
}

type harness struct {
	model *scriptedModel
	mem   *memory.Assembler
	store *memory.MemStore
	loop  *Loop

	mu    sync.Mutex
	calls []map[string]any
}

func newHarness(t *testing.T, classifier safety.Classifier, outputs ...string) *harness {
	t.Helper()
	h := &harness{
		model: &scriptedModel{outputs: outputs},
		store: memory.NewMemStore(),
	}
	h.mem = memory.NewAssembler(h.store, nil, memory.AssemblerConfig{}, nil)

	echo := &tools.Tool{
		Name:        "echo",
		Description: "Echo the text back.",
		InputKey:    "text",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			h.mu.Lock()
			h.calls = append(h.calls, args)
			h.mu.Unlock()
			if tools.SessionIDFromContext(ctx) == "" {
				return "", errors.New("no session in context")
			}
			return fmt.Sprintf("echo: %v", args["text"]), nil
		},
	}
	fail := &tools.Tool{
		Name:        "fail",
		Description: "Always fails.",
		Handler: func(context.Context, map[string]any) (string, error) {
			return "", errors.New("boom")
		},
	}
	reg, err := tools.NewRegistry(time.Second, nil, echo, fail, tools.SaveUserProfile())
	require.NoError(t, err)

	h.loop = NewLoop(h.model, reg, h.mem, classifier, nil, nil, Config{MaxIterations: 4})
	return h
}

func (h *harness) transcript(t *testing.T, session string) string {
	t.Helper()
	text, err := h.store.Transcript(context.Background(), session)
	require.NoError(t, err)
	return text
}

func (h *harness) toolCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func TestRun_FinalAnswer(t *testing.T) {
	h := newHarness(t, nil, "Thought: easy\nFinal Answer:   Paris.  \n")

	resp, err := h.loop.Run(t.Context(), Request{Question: "Capital of France?", SessionID: "s1", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, &Response{Output: "Paris.", SessionID: "s1"}, resp)
	assert.Equal(t, 1, h.model.calls())
	assert.Equal(t, "user: Capital of France?\nassistant: Paris.\n", h.transcript(t, "s1"))
}

func TestRun_PromptCarriesCatalogAndQuestion(t *testing.T) {
	h := newHarness(t, nil, "Final Answer: ok")
	_, err := h.loop.Run(t.Context(), Request{Question: "hello there", SessionID: "s"})
	require.NoError(t, err)

	p := h.model.lastPrompt()
	assert.Contains(t, p, "- echo: Echo the text back.")
	assert.Contains(t, p, "- save_user_profile:")
	assert.Contains(t, p, "Human: hello there")
	assert.Contains(t, p, "No previous history.")
}

func TestRun_UnsafeInput(t *testing.T) {
	h := newHarness(t, blocklist{words: []string{"idiot"}}, "Final Answer: never")
	require.NoError(t, h.store.AppendTranscript(t.Context(), "s", "u", memory.FormatTurn("q", "a")))
	before := h.transcript(t, "s")

	resp, err := h.loop.Run(t.Context(), Request{Question: "you idiot", SessionID: "s", UserID: "u"})
	require.NoError(t, err)
	assert.Equal(t, safety.Refusal, resp.Output)
	assert.Zero(t, h.model.calls())
	assert.Equal(t, before, h.transcript(t, "s"))
}

func TestRun_ClassifierFailureRefuses(t *testing.T) {
	h := newHarness(t, blocklist{err: errors.New("policy broken")}, "Final Answer: never")

	resp, err := h.loop.Run(t.Context(), Request{Question: "hi", SessionID: "s"})
	require.NoError(t, err)
	assert.Equal(t, safety.Refusal, resp.Output)
	assert.Zero(t, h.model.calls())
	assert.Empty(t, h.transcript(t, "s"))
}

func TestRun_UsesSanitizedQuestion(t *testing.T) {
	h := newHarness(t, redactor{word: "hunter2"}, "Final Answer: noted")

	_, err := h.loop.Run(t.Context(), Request{Question: "my password is hunter2", SessionID: "s"})
	require.NoError(t, err)
	p := h.model.lastPrompt()
	assert.Contains(t, p, "Human: my password is [redacted]")
	assert.NotContains(t, p, "hunter2")
	assert.Equal(t, memory.FormatTurn("my password is [redacted]", "noted"), h.transcript(t, "s"))
}

func TestRun_UnsafeOutputIsReplaced(t *testing.T) {
	h := newHarness(t, blocklist{words: []string{"stupid"}}, "Final Answer: that is a stupid question")

	resp, err := h.loop.Run(t.Context(), Request{Question: "why?", SessionID: "s"})
	require.NoError(t, err)
	assert.Equal(t, safety.Refusal, resp.Output)
	assert.Equal(t, memory.FormatTurn("why?", safety.Refusal), h.transcript(t, "s"))
}

func TestRun_ToolPreemptsFinalAnswer(t *testing.T) {
	h := newHarness(t, nil,
		"Thought: check first\nAction: echo\nAction Input: {\"text\": \"ping\"}\nFinal Answer: guessed",
		"Final Answer: echo said ping",
	)

	resp, err := h.loop.Run(t.Context(), Request{Question: "ping?", SessionID: "s"})
	require.NoError(t, err)
	assert.Equal(t, "echo said ping", resp.Output)
	assert.Equal(t, 1, h.toolCalls())
	assert.Equal(t, 2, h.model.calls())

	p := h.model.lastPrompt()
	assert.Contains(t, p, "Thought: check first\nAction: echo\nAction Input: {\"text\": \"ping\"}\nObservation: echo: ping\n")
	assert.Equal(t, memory.FormatTurn("ping?", "echo said ping"), h.transcript(t, "s"))
}

func TestRun_PlainTextInput(t *testing.T) {
	h := newHarness(t, nil, "Action: echo\nAction Input: hello world", "Final Answer: done")

	_, err := h.loop.Run(t.Context(), Request{Question: "q", SessionID: "s"})
	require.NoError(t, err)
	require.Equal(t, 1, h.toolCalls())
	assert.Equal(t, map[string]any{"text": "hello world"}, h.calls[0])
	assert.Contains(t, h.model.lastPrompt(), "Observation: echo: hello world")
}

func TestRun_BudgetExhausted(t *testing.T) {
	h := newHarness(t, nil, "I am just rambling without any format.")

	resp, err := h.loop.Run(t.Context(), Request{Question: "q", SessionID: "s"})
	require.NoError(t, err)
	assert.Equal(t, TimeoutMessage, resp.Output)
	assert.Equal(t, 4, h.model.calls())
	assert.Empty(t, h.transcript(t, "s"))

	// Every retry carries one more format reminder.
	assert.Equal(t, 3, strings.Count(h.model.lastPrompt(), "Observation: "+FormatReminder))
}

func TestRun_BudgetExhaustedByTools(t *testing.T) {
	h := newHarness(t, nil, "Action: echo\nAction Input: again")

	resp, err := h.loop.Run(t.Context(), Request{Question: "q", SessionID: "s"})
	require.NoError(t, err)
	assert.Equal(t, TimeoutMessage, resp.Output)
	assert.Equal(t, 4, h.toolCalls())
	assert.Empty(t, h.transcript(t, "s"))
}

func TestRun_UnknownToolRecovers(t *testing.T) {
	h := newHarness(t, nil, "Action: not_a_tool\nAction Input: x", "Final Answer: recovered")

	resp, err := h.loop.Run(t.Context(), Request{Question: "q", SessionID: "s"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Output)
	assert.Equal(t, 2, h.model.calls())
	assert.Contains(t, h.model.lastPrompt(), `Observation: Unknown tool "not_a_tool". Valid tools: echo, fail, save_user_profile.`)
}

func TestRun_UnknownToolWithFinalAnswer(t *testing.T) {
	h := newHarness(t, nil, "Action: none_such\nFinal Answer: here you go")

	resp, err := h.loop.Run(t.Context(), Request{Question: "q", SessionID: "s"})
	require.NoError(t, err)
	assert.Equal(t, "here you go", resp.Output)
	assert.Equal(t, 1, h.model.calls())
}

func TestRun_ToolErrorBecomesObservation(t *testing.T) {
	h := newHarness(t, nil, "Action: fail\nAction Input: {}", "Final Answer: sorry")

	resp, err := h.loop.Run(t.Context(), Request{Question: "q", SessionID: "s"})
	require.NoError(t, err)
	assert.Equal(t, "sorry", resp.Output)
	assert.Contains(t, h.model.lastPrompt(), "Observation: Error running tool: boom")
}

func TestRun_SaveUserProfile(t *testing.T) {
	h := newHarness(t, nil,
		"Thought: remember\nAction: save_user_profile\nAction Input: {\"name\": \"Ada\"}",
		"Action: save_user_profile\nAction Input: likes tea",
		"Final Answer: Noted, Ada.",
	)

	resp, err := h.loop.Run(t.Context(), Request{Question: "I'm Ada and I like tea", SessionID: "s", UserID: "u"})
	require.NoError(t, err)
	assert.Equal(t, "Noted, Ada.", resp.Output)
	assert.Zero(t, h.toolCalls())

	p := h.model.lastPrompt()
	assert.Contains(t, p, `Observation: Successfully saved to user profile: {"name":"Ada"}`)
	assert.Contains(t, p, `Observation: Successfully saved to user profile: {"info":"likes tea"}`)

	profile, err := h.store.Profile(t.Context(), "u")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Ada", "info": "likes tea"}, profile)
}

func TestRun_ContentFiltered(t *testing.T) {
	h := newHarness(t, nil)
	h.model.err = fmt.Errorf("azure: 400 %s", "content_filter triggered")

	resp, err := h.loop.Run(t.Context(), Request{Question: "my phone is 555", SessionID: "s"})
	require.NoError(t, err)
	assert.Equal(t, ContentFilterMessage, resp.Output)
	assert.Equal(t, 1, h.model.calls())
	assert.Empty(t, h.transcript(t, "s"))
}

func TestRun_ModelFailure(t *testing.T) {
	h := newHarness(t, nil)
	cause := errors.New("connection refused")
	h.model.err = cause

	resp, err := h.loop.Run(t.Context(), Request{Question: "q", SessionID: "s"})
	assert.Nil(t, resp)
	var me *ModelError
	require.ErrorAs(t, err, &me)
	assert.ErrorIs(t, err, cause)
	assert.Empty(t, h.transcript(t, "s"))
}

func TestRun_AssignsSessionAndUser(t *testing.T) {
	h := newHarness(t, nil, "Final Answer: hi")

	resp, err := h.loop.Run(t.Context(), Request{Question: "hello"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.SessionID)

	sessions, err := h.store.ListSessions(t.Context())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, resp.SessionID, sessions[0].SessionID)
	assert.Equal(t, memory.DefaultUserID, sessions[0].UserID)
}

func TestRun_ContextIncludesEarlierTurns(t *testing.T) {
	h := newHarness(t, nil, "Final Answer: first", "Final Answer: second")

	_, err := h.loop.Run(t.Context(), Request{Question: "one", SessionID: "s"})
	require.NoError(t, err)
	_, err = h.loop.Run(t.Context(), Request{Question: "two", SessionID: "s"})
	require.NoError(t, err)

	assert.Contains(t, h.model.lastPrompt(), "Recent Messages:\nuser: one\nassistant: first")
}

func TestModelError(t *testing.T) {
	err := &ModelError{Err: llm.ErrContentFiltered}
	assert.True(t, strings.HasPrefix(err.Error(), "model call failed: "))
	assert.ErrorIs(t, err, llm.ErrContentFiltered)
}
