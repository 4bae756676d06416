// Package safety screens user questions and model answers before they
// reach the model or the user.
package safety

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"strings"
	"unicode"

	"github.com/open-policy-agent/opa/rego"

	"github.com/nugget/sage-agent/internal/config"
)

// Refusal replaces any text the classifier rejects.
const Refusal = "I'm sorry, but I can't help with that request."

// Verdict is the outcome of screening one text.
type Verdict struct {
	Sanitized string
	Allowed   bool
	Risk      float64
}

// Classifier screens inbound and outbound text.
type Classifier interface {
	CheckInput(ctx context.Context, text string) (Verdict, error)
	CheckOutput(ctx context.Context, prompt, output string) (Verdict, error)
}

// Noop allows everything.
type Noop struct{}

// CheckInput implements Classifier.
func (Noop) CheckInput(_ context.Context, text string) (Verdict, error) {
	return Verdict{Sanitized: text, Allowed: true}, nil
}

// CheckOutput implements Classifier.
func (Noop) CheckOutput(_ context.Context, _, output string) (Verdict, error) {
	return Verdict{Sanitized: output, Allowed: true}, nil
}

//go:embed policy.rego
var defaultPolicy string

// query is the rule every policy module must define: an object with a
// boolean "allowed" and a numeric "risk".
const query = "data.sage.safety.result"

// PolicyClassifier scores text against a Rego lexicon policy. Text is
// split into sentences and the riskiest sentence decides the verdict.
type PolicyClassifier struct {
	query     rego.PreparedEvalQuery
	threshold float64
	terms     map[string]any
	logger    *slog.Logger
}

// New returns the classifier selected by cfg: Noop when screening is
// disabled, otherwise a PolicyClassifier.
func New(ctx context.Context, cfg config.SafetyConfig, logger *slog.Logger) (Classifier, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	policy := defaultPolicy
	if cfg.PolicyFile != "" {
		b, err := os.ReadFile(cfg.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("read safety policy: %w", err)
		}
		policy = string(b)
	}
	return NewPolicyClassifier(ctx, policy, cfg.Threshold, cfg.Terms, logger)
}

// NewPolicyClassifier prepares policy for evaluation. An empty policy
// uses the built-in lexicon.
func NewPolicyClassifier(ctx context.Context, policy string, threshold float64, terms map[string]float64, logger *slog.Logger) (*PolicyClassifier, error) {
	if policy == "" {
		policy = defaultPolicy
	}
	if logger == nil {
		logger = slog.Default()
	}

	pq, err := rego.New(
		rego.Query(query),
		rego.Module("safety.rego", policy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare safety policy: %w", err)
	}

	t := make(map[string]any, len(terms))
	for k, v := range terms {
		t[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &PolicyClassifier{
		query:     pq,
		threshold: threshold,
		terms:     t,
		logger:    logger.With("component", "safety"),
	}, nil
}

// CheckInput implements Classifier.
func (c *PolicyClassifier) CheckInput(ctx context.Context, text string) (Verdict, error) {
	return c.check(ctx, text)
}

// CheckOutput implements Classifier. Only the output is scored.
func (c *PolicyClassifier) CheckOutput(ctx context.Context, _, output string) (Verdict, error) {
	return c.check(ctx, output)
}

// check evaluates text. Evaluation failures reject the text.
func (c *PolicyClassifier) check(ctx context.Context, text string) (Verdict, error) {
	input := map[string]any{
		"sentences": Sentences(text),
		"threshold": c.threshold,
		"terms":     maps.Clone(c.terms),
	}
	rs, err := c.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Verdict{Sanitized: text}, fmt.Errorf("evaluate safety policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Verdict{Sanitized: text}, fmt.Errorf("safety policy produced no result")
	}
	res, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return Verdict{Sanitized: text}, fmt.Errorf("safety policy result is %T, want object", rs[0].Expressions[0].Value)
	}

	allowed, _ := res["allowed"].(bool)
	risk, err := toFloat(res["risk"])
	if err != nil {
		return Verdict{Sanitized: text}, fmt.Errorf("safety policy risk: %w", err)
	}
	v := Verdict{Sanitized: text, Allowed: allowed, Risk: risk}
	if !v.Allowed {
		c.logger.Info("text rejected", "risk", risk, "threshold", c.threshold)
	}
	return v, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Float64()
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

// Sentences splits text at sentence punctuation and line breaks and
// returns each sentence as lowercase words.
func Sentences(text string) [][]string {
	var out [][]string
	var cur []string
	var word strings.Builder

	flushWord := func() {
		if word.Len() > 0 {
			cur = append(cur, word.String())
			word.Reset()
		}
	}
	flushSentence := func() {
		flushWord()
		if len(cur) > 0 {
			out = append(out, cur)
			cur = nil
		}
	}

	for _, r := range strings.ToLower(text) {
		switch {
		case r == '.' || r == '!' || r == '?' || r == '\n':
			flushSentence()
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'':
			word.WriteRune(r)
		default:
			flushWord()
		}
	}
	flushSentence()
	if out == nil {
		out = [][]string{}
	}
	return out
}
