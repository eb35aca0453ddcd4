package judge_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gavelhq/gavel/internal/judge"
)

func TestHeuristic_PIITakesPriority(t *testing.T) {
	h := judge.NewHeuristic()
	out, err := h.Judge(context.Background(), map[string]any{
		"input_text":  "my SSN is 123-45-6789",
		"output_text": "sure, here is investment advice",
	})
	require.NoError(t, err)
	assert.Equal(t, "ESCALATE", out.Action)
	assert.Equal(t, "PII_DETECTED", out.ReasonCode)
	assert.Equal(t, 0.95, out.Confidence)
	assert.Equal(t, true, out.Raw["pii"])
}

func TestHeuristic_FinancialRiskThreshold(t *testing.T) {
	h := judge.NewHeuristic()

	out, err := h.Judge(context.Background(), map[string]any{"output_text": "here is some Investment Advice for you"})
	require.NoError(t, err)
	assert.Equal(t, "ALLOW_WITH_WARNING", out.Action)
	assert.Equal(t, 0.9, out.Raw["financial_risk"])

	out, err = h.Judge(context.Background(), map[string]any{"output_text": "the weather is nice today"})
	require.NoError(t, err)
	assert.Equal(t, "ALLOW_ANSWER", out.Action)
	assert.Equal(t, 0.1, out.Raw["financial_risk"])
}

func TestHeuristic_HallucinationRiskThreshold(t *testing.T) {
	h := judge.NewHeuristic()
	out, err := h.Judge(context.Background(), map[string]any{"faithfulness_score": 0.1})
	require.NoError(t, err)
	assert.Equal(t, "NEED_CLARIFICATION", out.Action)
	assert.Equal(t, "HALLUCINATION_RISK", out.ReasonCode)
	assert.InDelta(t, 0.9, out.Raw["hallucination_risk"], 0.0001)
}

func TestHeuristic_DefaultAllow(t *testing.T) {
	h := judge.NewHeuristic()
	out, err := h.Judge(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "ALLOW_ANSWER", out.Action)
	assert.Equal(t, "HEURISTIC_OK", out.ReasonCode)
	assert.Equal(t, 0.7, out.Confidence)
	// no faithfulness_score supplied defaults to 0.8, same as the original's
	// evals.get("faithfulness_score", 0.8).
	assert.InDelta(t, 0.2, out.Raw["hallucination_risk"], 0.0001)
}

func TestHeuristic_PIICheckIsCaseInsensitive(t *testing.T) {
	h := judge.NewHeuristic()
	out, err := h.Judge(context.Background(), map[string]any{"input_text": "Please don't share my Credit Card number"})
	require.NoError(t, err)
	assert.Equal(t, "ESCALATE", out.Action)
}

func TestIsHighConfidence(t *testing.T) {
	assert.True(t, judge.IsHighConfidence(judge.Output{Action: "ESCALATE", Confidence: 0.95}))
	assert.True(t, judge.IsHighConfidence(judge.Output{Action: "BLOCK", Confidence: 0.9}))
	assert.False(t, judge.IsHighConfidence(judge.Output{Action: "ESCALATE", Confidence: 0.5}))
	assert.False(t, judge.IsHighConfidence(judge.Output{Action: "ALLOW_ANSWER", Confidence: 0.99}))
}

func TestLLM_StubFallsBackOnLowOverallScore(t *testing.T) {
	l := judge.NewLLM("", "gpt-judge")
	out, err := l.Judge(context.Background(), map[string]any{"overall_score": 0.2})
	require.NoError(t, err)
	assert.Equal(t, "NEED_CLARIFICATION", out.Action)
	assert.Equal(t, "LLM_JUDGE_STUB", out.ReasonCode)
	assert.Equal(t, false, out.Raw["pii"])
}

func TestLLM_StubAllowsOnHighOverallScore(t *testing.T) {
	l := judge.NewLLM("", "gpt-judge")
	out, err := l.Judge(context.Background(), map[string]any{"overall_score": 0.9})
	require.NoError(t, err)
	assert.Equal(t, "ALLOW_ANSWER", out.Action)
}

type stubProvider struct{ name string }

func (s stubProvider) Name() string { return s.name }
func (s stubProvider) Judge(context.Context, map[string]any) (judge.Output, error) {
	return judge.Output{Action: "ALLOW_ANSWER", ReasonCode: "STUB"}, nil
}

func TestRegistry_GetKnownAndUnknown(t *testing.T) {
	r := judge.NewRegistry(stubProvider{name: "heuristic"}, stubProvider{name: "llm"})

	p, err := r.Get("heuristic")
	require.NoError(t, err)
	assert.Equal(t, "heuristic", p.Name())

	_, err = r.Get("nonexistent")
	assert.Error(t, err)
}
