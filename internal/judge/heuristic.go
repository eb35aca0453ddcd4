package judge

import (
	"context"
	"strings"
)

// Heuristic is the always-available, zero-latency first tier. Thresholds and
// reason codes are grounded on the original source's
// judge/providers/heuristic.py.
type Heuristic struct{}

func NewHeuristic() *Heuristic { return &Heuristic{} }

func (h *Heuristic) Name() string { return "heuristic" }

func (h *Heuristic) Judge(_ context.Context, decisionContext map[string]any) (Output, error) {
	inputText := strings.ToLower(stringField(decisionContext, "input_text"))
	outputText := strings.ToLower(stringField(decisionContext, "output_text"))
	faithfulness, ok := floatField(decisionContext, "faithfulness_score")
	if !ok {
		faithfulness = 0.8
	}

	piiSignal := strings.Contains(inputText, "ssn") || strings.Contains(inputText, "credit card") || strings.Contains(inputText, "passport")
	financialRisk := 0.1
	if strings.Contains(outputText, "investment advice") {
		financialRisk = 0.9
	}
	hallucinationRisk := 1.0 - faithfulness

	var action, reasonCode string
	switch {
	case piiSignal:
		action, reasonCode = "ESCALATE", "PII_DETECTED"
	case financialRisk > 0.85:
		action, reasonCode = "ALLOW_WITH_WARNING", "FINANCIAL_RISK"
	case hallucinationRisk > 0.8:
		action, reasonCode = "NEED_CLARIFICATION", "HALLUCINATION_RISK"
	default:
		action, reasonCode = "ALLOW_ANSWER", "HEURISTIC_OK"
	}

	confidence := 0.7
	if action == "ESCALATE" || action == "BLOCK" {
		confidence = 0.95
	}

	return Output{
		Action:     action,
		ReasonCode: reasonCode,
		Confidence: confidence,
		Raw: map[string]any{
			"pii":                piiSignal,
			"hallucination_risk": hallucinationRisk,
			"financial_risk":     financialRisk,
		},
	}, nil
}

// IsHighConfidence reports whether an Output warrants skipping the LLM tier:
// a BLOCK or ESCALATE call the heuristic is already confident about.
func IsHighConfidence(out Output) bool {
	return (out.Action == "ESCALATE" || out.Action == "BLOCK") && out.Confidence >= 0.9
}

func floatField(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}
