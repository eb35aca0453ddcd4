package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const llmTimeout = 10 * time.Second

// LLM is the second judge tier: an HTTP call to a configured model endpoint,
// or — when no endpoint is configured — a deterministic stub so the decision
// pipeline stays exercisable without a live provider. Grounded on the
// original source's judge/providers/llm.py.
type LLM struct {
	endpoint string
	model    string
	client   *http.Client
}

func NewLLM(endpoint, model string) *LLM {
	return &LLM{endpoint: endpoint, model: model, client: &http.Client{Timeout: llmTimeout}}
}

func (l *LLM) Name() string { return "llm" }

func (l *LLM) Judge(ctx context.Context, decisionContext map[string]any) (Output, error) {
	if l.endpoint == "" {
		return l.stub(decisionContext), nil
	}

	ctx, cancel := context.WithTimeout(ctx, llmTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{"model": l.model, "payload": decisionContext})
	if err != nil {
		return Output{}, fmt.Errorf("judge: marshal llm request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(body))
	if err != nil {
		return Output{}, fmt.Errorf("judge: build llm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return Output{}, fmt.Errorf("judge: call llm endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return Output{}, fmt.Errorf("judge: llm endpoint returned %d", resp.StatusCode)
	}

	var decoded struct {
		Action     string         `json:"action"`
		ReasonCode string         `json:"reason_code"`
		Confidence float64        `json:"confidence"`
		Signals    map[string]any `json:"signals"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&decoded); err != nil {
		return Output{}, fmt.Errorf("judge: decode llm response: %w", err)
	}
	if decoded.Action == "" {
		return Output{}, fmt.Errorf("judge: llm response missing action")
	}
	if decoded.Confidence < 0.0 || decoded.Confidence > 1.0 {
		return Output{}, fmt.Errorf("judge: llm response confidence %v out of range [0,1]", decoded.Confidence)
	}
	return Output{Action: decoded.Action, ReasonCode: decoded.ReasonCode, Confidence: decoded.Confidence, Raw: decoded.Signals}, nil
}

func (l *LLM) stub(decisionContext map[string]any) Output {
	score, ok := floatField(decisionContext, "overall_score")
	if !ok {
		score = 0.8
	}
	hallucinationRisk := 1.0 - score
	if hallucinationRisk < 0 {
		hallucinationRisk = 0
	}
	signals := map[string]any{
		"pii":                false,
		"hallucination_risk": hallucinationRisk,
		"financial_risk":     0.2,
	}
	if score >= 0.5 {
		return Output{Action: "ALLOW_ANSWER", ReasonCode: "LLM_JUDGE_STUB", Confidence: 0.65, Raw: signals}
	}
	return Output{Action: "NEED_CLARIFICATION", ReasonCode: "LLM_JUDGE_STUB", Confidence: 0.65, Raw: signals}
}
