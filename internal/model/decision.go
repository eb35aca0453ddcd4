package model

import (
	"time"

	"github.com/google/uuid"
)

// Action is the closed set of outcomes a judge or policy rule can produce.
type Action string

const (
	ActionAllowAnswer      Action = "ALLOW_ANSWER"
	ActionAllowWithWarning Action = "ALLOW_WITH_WARNING"
	ActionNeedClarification Action = "NEED_CLARIFICATION"
	ActionEscalate         Action = "ESCALATE"
	ActionBlock            Action = "BLOCK"
)

// TraceDecision is the final per-request outcome of the decision pipeline.
// Uniqueness on (project_id, idempotency_key) makes POST /decide idempotent.
type TraceDecision struct {
	ID             uuid.UUID      `json:"id"`
	ProjectID      uuid.UUID      `json:"project_id"`
	TraceID        uuid.UUID      `json:"trace_id"`
	Action         Action         `json:"action"`
	ReasonCode     string         `json:"reason_code"`
	Severity       string         `json:"severity"`
	Confidence     float64        `json:"confidence"`
	PolicyVersion  string         `json:"policy_version"`
	JudgeModel     *string        `json:"judge_model,omitempty"`
	Signals        map[string]any `json:"signals"`
	Rationale      *string        `json:"rationale,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
	CreatedAt      time.Time      `json:"created_at"`
}

// JudgeRun is an append-only audit row: one per provider actually invoked
// for a given decide call (zero when the cache was hit).
type JudgeRun struct {
	ID         uuid.UUID      `json:"id"`
	ProjectID  uuid.UUID      `json:"project_id"`
	TraceID    uuid.UUID      `json:"trace_id"`
	SpanID     *uuid.UUID     `json:"span_id,omitempty"`
	Provider   string         `json:"provider"`
	Model      *string        `json:"model,omitempty"`
	Action     Action         `json:"action"`
	ReasonCode string         `json:"reason_code"`
	Confidence float64        `json:"confidence"`
	Output     map[string]any `json:"output"`
	CreatedAt  time.Time      `json:"created_at"`
}

// JudgeCache memoizes a selected judge output for a given (input_hash,
// policy_version) so repeat decides with identical context skip provider
// invocation entirely. Uniqueness on (project_id, input_hash, policy_version)
// lets concurrent writers race harmlessly (insert-ignore-on-conflict).
type JudgeCache struct {
	ID            uuid.UUID      `json:"id"`
	ProjectID     uuid.UUID      `json:"project_id"`
	InputHash     string         `json:"input_hash"`
	PolicyVersion string         `json:"policy_version"`
	Decision      map[string]any `json:"decision"`
	CreatedAt     time.Time      `json:"created_at"`
}

// DecideRequest is the POST /decide payload.
type DecideRequest struct {
	TraceID           uuid.UUID      `json:"trace_id"`
	IdempotencyKey    string         `json:"idempotency_key"`
	RequestPayload    map[string]any `json:"request,omitempty"`
	ResponsePayload   map[string]any `json:"response,omitempty"`
	ForcePolicyID     *uuid.UUID     `json:"force_policy_id,omitempty"`
	ForcePolicyVersion *int          `json:"force_policy_version,omitempty"`
}

// DecideResponse is the POST /decide success payload.
type DecideResponse struct {
	Decision  TraceDecision `json:"decision"`
	JudgeRuns []JudgeRun    `json:"judge_runs"`
}
