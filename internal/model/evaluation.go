package model

import (
	"time"

	"github.com/google/uuid"
)

// Evaluation records an eval run (a judge, a human reviewer, a test harness)
// against a Trace and/or Span. At least one of TraceID/SpanID is required.
type Evaluation struct {
	ID               uuid.UUID      `json:"id"`
	ProjectID        uuid.UUID      `json:"project_id"`
	TraceID          *uuid.UUID     `json:"trace_id,omitempty"`
	SpanID           *uuid.UUID     `json:"span_id,omitempty"`
	EvalName         string         `json:"eval_name"`
	EvalModel        string         `json:"eval_model"`
	Score            float64        `json:"score"`
	Passed           bool           `json:"passed"`
	Metadata         map[string]any `json:"metadata"`
	UserReviewPassed *bool          `json:"user_review_passed,omitempty"`
	IdempotencyKey   string         `json:"idempotency_key"`
	CreatedAt        time.Time      `json:"created_at"`
}

// CreateEvaluationRequest is the POST /evals payload.
type CreateEvaluationRequest struct {
	TraceID          *uuid.UUID     `json:"trace_id,omitempty"`
	SpanID           *uuid.UUID     `json:"span_id,omitempty"`
	EvalName         string         `json:"eval_name"`
	EvalModel        string         `json:"eval_model"`
	Score            float64        `json:"score"`
	Passed           bool           `json:"passed"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	UserReviewPassed *bool          `json:"user_review_passed,omitempty"`
	IdempotencyKey   string         `json:"idempotency_key"`
}
