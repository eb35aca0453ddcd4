package model

import (
	"time"

	"github.com/google/uuid"
)

// TraceStatus is the lifecycle state of a Trace.
type TraceStatus string

const (
	TraceStatusRunning TraceStatus = "running"
	TraceStatusSuccess TraceStatus = "success"
	TraceStatusError   TraceStatus = "error"
)

// Trace is the materialized projection of one correlated execution. It is
// mutated by the projection engine as spans/events arrive; the append-only
// source of truth for that mutation is the SpanEvent stream, never the Trace
// row itself.
type Trace struct {
	ID               uuid.UUID      `json:"id"`
	ProjectID        uuid.UUID      `json:"project_id"`
	ExternalTraceID  *string        `json:"external_trace_id,omitempty"`
	Status           TraceStatus    `json:"status"`
	StartTime        time.Time      `json:"start_time"`
	EndTime          *time.Time     `json:"end_time,omitempty"`
	Attributes       map[string]any `json:"attributes"`
	Model            *string        `json:"model,omitempty"`
	Environment      *string        `json:"environment,omitempty"`
	UserID           *string        `json:"user_id,omitempty"`
	SessionID        *string        `json:"session_id,omitempty"`
	InputText        *string        `json:"input_text,omitempty"`
	OutputText       *string        `json:"output_text,omitempty"`
	HasOpenSpans     bool           `json:"has_open_spans"`
	TotalSpans       int            `json:"total_spans"`
	EndedSpans       int            `json:"ended_spans"`
	CompletionRate   float64        `json:"completion_rate"`
	Decision         map[string]any `json:"decision,omitempty"`
	UserReviewPassed *bool          `json:"user_review_passed,omitempty"`
}

// TraceBatch is the wire shape of POST /ingest/traces: one Trace upsert plus
// the spans observed alongside it.
type TraceBatch struct {
	Trace              TraceUpsert  `json:"trace"`
	Spans              []SpanUpsert `json:"spans"`
	AllowMissingParent *bool        `json:"allow_missing_parent,omitempty"`
}

// AllowsMissingParent reports whether out-of-order spans referencing a
// parent the projection hasn't seen yet should be accepted rather than
// rejected, defaulting to true when the client omits the field.
func (b TraceBatch) AllowsMissingParent() bool {
	return b.AllowMissingParent == nil || *b.AllowMissingParent
}

// TraceUpsert carries the fields of a Trace batch is allowed to set. On merge
// into an existing trace (SPEC_FULL.md §4.3), Status and EndTime always
// replace (a nil EndTime clears it); the optional string fields replace only
// when non-nil and non-empty; Attributes merge per key; UserReviewPassed
// replaces only when non-nil.
type TraceUpsert struct {
	TraceID          uuid.UUID      `json:"trace_id"`
	ExternalTraceID  *string        `json:"external_trace_id,omitempty"`
	Status           TraceStatus    `json:"status"`
	StartTime        time.Time      `json:"start_time"`
	EndTime          *time.Time     `json:"end_time,omitempty"`
	Attributes       map[string]any `json:"attributes,omitempty"`
	Model            *string        `json:"model,omitempty"`
	Environment      *string        `json:"environment,omitempty"`
	UserID           *string        `json:"user_id,omitempty"`
	SessionID        *string        `json:"session_id,omitempty"`
	InputText        *string        `json:"input_text,omitempty"`
	OutputText       *string        `json:"output_text,omitempty"`
	UserReviewPassed *bool          `json:"user_review_passed,omitempty"`
}

// IngestTraceResult is the response to POST /ingest/traces.
type IngestTraceResult struct {
	TraceID       uuid.UUID `json:"trace_id"`
	IngestedSpans int       `json:"ingested_spans"`
}
