package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the closed vocabulary of SpanEvent kinds. Unlike akashi's
// AgentEvent (run-lifecycle/tool/coordination events), this spec's event
// stream exists solely to drive the Span/Trace projection.
type EventType string

const (
	EventTypeSpanStarted EventType = "SPAN_STARTED"
	EventTypeSpanEnded   EventType = "SPAN_ENDED"
	EventTypeLog         EventType = "LOG"
	EventTypeEvent       EventType = "EVENT"
	EventTypeAmendment   EventType = "AMENDMENT"
)

// SpanEvent is an immutable log record. Never mutated or deleted once
// written; projection updates derived from it live on the Span row, not here.
type SpanEvent struct {
	ID             uuid.UUID      `json:"id"`
	ProjectID      uuid.UUID      `json:"project_id"`
	TraceID        uuid.UUID      `json:"trace_id"`
	SpanID         *uuid.UUID     `json:"span_id,omitempty"`
	EventType      EventType      `json:"event_type"`
	EventTime      time.Time      `json:"event_time"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// EventBatch is the wire shape of POST /ingest/spans.
type EventBatch struct {
	Events             []EventUpsert `json:"events"`
	AllowMissingParent *bool         `json:"allow_missing_parent,omitempty"`
}

// AllowsMissingParent reports whether events referencing a span the
// projection hasn't seen yet should be accepted rather than rejected,
// defaulting to true when the client omits the field.
func (b EventBatch) AllowsMissingParent() bool {
	return b.AllowMissingParent == nil || *b.AllowMissingParent
}

// EventUpsert is one event in an EventBatch.
type EventUpsert struct {
	TraceID        uuid.UUID      `json:"trace_id"`
	SpanID         *uuid.UUID     `json:"span_id,omitempty"`
	EventType      EventType      `json:"event_type"`
	EventTime      time.Time      `json:"event_time"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// IngestEventsResult is the response to POST /ingest/spans.
type IngestEventsResult struct {
	IngestedEvents int `json:"ingested_events"`
}

// TimelineEntry is one row of a trace detail's unified timeline.
type TimelineEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"` // "trace" or "span"
	SourceID  *uuid.UUID     `json:"source_id,omitempty"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
}
