package model

import (
	"time"

	"github.com/google/uuid"
)

// SpanStatus mirrors the status vocabulary used by both Span and SpanEvent
// payloads.
type SpanStatus string

const (
	SpanStatusRunning SpanStatus = "running"
	SpanStatusSuccess SpanStatus = "success"
	SpanStatusError   SpanStatus = "error"
)

// Span is a bounded unit of work within a Trace. Uniqueness on
// (project_id, idempotency_key) is what makes span ingestion idempotent —
// see storage.ConflictError.
type Span struct {
	ID              uuid.UUID      `json:"id"`
	ProjectID       uuid.UUID      `json:"project_id"`
	TraceID         uuid.UUID      `json:"trace_id"`
	ParentSpanID    *uuid.UUID     `json:"parent_span_id,omitempty"`
	Name            string         `json:"name"`
	SpanType        string         `json:"span_type"`
	Status          SpanStatus     `json:"status"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         *time.Time     `json:"end_time,omitempty"`
	Error           *string        `json:"error,omitempty"`
	Attributes      map[string]any `json:"attributes"`
	IdempotencyKey  string         `json:"idempotency_key"`
}

// SpanUpsert is the wire shape of one span inside a TraceBatch.
type SpanUpsert struct {
	SpanID         uuid.UUID      `json:"span_id"`
	TraceID        uuid.UUID      `json:"trace_id"`
	ParentSpanID   *uuid.UUID     `json:"parent_span_id,omitempty"`
	Name           string         `json:"name"`
	SpanType       string         `json:"span_type"`
	Status         SpanStatus     `json:"status"`
	StartTime      time.Time      `json:"start_time"`
	EndTime        *time.Time     `json:"end_time,omitempty"`
	Error          *string        `json:"error,omitempty"`
	Attributes     map[string]any `json:"attributes,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
}
