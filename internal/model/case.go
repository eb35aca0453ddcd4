package model

import (
	"time"

	"github.com/google/uuid"
)

// CaseStatus is the lifecycle of a Case: open -> acknowledged -> resolved.
type CaseStatus string

const (
	CaseStatusOpen         CaseStatus = "open"
	CaseStatusAcknowledged CaseStatus = "acknowledged"
	CaseStatusResolved     CaseStatus = "resolved"
)

// Case is a human-tracked incident created on ESCALATE decisions.
type Case struct {
	ID             uuid.UUID  `json:"id"`
	ProjectID      uuid.UUID  `json:"project_id"`
	TraceID        uuid.UUID  `json:"trace_id"`
	ReasonCode     string     `json:"reason_code"`
	Status         CaseStatus `json:"status"`
	Assignee       *string    `json:"assignee,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// CaseActionRequest is the POST /cases/{id}/ack and .../resolve payload.
type CaseActionRequest struct {
	Assignee *string `json:"assignee,omitempty"`
}

// NotificationStatus is terminal once set away from pending.
type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

// Notification records an at-most-once webhook delivery attempt for a Case.
type Notification struct {
	ID              uuid.UUID          `json:"id"`
	ProjectID       uuid.UUID          `json:"project_id"`
	CaseID          uuid.UUID          `json:"case_id"`
	Channel         string             `json:"channel"`
	TargetURL       string             `json:"target_url"`
	Status          NotificationStatus `json:"status"`
	Payload         map[string]any     `json:"payload"`
	ResponseSnippet *string            `json:"response_snippet,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}
