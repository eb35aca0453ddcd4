package model

import (
	"time"

	"github.com/google/uuid"
)

// Policy is a named collection of versioned rules.
type Policy struct {
	ID          uuid.UUID `json:"id"`
	ProjectID   uuid.UUID `json:"project_id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PolicyVersion is one immutable rule definition under a Policy. At most one
// version per policy may be Active.
type PolicyVersion struct {
	ID            uuid.UUID      `json:"id"`
	PolicyID      uuid.UUID      `json:"policy_id"`
	Version       int            `json:"version"`
	EffectiveFrom time.Time      `json:"effective_from"`
	Active        bool           `json:"active"`
	Definition    map[string]any `json:"definition"`
}

// PolicyRule is one entry of a PolicyVersion's definition.rules array.
type PolicyRule struct {
	Priority int            `json:"priority"`
	When     PolicyWhen     `json:"when"`
	Then     PolicyThen     `json:"then"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type PolicyWhen struct {
	All []PolicyCondition `json:"all,omitempty"`
	Any []PolicyCondition `json:"any,omitempty"`
}

type PolicyCondition struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

type PolicyThen struct {
	Action     string `json:"action"`
	ReasonCode string `json:"reason_code,omitempty"`
	Severity   string `json:"severity,omitempty"`
}

// CreatePolicyRequest is the POST /policies payload.
type CreatePolicyRequest struct {
	Name        string         `json:"name"`
	Description *string        `json:"description,omitempty"`
	Definition  map[string]any `json:"definition"`
}
