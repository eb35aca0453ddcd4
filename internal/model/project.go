package model

import (
	"time"

	"github.com/google/uuid"
)

// Project is a tenant boundary: every other entity is scoped by project_id
// and every request is authenticated down to exactly one Project.
type Project struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	APIKeyHash     string    `json:"-"`
	CurrentAPIKey  *string   `json:"current_api_key,omitempty"` // set only transiently after create/rotate
	IsActive       bool      `json:"is_active"`
	KeyActivated   bool      `json:"key_activated"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateProjectRequest is the admin-only project creation payload.
type CreateProjectRequest struct {
	Name string `json:"name"`
}

// ProjectResponse is a Project plus, only on create/rotate, the one-time
// plaintext key the caller must store. The plaintext key is not persisted,
// so every later read, GET /projects/{id}/current-key included, returns the
// project without it.
type ProjectResponse struct {
	Project
}
