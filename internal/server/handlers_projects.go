package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/gavelhq/gavel/internal/model"
)

// HandleCreateProject handles POST /projects (admin only).
func (h *Handlers) HandleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req model.CreateProjectRequest
	if err := decodeJSON(r, &req, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name is required")
		return
	}

	project, plaintextKey, err := h.db.CreateProject(r.Context(), req.Name)
	if err != nil {
		writeModelError(w, r, err)
		return
	}
	project.CurrentAPIKey = &plaintextKey
	writeJSON(w, r, http.StatusOK, model.ProjectResponse{Project: project})
}

// HandleListProjects handles GET /projects (admin only).
func (h *Handlers) HandleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.db.ListProjects(r.Context())
	if err != nil {
		writeModelError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, projects)
}

func (h *Handlers) pathProjectID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid project id")
		return uuid.Nil, false
	}
	return id, true
}

// HandleRotateKey handles POST /projects/{id}/rotate-key (admin only).
func (h *Handlers) HandleRotateKey(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathProjectID(w, r)
	if !ok {
		return
	}

	plaintextKey, err := h.db.RotateKey(r.Context(), id)
	if err != nil {
		writeModelError(w, r, err)
		return
	}
	project, err := h.db.GetProjectByID(r.Context(), id)
	if err != nil {
		writeModelError(w, r, err)
		return
	}
	project.CurrentAPIKey = &plaintextKey
	writeJSON(w, r, http.StatusOK, model.ProjectResponse{Project: project})
}

// HandleActivateProject handles POST /projects/{id}/activate (admin only).
func (h *Handlers) HandleActivateProject(w http.ResponseWriter, r *http.Request) {
	h.setProjectActive(w, r, true)
}

// HandleDeactivateProject handles POST /projects/{id}/deactivate (admin only).
func (h *Handlers) HandleDeactivateProject(w http.ResponseWriter, r *http.Request) {
	h.setProjectActive(w, r, false)
}

// HandleDeleteProject handles DELETE /projects/{id} (admin only). Soft
// delete: an alias for deactivate, per SPEC_FULL.md §4.1.
func (h *Handlers) HandleDeleteProject(w http.ResponseWriter, r *http.Request) {
	h.setProjectActive(w, r, false)
}

func (h *Handlers) setProjectActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, ok := h.pathProjectID(w, r)
	if !ok {
		return
	}
	if err := h.db.SetActive(r.Context(), id, active); err != nil {
		writeModelError(w, r, err)
		return
	}
	project, err := h.db.GetProjectByID(r.Context(), id)
	if err != nil {
		writeModelError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, project)
}

// HandleGetCurrentKey handles GET /projects/{id}/current-key (admin only).
// The plaintext key is never stored, so current_api_key is always absent
// from this response; it surfaces the project's activation state without
// the secret.
func (h *Handlers) HandleGetCurrentKey(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathProjectID(w, r)
	if !ok {
		return
	}
	project, err := h.db.GetProjectByID(r.Context(), id)
	if err != nil {
		writeModelError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.ProjectResponse{Project: project})
}
