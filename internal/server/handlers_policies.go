package server

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/gavelhq/gavel/internal/model"
)

// HandleCreatePolicy handles POST /policies.
func (h *Handlers) HandleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	project, _ := currentProject(r)

	var req model.CreatePolicyRequest
	if err := decodeJSON(r, &req, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name is required")
		return
	}

	policy, version, err := h.db.CreatePolicy(r.Context(), project.ID, req)
	if err != nil {
		writeModelError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"policy": policy, "version": version})
}

// HandleListPolicies handles GET /policies.
func (h *Handlers) HandleListPolicies(w http.ResponseWriter, r *http.Request) {
	project, _ := currentProject(r)

	policies, err := h.db.ListPolicies(r.Context(), project.ID)
	if err != nil {
		writeModelError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, policies)
}

// HandleListPolicyVersions handles GET /policies/{id}/versions.
func (h *Handlers) HandleListPolicyVersions(w http.ResponseWriter, r *http.Request) {
	policyID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid policy id")
		return
	}

	versions, err := h.db.ListPolicyVersions(r.Context(), policyID)
	if err != nil {
		writeModelError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, versions)
}

// HandleActivatePolicyVersion handles POST /policies/{id}/activate?version=N.
func (h *Handlers) HandleActivatePolicyVersion(w http.ResponseWriter, r *http.Request) {
	policyID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid policy id")
		return
	}
	versionNum, err := strconv.Atoi(r.URL.Query().Get("version"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "version query parameter is required")
		return
	}

	versions, err := h.db.ListPolicyVersions(r.Context(), policyID)
	if err != nil {
		writeModelError(w, r, err)
		return
	}
	var target *model.PolicyVersion
	for i := range versions {
		if versions[i].Version == versionNum {
			target = &versions[i]
			break
		}
	}
	if target == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "policy version not found")
		return
	}

	if err := h.db.ActivateVersion(r.Context(), policyID, target.ID); err != nil {
		writeModelError(w, r, err)
		return
	}
	target.Active = true
	writeJSON(w, r, http.StatusOK, target)
}
