package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/gavelhq/gavel/internal/model"
)

// HandleDecide handles POST /decide.
func (h *Handlers) HandleDecide(w http.ResponseWriter, r *http.Request) {
	project, _ := currentProject(r)

	var req model.DecideRequest
	if err := decodeJSON(r, &req, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.TraceID == uuid.Nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "trace_id is required")
		return
	}

	resp, err := h.decision.Decide(r.Context(), project.ID, req)
	if err != nil {
		writeModelError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}
