package server

import (
	"net/http"

	"github.com/gavelhq/gavel/internal/model"
)

// HandleCreateEvaluation handles POST /evals.
func (h *Handlers) HandleCreateEvaluation(w http.ResponseWriter, r *http.Request) {
	project, _ := currentProject(r)

	var req model.CreateEvaluationRequest
	if err := decodeJSON(r, &req, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.TraceID == nil && req.SpanID == nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "trace_id or span_id is required")
		return
	}

	eval, err := h.db.CreateEvaluation(r.Context(), project.ID, req)
	if err != nil {
		writeModelError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, eval)
}
