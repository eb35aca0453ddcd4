package server

import (
	"net/http"

	"github.com/gavelhq/gavel/internal/model"
)

// HandleIngestTraces handles POST /ingest/traces.
func (h *Handlers) HandleIngestTraces(w http.ResponseWriter, r *http.Request) {
	project, _ := currentProject(r)

	var batch model.TraceBatch
	if err := decodeJSON(r, &batch, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	result, err := h.projection.IngestTraceBatch(r.Context(), project.ID, batch)
	if err != nil {
		writeModelError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleIngestSpans handles POST /ingest/spans.
func (h *Handlers) HandleIngestSpans(w http.ResponseWriter, r *http.Request) {
	project, _ := currentProject(r)

	var batch model.EventBatch
	if err := decodeJSON(r, &batch, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	result, err := h.projection.IngestEventBatch(r.Context(), project.ID, batch)
	if err != nil {
		writeModelError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}
