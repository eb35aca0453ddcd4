package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/gavelhq/gavel/internal/model"
)

// HandleListCases handles GET /cases.
func (h *Handlers) HandleListCases(w http.ResponseWriter, r *http.Request) {
	project, _ := currentProject(r)

	var status *model.CaseStatus
	if s := queryStr(r, "status"); s != nil {
		cs := model.CaseStatus(*s)
		status = &cs
	}

	cases, err := h.db.ListCases(r.Context(), project.ID, status)
	if err != nil {
		writeModelError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, cases)
}

// HandleGetCase handles GET /cases/{id}.
func (h *Handlers) HandleGetCase(w http.ResponseWriter, r *http.Request) {
	project, _ := currentProject(r)

	caseID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid case id")
		return
	}

	c, err := h.db.GetCase(r.Context(), project.ID, caseID)
	if err != nil {
		writeModelError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, c)
}

// HandleAckCase handles POST /cases/{id}/ack.
func (h *Handlers) HandleAckCase(w http.ResponseWriter, r *http.Request) {
	project, _ := currentProject(r)

	caseID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid case id")
		return
	}
	var req model.CaseActionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req, h.maxBody); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
			return
		}
	}

	c, err := h.db.AckCase(r.Context(), project.ID, caseID, req.Assignee)
	if err != nil {
		writeModelError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, c)
}

// HandleResolveCase handles POST /cases/{id}/resolve.
func (h *Handlers) HandleResolveCase(w http.ResponseWriter, r *http.Request) {
	project, _ := currentProject(r)

	caseID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid case id")
		return
	}

	c, err := h.db.ResolveCase(r.Context(), project.ID, caseID)
	if err != nil {
		writeModelError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, c)
}
