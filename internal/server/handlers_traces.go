package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/gavelhq/gavel/internal/model"
)

// HandleListTraces handles GET /traces.
func (h *Handlers) HandleListTraces(w http.ResponseWriter, r *http.Request) {
	project, _ := currentProject(r)

	f := model.TraceFilters{
		Page:      queryInt(r, "page", 1),
		PageSize:  queryInt(r, "page_size", 20),
		StartFrom: queryTime(r, "start_from"),
		StartTo:   queryTime(r, "start_to"),
		Tag:       queryStr(r, "tag"),
		Model:     queryStr(r, "model"),
		Environment: queryStr(r, "environment"),
		UserID:      queryStr(r, "user_id"),
		SessionID:   queryStr(r, "session_id"),
		Search:      queryStr(r, "search"),
	}
	if s := queryStr(r, "status"); s != nil {
		st := model.TraceStatus(*s)
		f.Status = &st
	}

	resp, err := h.query.ListTraces(r.Context(), project.ID, f)
	if err != nil {
		writeModelError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleGetTrace handles GET /traces/{id}.
func (h *Handlers) HandleGetTrace(w http.ResponseWriter, r *http.Request) {
	project, _ := currentProject(r)

	traceID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid trace id")
		return
	}

	detail, err := h.query.GetTraceDetail(r.Context(), project.ID, traceID)
	if err != nil {
		writeModelError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, detail)
}

// HandleTraceStatsOverview handles GET /traces/stats/overview.
func (h *Handlers) HandleTraceStatsOverview(w http.ResponseWriter, r *http.Request) {
	project, _ := currentProject(r)

	lastHours := queryInt(r, "last_hours", 24)
	if lastHours < 1 || lastHours > 168 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "last_hours must be in [1,168]")
		return
	}

	stats, err := h.query.StatsOverview(r.Context(), project.ID, lastHours)
	if err != nil {
		writeModelError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}
