package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gavelhq/gavel/internal/decision"
	"github.com/gavelhq/gavel/internal/emitter"
	"github.com/gavelhq/gavel/internal/model"
	"github.com/gavelhq/gavel/internal/projection"
	"github.com/gavelhq/gavel/internal/query"
	"github.com/gavelhq/gavel/internal/storage"
)

// Handlers holds HTTP handler dependencies. It is deliberately thin: every
// field is a domain component built in gavel.go, and every method below only
// decodes requests, calls one component method, and encodes the response.
type Handlers struct {
	db         *storage.DB
	projection *projection.Engine
	decision   *decision.Service
	query      *query.Service
	emitter    *emitter.Emitter
	logger     *slog.Logger
	maxBody    int64
	startedAt  time.Time
}

// HandlersDeps collects the dependencies for NewHandlers.
type HandlersDeps struct {
	DB         *storage.DB
	Projection *projection.Engine
	Decision   *decision.Service
	Query      *query.Service
	Emitter    *emitter.Emitter
	Logger     *slog.Logger
	MaxBody    int64
}

func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		db:         deps.DB,
		projection: deps.Projection,
		decision:   deps.Decision,
		query:      deps.Query,
		emitter:    deps.Emitter,
		logger:     deps.Logger,
		maxBody:    deps.MaxBody,
		startedAt:  time.Now(),
	}
}

// HealthResponse is the GET /health payload.
type HealthResponse struct {
	Status   string `json:"status"`
	Postgres string `json:"postgres"`
	UptimeS  int64  `json:"uptime_seconds"`
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pgStatus := "connected"
	if err := h.db.Ping(r.Context()); err != nil {
		pgStatus = "disconnected"
	}
	writeJSON(w, r, http.StatusOK, HealthResponse{
		Status:   "healthy",
		Postgres: pgStatus,
		UptimeS:  int64(time.Since(h.startedAt).Seconds()),
	})
}

// currentProject reads the Project the auth middleware resolved. Admin-only
// handlers that act on a project named in the path don't call this.
func currentProject(r *http.Request) (model.Project, bool) {
	return projectFromContext(r.Context())
}
