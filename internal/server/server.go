package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gavelhq/gavel/internal/auth"
	"github.com/gavelhq/gavel/internal/decision"
	"github.com/gavelhq/gavel/internal/emitter"
	"github.com/gavelhq/gavel/internal/projection"
	"github.com/gavelhq/gavel/internal/query"
	"github.com/gavelhq/gavel/internal/storage"
)

// Server is the gavel HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Every field is required: unlike the donor's RBAC/MCP/broker-laden
// version, this transport has no optional subsystems.
type ServerConfig struct {
	DB         *storage.DB
	Auth       *auth.Resolver
	Projection *projection.Engine
	Decision   *decision.Service
	Query      *query.Service
	Emitter    *emitter.Emitter
	Logger     *slog.Logger

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64
	CORSAllowedOrigins  []string
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:         cfg.DB,
		Projection: cfg.Projection,
		Decision:   cfg.Decision,
		Query:      cfg.Query,
		Emitter:    cfg.Emitter,
		Logger:     cfg.Logger,
		MaxBody:    cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()

	// Ingestion.
	mux.Handle("POST /ingest/traces", http.HandlerFunc(h.HandleIngestTraces))
	mux.Handle("POST /ingest/spans", http.HandlerFunc(h.HandleIngestSpans))

	// Evaluations.
	mux.Handle("POST /evals", http.HandlerFunc(h.HandleCreateEvaluation))

	// Trace read models.
	mux.Handle("GET /traces", http.HandlerFunc(h.HandleListTraces))
	mux.Handle("GET /traces/stats/overview", http.HandlerFunc(h.HandleTraceStatsOverview))
	mux.Handle("GET /traces/{id}", http.HandlerFunc(h.HandleGetTrace))

	// Decision pipeline.
	mux.Handle("POST /decide", http.HandlerFunc(h.HandleDecide))

	// Policies.
	mux.Handle("POST /policies", http.HandlerFunc(h.HandleCreatePolicy))
	mux.Handle("GET /policies", http.HandlerFunc(h.HandleListPolicies))
	mux.Handle("GET /policies/{id}/versions", http.HandlerFunc(h.HandleListPolicyVersions))
	mux.Handle("POST /policies/{id}/activate", http.HandlerFunc(h.HandleActivatePolicyVersion))

	// Cases.
	mux.Handle("GET /cases", http.HandlerFunc(h.HandleListCases))
	mux.Handle("GET /cases/{id}", http.HandlerFunc(h.HandleGetCase))
	mux.Handle("POST /cases/{id}/ack", http.HandlerFunc(h.HandleAckCase))
	mux.Handle("POST /cases/{id}/resolve", http.HandlerFunc(h.HandleResolveCase))

	// Projects (admin only).
	mux.Handle("POST /projects", http.HandlerFunc(h.HandleCreateProject))
	mux.Handle("GET /projects", http.HandlerFunc(h.HandleListProjects))
	mux.Handle("POST /projects/{id}/rotate-key", http.HandlerFunc(h.HandleRotateKey))
	mux.Handle("POST /projects/{id}/activate", http.HandlerFunc(h.HandleActivateProject))
	mux.Handle("POST /projects/{id}/deactivate", http.HandlerFunc(h.HandleDeactivateProject))
	mux.Handle("DELETE /projects/{id}", http.HandlerFunc(h.HandleDeleteProject))
	mux.Handle("GET /projects/{id}/current-key", http.HandlerFunc(h.HandleGetCurrentKey))

	// Health (no auth).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → CORS → tracing → logging → baggage → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(newProjectResolver(cfg.Auth), handler)
	handler = baggageMiddleware(handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = corsMiddleware(cfg.CORSAllowedOrigins, handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  2 * cfg.ReadTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
