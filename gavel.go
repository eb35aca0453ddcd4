// Package gavel wires together the core's components — storage, auth,
// projection, policy, judge, decision, emitter, query, and the HTTP
// transport — into one runnable App.
package gavel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gavelhq/gavel/internal/auth"
	"github.com/gavelhq/gavel/internal/config"
	"github.com/gavelhq/gavel/internal/decision"
	"github.com/gavelhq/gavel/internal/emitter"
	"github.com/gavelhq/gavel/internal/judge"
	"github.com/gavelhq/gavel/internal/projection"
	"github.com/gavelhq/gavel/internal/query"
	"github.com/gavelhq/gavel/internal/server"
	"github.com/gavelhq/gavel/internal/storage"
	"github.com/gavelhq/gavel/internal/telemetry"
	"github.com/gavelhq/gavel/migrations"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// App is one fully wired gavel process: storage, every domain component,
// and the HTTP server that hosts them.
type App struct {
	cfg          config.Config
	logger       *slog.Logger
	db           *storage.DB
	server       *server.Server
	otelShutdown telemetry.Shutdown
}

// New builds an App from cfg, applying opts over the defaults. Construction
// order mirrors the donor's cmd/akashi/main.go: telemetry, then storage
// (plus migrations), then the domain services, then the HTTP server.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	o := options{
		logger: defaultLogger(parseLogLevel(cfg.LogLevel)),
	}
	for _, opt := range opts {
		opt(&o)
	}

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, Version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("gavel: telemetry: %w", err)
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, o.logger)
	if err != nil {
		return nil, fmt.Errorf("gavel: storage: %w", err)
	}

	if !o.skipMigrations {
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			db.Close()
			return nil, fmt.Errorf("gavel: migrations: %w", err)
		}
	}

	resolver := auth.NewResolver(db, cfg.AdminAPIKeySeed, cfg.DevMode)

	projectionEngine := projection.New(db)
	queryService := query.New(db)

	registry := judge.NewRegistry(judge.NewHeuristic(), judge.NewLLM(cfg.JudgeLLMEndpoint, cfg.JudgeLLMModel))
	caseEmitter := emitter.New(db, cfg.WebhookURL, o.logger)
	decisionService := decision.New(db, registry, caseEmitter, cfg.JudgeLLMModel)

	srv := server.New(server.ServerConfig{
		DB:                  db,
		Auth:                resolver,
		Projection:          projectionEngine,
		Decision:            decisionService,
		Query:               queryService,
		Emitter:             caseEmitter,
		Logger:              o.logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
	})

	return &App{cfg: cfg, logger: o.logger, db: db, server: srv, otelShutdown: otelShutdown}, nil
}

// Run starts the HTTP server and blocks until ctx is canceled or the server
// fails, then drains in two phases: stop accepting new HTTP requests, then
// tear down OTEL exporters.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	a.logger.Info("gavel shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}

	if err := a.otelShutdown(context.Background()); err != nil {
		a.logger.Error("telemetry shutdown error", "error", err)
	}

	a.db.Close()
	a.logger.Info("gavel stopped")
	return nil
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
