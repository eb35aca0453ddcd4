package gavel

import (
	"log/slog"
	"os"
)

type options struct {
	logger         *slog.Logger
	skipMigrations bool
}

// Option configures App construction.
type Option func(*options)

// WithLogger overrides the default JSON slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithSkipMigrations disables running embedded migrations on startup, for
// callers that manage schema migration out of band (e.g. tests against a
// pre-seeded database).
func WithSkipMigrations(skip bool) Option {
	return func(o *options) {
		o.skipMigrations = skip
	}
}

func defaultLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
