package storage

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gavelhq/gavel/internal/model"
)

// ErrNotFound is returned by single-row lookups that found nothing.
var ErrNotFound = errors.New("storage: not found")

const pgUniqueViolation = "23505"

// asConflict maps a unique-index violation to model.ConflictError and
// passes every other error through unchanged. Replaces the donor's
// strings.Contains(err.Error(), "duplicate key") checks with a single
// error-code comparison.
func asConflict(err error, message string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return model.ConflictErrorWrap(err, "%s", message)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
