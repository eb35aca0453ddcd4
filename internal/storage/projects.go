package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gavelhq/gavel/internal/auth"
	"github.com/gavelhq/gavel/internal/model"
)

// CreateProject inserts a new Project and its first API key, returning the
// plaintext key alongside the row. key_activated starts false: it only
// flips true the first time RotateKey is called against an already-live
// project, per SPEC_FULL.md §9's key-activation note.
func (db *DB) CreateProject(ctx context.Context, name string) (model.Project, string, error) {
	plaintext, err := auth.GenerateAPIKey()
	if err != nil {
		return model.Project{}, "", fmt.Errorf("storage: generate key: %w", err)
	}
	hash := auth.HashAPIKey(plaintext)

	var p model.Project
	err = db.pool.QueryRow(ctx, `
		INSERT INTO projects (id, name, api_key_hash, is_active, key_activated, created_at)
		VALUES (gen_random_uuid(), $1, $2, true, false, now())
		RETURNING id, name, api_key_hash, is_active, key_activated, created_at`,
		name, hash,
	).Scan(&p.ID, &p.Name, &p.APIKeyHash, &p.IsActive, &p.KeyActivated, &p.CreatedAt)
	if err != nil {
		return model.Project{}, "", asConflict(err, "project name already exists")
	}
	return p, plaintext, nil
}

// GetProjectByID looks up a Project by primary key.
func (db *DB) GetProjectByID(ctx context.Context, id uuid.UUID) (model.Project, error) {
	return db.scanProject(ctx, db.pool.QueryRow(ctx, `
		SELECT id, name, api_key_hash, is_active, key_activated, created_at
		FROM projects WHERE id = $1`, id))
}

// GetProjectByAPIKeyHash looks up a Project by its current key's sha-256
// digest. Index-backed equality lookup, per SPEC_FULL.md §4.2.
func (db *DB) GetProjectByAPIKeyHash(ctx context.Context, hash string) (model.Project, error) {
	return db.scanProject(ctx, db.pool.QueryRow(ctx, `
		SELECT id, name, api_key_hash, is_active, key_activated, created_at
		FROM projects WHERE api_key_hash = $1`, hash))
}

func (db *DB) scanProject(ctx context.Context, row pgx.Row) (model.Project, error) {
	var p model.Project
	if err := row.Scan(&p.ID, &p.Name, &p.APIKeyHash, &p.IsActive, &p.KeyActivated, &p.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return model.Project{}, ErrNotFound
		}
		return model.Project{}, fmt.Errorf("storage: scan project: %w", err)
	}
	return p, nil
}

// ListProjects returns every project, admin-only, newest first.
func (db *DB) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, name, api_key_hash, is_active, key_activated, created_at
		FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list projects: %w", err)
	}
	defer rows.Close()

	var out []model.Project
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.APIKeyHash, &p.IsActive, &p.KeyActivated, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan project row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RotateKey replaces a project's api_key_hash with a freshly generated key,
// returning the new plaintext once. It also sets key_activated=true, which
// is a no-op if already true — the donor's original source flips this flag
// here rather than at CreateProject, since a freshly created project has no
// usable key until its owner has actually rotated/fetched one.
func (db *DB) RotateKey(ctx context.Context, id uuid.UUID) (string, error) {
	plaintext, err := auth.GenerateAPIKey()
	if err != nil {
		return "", fmt.Errorf("storage: generate key: %w", err)
	}
	hash := auth.HashAPIKey(plaintext)

	tag, err := db.pool.Exec(ctx, `
		UPDATE projects SET api_key_hash = $1, key_activated = true WHERE id = $2`,
		hash, id)
	if err != nil {
		return "", asConflict(err, "rotate key")
	}
	if tag.RowsAffected() == 0 {
		return "", ErrNotFound
	}
	return plaintext, nil
}

// SetActive activates or deactivates a project. DELETE /projects/{id} is an
// alias for SetActive(id, false) — SPEC_FULL.md §9's soft-delete note.
func (db *DB) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := db.pool.Exec(ctx, `UPDATE projects SET is_active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("storage: set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
