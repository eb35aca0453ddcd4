package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gavelhq/gavel/internal/model"
)

// CreatePolicy inserts a Policy plus its first PolicyVersion (version 1,
// active) in one transaction.
func (db *DB) CreatePolicy(ctx context.Context, projectID uuid.UUID, req model.CreatePolicyRequest) (model.Policy, model.PolicyVersion, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return model.Policy{}, model.PolicyVersion{}, err
	}
	defer tx.Rollback(ctx)

	var p model.Policy
	err = tx.QueryRow(ctx, `
		INSERT INTO policies (id, project_id, name, description, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, now())
		RETURNING id, project_id, name, description, created_at`,
		projectID, req.Name, req.Description,
	).Scan(&p.ID, &p.ProjectID, &p.Name, &p.Description, &p.CreatedAt)
	if err != nil {
		return model.Policy{}, model.PolicyVersion{}, asConflict(err, "policy name already exists")
	}

	defJSON, err := json.Marshal(req.Definition)
	if err != nil {
		return model.Policy{}, model.PolicyVersion{}, fmt.Errorf("storage: marshal policy definition: %w", err)
	}

	var v model.PolicyVersion
	var defRaw []byte
	err = tx.QueryRow(ctx, `
		INSERT INTO policy_versions (id, policy_id, version, effective_from, active, definition)
		VALUES (gen_random_uuid(), $1, 1, now(), true, $2)
		RETURNING id, policy_id, version, effective_from, active, definition`,
		p.ID, defJSON,
	).Scan(&v.ID, &v.PolicyID, &v.Version, &v.EffectiveFrom, &v.Active, &defRaw)
	if err != nil {
		return model.Policy{}, model.PolicyVersion{}, fmt.Errorf("storage: insert policy version: %w", err)
	}
	if err := json.Unmarshal(defRaw, &v.Definition); err != nil {
		return model.Policy{}, model.PolicyVersion{}, fmt.Errorf("storage: unmarshal policy definition: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Policy{}, model.PolicyVersion{}, fmt.Errorf("storage: commit create policy: %w", err)
	}
	return p, v, nil
}

// ListPolicies returns every policy for a project.
func (db *DB) ListPolicies(ctx context.Context, projectID uuid.UUID) ([]model.Policy, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, project_id, name, description, created_at
		FROM policies WHERE project_id = $1 ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("storage: list policies: %w", err)
	}
	defer rows.Close()

	var out []model.Policy
	for rows.Next() {
		var p model.Policy
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan policy row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListPolicyVersions returns every version of a policy, newest first.
func (db *DB) ListPolicyVersions(ctx context.Context, policyID uuid.UUID) ([]model.PolicyVersion, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, policy_id, version, effective_from, active, definition
		FROM policy_versions WHERE policy_id = $1 ORDER BY version DESC`, policyID)
	if err != nil {
		return nil, fmt.Errorf("storage: list policy versions: %w", err)
	}
	defer rows.Close()

	var out []model.PolicyVersion
	for rows.Next() {
		v, err := scanPolicyVersionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanPolicyVersionRow(rows pgx.Rows) (model.PolicyVersion, error) {
	var v model.PolicyVersion
	var defRaw []byte
	if err := rows.Scan(&v.ID, &v.PolicyID, &v.Version, &v.EffectiveFrom, &v.Active, &defRaw); err != nil {
		return model.PolicyVersion{}, fmt.Errorf("storage: scan policy version row: %w", err)
	}
	if len(defRaw) > 0 {
		if err := json.Unmarshal(defRaw, &v.Definition); err != nil {
			return model.PolicyVersion{}, fmt.Errorf("storage: unmarshal policy version definition: %w", err)
		}
	}
	return v, nil
}

// ActivateVersion deactivates every other version of the policy and
// activates versionID, in one transaction — at most one version may be
// Active per policy at a time.
func (db *DB) ActivateVersion(ctx context.Context, policyID, versionID uuid.UUID) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE policy_versions SET active = false WHERE policy_id = $1`, policyID); err != nil {
		return fmt.Errorf("storage: deactivate policy versions: %w", err)
	}
	tag, err := tx.Exec(ctx, `UPDATE policy_versions SET active = true WHERE id = $1 AND policy_id = $2`, versionID, policyID)
	if err != nil {
		return fmt.Errorf("storage: activate policy version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

// ResolveActivePolicyVersionTx implements SPEC_FULL.md §4.6 step 3's
// three-tier resolution: an explicit forced (policy_id, version) pair wins,
// otherwise the active version of a forced policy_id, otherwise the active
// version across all of the project's policies whose effective_from is not
// in the future, latest effective_from first, then highest version.
func (db *DB) ResolveActivePolicyVersionTx(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, forcePolicyID *uuid.UUID, forceVersion *int) (model.PolicyVersion, error) {
	if forcePolicyID != nil && forceVersion != nil {
		return scanPolicyVersionRow2(tx.QueryRow(ctx, `
			SELECT pv.id, pv.policy_id, pv.version, pv.effective_from, pv.active, pv.definition
			FROM policy_versions pv JOIN policies p ON p.id = pv.policy_id
			WHERE p.project_id = $1 AND pv.policy_id = $2 AND pv.version = $3`,
			projectID, *forcePolicyID, *forceVersion))
	}
	if forcePolicyID != nil {
		return scanPolicyVersionRow2(tx.QueryRow(ctx, `
			SELECT pv.id, pv.policy_id, pv.version, pv.effective_from, pv.active, pv.definition
			FROM policy_versions pv JOIN policies p ON p.id = pv.policy_id
			WHERE p.project_id = $1 AND pv.policy_id = $2 AND pv.active = true`,
			projectID, *forcePolicyID))
	}
	return scanPolicyVersionRow2(tx.QueryRow(ctx, `
		SELECT pv.id, pv.policy_id, pv.version, pv.effective_from, pv.active, pv.definition
		FROM policy_versions pv JOIN policies p ON p.id = pv.policy_id
		WHERE p.project_id = $1 AND pv.active = true AND pv.effective_from <= now()
		ORDER BY pv.effective_from DESC, pv.version DESC LIMIT 1`, projectID))
}

func scanPolicyVersionRow2(row pgx.Row) (model.PolicyVersion, error) {
	var v model.PolicyVersion
	var defRaw []byte
	if err := row.Scan(&v.ID, &v.PolicyID, &v.Version, &v.EffectiveFrom, &v.Active, &defRaw); err != nil {
		if err == pgx.ErrNoRows {
			return model.PolicyVersion{}, ErrNotFound
		}
		return model.PolicyVersion{}, fmt.Errorf("storage: resolve active policy version: %w", err)
	}
	if len(defRaw) > 0 {
		if err := json.Unmarshal(defRaw, &v.Definition); err != nil {
			return model.PolicyVersion{}, fmt.Errorf("storage: unmarshal resolved policy definition: %w", err)
		}
	}
	return v, nil
}
