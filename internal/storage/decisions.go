package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gavelhq/gavel/internal/model"
)

const traceDecisionSelectSQL = `
	SELECT id, project_id, trace_id, action, reason_code, severity, confidence,
	       policy_version, judge_model, signals, rationale, idempotency_key, created_at
	FROM trace_decisions`

func scanTraceDecision(row pgx.Row) (model.TraceDecision, error) {
	var d model.TraceDecision
	var signals []byte
	err := row.Scan(&d.ID, &d.ProjectID, &d.TraceID, &d.Action, &d.ReasonCode, &d.Severity, &d.Confidence,
		&d.PolicyVersion, &d.JudgeModel, &signals, &d.Rationale, &d.IdempotencyKey, &d.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.TraceDecision{}, ErrNotFound
		}
		return model.TraceDecision{}, fmt.Errorf("storage: scan trace decision: %w", err)
	}
	if len(signals) > 0 {
		if err := json.Unmarshal(signals, &d.Signals); err != nil {
			return model.TraceDecision{}, fmt.Errorf("storage: unmarshal decision signals: %w", err)
		}
	}
	return d, nil
}

// GetTraceDecisionByIdempotencyKeyTx backs the decision pipeline's
// idempotency short-circuit: a repeat call with the same key returns the
// prior decision untouched instead of re-running the judge.
func (db *DB) GetTraceDecisionByIdempotencyKeyTx(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, key string) (model.TraceDecision, error) {
	return scanTraceDecision(tx.QueryRow(ctx, traceDecisionSelectSQL+" WHERE project_id = $1 AND idempotency_key = $2", projectID, key))
}

// InsertTraceDecisionTx persists the final decision; a reused idempotency
// key under concurrent requests surfaces as ConflictError (409), matching
// the original source's IntegrityError handling.
func (db *DB) InsertTraceDecisionTx(ctx context.Context, tx pgx.Tx, d model.TraceDecision) (model.TraceDecision, error) {
	signalsJSON, err := json.Marshal(d.Signals)
	if err != nil {
		return model.TraceDecision{}, fmt.Errorf("storage: marshal decision signals: %w", err)
	}
	out, err := scanTraceDecision(tx.QueryRow(ctx, `
		INSERT INTO trace_decisions (id, project_id, trace_id, action, reason_code, severity, confidence,
			policy_version, judge_model, signals, rationale, idempotency_key, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		RETURNING id, project_id, trace_id, action, reason_code, severity, confidence,
			policy_version, judge_model, signals, rationale, idempotency_key, created_at`,
		d.ProjectID, d.TraceID, d.Action, d.ReasonCode, d.Severity, d.Confidence,
		d.PolicyVersion, d.JudgeModel, signalsJSON, d.Rationale, d.IdempotencyKey,
	))
	if err != nil {
		return model.TraceDecision{}, asConflict(err, "decision idempotency key already used")
	}
	return out, nil
}

// ListTraceDecisionsByTrace returns every decision made for a trace, newest
// first.
func (db *DB) ListTraceDecisionsByTrace(ctx context.Context, projectID, traceID uuid.UUID) ([]model.TraceDecision, error) {
	rows, err := db.pool.Query(ctx, traceDecisionSelectSQL+" WHERE project_id = $1 AND trace_id = $2 ORDER BY created_at DESC", projectID, traceID)
	if err != nil {
		return nil, fmt.Errorf("storage: list trace decisions: %w", err)
	}
	defer rows.Close()

	var out []model.TraceDecision
	for rows.Next() {
		var d model.TraceDecision
		var signals []byte
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.TraceID, &d.Action, &d.ReasonCode, &d.Severity, &d.Confidence,
			&d.PolicyVersion, &d.JudgeModel, &signals, &d.Rationale, &d.IdempotencyKey, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan trace decision row: %w", err)
		}
		if len(signals) > 0 {
			if err := json.Unmarshal(signals, &d.Signals); err != nil {
				return nil, fmt.Errorf("storage: unmarshal decision row signals: %w", err)
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetJudgeCacheTx looks up a cached judge decision for (input_hash,
// policy_version).
func (db *DB) GetJudgeCacheTx(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, inputHash, policyVersion string) (model.JudgeCache, error) {
	var c model.JudgeCache
	var decision []byte
	err := tx.QueryRow(ctx, `
		SELECT id, project_id, input_hash, policy_version, decision, created_at
		FROM judge_cache WHERE project_id = $1 AND input_hash = $2 AND policy_version = $3`,
		projectID, inputHash, policyVersion,
	).Scan(&c.ID, &c.ProjectID, &c.InputHash, &c.PolicyVersion, &decision, &c.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.JudgeCache{}, ErrNotFound
		}
		return model.JudgeCache{}, fmt.Errorf("storage: get judge cache: %w", err)
	}
	if len(decision) > 0 {
		if err := json.Unmarshal(decision, &c.Decision); err != nil {
			return model.JudgeCache{}, fmt.Errorf("storage: unmarshal judge cache decision: %w", err)
		}
	}
	return c, nil
}

// PutJudgeCacheTx inserts a judge cache entry, ignoring a conflicting
// concurrent insert of the same (project_id, input_hash, policy_version) —
// whichever writer wins, readers see the same cached decision either way.
func (db *DB) PutJudgeCacheTx(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, inputHash, policyVersion string, decision map[string]any) error {
	decisionJSON, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("storage: marshal judge cache decision: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO judge_cache (id, project_id, input_hash, policy_version, decision, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, now())
		ON CONFLICT (project_id, input_hash, policy_version) DO NOTHING`,
		projectID, inputHash, policyVersion, decisionJSON)
	if err != nil {
		return fmt.Errorf("storage: put judge cache: %w", err)
	}
	return nil
}

// InsertJudgeRunTx appends an audit row for one provider invocation.
func (db *DB) InsertJudgeRunTx(ctx context.Context, tx pgx.Tx, r model.JudgeRun) (model.JudgeRun, error) {
	outputJSON, err := json.Marshal(r.Output)
	if err != nil {
		return model.JudgeRun{}, fmt.Errorf("storage: marshal judge run output: %w", err)
	}
	var out model.JudgeRun
	var output []byte
	err = tx.QueryRow(ctx, `
		INSERT INTO judge_runs (id, project_id, trace_id, span_id, provider, model, action,
			reason_code, confidence, output, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		RETURNING id, project_id, trace_id, span_id, provider, model, action, reason_code, confidence, output, created_at`,
		r.ProjectID, r.TraceID, r.SpanID, r.Provider, r.Model, r.Action, r.ReasonCode, r.Confidence, outputJSON,
	).Scan(&out.ID, &out.ProjectID, &out.TraceID, &out.SpanID, &out.Provider, &out.Model, &out.Action,
		&out.ReasonCode, &out.Confidence, &output, &out.CreatedAt)
	if err != nil {
		return model.JudgeRun{}, fmt.Errorf("storage: insert judge run: %w", err)
	}
	if len(output) > 0 {
		if err := json.Unmarshal(output, &out.Output); err != nil {
			return model.JudgeRun{}, fmt.Errorf("storage: unmarshal judge run output: %w", err)
		}
	}
	return out, nil
}

// ListRecentJudgeRunsByTrace returns the most recent limit judge runs for a
// trace, newest first.
func (db *DB) ListRecentJudgeRunsByTrace(ctx context.Context, projectID, traceID uuid.UUID, limit int) ([]model.JudgeRun, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, project_id, trace_id, span_id, provider, model, action, reason_code, confidence, output, created_at
		FROM judge_runs WHERE project_id = $1 AND trace_id = $2
		ORDER BY created_at DESC LIMIT $3`, projectID, traceID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list judge runs: %w", err)
	}
	defer rows.Close()

	var out []model.JudgeRun
	for rows.Next() {
		var r model.JudgeRun
		var output []byte
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.TraceID, &r.SpanID, &r.Provider, &r.Model, &r.Action,
			&r.ReasonCode, &r.Confidence, &output, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan judge run row: %w", err)
		}
		if len(output) > 0 {
			if err := json.Unmarshal(output, &r.Output); err != nil {
				return nil, fmt.Errorf("storage: unmarshal judge run row output: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
