package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gavelhq/gavel/internal/model"
)

const evaluationSelectSQL = `
	SELECT id, project_id, trace_id, span_id, eval_name, eval_model, score, passed,
	       metadata, user_review_passed, idempotency_key, created_at
	FROM evaluations`

func scanEvaluation(row pgx.Row) (model.Evaluation, error) {
	var e model.Evaluation
	var metadata []byte
	err := row.Scan(&e.ID, &e.ProjectID, &e.TraceID, &e.SpanID, &e.EvalName, &e.EvalModel, &e.Score, &e.Passed,
		&metadata, &e.UserReviewPassed, &e.IdempotencyKey, &e.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.Evaluation{}, ErrNotFound
		}
		return model.Evaluation{}, fmt.Errorf("storage: scan evaluation: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return model.Evaluation{}, fmt.Errorf("storage: unmarshal evaluation metadata: %w", err)
		}
	}
	return e, nil
}

// CreateEvaluation inserts an Evaluation; a reused idempotency key for the
// project yields a ConflictError.
func (db *DB) CreateEvaluation(ctx context.Context, projectID uuid.UUID, req model.CreateEvaluationRequest) (model.Evaluation, error) {
	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return model.Evaluation{}, fmt.Errorf("storage: marshal evaluation metadata: %w", err)
	}

	e, err := scanEvaluation(db.pool.QueryRow(ctx, `
		INSERT INTO evaluations (id, project_id, trace_id, span_id, eval_name, eval_model, score,
			passed, metadata, user_review_passed, idempotency_key, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		RETURNING id, project_id, trace_id, span_id, eval_name, eval_model, score, passed,
			metadata, user_review_passed, idempotency_key, created_at`,
		projectID, req.TraceID, req.SpanID, req.EvalName, req.EvalModel, req.Score,
		req.Passed, metaJSON, req.UserReviewPassed, req.IdempotencyKey,
	))
	if err != nil {
		return model.Evaluation{}, asConflict(err, "evaluation idempotency key already used")
	}
	return e, nil
}

// ListEvaluationsByTrace returns every evaluation attached to a trace or one
// of its spans, newest first.
func (db *DB) ListEvaluationsByTrace(ctx context.Context, projectID, traceID uuid.UUID) ([]model.Evaluation, error) {
	rows, err := db.pool.Query(ctx, evaluationSelectSQL+`
		WHERE project_id = $1 AND (trace_id = $2 OR span_id IN (SELECT id FROM spans WHERE trace_id = $2))
		ORDER BY created_at DESC`, projectID, traceID)
	if err != nil {
		return nil, fmt.Errorf("storage: list evaluations: %w", err)
	}
	defer rows.Close()

	var out []model.Evaluation
	for rows.Next() {
		var e model.Evaluation
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.TraceID, &e.SpanID, &e.EvalName, &e.EvalModel, &e.Score,
			&e.Passed, &metadata, &e.UserReviewPassed, &e.IdempotencyKey, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan evaluation row: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("storage: unmarshal evaluation row metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
