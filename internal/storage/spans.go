package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gavelhq/gavel/internal/model"
)

const spanSelectSQL = `
	SELECT id, project_id, trace_id, parent_span_id, name, span_type, status,
	       start_time, end_time, error, attributes, idempotency_key
	FROM spans`

func scanSpan(row pgx.Row) (model.Span, error) {
	var s model.Span
	var attrs []byte
	err := row.Scan(&s.ID, &s.ProjectID, &s.TraceID, &s.ParentSpanID, &s.Name, &s.SpanType, &s.Status,
		&s.StartTime, &s.EndTime, &s.Error, &attrs, &s.IdempotencyKey)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.Span{}, ErrNotFound
		}
		return model.Span{}, fmt.Errorf("storage: scan span: %w", err)
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &s.Attributes); err != nil {
			return model.Span{}, fmt.Errorf("storage: unmarshal span attributes: %w", err)
		}
	}
	return s, nil
}

// GetSpanByIDTx loads a Span by id, scoped to project.
func (db *DB) GetSpanByIDTx(ctx context.Context, tx pgx.Tx, projectID, spanID uuid.UUID) (model.Span, error) {
	return scanSpan(tx.QueryRow(ctx, spanSelectSQL+" WHERE project_id = $1 AND id = $2", projectID, spanID))
}

// GetSpanByIdempotencyKeyTx reports whether a span with this idempotency key
// already exists for the project.
func (db *DB) GetSpanByIdempotencyKeyTx(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, key string) (model.Span, error) {
	return scanSpan(tx.QueryRow(ctx, spanSelectSQL+" WHERE project_id = $1 AND idempotency_key = $2", projectID, key))
}

// ListSpansByTrace returns every span of a trace, oldest first.
func (db *DB) ListSpansByTrace(ctx context.Context, projectID, traceID uuid.UUID) ([]model.Span, error) {
	rows, err := db.pool.Query(ctx, spanSelectSQL+" WHERE project_id = $1 AND trace_id = $2 ORDER BY start_time ASC", projectID, traceID)
	if err != nil {
		return nil, fmt.Errorf("storage: list spans: %w", err)
	}
	defer rows.Close()

	var out []model.Span
	for rows.Next() {
		s, err := scanSpanRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSpanRows(rows pgx.Rows) (model.Span, error) {
	var s model.Span
	var attrs []byte
	if err := rows.Scan(&s.ID, &s.ProjectID, &s.TraceID, &s.ParentSpanID, &s.Name, &s.SpanType, &s.Status,
		&s.StartTime, &s.EndTime, &s.Error, &attrs, &s.IdempotencyKey); err != nil {
		return model.Span{}, fmt.Errorf("storage: scan span row: %w", err)
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &s.Attributes); err != nil {
			return model.Span{}, fmt.Errorf("storage: unmarshal span row attributes: %w", err)
		}
	}
	return s, nil
}

// InsertSpanIfAbsentTx inserts a span keyed on (project_id, idempotency_key).
// If a span with this key already exists it is returned unchanged with
// inserted=false, implementing per-span idempotency.
func (db *DB) InsertSpanIfAbsentTx(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, u model.SpanUpsert) (model.Span, bool, error) {
	existing, err := db.GetSpanByIdempotencyKeyTx(ctx, tx, projectID, u.IdempotencyKey)
	if err == nil {
		return existing, false, nil
	}
	if err != ErrNotFound {
		return model.Span{}, false, err
	}

	attrs := u.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return model.Span{}, false, fmt.Errorf("storage: marshal span attributes: %w", err)
	}
	status := u.Status
	if status == "" {
		status = model.SpanStatusRunning
	}
	startTime := u.StartTime
	if startTime.IsZero() {
		startTime = time.Now().UTC()
	}

	s, err := scanSpan(tx.QueryRow(ctx, `
		INSERT INTO spans (id, project_id, trace_id, parent_span_id, name, span_type, status,
			start_time, end_time, error, attributes, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, project_id, trace_id, parent_span_id, name, span_type, status,
			start_time, end_time, error, attributes, idempotency_key`,
		u.SpanID, projectID, u.TraceID, u.ParentSpanID, u.Name, u.SpanType, status,
		startTime, u.EndTime, u.Error, attrsJSON, u.IdempotencyKey,
	))
	if err != nil {
		return model.Span{}, false, asConflict(err, "span idempotency key already used")
	}
	return s, true, nil
}

// EndSpanTx sets end_time/status/error on an existing span, used when a
// SPAN_ENDED event arrives.
func (db *DB) EndSpanTx(ctx context.Context, tx pgx.Tx, projectID, spanID uuid.UUID, endTime time.Time, status model.SpanStatus, spanErr *string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE spans SET end_time = $1, status = $2, error = $3
		WHERE project_id = $4 AND id = $5`,
		endTime, status, spanErr, projectID, spanID)
	if err != nil {
		return fmt.Errorf("storage: end span: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AmendSpanTx merges an attributes patch into a span and optionally
// overwrites its status, for AMENDMENT events.
func (db *DB) AmendSpanTx(ctx context.Context, tx pgx.Tx, projectID, spanID uuid.UUID, patch map[string]any, status *model.SpanStatus) error {
	existing, err := db.GetSpanByIDTx(ctx, tx, projectID, spanID)
	if err != nil {
		return err
	}
	if existing.Attributes == nil {
		existing.Attributes = map[string]any{}
	}
	for k, v := range patch {
		existing.Attributes[k] = v
	}
	if status != nil {
		existing.Status = *status
	}
	attrsJSON, err := json.Marshal(existing.Attributes)
	if err != nil {
		return fmt.Errorf("storage: marshal amended attributes: %w", err)
	}
	_, err = tx.Exec(ctx, `UPDATE spans SET attributes = $1, status = $2 WHERE project_id = $3 AND id = $4`,
		attrsJSON, existing.Status, projectID, spanID)
	if err != nil {
		return fmt.Errorf("storage: amend span: %w", err)
	}
	return nil
}
