package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gavelhq/gavel/internal/model"
)

const eventSelectSQL = `
	SELECT id, project_id, trace_id, span_id, event_type, event_time, payload, idempotency_key
	FROM span_events`

func scanEvent(row pgx.Row) (model.SpanEvent, error) {
	var e model.SpanEvent
	var payload []byte
	err := row.Scan(&e.ID, &e.ProjectID, &e.TraceID, &e.SpanID, &e.EventType, &e.EventTime, &payload, &e.IdempotencyKey)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.SpanEvent{}, ErrNotFound
		}
		return model.SpanEvent{}, fmt.Errorf("storage: scan span event: %w", err)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return model.SpanEvent{}, fmt.Errorf("storage: unmarshal event payload: %w", err)
		}
	}
	return e, nil
}

// GetEventByIdempotencyKeyTx reports whether an event with this key already
// exists for the project.
func (db *DB) GetEventByIdempotencyKeyTx(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, key string) (model.SpanEvent, error) {
	return scanEvent(tx.QueryRow(ctx, eventSelectSQL+" WHERE project_id = $1 AND idempotency_key = $2", projectID, key))
}

// InsertSpanEventIfAbsentTx appends a SpanEvent row, skipping (inserted=false)
// when the idempotency key has already been seen for this project.
func (db *DB) InsertSpanEventIfAbsentTx(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, u model.EventUpsert) (model.SpanEvent, bool, error) {
	existing, err := db.GetEventByIdempotencyKeyTx(ctx, tx, projectID, u.IdempotencyKey)
	if err == nil {
		return existing, false, nil
	}
	if err != ErrNotFound {
		return model.SpanEvent{}, false, err
	}

	payloadJSON, err := json.Marshal(u.Payload)
	if err != nil {
		return model.SpanEvent{}, false, fmt.Errorf("storage: marshal event payload: %w", err)
	}

	e, err := scanEvent(tx.QueryRow(ctx, `
		INSERT INTO span_events (id, project_id, trace_id, span_id, event_type, event_time, payload, idempotency_key)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7)
		RETURNING id, project_id, trace_id, span_id, event_type, event_time, payload, idempotency_key`,
		projectID, u.TraceID, u.SpanID, u.EventType, u.EventTime, payloadJSON, u.IdempotencyKey,
	))
	if err != nil {
		return model.SpanEvent{}, false, asConflict(err, "event idempotency key already used")
	}
	return e, true, nil
}

// ListEventsByTrace returns every span event of a trace, chronological.
func (db *DB) ListEventsByTrace(ctx context.Context, projectID, traceID uuid.UUID) ([]model.SpanEvent, error) {
	rows, err := db.pool.Query(ctx, eventSelectSQL+" WHERE project_id = $1 AND trace_id = $2 ORDER BY event_time ASC", projectID, traceID)
	if err != nil {
		return nil, fmt.Errorf("storage: list span events: %w", err)
	}
	defer rows.Close()

	var out []model.SpanEvent
	for rows.Next() {
		var e model.SpanEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.TraceID, &e.SpanID, &e.EventType, &e.EventTime, &payload, &e.IdempotencyKey); err != nil {
			return nil, fmt.Errorf("storage: scan span event row: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("storage: unmarshal event row payload: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
