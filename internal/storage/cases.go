package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gavelhq/gavel/internal/model"
)

const caseSelectSQL = `
	SELECT id, project_id, trace_id, reason_code, status, assignee, acknowledged_at, resolved_at, created_at
	FROM cases`

func scanCase(row pgx.Row) (model.Case, error) {
	var c model.Case
	err := row.Scan(&c.ID, &c.ProjectID, &c.TraceID, &c.ReasonCode, &c.Status, &c.Assignee,
		&c.AcknowledgedAt, &c.ResolvedAt, &c.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.Case{}, ErrNotFound
		}
		return model.Case{}, fmt.Errorf("storage: scan case: %w", err)
	}
	return c, nil
}

// InsertCaseTx creates a Case, normally on an ESCALATE decision. Grounded on
// the original source's case_service.py::create_case_and_notify.
func (db *DB) InsertCaseTx(ctx context.Context, tx pgx.Tx, projectID, traceID uuid.UUID, reasonCode string) (model.Case, error) {
	return scanCase(tx.QueryRow(ctx, `
		INSERT INTO cases (id, project_id, trace_id, reason_code, status, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, 'open', now())
		RETURNING id, project_id, trace_id, reason_code, status, assignee, acknowledged_at, resolved_at, created_at`,
		projectID, traceID, reasonCode))
}

// GetCase loads a Case by id, scoped to project.
func (db *DB) GetCase(ctx context.Context, projectID, id uuid.UUID) (model.Case, error) {
	return scanCase(db.pool.QueryRow(ctx, caseSelectSQL+" WHERE project_id = $1 AND id = $2", projectID, id))
}

// ListCases returns every case for a project, newest first.
func (db *DB) ListCases(ctx context.Context, projectID uuid.UUID, status *model.CaseStatus) ([]model.Case, error) {
	query := caseSelectSQL + " WHERE project_id = $1"
	args := []any{projectID}
	if status != nil {
		query += " AND status = $2"
		args = append(args, *status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list cases: %w", err)
	}
	defer rows.Close()

	var out []model.Case
	for rows.Next() {
		var c model.Case
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.TraceID, &c.ReasonCode, &c.Status, &c.Assignee,
			&c.AcknowledgedAt, &c.ResolvedAt, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan case row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AckCase sets status=acknowledged and acknowledged_at, optionally assigning
// the case. A no-op transition (already acknowledged/resolved) still
// succeeds, matching the original source's idempotent ack_case.
func (db *DB) AckCase(ctx context.Context, projectID, id uuid.UUID, assignee *string) (model.Case, error) {
	c, err := db.GetCase(ctx, projectID, id)
	if err != nil {
		return model.Case{}, err
	}
	if c.AcknowledgedAt == nil {
		c.Status = model.CaseStatusAcknowledged
	}
	if assignee != nil {
		c.Assignee = assignee
	}
	_, err = db.pool.Exec(ctx, `
		UPDATE cases SET status = $1, assignee = $2, acknowledged_at = COALESCE(acknowledged_at, now())
		WHERE project_id = $3 AND id = $4`,
		c.Status, c.Assignee, projectID, id)
	if err != nil {
		return model.Case{}, fmt.Errorf("storage: ack case: %w", err)
	}
	return db.GetCase(ctx, projectID, id)
}

// ResolveCase sets status=resolved and resolved_at, backfilling
// acknowledged_at if the case skipped straight from open to resolved.
func (db *DB) ResolveCase(ctx context.Context, projectID, id uuid.UUID) (model.Case, error) {
	_, err := db.pool.Exec(ctx, `
		UPDATE cases SET status = 'resolved',
			acknowledged_at = COALESCE(acknowledged_at, now()),
			resolved_at = COALESCE(resolved_at, now())
		WHERE project_id = $1 AND id = $2`, projectID, id)
	if err != nil {
		return model.Case{}, fmt.Errorf("storage: resolve case: %w", err)
	}
	return db.GetCase(ctx, projectID, id)
}

const notificationSelectSQL = `
	SELECT id, project_id, case_id, channel, target_url, status, payload, response_snippet, created_at
	FROM notifications`

// InsertNotificationTx records a pending webhook delivery attempt.
func (db *DB) InsertNotificationTx(ctx context.Context, tx pgx.Tx, projectID, caseID uuid.UUID, channel, targetURL string, payload map[string]any) (model.Notification, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return model.Notification{}, fmt.Errorf("storage: marshal notification payload: %w", err)
	}
	var n model.Notification
	var p []byte
	err = tx.QueryRow(ctx, `
		INSERT INTO notifications (id, project_id, case_id, channel, target_url, status, payload, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, 'pending', $5, now())
		RETURNING id, project_id, case_id, channel, target_url, status, payload, response_snippet, created_at`,
		projectID, caseID, channel, targetURL, payloadJSON,
	).Scan(&n.ID, &n.ProjectID, &n.CaseID, &n.Channel, &n.TargetURL, &n.Status, &p, &n.ResponseSnippet, &n.CreatedAt)
	if err != nil {
		return model.Notification{}, fmt.Errorf("storage: insert notification: %w", err)
	}
	if len(p) > 0 {
		if err := json.Unmarshal(p, &n.Payload); err != nil {
			return model.Notification{}, fmt.Errorf("storage: unmarshal notification payload: %w", err)
		}
	}
	return n, nil
}

// ListNotificationsByCase returns every delivery attempt for a case, oldest
// first.
func (db *DB) ListNotificationsByCase(ctx context.Context, projectID, caseID uuid.UUID) ([]model.Notification, error) {
	rows, err := db.pool.Query(ctx, notificationSelectSQL+" WHERE project_id = $1 AND case_id = $2 ORDER BY created_at ASC",
		projectID, caseID)
	if err != nil {
		return nil, fmt.Errorf("storage: list notifications: %w", err)
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		var payload []byte
		if err := rows.Scan(&n.ID, &n.ProjectID, &n.CaseID, &n.Channel, &n.TargetURL, &n.Status, &payload,
			&n.ResponseSnippet, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan notification row: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &n.Payload); err != nil {
				return nil, fmt.Errorf("storage: unmarshal notification row payload: %w", err)
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// UpdateNotificationStatus sets the terminal status and a truncated
// response/error snippet (capped at 500 chars, matching the original
// source's case_service.py truncation).
func (db *DB) UpdateNotificationStatus(ctx context.Context, id uuid.UUID, status model.NotificationStatus, snippet string) error {
	runes := []rune(snippet)
	if len(runes) > 500 {
		runes = runes[:500]
	}
	snippet = string(runes)
	_, err := db.pool.Exec(ctx, `UPDATE notifications SET status = $1, response_snippet = $2 WHERE id = $3`,
		status, snippet, id)
	if err != nil {
		return fmt.Errorf("storage: update notification status: %w", err)
	}
	return nil
}
