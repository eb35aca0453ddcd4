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

// GetTraceByID loads a Trace scoped to projectID.
func (db *DB) GetTraceByID(ctx context.Context, projectID, id uuid.UUID) (model.Trace, error) {
	return scanTrace(db.pool.QueryRow(ctx, traceSelectSQL+" WHERE project_id = $1 AND id = $2", projectID, id))
}

// GetTraceByIDTx is the transaction-scoped, row-locking variant used by the
// projection engine and decision pipeline, both of which read-then-write a
// Trace inside a single transaction.
func (db *DB) GetTraceByIDTx(ctx context.Context, tx pgx.Tx, projectID, id uuid.UUID) (model.Trace, error) {
	return scanTrace(tx.QueryRow(ctx, traceSelectSQL+" WHERE project_id = $1 AND id = $2 FOR UPDATE", projectID, id))
}

const traceSelectSQL = `
	SELECT id, project_id, external_trace_id, status, start_time, end_time,
	       attributes, model, environment, user_id, session_id, input_text,
	       output_text, has_open_spans, total_spans, ended_spans,
	       completion_rate, decision, user_review_passed
	FROM traces`

func scanTrace(row pgx.Row) (model.Trace, error) {
	var t model.Trace
	var attrs, decision []byte
	err := row.Scan(&t.ID, &t.ProjectID, &t.ExternalTraceID, &t.Status, &t.StartTime, &t.EndTime,
		&attrs, &t.Model, &t.Environment, &t.UserID, &t.SessionID, &t.InputText,
		&t.OutputText, &t.HasOpenSpans, &t.TotalSpans, &t.EndedSpans,
		&t.CompletionRate, &decision, &t.UserReviewPassed)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.Trace{}, ErrNotFound
		}
		return model.Trace{}, fmt.Errorf("storage: scan trace: %w", err)
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &t.Attributes); err != nil {
			return model.Trace{}, fmt.Errorf("storage: unmarshal trace attributes: %w", err)
		}
	}
	if len(decision) > 0 {
		if err := json.Unmarshal(decision, &t.Decision); err != nil {
			return model.Trace{}, fmt.Errorf("storage: unmarshal trace decision: %w", err)
		}
	}
	return t, nil
}

// UpsertTraceTx implements the get-or-create-with-merge semantics of
// SPEC_FULL.md §4.3: a trace not yet seen is inserted as-is; one already
// present is merged field-by-field (non-empty replaces, attributes
// last-write-wins per key, user_review_passed only replaces when the
// request set it explicitly).
func (db *DB) UpsertTraceTx(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, u model.TraceUpsert) (model.Trace, bool, error) {
	existing, err := db.GetTraceByIDTx(ctx, tx, projectID, u.TraceID)
	switch {
	case err == ErrNotFound:
		return db.insertTraceTx(ctx, tx, projectID, u)
	case err != nil:
		return model.Trace{}, false, err
	default:
		return db.mergeTraceTx(ctx, tx, existing, u)
	}
}

func (db *DB) insertTraceTx(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, u model.TraceUpsert) (model.Trace, bool, error) {
	attrs := u.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return model.Trace{}, false, fmt.Errorf("storage: marshal trace attributes: %w", err)
	}
	status := u.Status
	if status == "" {
		status = model.TraceStatusRunning
	}
	startTime := u.StartTime
	if startTime.IsZero() {
		startTime = time.Now().UTC()
	}

	t, err := scanTrace(tx.QueryRow(ctx, `
		INSERT INTO traces (id, project_id, external_trace_id, status, start_time, end_time,
			attributes, model, environment, user_id, session_id, input_text, output_text,
			has_open_spans, total_spans, ended_spans, completion_rate, decision, user_review_passed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, true, 0, 0, 0, NULL, $14)
		RETURNING id, project_id, external_trace_id, status, start_time, end_time,
			attributes, model, environment, user_id, session_id, input_text, output_text,
			has_open_spans, total_spans, ended_spans, completion_rate, decision, user_review_passed`,
		u.TraceID, projectID, u.ExternalTraceID, status, startTime, u.EndTime,
		attrsJSON, u.Model, u.Environment, u.UserID, u.SessionID, u.InputText, u.OutputText,
		u.UserReviewPassed,
	))
	if err != nil {
		return model.Trace{}, false, asConflict(err, "trace already exists")
	}
	return t, true, nil
}

func (db *DB) mergeTraceTx(ctx context.Context, tx pgx.Tx, existing model.Trace, u model.TraceUpsert) (model.Trace, bool, error) {
	merged := existing
	if u.ExternalTraceID != nil && *u.ExternalTraceID != "" {
		merged.ExternalTraceID = u.ExternalTraceID
	}
	merged.Status = u.Status
	if !u.StartTime.IsZero() {
		merged.StartTime = u.StartTime
	}
	merged.EndTime = u.EndTime
	if u.Model != nil && *u.Model != "" {
		merged.Model = u.Model
	}
	if u.Environment != nil && *u.Environment != "" {
		merged.Environment = u.Environment
	}
	if u.UserID != nil && *u.UserID != "" {
		merged.UserID = u.UserID
	}
	if u.SessionID != nil && *u.SessionID != "" {
		merged.SessionID = u.SessionID
	}
	if u.InputText != nil && *u.InputText != "" {
		merged.InputText = u.InputText
	}
	if u.OutputText != nil && *u.OutputText != "" {
		merged.OutputText = u.OutputText
	}
	if u.UserReviewPassed != nil {
		merged.UserReviewPassed = u.UserReviewPassed
	}
	if len(u.Attributes) > 0 {
		if merged.Attributes == nil {
			merged.Attributes = map[string]any{}
		}
		for k, v := range u.Attributes {
			merged.Attributes[k] = v
		}
	}

	attrsJSON, err := json.Marshal(merged.Attributes)
	if err != nil {
		return model.Trace{}, false, fmt.Errorf("storage: marshal merged attributes: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE traces SET external_trace_id = $1, status = $2, start_time = $3, end_time = $4,
			attributes = $5, model = $6, environment = $7, user_id = $8, session_id = $9,
			input_text = $10, output_text = $11, user_review_passed = $12
		WHERE id = $13 AND project_id = $14`,
		merged.ExternalTraceID, merged.Status, merged.StartTime, merged.EndTime,
		attrsJSON, merged.Model, merged.Environment, merged.UserID, merged.SessionID,
		merged.InputText, merged.OutputText, merged.UserReviewPassed,
		merged.ID, merged.ProjectID,
	)
	if err != nil {
		return model.Trace{}, false, fmt.Errorf("storage: merge trace: %w", err)
	}
	return merged, false, nil
}

// RecalculateTraceMetricsTx recomputes total_spans/ended_spans/has_open_spans/
// completion_rate and promotes status running->success when the trace has an
// end_time and no open spans, grounded on the original source's
// _recalculate_trace_metrics.
func (db *DB) RecalculateTraceMetricsTx(ctx context.Context, tx pgx.Tx, projectID, traceID uuid.UUID) error {
	var total, ended int
	if err := tx.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE end_time IS NOT NULL)
		FROM spans WHERE project_id = $1 AND trace_id = $2`, projectID, traceID,
	).Scan(&total, &ended); err != nil {
		return fmt.Errorf("storage: count spans: %w", err)
	}

	hasOpen := total > ended
	rate := 0.0
	if total > 0 {
		rate = float64(ended) / float64(total)
	}

	var endTime *time.Time
	var status model.TraceStatus
	if err := tx.QueryRow(ctx, `SELECT end_time, status FROM traces WHERE project_id = $1 AND id = $2`,
		projectID, traceID).Scan(&endTime, &status); err != nil {
		return fmt.Errorf("storage: load trace for metrics: %w", err)
	}
	if status == model.TraceStatusRunning && endTime != nil && !hasOpen {
		status = model.TraceStatusSuccess
	}

	_, err := tx.Exec(ctx, `
		UPDATE traces SET total_spans = $1, ended_spans = $2, has_open_spans = $3,
			completion_rate = $4, status = $5
		WHERE project_id = $6 AND id = $7`,
		total, ended, hasOpen, rate, status, projectID, traceID)
	if err != nil {
		return fmt.Errorf("storage: update trace metrics: %w", err)
	}
	return nil
}

// ListTraces returns one page of traces matching filters, newest first, plus
// the total matching row count. Grounded on the original source's
// trace_service.py::list_traces, including its ILIKE free-text search over
// input/output text and SpanEvent payloads cast to text.
func (db *DB) ListTraces(ctx context.Context, projectID uuid.UUID, f model.TraceFilters) ([]model.Trace, int, error) {
	where := []string{"project_id = $1"}
	args := []any{projectID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.StartFrom != nil {
		where = append(where, "start_time >= "+arg(*f.StartFrom))
	}
	if f.StartTo != nil {
		where = append(where, "start_time <= "+arg(*f.StartTo))
	}
	if f.Status != nil {
		where = append(where, "status = "+arg(*f.Status))
	}
	if f.Model != nil {
		where = append(where, "model = "+arg(*f.Model))
	}
	if f.Environment != nil {
		where = append(where, "environment = "+arg(*f.Environment))
	}
	if f.UserID != nil {
		where = append(where, "user_id = "+arg(*f.UserID))
	}
	if f.SessionID != nil {
		where = append(where, "session_id = "+arg(*f.SessionID))
	}
	if f.Tag != nil {
		where = append(where, "attributes ? "+arg(*f.Tag))
	}
	if f.Search != nil && *f.Search != "" {
		needle := "%" + *f.Search + "%"
		placeholder := arg(needle)
		where = append(where, fmt.Sprintf(`(input_text ILIKE %s OR output_text ILIKE %s
			OR id IN (SELECT trace_id FROM span_events WHERE payload::text ILIKE %s))`,
			placeholder, placeholder, placeholder))
	}

	whereClause := "WHERE " + joinAnd(where)

	var total int
	if err := db.pool.QueryRow(ctx, "SELECT count(*) FROM traces "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count traces: %w", err)
	}

	limitArg := arg(f.PageSize)
	offsetArg := arg((f.Page - 1) * f.PageSize)
	query := traceSelectSQL + " " + whereClause + " ORDER BY start_time DESC LIMIT " + limitArg + " OFFSET " + offsetArg

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list traces: %w", err)
	}
	defer rows.Close()

	var out []model.Trace
	for rows.Next() {
		t, err := scanTraceRow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

func scanTraceRow(rows pgx.Rows) (model.Trace, error) {
	var t model.Trace
	var attrs, decision []byte
	err := rows.Scan(&t.ID, &t.ProjectID, &t.ExternalTraceID, &t.Status, &t.StartTime, &t.EndTime,
		&attrs, &t.Model, &t.Environment, &t.UserID, &t.SessionID, &t.InputText,
		&t.OutputText, &t.HasOpenSpans, &t.TotalSpans, &t.EndedSpans,
		&t.CompletionRate, &decision, &t.UserReviewPassed)
	if err != nil {
		return model.Trace{}, fmt.Errorf("storage: scan trace row: %w", err)
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &t.Attributes); err != nil {
			return model.Trace{}, fmt.Errorf("storage: unmarshal trace row attributes: %w", err)
		}
	}
	if len(decision) > 0 {
		if err := json.Unmarshal(decision, &t.Decision); err != nil {
			return model.Trace{}, fmt.Errorf("storage: unmarshal trace row decision: %w", err)
		}
	}
	return t, nil
}

func joinAnd(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out
}

// StatsOverview returns a count of traces by status within the last
// lastHours.
func (db *DB) StatsOverview(ctx context.Context, projectID uuid.UUID, lastHours int) (map[string]int, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT status, count(*) FROM traces
		WHERE project_id = $1 AND start_time >= now() - ($2 || ' hours')::interval
		GROUP BY status`, projectID, lastHours)
	if err != nil {
		return nil, fmt.Errorf("storage: stats overview: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("storage: scan stats row: %w", err)
		}
		out[status] = count
	}
	return out, rows.Err()
}

// SetTraceDecisionSnapshotTx stores the latest decision as a denormalized
// snapshot on the trace row, for cheap listing without a join.
func (db *DB) SetTraceDecisionSnapshotTx(ctx context.Context, tx pgx.Tx, projectID, traceID uuid.UUID, decision map[string]any) error {
	payload, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("storage: marshal decision snapshot: %w", err)
	}
	_, err = tx.Exec(ctx, `UPDATE traces SET decision = $1 WHERE project_id = $2 AND id = $3`,
		payload, projectID, traceID)
	if err != nil {
		return fmt.Errorf("storage: set decision snapshot: %w", err)
	}
	return nil
}
