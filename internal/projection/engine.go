// Package projection turns ingested trace/span/event batches into the
// materialized Trace rollups the query layer reads (SPEC_FULL.md §4.3).
package projection

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/gavelhq/gavel/internal/model"
	"github.com/gavelhq/gavel/internal/storage"
)

// Engine orchestrates trace/span/event ingestion against storage.DB.
type Engine struct {
	db *storage.DB
}

func New(db *storage.DB) *Engine {
	return &Engine{db: db}
}

// IngestTraceBatch get-or-creates the trace, inserts any spans not already
// seen (deduped by idempotency key), synthesizes a SPAN_STARTED event per
// newly created span plus a SPAN_ENDED event when that span has an end time,
// and recomputes the trace's rollups — all inside one transaction, grounded
// on the original source's ingest_trace_batch. IngestedSpans counts every
// span in the batch, including ones skipped as already present.
func (e *Engine) IngestTraceBatch(ctx context.Context, projectID uuid.UUID, batch model.TraceBatch) (model.IngestTraceResult, error) {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return model.IngestTraceResult{}, err
	}
	defer tx.Rollback(ctx)

	trace, _, err := e.db.UpsertTraceTx(ctx, tx, projectID, batch.Trace)
	if err != nil {
		return model.IngestTraceResult{}, err
	}

	ingested := 0
	for _, su := range batch.Spans {
		if su.TraceID == uuid.Nil {
			su.TraceID = trace.ID
		}
		if su.ParentSpanID != nil {
			if _, err := e.resolveParent(ctx, tx, projectID, *su.ParentSpanID, batch.AllowsMissingParent()); err != nil {
				return model.IngestTraceResult{}, err
			}
		}

		span, inserted, err := e.db.InsertSpanIfAbsentTx(ctx, tx, projectID, su)
		if err != nil {
			return model.IngestTraceResult{}, err
		}
		ingested++
		if !inserted {
			continue
		}

		if err := e.emitSpanBookendEvents(ctx, tx, projectID, span); err != nil {
			return model.IngestTraceResult{}, err
		}
	}

	if err := e.db.RecalculateTraceMetricsTx(ctx, tx, projectID, trace.ID); err != nil {
		return model.IngestTraceResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.IngestTraceResult{}, fmt.Errorf("projection: commit trace batch: %w", err)
	}
	return model.IngestTraceResult{TraceID: trace.ID, IngestedSpans: ingested}, nil
}

// resolveParent checks a parent span reference against the database, failing
// unless allowMissingParent is set.
func (e *Engine) resolveParent(ctx context.Context, tx pgx.Tx, projectID, parentID uuid.UUID, allowMissingParent bool) (model.Span, error) {
	parent, err := e.db.GetSpanByIDTx(ctx, tx, projectID, parentID)
	if err == storage.ErrNotFound {
		if allowMissingParent {
			return model.Span{}, nil
		}
		return model.Span{}, model.ValidationError("parent span %s not found", parentID)
	}
	return parent, err
}

func (e *Engine) emitSpanBookendEvents(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, span model.Span) error {
	startPayload := map[string]any{"span_id": span.ID.String(), "name": span.Name}
	if _, _, err := e.db.InsertSpanEventIfAbsentTx(ctx, tx, projectID, model.EventUpsert{
		TraceID:        span.TraceID,
		SpanID:         &span.ID,
		EventType:      model.EventTypeSpanStarted,
		EventTime:      span.StartTime,
		Payload:        startPayload,
		IdempotencyKey: "span-started:" + span.IdempotencyKey,
	}); err != nil {
		return err
	}
	if span.EndTime == nil {
		return nil
	}
	endPayload := map[string]any{"span_id": span.ID.String(), "status": string(span.Status)}
	_, _, err := e.db.InsertSpanEventIfAbsentTx(ctx, tx, projectID, model.EventUpsert{
		TraceID:        span.TraceID,
		SpanID:         &span.ID,
		EventType:      model.EventTypeSpanEnded,
		EventTime:      *span.EndTime,
		Payload:        endPayload,
		IdempotencyKey: "span-ended:" + span.IdempotencyKey,
	})
	return err
}

// IngestEventBatch appends each event not already seen, synthesizing a Span
// for a SPAN_STARTED referencing an unknown span_id, updating the span on
// SPAN_ENDED/AMENDMENT, and recomputing rollups for every distinct trace
// touched by the batch — run through errgroup one trace at a time, since
// every recompute shares the batch's transaction.
func (e *Engine) IngestEventBatch(ctx context.Context, projectID uuid.UUID, batch model.EventBatch) (model.IngestEventsResult, error) {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return model.IngestEventsResult{}, err
	}
	defer tx.Rollback(ctx)

	touched := map[uuid.UUID]struct{}{}
	ingested := 0

	for _, eu := range batch.Events {
		event, inserted, err := e.db.InsertSpanEventIfAbsentTx(ctx, tx, projectID, eu)
		if err != nil {
			return model.IngestEventsResult{}, err
		}
		if !inserted {
			continue
		}
		ingested++
		touched[event.TraceID] = struct{}{}

		if err := e.applyEvent(ctx, tx, projectID, event, batch.AllowsMissingParent()); err != nil {
			return model.IngestEventsResult{}, err
		}
	}

	if err := e.recalculateTracesTx(ctx, tx, projectID, touched); err != nil {
		return model.IngestEventsResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.IngestEventsResult{}, fmt.Errorf("projection: commit event batch: %w", err)
	}
	return model.IngestEventsResult{IngestedEvents: ingested}, nil
}

func (e *Engine) applyEvent(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, event model.SpanEvent, allowMissingParent bool) error {
	switch event.EventType {
	case model.EventTypeSpanStarted:
		if event.SpanID == nil {
			return nil
		}
		_, err := e.db.GetSpanByIDTx(ctx, tx, projectID, *event.SpanID)
		if err == nil {
			return nil
		}
		if err != storage.ErrNotFound {
			return err
		}
		name, _ := event.Payload["name"].(string)
		_, _, err = e.db.InsertSpanIfAbsentTx(ctx, tx, projectID, model.SpanUpsert{
			SpanID:         *event.SpanID,
			TraceID:        event.TraceID,
			Name:           name,
			SpanType:       "unknown",
			Status:         model.SpanStatusRunning,
			StartTime:      event.EventTime,
			IdempotencyKey: "synthesized-span:" + event.IdempotencyKey,
		})
		return err

	case model.EventTypeSpanEnded:
		if event.SpanID == nil {
			if allowMissingParent {
				return nil
			}
			return model.ValidationError("SPAN_ENDED event missing span_id")
		}
		status := model.SpanStatus("success")
		if s, ok := event.Payload["status"].(string); ok && s != "" {
			status = model.SpanStatus(s)
		}
		var spanErr *string
		if msg, ok := event.Payload["error"].(string); ok && msg != "" {
			spanErr = &msg
		}
		err := e.db.EndSpanTx(ctx, tx, projectID, *event.SpanID, event.EventTime, status, spanErr)
		if err == storage.ErrNotFound && allowMissingParent {
			return nil
		}
		return err

	case model.EventTypeAmendment:
		if event.SpanID == nil {
			return nil
		}
		patch, _ := event.Payload["patch"].(map[string]any)
		var attrPatch map[string]any
		if patch != nil {
			attrPatch, _ = patch["attributes"].(map[string]any)
		}
		var status *model.SpanStatus
		if patch != nil {
			if s, ok := patch["status"].(string); ok && s != "" {
				st := model.SpanStatus(s)
				status = &st
			}
		}
		err := e.db.AmendSpanTx(ctx, tx, projectID, *event.SpanID, attrPatch, status)
		if err == storage.ErrNotFound && allowMissingParent {
			return nil
		}
		return err

	default:
		return nil
	}
}

func (e *Engine) recalculateTracesTx(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, touched map[uuid.UUID]struct{}) error {
	if len(touched) == 0 {
		return nil
	}
	if len(touched) == 1 {
		for traceID := range touched {
			return e.db.RecalculateTraceMetricsTx(ctx, tx, projectID, traceID)
		}
	}

	var g errgroup.Group
	g.SetLimit(1)
	for traceID := range touched {
		traceID := traceID
		g.Go(func() error {
			return e.recalculateWithSavepoint(ctx, tx, projectID, traceID)
		})
	}
	return g.Wait()
}

// recalculateWithSavepoint recomputes one trace's rollups inside its own
// savepoint on the shared transaction. pgx.Tx does not allow concurrent
// statement execution, so recalculateTracesTx limits its errgroup to one
// call at a time.
func (e *Engine) recalculateWithSavepoint(ctx context.Context, tx pgx.Tx, projectID, traceID uuid.UUID) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("projection: open savepoint: %w", err)
	}
	defer sp.Rollback(ctx)
	if err := e.db.RecalculateTraceMetricsTx(ctx, sp, projectID, traceID); err != nil {
		return err
	}
	return sp.Commit(ctx)
}
