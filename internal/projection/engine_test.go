package projection_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/gavelhq/gavel/internal/model"
	"github.com/gavelhq/gavel/internal/projection"
	"github.com/gavelhq/gavel/internal/storage"
	"github.com/gavelhq/gavel/migrations"
)

var (
	testDB *storage.DB
	engine *projection.Engine
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("gavel"),
		postgres.WithUsername("gavel"),
		postgres.WithPassword("gavel"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}
	defer container.Terminate(ctx)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get connection string: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	testDB, err = storage.New(ctx, dsn, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open storage: %v\n", err)
		os.Exit(1)
	}
	if err := testDB.RunMigrations(ctx, migrations.FS); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		os.Exit(1)
	}
	engine = projection.New(testDB)

	code := m.Run()
	testDB.Close()
	os.Exit(code)
}

func newProject(t *testing.T) uuid.UUID {
	t.Helper()
	project, _, err := testDB.CreateProject(context.Background(), "proj-"+uuid.NewString())
	require.NoError(t, err)
	return project.ID
}

func TestIngestTraceBatch_CreatesTraceSpansAndRollups(t *testing.T) {
	ctx := context.Background()
	projectID := newProject(t)
	traceID := uuid.New()
	spanID := uuid.New()
	start := time.Now().Add(-time.Minute)
	end := time.Now()

	result, err := engine.IngestTraceBatch(ctx, projectID, model.TraceBatch{
		Trace: model.TraceUpsert{
			TraceID:   traceID,
			Status:    model.TraceStatusRunning,
			StartTime: start,
		},
		Spans: []model.SpanUpsert{
			{
				SpanID:         spanID,
				TraceID:        traceID,
				Name:           "llm-call",
				SpanType:       "llm",
				Status:         model.SpanStatusSuccess,
				StartTime:      start,
				EndTime:        &end,
				IdempotencyKey: "span-1",
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, traceID, result.TraceID)
	assert.Equal(t, 1, result.IngestedSpans)

	trace, err := testDB.GetTraceByID(ctx, projectID, traceID)
	require.NoError(t, err)
	assert.Equal(t, 1, trace.TotalSpans)
	assert.Equal(t, 1, trace.EndedSpans)
	assert.False(t, trace.HasOpenSpans)
	assert.Equal(t, 1.0, trace.CompletionRate)

	spans, err := testDB.ListSpansByTrace(ctx, projectID, traceID)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, spanID, spans[0].ID)
}

func TestIngestTraceBatch_DuplicateIdempotencyKeyIsSkipped(t *testing.T) {
	ctx := context.Background()
	projectID := newProject(t)
	traceID := uuid.New()
	spanID := uuid.New()
	start := time.Now()

	batch := model.TraceBatch{
		Trace: model.TraceUpsert{TraceID: traceID, Status: model.TraceStatusRunning, StartTime: start},
		Spans: []model.SpanUpsert{
			{SpanID: spanID, TraceID: traceID, Name: "step", SpanType: "tool", Status: model.SpanStatusRunning, StartTime: start, IdempotencyKey: "dup-key"},
		},
	}

	first, err := engine.IngestTraceBatch(ctx, projectID, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, first.IngestedSpans)

	batch.Spans[0].SpanID = uuid.New()
	second, err := engine.IngestTraceBatch(ctx, projectID, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, second.IngestedSpans, "ingested_spans reports every span in the batch, duplicates included")

	spans, err := testDB.ListSpansByTrace(ctx, projectID, traceID)
	require.NoError(t, err)
	assert.Len(t, spans, 1)
}

func TestIngestTraceBatch_ReingestRevertsStatusAndEndTime(t *testing.T) {
	ctx := context.Background()
	projectID := newProject(t)
	traceID := uuid.New()
	start := time.Now()
	end := start.Add(time.Minute)

	_, err := engine.IngestTraceBatch(ctx, projectID, model.TraceBatch{
		Trace: model.TraceUpsert{TraceID: traceID, Status: model.TraceStatusSuccess, StartTime: start, EndTime: &end},
	})
	require.NoError(t, err)

	trace, err := testDB.GetTraceByID(ctx, projectID, traceID)
	require.NoError(t, err)
	require.Equal(t, model.TraceStatusSuccess, trace.Status)
	require.NotNil(t, trace.EndTime)

	_, err = engine.IngestTraceBatch(ctx, projectID, model.TraceBatch{
		Trace: model.TraceUpsert{TraceID: traceID, Status: model.TraceStatusRunning, StartTime: start},
	})
	require.NoError(t, err)

	trace, err = testDB.GetTraceByID(ctx, projectID, traceID)
	require.NoError(t, err)
	assert.Equal(t, model.TraceStatusRunning, trace.Status, "a re-ingest must be able to revert status, not just advance it")
	assert.Nil(t, trace.EndTime, "a re-ingest without end_time must clear a previously set one")
}

func TestIngestTraceBatch_MissingParentAllowedByDefault(t *testing.T) {
	ctx := context.Background()
	projectID := newProject(t)
	traceID := uuid.New()
	start := time.Now()

	_, err := engine.IngestTraceBatch(ctx, projectID, model.TraceBatch{
		Trace: model.TraceUpsert{TraceID: traceID, Status: model.TraceStatusRunning, StartTime: start},
		Spans: []model.SpanUpsert{
			{
				SpanID:         uuid.New(),
				TraceID:        traceID,
				ParentSpanID:   uuidPtr(uuid.New()),
				Name:           "child",
				SpanType:       "tool",
				Status:         model.SpanStatusRunning,
				StartTime:      start,
				IdempotencyKey: "orphan-span",
			},
		},
	})
	require.NoError(t, err, "omitting allow_missing_parent must default to allowing it")
}

func TestIngestTraceBatch_MissingParentFailsClosedWhenDisallowed(t *testing.T) {
	ctx := context.Background()
	projectID := newProject(t)
	traceID := uuid.New()
	start := time.Now()

	_, err := engine.IngestTraceBatch(ctx, projectID, model.TraceBatch{
		Trace:              model.TraceUpsert{TraceID: traceID, Status: model.TraceStatusRunning, StartTime: start},
		AllowMissingParent: boolPtr(false),
		Spans: []model.SpanUpsert{
			{
				SpanID:         uuid.New(),
				TraceID:        traceID,
				ParentSpanID:   uuidPtr(uuid.New()),
				Name:           "child",
				SpanType:       "tool",
				Status:         model.SpanStatusRunning,
				StartTime:      start,
				IdempotencyKey: "orphan-span",
			},
		},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ValidationError("")))
}

func TestIngestTraceBatch_AllowMissingParentAccepts(t *testing.T) {
	ctx := context.Background()
	projectID := newProject(t)
	traceID := uuid.New()
	start := time.Now()

	result, err := engine.IngestTraceBatch(ctx, projectID, model.TraceBatch{
		Trace:              model.TraceUpsert{TraceID: traceID, Status: model.TraceStatusRunning, StartTime: start},
		AllowMissingParent: boolPtr(true),
		Spans: []model.SpanUpsert{
			{
				SpanID:         uuid.New(),
				TraceID:        traceID,
				ParentSpanID:   uuidPtr(uuid.New()),
				Name:           "child",
				SpanType:       "tool",
				Status:         model.SpanStatusRunning,
				StartTime:      start,
				IdempotencyKey: "orphan-span-allowed",
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.IngestedSpans)
}

func TestIngestEventBatch_SynthesizesSpanFromStartEvent(t *testing.T) {
	ctx := context.Background()
	projectID := newProject(t)
	traceID := uuid.New()
	spanID := uuid.New()
	now := time.Now()

	_, err := engine.IngestTraceBatch(ctx, projectID, model.TraceBatch{
		Trace: model.TraceUpsert{TraceID: traceID, Status: model.TraceStatusRunning, StartTime: now},
	})
	require.NoError(t, err)

	result, err := engine.IngestEventBatch(ctx, projectID, model.EventBatch{
		Events: []model.EventUpsert{
			{
				TraceID:        traceID,
				SpanID:         &spanID,
				EventType:      model.EventTypeSpanStarted,
				EventTime:      now,
				Payload:        map[string]any{"name": "retrieval"},
				IdempotencyKey: "evt-start",
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.IngestedEvents)

	spans, err := testDB.ListSpansByTrace(ctx, projectID, traceID)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, "retrieval", spans[0].Name)
	assert.Equal(t, model.SpanStatusRunning, spans[0].Status)
}

func TestIngestEventBatch_EndEventClosesSpanAndRecalculatesRollup(t *testing.T) {
	ctx := context.Background()
	projectID := newProject(t)
	traceID := uuid.New()
	spanID := uuid.New()
	now := time.Now()

	_, err := engine.IngestTraceBatch(ctx, projectID, model.TraceBatch{
		Trace: model.TraceUpsert{TraceID: traceID, Status: model.TraceStatusRunning, StartTime: now},
		Spans: []model.SpanUpsert{
			{SpanID: spanID, TraceID: traceID, Name: "step", SpanType: "tool", Status: model.SpanStatusRunning, StartTime: now, IdempotencyKey: "span-for-end-event"},
		},
	})
	require.NoError(t, err)

	_, err = engine.IngestEventBatch(ctx, projectID, model.EventBatch{
		Events: []model.EventUpsert{
			{
				TraceID:        traceID,
				SpanID:         &spanID,
				EventType:      model.EventTypeSpanEnded,
				EventTime:      now.Add(time.Second),
				Payload:        map[string]any{"status": "success"},
				IdempotencyKey: "evt-end",
			},
		},
	})
	require.NoError(t, err)

	spans, err := testDB.ListSpansByTrace(ctx, projectID, traceID)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	require.NotNil(t, spans[0].EndTime)
	assert.Equal(t, model.SpanStatusSuccess, spans[0].Status)

	trace, err := testDB.GetTraceByID(ctx, projectID, traceID)
	require.NoError(t, err)
	assert.False(t, trace.HasOpenSpans)
	assert.Equal(t, 1.0, trace.CompletionRate)
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	return &id
}

func boolPtr(b bool) *bool {
	return &b
}
