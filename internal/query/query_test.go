package query_test

import (
	"context"
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
	"github.com/gavelhq/gavel/internal/query"
	"github.com/gavelhq/gavel/internal/storage"
	"github.com/gavelhq/gavel/migrations"
)

var (
	testDB  *storage.DB
	service *query.Service
	engine  *projection.Engine
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
	service = query.New(testDB)
	engine = projection.New(testDB)

	code := m.Run()
	testDB.Close()
	os.Exit(code)
}

func newProject(t *testing.T) uuid.UUID {
	t.Helper()
	project, _, err := testDB.CreateProject(context.Background(), "query-"+uuid.NewString())
	require.NoError(t, err)
	return project.ID
}

func TestListTraces_FiltersByStatusAndPaginates(t *testing.T) {
	ctx := context.Background()
	projectID := newProject(t)

	running := model.TraceStatusRunning
	for i := 0; i < 3; i++ {
		_, err := engine.IngestTraceBatch(ctx, projectID, model.TraceBatch{
			Trace: model.TraceUpsert{TraceID: uuid.New(), Status: running, StartTime: time.Now()},
		})
		require.NoError(t, err)
	}

	resp, err := service.ListTraces(ctx, projectID, model.TraceFilters{Page: 1, PageSize: 2, Status: &running})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Total)
	assert.Len(t, resp.Items, 2)

	resp2, err := service.ListTraces(ctx, projectID, model.TraceFilters{Page: 2, PageSize: 2, Status: &running})
	require.NoError(t, err)
	assert.Len(t, resp2.Items, 1)
}

func TestListTraces_InvalidFiltersRejected(t *testing.T) {
	_, err := service.ListTraces(context.Background(), newProject(t), model.TraceFilters{Page: 0, PageSize: 10})
	assert.Error(t, err)
}

func TestGetTraceDetail_AssemblesSpansTimelineAndEvaluations(t *testing.T) {
	ctx := context.Background()
	projectID := newProject(t)
	traceID := uuid.New()
	spanID := uuid.New()
	start := time.Now().Add(-time.Minute)
	end := time.Now()

	_, err := engine.IngestTraceBatch(ctx, projectID, model.TraceBatch{
		Trace: model.TraceUpsert{TraceID: traceID, Status: model.TraceStatusRunning, StartTime: start, EndTime: &end},
		Spans: []model.SpanUpsert{
			{SpanID: spanID, TraceID: traceID, Name: "call", SpanType: "llm", Status: model.SpanStatusSuccess, StartTime: start, EndTime: &end, IdempotencyKey: "detail-span"},
		},
	})
	require.NoError(t, err)

	detail, err := service.GetTraceDetail(ctx, projectID, traceID)
	require.NoError(t, err)
	assert.Equal(t, traceID, detail.Trace.ID)
	require.Len(t, detail.Spans, 1)
	assert.Equal(t, spanID, detail.Spans[0].ID)

	require.GreaterOrEqual(t, len(detail.Timeline), 3, "expect TRACE_STARTED, span bookend events, TRACE_ENDED")
	assert.Equal(t, "TRACE_STARTED", detail.Timeline[0].EventType)
	assert.Equal(t, "TRACE_ENDED", detail.Timeline[len(detail.Timeline)-1].EventType)
}

func TestGetTraceDetail_UnknownTraceNotFound(t *testing.T) {
	_, err := service.GetTraceDetail(context.Background(), newProject(t), uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStatsOverview_CountsByStatus(t *testing.T) {
	ctx := context.Background()
	projectID := newProject(t)

	_, err := engine.IngestTraceBatch(ctx, projectID, model.TraceBatch{
		Trace: model.TraceUpsert{TraceID: uuid.New(), Status: model.TraceStatusRunning, StartTime: time.Now()},
	})
	require.NoError(t, err)

	stats, err := service.StatsOverview(ctx, projectID, 24)
	require.NoError(t, err)
	assert.Equal(t, 24, stats.LastHours)
	assert.GreaterOrEqual(t, stats.ByStatus["running"], 1)
}
