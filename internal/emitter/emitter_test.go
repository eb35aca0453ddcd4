package emitter_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/gavelhq/gavel/internal/emitter"
	"github.com/gavelhq/gavel/internal/model"
	"github.com/gavelhq/gavel/internal/projection"
	"github.com/gavelhq/gavel/internal/storage"
	"github.com/gavelhq/gavel/migrations"
)

var testDB *storage.DB

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

	code := m.Run()
	testDB.Close()
	os.Exit(code)
}

func newProjectAndTrace(t *testing.T) (uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	project, _, err := testDB.CreateProject(ctx, "emitter-"+uuid.NewString())
	require.NoError(t, err)

	traceID := uuid.New()
	_, err = projection.New(testDB).IngestTraceBatch(ctx, project.ID, model.TraceBatch{
		Trace: model.TraceUpsert{TraceID: traceID, Status: model.TraceStatusRunning, StartTime: time.Now()},
	})
	require.NoError(t, err)

	return project.ID, traceID
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreateCaseAndNotify_NoWebhookConfigured(t *testing.T) {
	projectID, traceID := newProjectAndTrace(t)
	e := emitter.New(testDB, "", discardLogger())

	c, err := e.CreateCaseAndNotify(context.Background(), projectID, traceID, "pii_detected")
	require.NoError(t, err)
	assert.Equal(t, model.CaseStatusOpen, c.Status)
	assert.Equal(t, "pii_detected", c.ReasonCode)

	fetched, err := testDB.GetCase(context.Background(), projectID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, fetched.ID)
}

func TestCreateCaseAndNotify_DeliversWebhookAndRecordsSentStatus(t *testing.T) {
	received := make(chan map[string]any, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	projectID, traceID := newProjectAndTrace(t)
	e := emitter.New(testDB, server.URL, discardLogger())

	c, err := e.CreateCaseAndNotify(context.Background(), projectID, traceID, "financial_risk")
	require.NoError(t, err)

	select {
	case body := <-received:
		assert.Equal(t, c.ID.String(), body["case_id"])
		assert.Equal(t, "financial_risk", body["reason_code"])
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was never delivered")
	}

	notifications, err := testDB.ListNotificationsByCase(context.Background(), projectID, c.ID)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, model.NotificationStatusSent, notifications[0].Status)
}
