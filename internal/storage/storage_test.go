package storage_test

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

func TestCreateAndGetProject(t *testing.T) {
	ctx := context.Background()

	project, plaintext, err := testDB.CreateProject(ctx, "acme-"+uuid.NewString())
	require.NoError(t, err)
	assert.NotEmpty(t, plaintext)
	assert.True(t, project.IsActive)
	assert.False(t, project.KeyActivated)

	byID, err := testDB.GetProjectByID(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, project.ID, byID.ID)

	byHash, err := testDB.GetProjectByAPIKeyHash(ctx, project.APIKeyHash)
	require.NoError(t, err)
	assert.Equal(t, project.ID, byHash.ID)
}

func TestGetProjectByID_NotFound(t *testing.T) {
	_, err := testDB.GetProjectByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCreateProject_DuplicateNameConflicts(t *testing.T) {
	ctx := context.Background()
	name := "dup-" + uuid.NewString()

	_, _, err := testDB.CreateProject(ctx, name)
	require.NoError(t, err)

	_, _, err = testDB.CreateProject(ctx, name)
	require.Error(t, err)
}

func TestRotateKey_ActivatesAndReplacesHash(t *testing.T) {
	ctx := context.Background()
	project, _, err := testDB.CreateProject(ctx, "rotate-"+uuid.NewString())
	require.NoError(t, err)
	assert.False(t, project.KeyActivated)

	newPlaintext, err := testDB.RotateKey(ctx, project.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, newPlaintext)

	refreshed, err := testDB.GetProjectByID(ctx, project.ID)
	require.NoError(t, err)
	assert.True(t, refreshed.KeyActivated)
	assert.NotEqual(t, project.APIKeyHash, refreshed.APIKeyHash)
}

func TestRotateKey_UnknownProjectNotFound(t *testing.T) {
	_, err := testDB.RotateKey(context.Background(), uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSetActive_TogglesAndSoftDeletes(t *testing.T) {
	ctx := context.Background()
	project, _, err := testDB.CreateProject(ctx, "deactivate-"+uuid.NewString())
	require.NoError(t, err)

	require.NoError(t, testDB.SetActive(ctx, project.ID, false))
	refreshed, err := testDB.GetProjectByID(ctx, project.ID)
	require.NoError(t, err)
	assert.False(t, refreshed.IsActive)

	require.NoError(t, testDB.SetActive(ctx, project.ID, true))
	refreshed, err = testDB.GetProjectByID(ctx, project.ID)
	require.NoError(t, err)
	assert.True(t, refreshed.IsActive)
}

func TestListProjects_IncludesCreated(t *testing.T) {
	ctx := context.Background()
	project, _, err := testDB.CreateProject(ctx, "list-"+uuid.NewString())
	require.NoError(t, err)

	projects, err := testDB.ListProjects(ctx)
	require.NoError(t, err)

	var found bool
	for _, p := range projects {
		if p.ID == project.ID {
			found = true
			break
		}
	}
	assert.True(t, found)
}

func TestMigrations_AreIdempotent(t *testing.T) {
	require.NoError(t, testDB.RunMigrations(context.Background(), migrations.FS))
}

var _ = time.Second
