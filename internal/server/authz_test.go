package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gavelhq/gavel/internal/auth"
	"github.com/gavelhq/gavel/internal/model"
	"github.com/gavelhq/gavel/internal/storage"
)

func decodeAPIError(t *testing.T, body []byte) model.APIError {
	t.Helper()
	var out model.APIError
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func TestWriteModelError_StatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"bare storage not found", storage.ErrNotFound, 404, model.ErrCodeNotFound},
		{"unauthorized", model.AuthError(false, "missing api key"), 401, model.ErrCodeUnauthorized},
		{"forbidden", model.AuthError(true, "scope mismatch"), 403, model.ErrCodeForbidden},
		{"not found", model.NotFoundError("trace not found"), 404, model.ErrCodeNotFound},
		{"validation", model.ValidationError("bad input"), 400, model.ErrCodeInvalidInput},
		{"conflict", model.ConflictError("already exists"), 409, model.ErrCodeConflict},
		{"unknown error defaults to internal", errors.New("boom"), 500, model.ErrCodeInternalError},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/traces/123", nil)

			writeModelError(rec, req, c.err)

			assert.Equal(t, c.wantStatus, rec.Code)
			body := decodeAPIError(t, rec.Body.Bytes())
			assert.Equal(t, c.wantCode, body.Error.Code)
		})
	}
}

type fakeProjectStore struct {
	byID   map[uuid.UUID]model.Project
	byHash map[string]model.Project
}

func (s *fakeProjectStore) GetProjectByID(_ context.Context, id uuid.UUID) (model.Project, error) {
	p, ok := s.byID[id]
	if !ok {
		return model.Project{}, model.ErrNotFound
	}
	return p, nil
}

func (s *fakeProjectStore) GetProjectByAPIKeyHash(_ context.Context, hash string) (model.Project, error) {
	p, ok := s.byHash[hash]
	if !ok {
		return model.Project{}, model.ErrNotFound
	}
	return p, nil
}

func TestProjectResolver_DispatchesByPathPrefix(t *testing.T) {
	project := model.Project{ID: uuid.New(), IsActive: true, KeyActivated: true, APIKeyHash: auth.HashAPIKey("proj-key")}
	store := &fakeProjectStore{
		byID:   map[uuid.UUID]model.Project{project.ID: project},
		byHash: map[string]model.Project{project.APIKeyHash: project},
	}
	resolver := newProjectResolver(auth.NewResolver(store, "admin-seed", false))

	t.Run("admin path requires admin key, never consults project store", func(t *testing.T) {
		_, err := resolver.resolve(context.Background(), "/projects", "admin-seed", "")
		require.NoError(t, err)

		_, err = resolver.resolve(context.Background(), "/projects", "proj-key", "")
		require.Error(t, err)
		assert.True(t, model.IsForbidden(err))
	})

	t.Run("ingest path requires key_activated", func(t *testing.T) {
		p, err := resolver.resolve(context.Background(), "/ingest/traces", "proj-key", "")
		require.NoError(t, err)
		assert.Equal(t, project.ID, p.ID)
	})

	t.Run("standard path resolves a scoped project", func(t *testing.T) {
		p, err := resolver.resolve(context.Background(), "/traces", "proj-key", "")
		require.NoError(t, err)
		assert.Equal(t, project.ID, p.ID)
	})
}

func TestProjectContext_RoundTrip(t *testing.T) {
	p := model.Project{ID: uuid.New(), Name: "acme"}
	ctx := withProject(context.Background(), p)

	got, ok := projectFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, p.ID, got.ID)

	_, ok = projectFromContext(context.Background())
	assert.False(t, ok)
}
