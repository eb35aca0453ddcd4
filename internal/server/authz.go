package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gavelhq/gavel/internal/auth"
	"github.com/gavelhq/gavel/internal/model"
	"github.com/gavelhq/gavel/internal/storage"
)

type projectContextKey struct{}

func withProject(ctx context.Context, p model.Project) context.Context {
	return context.WithValue(ctx, projectContextKey{}, p)
}

func projectFromContext(ctx context.Context) (model.Project, bool) {
	p, ok := ctx.Value(projectContextKey{}).(model.Project)
	return p, ok
}

// projectResolver dispatches an inbound request to the right auth.Resolver
// method based on its path: the admin-only /projects surface checks the
// admin seed/dev-key shortcut only, ingest endpoints additionally require
// key_activated, and everything else is a standard project-scoped lookup.
type projectResolver struct {
	auth *auth.Resolver
}

func newProjectResolver(a *auth.Resolver) *projectResolver {
	return &projectResolver{auth: a}
}

func (p *projectResolver) resolve(ctx context.Context, path, apiKey, projectIDHeader string) (model.Project, error) {
	if strings.HasPrefix(path, "/projects") {
		if err := p.auth.RequireAdmin(apiKey); err != nil {
			return model.Project{}, err
		}
		// Admin routes act on a project named in the path, not the caller's
		// own tenant; a placeholder Project carries no further meaning here.
		return model.Project{}, nil
	}
	if strings.HasPrefix(path, "/ingest/") {
		return p.auth.ResolveIngest(ctx, apiKey, projectIDHeader)
	}
	return p.auth.Resolve(ctx, apiKey, projectIDHeader)
}

// writeModelError maps a model.Error.Kind to its HTTP status and writes the
// standard error envelope, per SPEC_FULL.md §7's single-mapping-point note.
// storage.ErrNotFound is treated as a bare 404 for the handlers that
// propagate it directly rather than wrapping it in a model.NotFoundError.
func writeModelError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
		return
	}
	var e *model.Error
	if !errors.As(err, &e) {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}
	switch e.Kind {
	case model.KindAuth:
		if model.IsForbidden(e) {
			writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, e.Message)
		} else {
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, e.Message)
		}
	case model.KindNotFound:
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, e.Message)
	case model.KindValidation:
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, e.Message)
	case model.KindConflict:
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, e.Message)
	default:
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, e.Message)
	}
}
