package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/gavelhq/gavel/internal/model"
)

// ProjectStore is the narrow slice of storage.DB the resolver needs. Kept as
// an interface here (rather than importing storage directly) so auth has no
// dependency on the persistence layer's concrete type, matching the donor's
// own convention of handlers depending on *storage.DB directly but never
// the reverse — auth sits below storage in the import graph here instead.
type ProjectStore interface {
	GetProjectByID(ctx context.Context, id uuid.UUID) (model.Project, error)
	GetProjectByAPIKeyHash(ctx context.Context, hash string) (model.Project, error)
}

// Resolver implements SPEC_FULL.md §4.2.
type Resolver struct {
	store      ProjectStore
	adminSeed  string
	devMode    bool
}

// NewResolver builds a Resolver. adminSeed is INTERNAL_API_KEY_SEED; devMode
// is true when ENVIRONMENT=dev, enabling the "dev-key" shortcut.
func NewResolver(store ProjectStore, adminSeed string, devMode bool) *Resolver {
	return &Resolver{store: store, adminSeed: adminSeed, devMode: devMode}
}

func (r *Resolver) isAdminKey(apiKey string) bool {
	if r.adminSeed != "" && apiKey == r.adminSeed {
		return true
	}
	return r.devMode && apiKey == "dev-key"
}

// Resolve implements the three-step resolution in SPEC_FULL.md §4.2. Pass
// an empty projectIDHeader when none was supplied.
func (r *Resolver) Resolve(ctx context.Context, apiKey, projectIDHeader string) (model.Project, error) {
	if apiKey == "" {
		return model.Project{}, model.AuthError(false, "missing api key")
	}

	if projectIDHeader != "" && r.isAdminKey(apiKey) {
		id, err := uuid.Parse(projectIDHeader)
		if err != nil {
			return model.Project{}, model.ValidationError("invalid x-project-id")
		}
		project, err := r.store.GetProjectByID(ctx, id)
		if err != nil {
			return model.Project{}, model.NotFoundError("project not found")
		}
		if !project.IsActive {
			return model.Project{}, model.AuthError(true, "project is inactive")
		}
		return project, nil
	}

	hash := HashAPIKey(apiKey)
	project, err := r.store.GetProjectByAPIKeyHash(ctx, hash)
	if err != nil || !project.IsActive {
		return model.Project{}, model.AuthError(false, "invalid api key")
	}

	if projectIDHeader != "" && project.ID.String() != projectIDHeader {
		return model.Project{}, model.AuthError(true, "project scope mismatch")
	}
	return project, nil
}

// ResolveIngest is the "ingest" variant: on top of Resolve, it requires
// key_activated=true.
func (r *Resolver) ResolveIngest(ctx context.Context, apiKey, projectIDHeader string) (model.Project, error) {
	project, err := r.Resolve(ctx, apiKey, projectIDHeader)
	if err != nil {
		return model.Project{}, err
	}
	if !project.KeyActivated {
		return model.Project{}, model.AuthError(true, "key not provisioned")
	}
	return project, nil
}

// RequireAdmin checks apiKey against the admin seed / dev-key shortcut only;
// it never consults the Project table.
func (r *Resolver) RequireAdmin(apiKey string) error {
	if apiKey == "" {
		return model.AuthError(false, "missing api key")
	}
	if !r.isAdminKey(apiKey) {
		return model.AuthError(true, "admin key required")
	}
	return nil
}
