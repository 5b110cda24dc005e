package tenant

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates no tenant exists for the given slug or id.
	ErrNotFound = errors.New("tenant not found")

	// ErrSlugTaken indicates a tenant with the requested slug already exists.
	ErrSlugTaken = errors.New("tenant slug already exists")
)

// Registry is the persistence interface for the tenant directory. The
// directory lives in the shared public schema; tenant data itself lives in
// the per-tenant schemas managed by the Provisioner.
type Registry interface {
	Create(ctx context.Context, t *Tenant) error
	GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
	List(ctx context.Context, limit, offset int) ([]*Tenant, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	Delete(ctx context.Context, id uuid.UUID) error
}
