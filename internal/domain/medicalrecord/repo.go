package medicalrecord

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("medical record not found")

// Repository persists records on the tenant's schema. Implementations run
// every query on the request's pinned connection so the tenant's search_path
// applies.
type Repository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Record, int, error)
	Update(ctx context.Context, r *Record) error
	Delete(ctx context.Context, id uuid.UUID) error
}
