package incident

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("incident not found")

// Repository persists incidents and their notification obligations.
type Repository interface {
	Create(ctx context.Context, inc *Incident) error
	Get(ctx context.Context, id uuid.UUID) (*Incident, error)
	List(ctx context.Context, status Status, limit, offset int) ([]*Incident, int, error)
	Update(ctx context.Context, inc *Incident) error

	CreateNotification(ctx context.Context, n *Notification) error
	PendingNotifications(ctx context.Context) ([]*Notification, error)
	UpdateNotification(ctx context.Context, n *Notification) error
}
