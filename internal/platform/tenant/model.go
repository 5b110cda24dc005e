package tenant

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a tenant. Only active tenants may serve
// requests.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusInactive  Status = "inactive"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusInactive:
		return true
	}
	return false
}

// Tenant is one hospital occupying an isolated schema of the shared database.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// slugPattern keeps slugs URL-safe and, after hyphen substitution, safe to
// embed in schema identifiers without quoting.
var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

// ValidSlug reports whether slug is acceptable as a tenant identifier.
func ValidSlug(slug string) bool {
	return slugPattern.MatchString(slug)
}

// SchemaName derives the storage schema for a slug. The mapping is
// deterministic and 1:1: hyphens become underscores and nothing else changes,
// so two distinct slugs can never collide on a schema name.
func SchemaName(slug string) string {
	return "tenant_" + strings.ReplaceAll(slug, "-", "_")
}
