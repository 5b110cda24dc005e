package tenant

import (
	"context"

	"github.com/google/uuid"
)

// Context is the request-scoped tenant binding. It is created once by the
// resolution middleware, carried in the request's context.Context, and
// read-only afterwards: context.Context propagation across goroutines and
// suspension points guarantees every piece of work spawned by the request
// observes the same binding, and nothing survives past the request.
type Context struct {
	TenantID   uuid.UUID
	Slug       string
	SchemaName string
}

type ctxKey struct{}

// With binds the tenant context into ctx.
func With(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// FromContext returns the tenant binding for the current request. The second
// return is false for requests outside the tenant pipeline (health checks,
// admin provisioning).
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}

// SlugFromContext returns the bound tenant slug, or "" when unbound.
func SlugFromContext(ctx context.Context) string {
	tc, _ := FromContext(ctx)
	return tc.Slug
}
