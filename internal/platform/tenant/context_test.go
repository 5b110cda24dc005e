package tenant

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestContextRoundTrip(t *testing.T) {
	tc := Context{TenantID: uuid.New(), Slug: "mercy", SchemaName: "tenant_mercy"}
	ctx := With(context.Background(), tc)

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected tenant context to be present")
	}
	if got != tc {
		t.Errorf("got %+v, want %+v", got, tc)
	}
	if SlugFromContext(ctx) != "mercy" {
		t.Errorf("SlugFromContext = %q, want %q", SlugFromContext(ctx), "mercy")
	}
}

func TestFromContext_Unbound(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Error("bare context should carry no tenant")
	}
	if SlugFromContext(context.Background()) != "" {
		t.Error("unbound slug should be empty")
	}
}

func TestContextIsolation(t *testing.T) {
	base := context.Background()
	a := With(base, Context{Slug: "a", SchemaName: "tenant_a"})
	b := With(base, Context{Slug: "b", SchemaName: "tenant_b"})

	if SlugFromContext(a) != "a" || SlugFromContext(b) != "b" {
		t.Error("sibling contexts must not observe each other's tenant")
	}
	if _, ok := FromContext(base); ok {
		t.Error("parent context must stay unbound")
	}
}
