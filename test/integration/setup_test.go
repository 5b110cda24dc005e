package integration

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/carelink/hospital-api/internal/platform/db"
	"github.com/carelink/hospital-api/internal/platform/tenant"
)

// testDB holds the shared database infrastructure for integration tests.
type testDB struct {
	Pool    *pgxpool.Pool
	ConnStr string
}

// globalDB is the package-level test database, initialized once in TestMain.
var globalDB *testDB

func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr, cleanup, err := startPostgresContainer(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup postgres container: %v\n", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		cleanup()
		fmt.Fprintf(os.Stderr, "create pool: %v\n", err)
		os.Exit(1)
	}
	if err := db.Bootstrap(ctx, pool); err != nil {
		pool.Close()
		cleanup()
		fmt.Fprintf(os.Stderr, "bootstrap shared schema: %v\n", err)
		os.Exit(1)
	}

	globalDB = &testDB{Pool: pool, ConnStr: connStr}
	code := m.Run()
	pool.Close()
	cleanup()
	os.Exit(code)
}

// provisionTenant creates a tenant through the real provisioner (registry row,
// schema, baseline tables) and registers cleanup.
func provisionTenant(t *testing.T, ctx context.Context, slug string) *tenant.Tenant {
	t.Helper()

	registry := tenant.NewPGRegistry(globalDB.Pool)
	p := tenant.NewProvisioner(registry, globalDB.Pool, "", zerolog.Nop())
	tn, err := p.Create(ctx, "Test Hospital "+slug, slug)
	if err != nil {
		t.Fatalf("provision tenant %s: %v", slug, err)
	}
	t.Cleanup(func() {
		if _, err := p.Delete(context.Background(), tn.ID); err != nil {
			t.Logf("delete tenant %s: %v", slug, err)
		}
	})
	return tn
}

// withTenantConn runs fn with a pooled connection pinned to the tenant's
// schema, the same way the tenant middleware scopes a request.
func withTenantConn(ctx context.Context, slug string, fn func(ctx context.Context) error) error {
	conn, err := globalDB.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), "RESET search_path")
		conn.Release()
	}()

	schema := tenant.SchemaName(slug)
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", schema)); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}

	return fn(db.WithConn(ctx, conn))
}

// connFromCtx returns the pinned tenant connection or fails the test.
func connFromCtx(t *testing.T, ctx context.Context) *pgxpool.Conn {
	t.Helper()
	conn := db.ConnFromContext(ctx)
	if conn == nil {
		t.Fatal("no tenant connection pinned in context")
	}
	return conn
}

// uniqueSlug returns a slug unlikely to collide across test runs.
func uniqueSlug(prefix string) string {
	return fmt.Sprintf("%s-%06d", prefix, rand.Intn(1000000))
}
