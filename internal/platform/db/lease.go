package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type leaseKey struct{}

// Querier is the query surface shared by *pgxpool.Pool and *pgxpool.Conn.
// Repositories accept a Querier so the same code runs on a request's pinned
// connection or straight off the pool.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WithConn pins a pooled connection into the context for the duration of a
// request. The tenant middleware owns the lease lifecycle: it acquires the
// connection, sets the tenant search_path on it, and releases it on every
// exit path. Downstream code must never release the pinned connection itself.
func WithConn(ctx context.Context, conn *pgxpool.Conn) context.Context {
	return context.WithValue(ctx, leaseKey{}, conn)
}

// ConnFromContext returns the request's pinned connection, or nil when the
// request is not tenant-scoped.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(leaseKey{}).(*pgxpool.Conn)
	return conn
}

// QuerierFromContext returns the pinned connection when present, falling back
// to the pool. Tenant-scoped queries rely on the pinned connection: its
// search_path is the schema isolation boundary, and a pool fallback would
// silently read the wrong schema. Callers that require tenancy should check
// ConnFromContext directly instead.
func QuerierFromContext(ctx context.Context, pool *pgxpool.Pool) Querier {
	if conn := ConnFromContext(ctx); conn != nil {
		return conn
	}
	return pool
}
