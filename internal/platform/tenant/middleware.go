package tenant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carelink/hospital-api/internal/platform/db"
)

var (
	// ErrNotIdentified indicates the request carried no usable tenant
	// identifier.
	ErrNotIdentified = errors.New("tenant identifier not found in request")

	// ErrUnavailable covers both unknown slugs and non-active tenants. The
	// two cases share one error so responses cannot be used to enumerate
	// which slugs exist.
	ErrUnavailable = errors.New("tenant unavailable")

	// ErrProvisioning indicates the storage layer could not be pinned to the
	// tenant's schema.
	ErrProvisioning = errors.New("tenant schema switch failed")
)

// hostLabelExclusions are subdomain labels that never name a tenant.
var hostLabelExclusions = map[string]bool{
	"localhost": true,
	"api":       true,
}

// ExtractSlug resolves the tenant slug from the request: the X-Tenant-ID
// header wins, then the first subdomain label of the Host header. Returns ""
// when neither yields a slug.
func ExtractSlug(c echo.Context) string {
	if slug := c.Request().Header.Get("X-Tenant-ID"); slug != "" {
		return slug
	}

	host := c.Request().Host
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	// Only a genuine subdomain names a tenant: an apex host like example.com
	// has no tenant label, and neither does a bare hostname. Two-label hosts
	// are accepted only for *.localhost development setups.
	labels := strings.Split(host, ".")
	if len(labels) < 3 && !(len(labels) == 2 && labels[1] == "localhost") {
		return ""
	}
	if labels[0] == "" || hostLabelExclusions[labels[0]] {
		return ""
	}
	return labels[0]
}

// Middleware resolves the request's tenant, pins a pooled connection to the
// tenant's schema, and binds the tenant identity into the request context.
//
// The schema switch is connection-scoped: every request leases its own pooled
// connection, sets search_path on it, and all tenant-scoped queries for the
// request run on that same connection. The lease is released on every exit
// path, with the search_path reset first so a later request can never inherit
// a stale schema from the pool.
func Middleware(registry Registry, pool *pgxpool.Pool, logger zerolog.Logger) echo.MiddlewareFunc {
	log := logger.With().Str("component", "tenant").Logger()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			slug := ExtractSlug(c)
			if slug == "" {
				return echo.NewHTTPError(http.StatusBadRequest, ErrNotIdentified.Error())
			}
			if !ValidSlug(slug) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
			}

			ctx := c.Request().Context()
			t, err := registry.GetBySlug(ctx, slug)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return echo.NewHTTPError(http.StatusForbidden, ErrUnavailable.Error())
				}
				log.Error().Err(err).Str("slug", slug).Msg("tenant lookup failed")
				return echo.NewHTTPError(http.StatusInternalServerError, "tenant resolution failed")
			}
			if t.Status != StatusActive {
				// Same externally visible shape as the unknown-slug case.
				return echo.NewHTTPError(http.StatusForbidden, ErrUnavailable.Error())
			}

			conn, err := pool.Acquire(ctx)
			if err != nil {
				log.Error().Err(err).Msg("connection acquire failed")
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer releaseClean(conn)

			schema := SchemaName(t.Slug)
			if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", schema)); err != nil {
				log.Error().Err(err).Str("schema", schema).Msg("schema switch failed")
				return echo.NewHTTPError(http.StatusInternalServerError, ErrProvisioning.Error())
			}

			ctx = With(ctx, Context{TenantID: t.ID, Slug: t.Slug, SchemaName: schema})
			ctx = db.WithConn(ctx, conn)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

// releaseClean resets the session's search_path before the connection goes
// back to the pool. A background context is used deliberately: the reset must
// run even when the request context is already cancelled.
func releaseClean(conn *pgxpool.Conn) {
	_, _ = conn.Exec(context.Background(), "RESET search_path")
	conn.Release()
}
