package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/carelink/hospital-api/internal/platform/auth"
	"github.com/carelink/hospital-api/internal/platform/hipaa"
	"github.com/carelink/hospital-api/internal/platform/tenant"
)

var methodActions = map[string]hipaa.Action{
	http.MethodGet:    hipaa.ActionPHIAccess,
	http.MethodPost:   hipaa.ActionPHICreate,
	http.MethodPut:    hipaa.ActionPHIUpdate,
	http.MethodPatch:  hipaa.ActionPHIUpdate,
	http.MethodDelete: hipaa.ActionPHIDelete,
}

// PHIAudit records every request that reaches a PHI-bearing route, whether
// or not the handler ultimately succeeds. The entry is written after the
// handler so the response status is known; handlers add their own
// record-level entries with patient identifiers on top of this one.
func PHIAudit(trail *hipaa.Trail, prefixes []string) echo.MiddlewareFunc {
	matches := func(path string) bool {
		for _, p := range prefixes {
			if len(path) >= len(p) && path[:len(p)] == p {
				return true
			}
		}
		return false
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			req := c.Request()
			if !matches(req.URL.Path) {
				return err
			}

			action, ok := methodActions[req.Method]
			if !ok {
				return err
			}

			ctx := req.Context()
			trail.Log(ctx, hipaa.Options{
				UserID:        auth.UserIDFromContext(ctx),
				UserRole:      auth.RoleFromContext(ctx),
				TenantSlug:    tenant.SlugFromContext(ctx),
				Action:        action,
				Severity:      hipaa.SeverityInfo,
				Resource:      req.URL.Path,
				IPAddress:     c.RealIP(),
				UserAgent:     req.UserAgent(),
				RequestPath:   req.URL.Path,
				RequestMethod: req.Method,
				SessionID:     auth.SessionFromContext(ctx),
				CorrelationID: CorrelationID(c),
				Metadata:      map[string]any{"status": c.Response().Status},
			})

			return err
		}
	}
}
