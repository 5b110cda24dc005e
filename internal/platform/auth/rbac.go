package auth

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/carelink/hospital-api/internal/platform/hipaa"
	"github.com/carelink/hospital-api/internal/platform/tenant"
)

// Guard evaluates role requirements per operation and records every denial
// on the audit trail before the caller sees the 403. The denial record is
// written synchronously: a rejected access attempt on a healthcare system is
// evidence, and evidence is not buffered.
type Guard struct {
	mu    sync.RWMutex
	rules map[string][]string
	audit *hipaa.Trail
}

func NewGuard(audit *hipaa.Trail) *Guard {
	return &Guard{rules: make(map[string][]string), audit: audit}
}

// Register maps an operation name to the roles allowed to perform it.
// Registering an operation twice replaces the earlier role set.
func (g *Guard) Register(operation string, roles ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules[operation] = roles
}

// Allowed reports whether role may perform operation. An operation with no
// registered requirement is open: the gate only restricts what was declared.
// Admin passes every declared requirement.
func (g *Guard) Allowed(operation, role string) bool {
	g.mu.RLock()
	roles, declared := g.rules[operation]
	g.mu.RUnlock()
	if !declared {
		return true
	}
	if role == "admin" {
		return true
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// Require returns middleware gating the route behind the named operation.
func (g *Guard) Require(operation string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			role := RoleFromContext(ctx)
			if g.Allowed(operation, role) {
				return next(c)
			}

			g.audit.Log(ctx, hipaa.Options{
				UserID:        UserIDFromContext(ctx),
				UserRole:      role,
				TenantSlug:    tenant.SlugFromContext(ctx),
				Action:        hipaa.ActionPermissionDenied,
				Severity:      hipaa.SeverityCritical,
				Resource:      operation,
				IPAddress:     c.RealIP(),
				RequestPath:   c.Request().URL.Path,
				RequestMethod: c.Request().Method,
				Metadata:      map[string]any{"required_operation": operation},
			})

			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("operation %s not permitted for role %s", operation, role))
		}
	}
}

// RequireRole gates a route on the role claim directly, without an operation
// registration. Matches any of the given roles; admin always passes.
func (g *Guard) RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			role := RoleFromContext(ctx)
			if role == "admin" {
				return next(c)
			}
			for _, r := range roles {
				if r == role {
					return next(c)
				}
			}

			g.audit.Log(ctx, hipaa.Options{
				UserID:        UserIDFromContext(ctx),
				UserRole:      role,
				TenantSlug:    tenant.SlugFromContext(ctx),
				Action:        hipaa.ActionPermissionDenied,
				Severity:      hipaa.SeverityCritical,
				Resource:      c.Request().URL.Path,
				IPAddress:     c.RealIP(),
				RequestPath:   c.Request().URL.Path,
				RequestMethod: c.Request().Method,
				Metadata:      map[string]any{"required_roles": strings.Join(roles, ",")},
			})

			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// DefaultRules seeds the operation table for the hospital API. Callers may
// re-register any operation to tighten or widen it at startup.
func DefaultRules(g *Guard) {
	g.Register("medical_records.read", "physician", "nurse")
	g.Register("medical_records.write", "physician")
	g.Register("prescriptions.read", "physician", "nurse", "pharmacist")
	g.Register("prescriptions.write", "physician")
	g.Register("lab_orders.read", "physician", "nurse", "lab_technician")
	g.Register("lab_orders.write", "physician", "lab_technician")
	g.Register("billing.read", "billing_clerk", "physician")
	g.Register("billing.write", "billing_clerk")
	g.Register("audit.read", "compliance_officer")
	g.Register("incidents.read", "compliance_officer", "security_officer")
	g.Register("incidents.write", "compliance_officer", "security_officer")
	g.Register("tenants.manage") // admin only
}
