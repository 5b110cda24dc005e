// Package auth covers request authentication: staff JWTs and registered
// medical devices. Authorization (role gates) lives in rbac.go and is audited
// separately from authentication.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	userIDKey   contextKey = "user_id"
	userRoleKey contextKey = "user_role"
	sessionKey  contextKey = "session_id"
)

// Claims are the hospital staff token claims. Role is single-valued: a user
// acting in two capacities holds two sessions.
type Claims struct {
	jwt.RegisteredClaims
	Role      string `json:"role"`
	SessionID string `json:"session_id"`
}

// JWTConfig configures token validation. SigningKey is the HMAC key shared
// with the identity service.
type JWTConfig struct {
	SigningKey []byte
	Issuer     string
}

// JWTMiddleware validates the bearer token and binds the caller's identity
// into the request context. Runs after tenant resolution so audit entries
// emitted by later stages carry both tenant and user.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			scheme, tokenStr, found := strings.Cut(header, " ")
			if !found || !strings.EqualFold(scheme, "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			opts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"HS256"}),
			}
			if cfg.Issuer != "" {
				opts = append(opts, jwt.WithIssuer(cfg.Issuer))
			}

			token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
				return cfg.SigningKey, nil
			}, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, userIDKey, claims.Subject)
			ctx = context.WithValue(ctx, userRoleKey, claims.Role)
			ctx = context.WithValue(ctx, sessionKey, claims.SessionID)
			c.SetRequest(c.Request().WithContext(ctx))

			// Mirrored into the echo context for handlers that cannot
			// import this package.
			c.Set("user_id", claims.Subject)
			c.Set("user_role", claims.Role)

			return next(c)
		}
	}
}

// UserIDFromContext returns the authenticated user ID, or "" before
// authentication.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// RoleFromContext returns the authenticated user's role, or "".
func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(userRoleKey).(string)
	return role
}

// SessionFromContext returns the session identifier carried by the token.
func SessionFromContext(ctx context.Context) string {
	sid, _ := ctx.Value(sessionKey).(string)
	return sid
}

// WithIdentity binds a user identity directly into ctx. Used by device
// authentication and tests; HTTP requests go through JWTMiddleware.
func WithIdentity(ctx context.Context, userID, role string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, userRoleKey, role)
}
