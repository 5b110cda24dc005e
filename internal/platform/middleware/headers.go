package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const correlationHeader = "X-Correlation-ID"

// CorrelationID returns the request's correlation identifier. Empty until
// Headers has run.
func CorrelationID(c echo.Context) string {
	id, _ := c.Get("correlation_id").(string)
	return id
}

// Headers sets the security response headers on every request and assigns a
// correlation ID, honoring one supplied by the caller so a request can be
// traced across the gateway, this service, and the audit trail.
func Headers() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cid := c.Request().Header.Get(correlationHeader)
			if cid == "" {
				cid = uuid.NewString()
			}
			c.Set("correlation_id", cid)

			h := c.Response().Header()
			h.Set(correlationHeader, cid)

			// Prevent MIME type sniffing
			h.Set("X-Content-Type-Options", "nosniff")

			// Prevent clickjacking
			h.Set("X-Frame-Options", "DENY")

			// Strict CSP for a JSON API: deny all resource loading and
			// frame embedding.
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

			// HTTP Strict Transport Security — 1 year including subdomains.
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")

			// Do not send Referer header to downstream services.
			h.Set("Referrer-Policy", "no-referrer")

			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

			// Responses may carry PHI; never cache them.
			h.Set("Cache-Control", "no-store")

			// Compliance marker checked by the hospital gateway.
			h.Set("X-Healthcare-Security", "HIPAA-Compliant")

			return next(c)
		}
	}
}
