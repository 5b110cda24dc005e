package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carelink/hospital-api/internal/platform/tenant"
)

func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)

			evt := logger.Info()
			if err != nil {
				evt = logger.Error().Err(err)
			}

			// The tenant middleware swaps the request in with a resolved
			// slug, so reading it after next() sees it when resolution ran.
			if slug := tenant.SlugFromContext(c.Request().Context()); slug != "" {
				evt = evt.Str("tenant", slug)
			}

			evt.
				Str("correlation_id", CorrelationID(c)).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}
