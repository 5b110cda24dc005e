package middleware

import (
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carelink/hospital-api/internal/platform/auth"
	"github.com/carelink/hospital-api/internal/platform/hipaa"
	"github.com/carelink/hospital-api/internal/platform/ratelimit"
	"github.com/carelink/hospital-api/internal/platform/tenant"
)

// RouteProfile binds a path prefix to a rate-limit profile. First match wins,
// so register specific prefixes before general ones.
type RouteProfile struct {
	Prefix  string
	Profile ratelimit.Profile
}

// DefaultRouteProfiles is the endpoint-to-profile table for the hospital API.
func DefaultRouteProfiles() []RouteProfile {
	return []RouteProfile{
		{Prefix: "/api/auth", Profile: ratelimit.ProfileAuth},
		{Prefix: "/api/telemetry", Profile: ratelimit.ProfileTelemetry},
		{Prefix: "/api/audit", Profile: ratelimit.ProfileAuditRead},
		{Prefix: "/api/admin", Profile: ratelimit.ProfileAdmin},
		{Prefix: "/api/incidents/breaches", Profile: ratelimit.ProfileBreach},
		{Prefix: "/api/incidents", Profile: ratelimit.ProfileIncident},
		{Prefix: "/api/medical-records", Profile: ratelimit.ProfilePHIAccess},
		{Prefix: "/api/prescriptions", Profile: ratelimit.ProfilePHIAccess},
		{Prefix: "/api/lab-orders", Profile: ratelimit.ProfilePHIAccess},
	}
}

// suspiciousPatterns flag request content worth a second look. Matches are
// logged and audited but never blocked: a clinician searching for a note
// that mentions "select" must not be locked out of a chart. Blocking is the
// input sanitizer's job and is reserved for requests that cannot be
// legitimate.
var suspiciousPatterns = regexp.MustCompile(
	`(?i)(\.\./|<script|union\s+select|base64_decode|\beval\s*\()`)

// Security is the per-request security pipeline. Stages run in a fixed
// order: address ceiling, endpoint rate limit, content scan. Each stage
// only runs if the previous one passed, so one flooding source costs a
// counter increment and nothing more.
type Security struct {
	limiter  *ratelimit.Limiter
	audit    *hipaa.Trail
	profiles []RouteProfile
	fallback ratelimit.Profile
	log      zerolog.Logger
}

func NewSecurity(limiter *ratelimit.Limiter, audit *hipaa.Trail, profiles []RouteProfile, logger zerolog.Logger) *Security {
	return &Security{
		limiter:  limiter,
		audit:    audit,
		profiles: profiles,
		fallback: ratelimit.ProfileGeneral,
		log:      logger.With().Str("component", "security").Logger(),
	}
}

// ProfileFor resolves the rate-limit profile for a request path.
func (s *Security) ProfileFor(path string) ratelimit.Profile {
	for _, rp := range s.profiles {
		if strings.HasPrefix(path, rp.Prefix) {
			return rp.Profile
		}
	}
	return s.fallback
}

func (s *Security) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := req.Context()
			ip := c.RealIP()
			path := req.URL.Path

			// Stage 1: per-address ceiling, independent of endpoint.
			if r := s.limiter.CheckIP(ip); !r.Allowed {
				setRateHeaders(c, r)
				s.auditLimit(c, "IP_CEILING", r)
				return tooManyRequests(c, r)
			}

			// Stage 2: endpoint profile limit, keyed by address, user and
			// profile. Keying by profile name rather than path means reads
			// of distinct records share one PHI_ACCESS counter, and the
			// window table stays bounded by the profile set.
			profile := s.ProfileFor(path)
			key := ratelimit.BuildKey(ip, auth.UserIDFromContext(ctx), profile.Name)
			r := s.limiter.Check(profile, key)
			setRateHeaders(c, r)
			if !r.Allowed {
				s.auditLimit(c, profile.Name, r)
				return tooManyRequests(c, r)
			}

			// Stage 3: content scan. Observational only.
			if target := s.scan(scanTarget(req.URL)); target != "" {
				s.log.Warn().
					Str("path", path).
					Str("remote_ip", ip).
					Str("pattern", target).
					Msg("suspicious request pattern")
				s.audit.Log(ctx, hipaa.Options{
					UserID:        auth.UserIDFromContext(ctx),
					TenantSlug:    tenant.SlugFromContext(ctx),
					Action:        hipaa.ActionSuspiciousActivity,
					Severity:      hipaa.SeverityWarning,
					Resource:      path,
					IPAddress:     ip,
					RequestPath:   path,
					RequestMethod: req.Method,
					CorrelationID: CorrelationID(c),
					Metadata:      map[string]any{"pattern": target},
				})
			}

			return next(c)
		}
	}
}

// scan returns the first suspicious pattern found in the request target, or
// "" when clean.
func (s *Security) scan(target string) string {
	return suspiciousPatterns.FindString(target)
}

// scanTarget renders the decoded path and query of a request. Scanning the
// decoded form means percent- and plus-encoded payloads are seen as what
// they decode to, not as their wire bytes.
func scanTarget(u *url.URL) string {
	var b strings.Builder
	b.WriteString(u.Path)
	for key, vals := range u.Query() {
		for _, v := range vals {
			b.WriteByte(' ')
			b.WriteString(key)
			b.WriteByte('=')
			b.WriteString(v)
		}
	}
	return b.String()
}

func (s *Security) auditLimit(c echo.Context, profileName string, r ratelimit.Result) {
	ctx := c.Request().Context()
	s.audit.Log(ctx, hipaa.Options{
		UserID:        auth.UserIDFromContext(ctx),
		TenantSlug:    tenant.SlugFromContext(ctx),
		Action:        hipaa.ActionRateLimitExceeded,
		Severity:      hipaa.SeverityWarning,
		Resource:      c.Request().URL.Path,
		IPAddress:     c.RealIP(),
		RequestPath:   c.Request().URL.Path,
		RequestMethod: c.Request().Method,
		CorrelationID: CorrelationID(c),
		Metadata: map[string]any{
			"profile":     profileName,
			"retry_after": r.RetryAfter.Seconds(),
		},
	})
}

func setRateHeaders(c echo.Context, r ratelimit.Result) {
	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(r.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(r.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(r.ResetAt.Unix(), 10))
}

func tooManyRequests(c echo.Context, r ratelimit.Result) error {
	retry := int(r.RetryAfter.Seconds())
	if retry < 1 {
		retry = 1
	}
	c.Response().Header().Set("Retry-After", strconv.Itoa(retry))
	return c.JSON(http.StatusTooManyRequests, map[string]any{
		"message":    "rate limit exceeded",
		"retryAfter": retry,
	})
}
