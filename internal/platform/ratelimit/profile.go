package ratelimit

import "time"

// Profile is a named rate-limit policy. Endpoints are mapped to profiles by
// the security middleware; the limiter itself only sees profile names.
type Profile struct {
	Name string
	// Window is the fixed counting window.
	Window time.Duration
	// MaxRequests is the number of requests allowed per window.
	MaxRequests int
	// BlockFor extends the lockout past the window edge once the limit is
	// exceeded. Zero means the counter simply resets at the window boundary.
	BlockFor time.Duration
}

// Endpoint profiles. PHI access and authentication are the tight ones:
// authentication throttling is the first line against credential stuffing,
// and PHI reads above this rate are almost never a human clinician.
var (
	ProfilePHIAccess = Profile{Name: "PHI_ACCESS", Window: time.Minute, MaxRequests: 30, BlockFor: 5 * time.Minute}
	ProfileAuth      = Profile{Name: "AUTH", Window: time.Minute, MaxRequests: 5, BlockFor: 15 * time.Minute}
	ProfileTelemetry = Profile{Name: "DEVICE_TELEMETRY", Window: time.Minute, MaxRequests: 300}
	ProfileGeneral   = Profile{Name: "API_GENERAL", Window: time.Minute, MaxRequests: 100, BlockFor: time.Minute}
	ProfileAuditRead = Profile{Name: "AUDIT_QUERY", Window: time.Minute, MaxRequests: 20}
	ProfileAdmin     = Profile{Name: "ADMIN", Window: time.Minute, MaxRequests: 10, BlockFor: time.Minute}
	ProfileIncident  = Profile{Name: "INCIDENT_REPORT", Window: time.Minute, MaxRequests: 50}
	ProfileBreach    = Profile{Name: "BREACH_NOTIFICATION", Window: time.Minute, MaxRequests: 200}
)

// ipCeiling is the per-address cap applied before any profile check. It is
// wide enough for a busy hospital workstation behind one NAT address but
// stops a single source from starving the service.
var ipCeiling = Profile{Name: "IP_CEILING", Window: time.Minute, MaxRequests: 500, BlockFor: 2 * time.Minute}
