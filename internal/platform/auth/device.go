package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carelink/hospital-api/internal/platform/db"
	"github.com/carelink/hospital-api/internal/platform/hipaa"
	"github.com/carelink/hospital-api/internal/platform/tenant"
)

const (
	// maxDeviceFailures is the consecutive-failure count that triggers an
	// automatic suspension.
	maxDeviceFailures = 5
	// deviceSuspension is how long an auto-suspended device stays locked out.
	deviceSuspension = 15 * time.Minute
)

type DeviceStatus string

const (
	DeviceActive  DeviceStatus = "active"
	DeviceRevoked DeviceStatus = "revoked"
)

// Device is a registered telemetry source (infusion pump, vitals monitor,
// bedside gateway). Credentials are stored only as SHA-256 hashes.
type Device struct {
	ID             uuid.UUID
	Name           string
	TokenHash      string
	Status         DeviceStatus
	FailedAttempts int
	SuspendedUntil *time.Time
	LastSeenAt     *time.Time
	CreatedAt      time.Time
}

var ErrDeviceNotFound = errors.New("device not found")

// tenantQuerier returns the request's pinned connection. Device rows live on
// the tenant schema, so a pool fallback would read the wrong schema; absence
// of a lease is an error here.
func tenantQuerier(ctx context.Context) (db.Querier, error) {
	conn := db.ConnFromContext(ctx)
	if conn == nil {
		return nil, errors.New("no tenant connection on context")
	}
	return conn, nil
}

// DeviceStore reads and updates device credentials on the tenant's schema.
// All queries run on the request's leased connection, so devices are isolated
// per tenant like every other tenant-scoped table.
type DeviceStore interface {
	Get(ctx context.Context, id uuid.UUID) (*Device, error)
	RecordFailure(ctx context.Context, id uuid.UUID, suspendUntil *time.Time) error
	RecordSuccess(ctx context.Context, id uuid.UUID) error
	ClearSuspension(ctx context.Context, id uuid.UUID) error
}

type PGDeviceStore struct{}

func NewPGDeviceStore() *PGDeviceStore { return &PGDeviceStore{} }

func (s *PGDeviceStore) Get(ctx context.Context, id uuid.UUID) (*Device, error) {
	q, err := tenantQuerier(ctx)
	if err != nil {
		return nil, err
	}
	d := &Device{}
	err = q.QueryRow(ctx, `
		SELECT id, name, token_hash, status, failed_attempts, suspended_until, last_seen_at, created_at
		FROM devices WHERE id = $1`, id).
		Scan(&d.ID, &d.Name, &d.TokenHash, &d.Status, &d.FailedAttempts, &d.SuspendedUntil, &d.LastSeenAt, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *PGDeviceStore) RecordFailure(ctx context.Context, id uuid.UUID, suspendUntil *time.Time) error {
	q, err := tenantQuerier(ctx)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		UPDATE devices
		SET failed_attempts = failed_attempts + 1, suspended_until = COALESCE($2, suspended_until)
		WHERE id = $1`, id, suspendUntil)
	return err
}

func (s *PGDeviceStore) ClearSuspension(ctx context.Context, id uuid.UUID) error {
	q, err := tenantQuerier(ctx)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		UPDATE devices
		SET failed_attempts = 0, suspended_until = NULL
		WHERE id = $1`, id)
	return err
}

func (s *PGDeviceStore) RecordSuccess(ctx context.Context, id uuid.UUID) error {
	q, err := tenantQuerier(ctx)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		UPDATE devices
		SET failed_attempts = 0, suspended_until = NULL, last_seen_at = now()
		WHERE id = $1`, id)
	return err
}

// HashDeviceToken returns the stored form of a device credential.
func HashDeviceToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// DeviceAuthenticator validates X-Device-ID / X-Device-Token credentials.
type DeviceAuthenticator struct {
	store DeviceStore
	audit *hipaa.Trail
	log   zerolog.Logger
	now   func() time.Time
}

func NewDeviceAuthenticator(store DeviceStore, audit *hipaa.Trail, logger zerolog.Logger) *DeviceAuthenticator {
	return &DeviceAuthenticator{
		store: store,
		audit: audit,
		log:   logger.With().Str("component", "device-auth").Logger(),
		now:   time.Now,
	}
}

// Authenticate verifies the presented credential against the stored hash and
// maintains the failure counter. Five consecutive failures suspend the device
// for fifteen minutes. A lapsed suspension resets the counter, so the device
// gets a fresh failure budget instead of re-suspending on the first bad
// credential.
func (a *DeviceAuthenticator) Authenticate(ctx context.Context, deviceID uuid.UUID, token, ip string) (*Device, error) {
	d, err := a.store.Get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			a.reject(ctx, deviceID, ip, "unknown device")
		}
		return nil, err
	}

	if d.Status != DeviceActive {
		a.reject(ctx, deviceID, ip, "device revoked")
		return nil, errors.New("device revoked")
	}

	if d.SuspendedUntil != nil {
		if a.now().Before(*d.SuspendedUntil) {
			a.reject(ctx, deviceID, ip, "device suspended")
			return nil, errors.New("device suspended")
		}
		// The suspension served its cooldown; restart the failure budget.
		if err := a.store.ClearSuspension(ctx, deviceID); err != nil {
			a.log.Error().Err(err).Msg("clearing lapsed device suspension")
		}
		d.FailedAttempts = 0
		d.SuspendedUntil = nil
	}

	presented := HashDeviceToken(token)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(d.TokenHash)) != 1 {
		var suspendUntil *time.Time
		reason := "invalid credential"
		if d.FailedAttempts+1 >= maxDeviceFailures {
			until := a.now().Add(deviceSuspension)
			suspendUntil = &until
			reason = "invalid credential, device auto-suspended"
			a.log.Warn().Str("device_id", deviceID.String()).Time("until", until).Msg("device suspended after repeated failures")
		}
		if err := a.store.RecordFailure(ctx, deviceID, suspendUntil); err != nil {
			a.log.Error().Err(err).Msg("recording device auth failure")
		}
		a.reject(ctx, deviceID, ip, reason)
		return nil, errors.New("invalid device credential")
	}

	if err := a.store.RecordSuccess(ctx, deviceID); err != nil {
		a.log.Error().Err(err).Msg("recording device auth success")
	}

	a.audit.Log(ctx, hipaa.Options{
		Action:     hipaa.ActionDeviceAuthenticated,
		Severity:   hipaa.SeverityInfo,
		Resource:   "device",
		ResourceID: deviceID.String(),
		DeviceID:   deviceID.String(),
		TenantSlug: tenant.SlugFromContext(ctx),
		IPAddress:  ip,
	})
	return d, nil
}

func (a *DeviceAuthenticator) reject(ctx context.Context, deviceID uuid.UUID, ip, reason string) {
	a.audit.Log(ctx, hipaa.Options{
		Action:     hipaa.ActionDeviceRejected,
		Severity:   hipaa.SeverityWarning,
		Resource:   "device",
		ResourceID: deviceID.String(),
		DeviceID:   deviceID.String(),
		TenantSlug: tenant.SlugFromContext(ctx),
		IPAddress:  ip,
		Metadata:   map[string]any{"reason": reason},
	})
}

// Middleware authenticates device-originated requests. Runs after tenant
// resolution: the device table lives on the tenant schema.
func (a *DeviceAuthenticator) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			idStr := c.Request().Header.Get("X-Device-ID")
			token := c.Request().Header.Get("X-Device-Token")
			if idStr == "" || token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing device credentials")
			}
			deviceID, err := uuid.Parse(idStr)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid device identifier")
			}

			ctx := c.Request().Context()
			d, err := a.Authenticate(ctx, deviceID, token, c.RealIP())
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "device authentication failed")
			}

			ctx = WithIdentity(ctx, "device:"+d.ID.String(), "device")
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
