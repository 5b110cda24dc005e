package hipaa

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Action identifies the kind of security-relevant event being audited.
type Action string

const (
	// PHI access
	ActionPHIAccess Action = "PHI_ACCESS"
	ActionPHICreate Action = "PHI_CREATE"
	ActionPHIUpdate Action = "PHI_UPDATE"
	ActionPHIDelete Action = "PHI_DELETE"
	ActionPHIExport Action = "PHI_EXPORT"

	// Authentication
	ActionLoginSuccess   Action = "LOGIN_SUCCESS"
	ActionLoginFailure   Action = "LOGIN_FAILURE"
	ActionLogout         Action = "LOGOUT"
	ActionPasswordChange Action = "PASSWORD_CHANGE"

	// Access control
	ActionPermissionGranted Action = "PERMISSION_GRANTED"
	ActionPermissionDenied  Action = "PERMISSION_DENIED"
	ActionRoleAssigned      Action = "ROLE_ASSIGNED"
	ActionRoleRevoked       Action = "ROLE_REVOKED"

	// Security events
	ActionSecurityViolation  Action = "SECURITY_VIOLATION"
	ActionRateLimitExceeded  Action = "RATE_LIMIT_EXCEEDED"
	ActionSuspiciousActivity Action = "SUSPICIOUS_ACTIVITY"

	// Device events
	ActionDeviceAuthenticated Action = "DEVICE_AUTHENTICATED"
	ActionDeviceRejected      Action = "DEVICE_REJECTED"
	ActionDeviceRegistered    Action = "DEVICE_REGISTERED"
	ActionDeviceRevoked       Action = "DEVICE_REVOKED"

	// Administrative
	ActionUserCreated     Action = "USER_CREATED"
	ActionUserUpdated     Action = "USER_UPDATED"
	ActionUserDeactivated Action = "USER_DEACTIVATED"
	ActionTenantCreated   Action = "TENANT_CREATED"
	ActionTenantUpdated   Action = "TENANT_UPDATED"
	ActionTenantDeleted   Action = "TENANT_DELETED"
	ActionIncidentCreated Action = "INCIDENT_CREATED"
	ActionBreachReported  Action = "BREACH_REPORTED"
)

// Severity classifies how urgently an audit entry must reach durable storage.
type Severity string

const (
	SeverityInfo      Severity = "INFO"
	SeverityWarning   Severity = "WARNING"
	SeverityCritical  Severity = "CRITICAL"
	SeverityEmergency Severity = "EMERGENCY"
)

// immediate reports whether entries of this severity bypass the buffer and
// are persisted synchronously.
func (s Severity) immediate() bool {
	return s == SeverityCritical || s == SeverityEmergency
}

// Entry is a single persisted audit record. Entries are append-only: they are
// never updated or deleted after the integrity hash is computed.
type Entry struct {
	ID            uuid.UUID      `json:"id"`
	UserID        string         `json:"user_id,omitempty"`
	UserRole      string         `json:"user_role,omitempty"`
	TenantSlug    string         `json:"tenant_slug,omitempty"`
	PatientIDHash string         `json:"patient_id_hash,omitempty"`
	Action        Action         `json:"action"`
	Severity      Severity       `json:"severity"`
	Resource      string         `json:"resource"`
	ResourceID    string         `json:"resource_id,omitempty"`
	IPAddress     string         `json:"ip_address,omitempty"`
	UserAgent     string         `json:"user_agent,omitempty"`
	RequestPath   string         `json:"request_path,omitempty"`
	RequestMethod string         `json:"request_method,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	IsAnomaly     bool           `json:"is_anomaly"`
	SessionID     string         `json:"session_id,omitempty"`
	DeviceID      string         `json:"device_id,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	IntegrityHash string         `json:"integrity_hash"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Options describes an event to audit. PatientID carries the raw patient
// identifier; the trail replaces it with a keyed hash before the entry is
// built, so the raw value never reaches storage.
type Options struct {
	UserID        string
	UserRole      string
	TenantSlug    string
	PatientID     string
	Action        Action
	Severity      Severity
	Resource      string
	ResourceID    string
	IPAddress     string
	UserAgent     string
	RequestPath   string
	RequestMethod string
	Metadata      map[string]any
	SessionID     string
	DeviceID      string
	CorrelationID string
}

// QueryFilter selects audit entries. PatientID, if set, is hashed before the
// lookup so the raw identifier never appears in a WHERE clause.
type QueryFilter struct {
	UserID    string
	PatientID string
	Action    Action
	Severity  Severity
	IsAnomaly *bool
	StartDate time.Time
	EndDate   time.Time
	Limit     int
	Offset    int
}

// Store persists audit entries.
type Store interface {
	Insert(ctx context.Context, entry *Entry) error
	InsertBatch(ctx context.Context, entries []*Entry) error
	Query(ctx context.Context, filter QueryFilter) ([]*Entry, int, error)
	CountPHIAccess(ctx context.Context, userID string, since time.Time) (int, error)
	ActivityReport(ctx context.Context, start, end time.Time) (*ActivityReport, error)
}

// AnomalyEvent is published when DetectAnomalies trips the threshold.
type AnomalyEvent struct {
	UserID        string
	Count         int
	WindowMinutes int
}

// AnomalyHandler reacts to anomaly events, typically by opening a security
// incident. Handlers must not block.
type AnomalyHandler func(ctx context.Context, evt AnomalyEvent)

const (
	// BufferSize is the number of buffered entries that triggers a flush.
	BufferSize = 50
	// maxBuffered bounds buffer growth when flushes keep failing.
	maxBuffered = 500
	// anomalyThreshold is the PHI-access count within the window above which
	// a user is flagged.
	anomalyThreshold = 100
)

// Trail is the tamper-evident audit log. Critical and emergency entries are
// persisted synchronously; everything else is buffered and flushed in batches
// by size threshold or the periodic flush job. Safe for concurrent use.
type Trail struct {
	store   Store
	signer  *IntegritySigner
	logger  zerolog.Logger
	handler AnomalyHandler

	mu        sync.Mutex
	buffer    []*Entry
	observers []chan Entry
}

// NewTrail creates an audit trail backed by store and signed by signer.
func NewTrail(store Store, signer *IntegritySigner, logger zerolog.Logger) *Trail {
	return &Trail{
		store:  store,
		signer: signer,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// SetAnomalyHandler registers the handler invoked when DetectAnomalies flags
// a user. Must be called before the trail is shared across goroutines.
func (t *Trail) SetAnomalyHandler(h AnomalyHandler) {
	t.handler = h
}

// Subscribe registers a real-time observer channel of the given capacity.
// Delivery is best-effort: if the channel is full the entry is dropped rather
// than blocking the request path. The returned func unsubscribes.
func (t *Trail) Subscribe(capacity int) (<-chan Entry, func()) {
	ch := make(chan Entry, capacity)

	t.mu.Lock()
	t.observers = append(t.observers, ch)
	t.mu.Unlock()

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, o := range t.observers {
			if o == ch {
				t.observers = append(t.observers[:i], t.observers[i+1:]...)
				break
			}
		}
	}
	return ch, cancel
}

// Log records an audit event. Persistence failures are logged and never
// returned: audit logging must not fail the business operation that
// triggered it.
func (t *Trail) Log(ctx context.Context, opts Options) {
	entry := t.buildEntry(opts)

	t.notify(entry)

	if entry.Severity.immediate() {
		if err := t.store.Insert(ctx, entry); err != nil {
			t.logger.Error().Err(err).
				Str("action", string(entry.Action)).
				Msg("failed to persist critical audit entry")
		}
		return
	}

	t.mu.Lock()
	t.buffer = append(t.buffer, entry)
	shouldFlush := len(t.buffer) >= BufferSize
	t.mu.Unlock()

	if shouldFlush {
		t.Flush(ctx)
	}
}

// LogPHIAccess records a patient-data access event. Business modules must
// call this on every read or write of patient-identifiable data.
func (t *Trail) LogPHIAccess(ctx context.Context, userID, patientID, resource string, action Action, metadata map[string]any) {
	t.Log(ctx, Options{
		UserID:    userID,
		PatientID: patientID,
		Action:    action,
		Severity:  SeverityInfo,
		Resource:  resource,
		Metadata:  metadata,
	})
}

// LogSecurityViolation records a critical security event with the violation
// reason attached to the entry metadata.
func (t *Trail) LogSecurityViolation(ctx context.Context, opts Options, reason string) {
	if opts.Metadata == nil {
		opts.Metadata = map[string]any{}
	}
	opts.Metadata["violation_reason"] = reason
	opts.Action = ActionSecurityViolation
	opts.Severity = SeverityCritical
	t.Log(ctx, opts)
}

// Flush drains the buffer and writes it as a single batch. On failure the
// batch is returned to the front of the buffer, capped at maxBuffered entries
// (oldest kept, newest dropped beyond the cap), and retried on the next cycle.
func (t *Trail) Flush(ctx context.Context) {
	t.mu.Lock()
	if len(t.buffer) == 0 {
		t.mu.Unlock()
		return
	}
	batch := t.buffer
	t.buffer = nil
	t.mu.Unlock()

	if err := t.store.InsertBatch(ctx, batch); err != nil {
		t.logger.Error().Err(err).Int("entries", len(batch)).Msg("audit flush failed, requeueing")
		t.mu.Lock()
		t.buffer = append(batch, t.buffer...)
		if len(t.buffer) > maxBuffered {
			t.buffer = t.buffer[:maxBuffered]
		}
		t.mu.Unlock()
	}
}

// BufferedCount returns the number of entries awaiting flush.
func (t *Trail) BufferedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buffer)
}

// Query returns audit entries matching the filter plus the total count before
// pagination. A raw patient identifier in the filter is hashed before lookup.
func (t *Trail) Query(ctx context.Context, filter QueryFilter) ([]*Entry, int, error) {
	if filter.PatientID != "" {
		filter.PatientID = t.signer.HashIdentifier(filter.PatientID)
	}
	return t.store.Query(ctx, filter)
}

// Report summarizes audit activity between start and end, bucketed by action
// and severity.
func (t *Trail) Report(ctx context.Context, start, end time.Time) (*ActivityReport, error) {
	return t.store.ActivityReport(ctx, start, end)
}

// DetectAnomalies counts PHI-access actions by userID within the trailing
// window and flags the user if the count exceeds the threshold. This is a
// point-in-time check; callers decide when to invoke it.
func (t *Trail) DetectAnomalies(ctx context.Context, userID string, windowMinutes int) (bool, error) {
	if windowMinutes <= 0 {
		windowMinutes = 60
	}
	since := time.Now().UTC().Add(-time.Duration(windowMinutes) * time.Minute)

	count, err := t.store.CountPHIAccess(ctx, userID, since)
	if err != nil {
		return false, fmt.Errorf("count phi access: %w", err)
	}

	if count <= anomalyThreshold {
		return false, nil
	}

	t.logger.Warn().
		Str("user_id", userID).
		Int("count", count).
		Int("window_minutes", windowMinutes).
		Msg("anomalous PHI access volume detected")

	if t.handler != nil {
		t.handler(ctx, AnomalyEvent{UserID: userID, Count: count, WindowMinutes: windowMinutes})
	}
	return true, nil
}

// VerifyEntry recomputes the integrity signature over the entry's canonical
// fields and reports whether it matches the stored hash. Any altered field
// covered by the canonical payload fails verification.
func (t *Trail) VerifyEntry(entry *Entry) bool {
	return t.signer.Verify(canonicalPayload(entry), entry.IntegrityHash)
}

func (t *Trail) buildEntry(opts Options) *Entry {
	if opts.Severity == "" {
		opts.Severity = SeverityInfo
	}

	entry := &Entry{
		ID:            uuid.New(),
		UserID:        opts.UserID,
		UserRole:      opts.UserRole,
		TenantSlug:    opts.TenantSlug,
		Action:        opts.Action,
		Severity:      opts.Severity,
		Resource:      opts.Resource,
		ResourceID:    opts.ResourceID,
		IPAddress:     opts.IPAddress,
		UserAgent:     opts.UserAgent,
		RequestPath:   opts.RequestPath,
		RequestMethod: opts.RequestMethod,
		Metadata:      opts.Metadata,
		SessionID:     opts.SessionID,
		DeviceID:      opts.DeviceID,
		CorrelationID: opts.CorrelationID,
		CreatedAt:     time.Now().UTC(),
	}

	if opts.PatientID != "" {
		entry.PatientIDHash = t.signer.HashIdentifier(opts.PatientID)
	}

	entry.IntegrityHash = t.signer.Sign(canonicalPayload(entry))
	return entry
}

// canonicalPayload is the serialization the integrity hash covers. Keep field
// order stable: changing it invalidates every previously stored signature.
func canonicalPayload(e *Entry) string {
	return fmt.Sprintf(`{"action":%q,"patient_id_hash":%q,"resource":%q,"timestamp":%q,"user_id":%q}`,
		e.Action, e.PatientIDHash, e.Resource, e.CreatedAt.Format(time.RFC3339Nano), e.UserID)
}

func (t *Trail) notify(entry *Entry) {
	t.mu.Lock()
	observers := make([]chan Entry, len(t.observers))
	copy(observers, t.observers)
	t.mu.Unlock()

	for _, ch := range observers {
		select {
		case ch <- *entry:
		default:
			// Observer too slow; drop rather than block the request path.
		}
	}
}
