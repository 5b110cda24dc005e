package incident

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/hospital-api/internal/platform/hipaa"
)

const (
	// breachWindow is the HIPAA Breach Notification Rule deadline: affected
	// parties must be notified within sixty days of discovery.
	breachWindow = 60 * 24 * time.Hour
	// hhsThreshold is the affected-patient count above which HHS and media
	// must be notified without waiting for the annual log.
	hhsThreshold = 500
	// maxNotifyRetries caps delivery attempts before an obligation is left
	// FAILED for manual follow-up.
	maxNotifyRetries = 5
)

// Notifier delivers a breach notification on one channel. Implementations
// wrap the mail house, the HHS breach portal, and the press-release queue.
type Notifier interface {
	Send(ctx context.Context, inc *Incident, n *Notification) error
}

// CreateParams describes a new incident report.
type CreateParams struct {
	TenantSlug       string
	Type             Type
	Severity         Severity
	Title            string
	Description      string
	PHIInvolved      bool
	AffectedPatients int
	ReportedBy       string
}

// Service owns the incident lifecycle: creation, status transitions, the
// breach notification schedule, and the bridge from audit anomalies.
type Service struct {
	repo     Repository
	audit    *hipaa.Trail
	notifier Notifier
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, audit *hipaa.Trail, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		audit:    audit,
		notifier: notifier,
		log:      logger.With().Str("component", "incident").Logger(),
		now:      time.Now,
	}
}

// Create records a new incident in DETECTED status. When the incident
// qualifies as a breach, the notification obligations are scheduled
// immediately: the sixty-day clock starts at discovery, not at triage.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Incident, error) {
	now := s.now()
	inc := &Incident{
		ID:               uuid.New(),
		TenantSlug:       p.TenantSlug,
		Type:             p.Type,
		Severity:         p.Severity,
		Status:           StatusDetected,
		Title:            p.Title,
		Description:      p.Description,
		PHIInvolved:      p.PHIInvolved,
		AffectedPatients: p.AffectedPatients,
		ReportedBy:       p.ReportedBy,
		DetectedAt:       now,
		Timeline: []TimelineEvent{{
			At:     now,
			Status: StatusDetected,
			Actor:  p.ReportedBy,
			Note:   "incident reported",
		}},
	}

	if err := s.repo.Create(ctx, inc); err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	s.audit.Log(ctx, hipaa.Options{
		UserID:     p.ReportedBy,
		TenantSlug: p.TenantSlug,
		Action:     hipaa.ActionIncidentCreated,
		Severity:   auditSeverity(p.Severity),
		Resource:   "security_incident",
		ResourceID: inc.ID.String(),
		Metadata: map[string]any{
			"incident_type":     string(p.Type),
			"incident_severity": string(p.Severity),
			"phi_involved":      p.PHIInvolved,
			"affected_patients": p.AffectedPatients,
		},
	})

	if inc.IsBreach() {
		if err := s.scheduleBreachResponse(ctx, inc); err != nil {
			// The incident exists; a scheduling failure must not lose it.
			s.log.Error().Err(err).Str("incident_id", inc.ID.String()).Msg("scheduling breach notifications")
		}
	}

	return inc, nil
}

// scheduleBreachResponse creates the per-channel notification obligations.
// Patients are always notified. HHS and the media are added when the
// affected count reaches the reporting threshold.
func (s *Service) scheduleBreachResponse(ctx context.Context, inc *Incident) error {
	deadline := inc.DetectedAt.Add(breachWindow)
	channels := []NotificationChannel{ChannelPatients}
	if inc.AffectedPatients >= hhsThreshold {
		channels = append(channels, ChannelHHS, ChannelMedia)
	}

	for _, ch := range channels {
		n := &Notification{
			ID:          uuid.New(),
			IncidentID:  inc.ID,
			Channel:     ch,
			Status:      NotificationPending,
			ScheduledAt: inc.DetectedAt,
			Deadline:    deadline,
		}
		if err := s.repo.CreateNotification(ctx, n); err != nil {
			return fmt.Errorf("schedule %s notification: %w", ch, err)
		}
	}

	s.audit.Log(ctx, hipaa.Options{
		TenantSlug: inc.TenantSlug,
		Action:     hipaa.ActionBreachReported,
		Severity:   hipaa.SeverityEmergency,
		Resource:   "security_incident",
		ResourceID: inc.ID.String(),
		Metadata: map[string]any{
			"affected_patients": inc.AffectedPatients,
			"deadline":          deadline.Format(time.RFC3339),
			"channels":          len(channels),
		},
	})
	return nil
}

// UpdateStatus moves an incident through its lifecycle. Invalid transitions
// are rejected; ContainedAt and RemediatedAt are stamped on the first entry
// into their status and never overwritten.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to Status, actor, note string) (*Incident, error) {
	inc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(inc.Status, to) {
		return nil, fmt.Errorf("cannot move incident from %s to %s", inc.Status, to)
	}

	now := s.now()
	inc.Status = to
	inc.Timeline = append(inc.Timeline, TimelineEvent{At: now, Status: to, Actor: actor, Note: note})

	switch to {
	case StatusContained:
		if inc.ContainedAt == nil {
			inc.ContainedAt = &now
		}
	case StatusRemediated:
		if inc.RemediatedAt == nil {
			inc.RemediatedAt = &now
		}
	}

	if err := s.repo.Update(ctx, inc); err != nil {
		return nil, fmt.Errorf("update incident: %w", err)
	}
	return inc, nil
}

// Get returns one incident.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Incident, error) {
	return s.repo.Get(ctx, id)
}

// List returns incidents, optionally filtered by status.
func (s *Service) List(ctx context.Context, status Status, limit, offset int) ([]*Incident, int, error) {
	return s.repo.List(ctx, status, limit, offset)
}

// HandleAuditAnomaly opens an incident from an audit anomaly event. Wired as
// the trail's anomaly handler at startup.
func (s *Service) HandleAuditAnomaly(ctx context.Context, evt hipaa.AnomalyEvent) {
	_, err := s.Create(ctx, CreateParams{
		Type:        TypeAnomalousActivity,
		Severity:    SeverityHigh,
		PHIInvolved: true,
		Title:       "anomalous PHI access volume",
		Description: fmt.Sprintf("user %s accessed PHI %d times in %d minutes",
			evt.UserID, evt.Count, evt.WindowMinutes),
		ReportedBy: "audit-trail",
	})
	if err != nil {
		s.log.Error().Err(err).Str("user_id", evt.UserID).Msg("opening anomaly incident")
	}
}

// ProcessNotifications attempts delivery of every pending obligation. Run on
// a schedule. Failures increment the retry counter; past maxNotifyRetries the
// obligation stays FAILED until compliance intervenes.
func (s *Service) ProcessNotifications(ctx context.Context) error {
	pending, err := s.repo.PendingNotifications(ctx)
	if err != nil {
		return fmt.Errorf("load pending notifications: %w", err)
	}

	now := s.now()
	for _, n := range pending {
		if n.ScheduledAt.After(now) || n.RetryCount >= maxNotifyRetries {
			continue
		}
		inc, err := s.repo.Get(ctx, n.IncidentID)
		if err != nil {
			s.log.Error().Err(err).Str("notification_id", n.ID.String()).Msg("loading incident for notification")
			continue
		}

		if err := s.notifier.Send(ctx, inc, n); err != nil {
			n.Status = NotificationFailed
			n.RetryCount++
			s.log.Warn().Err(err).
				Str("channel", string(n.Channel)).
				Int("retry_count", n.RetryCount).
				Msg("breach notification delivery failed")
		} else {
			sent := s.now()
			n.Status = NotificationSent
			n.SentAt = &sent
		}
		if err := s.repo.UpdateNotification(ctx, n); err != nil {
			s.log.Error().Err(err).Str("notification_id", n.ID.String()).Msg("persisting notification state")
		}
	}
	return nil
}

func auditSeverity(s Severity) hipaa.Severity {
	switch s {
	case SeverityCritical:
		return hipaa.SeverityCritical
	case SeverityHigh:
		return hipaa.SeverityWarning
	default:
		return hipaa.SeverityInfo
	}
}
