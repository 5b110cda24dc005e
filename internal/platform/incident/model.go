// Package incident tracks security incidents and HIPAA breach notification
// obligations. Incidents live in the public schema: a breach investigation
// must survive tenant suspension and is visible to compliance across the
// whole deployment.
package incident

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeUnauthorizedAccess Type = "UNAUTHORIZED_ACCESS"
	TypeDataBreach         Type = "DATA_BREACH"
	TypeRansomware         Type = "RANSOMWARE"
	TypeInsiderThreat      Type = "INSIDER_THREAT"
	TypeDeviceCompromise   Type = "DEVICE_COMPROMISE"
	TypeAnomalousActivity  Type = "ANOMALOUS_ACTIVITY"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

type Status string

const (
	StatusDetected      Status = "DETECTED"
	StatusInvestigating Status = "INVESTIGATING"
	StatusEscalated     Status = "ESCALATED"
	StatusContained     Status = "CONTAINED"
	StatusRemediated    Status = "REMEDIATED"
	StatusClosed        Status = "CLOSED"
)

// transitions is the allowed status graph. Escalation is available until the
// incident is contained. Closing is terminal; an incident reopened after
// closure is a new incident referencing the old one.
var transitions = map[Status][]Status{
	StatusDetected:      {StatusInvestigating, StatusEscalated, StatusContained, StatusClosed},
	StatusInvestigating: {StatusEscalated, StatusContained, StatusClosed},
	StatusEscalated:     {StatusContained, StatusClosed},
	StatusContained:     {StatusRemediated, StatusClosed},
	StatusRemediated:    {StatusClosed},
}

// CanTransition reports whether an incident may move from one status to
// another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TimelineEvent is one append-only entry in an incident's history.
type TimelineEvent struct {
	At     time.Time `json:"at"`
	Status Status    `json:"status"`
	Actor  string    `json:"actor"`
	Note   string    `json:"note,omitempty"`
}

// Incident is a recorded security event under investigation. ContainedAt and
// RemediatedAt are set exactly once, on the first transition into the
// corresponding status, and never move afterwards: they anchor the breach
// notification deadlines.
type Incident struct {
	ID               uuid.UUID       `json:"id"`
	TenantSlug       string          `json:"tenant_slug,omitempty"`
	Type             Type            `json:"type"`
	Severity         Severity        `json:"severity"`
	Status           Status          `json:"status"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	PHIInvolved      bool            `json:"phi_involved"`
	AffectedPatients int             `json:"affected_patients"`
	ReportedBy       string          `json:"reported_by"`
	Timeline         []TimelineEvent `json:"timeline"`
	ContainedAt      *time.Time      `json:"contained_at,omitempty"`
	RemediatedAt     *time.Time      `json:"remediated_at,omitempty"`
	DetectedAt       time.Time       `json:"detected_at"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// IsBreach reports whether the incident triggers HIPAA breach notification
// duties. The recorded PHI-involvement flag is authoritative; breach and
// ransomware incidents always involve PHI regardless of how the report was
// filled in.
func (i *Incident) IsBreach() bool {
	if i.PHIInvolved {
		return true
	}
	if i.Type == TypeDataBreach || i.Type == TypeRansomware {
		return true
	}
	return i.Severity == SeverityCritical && i.AffectedPatients > 0
}

type NotificationChannel string

const (
	ChannelPatients NotificationChannel = "PATIENTS"
	ChannelHHS      NotificationChannel = "HHS"
	ChannelMedia    NotificationChannel = "MEDIA"
)

type NotificationStatus string

const (
	NotificationPending      NotificationStatus = "PENDING"
	NotificationSent         NotificationStatus = "SENT"
	NotificationDelivered    NotificationStatus = "DELIVERED"
	NotificationFailed       NotificationStatus = "FAILED"
	NotificationAcknowledged NotificationStatus = "ACKNOWLEDGED"
)

// Notification is one breach notification obligation on one channel.
// ScheduledAt is when delivery becomes due; Deadline is sixty days after
// discovery per the HIPAA Breach Notification Rule, computed once at
// creation and never revised.
type Notification struct {
	ID          uuid.UUID           `json:"id"`
	IncidentID  uuid.UUID           `json:"incident_id"`
	Channel     NotificationChannel `json:"channel"`
	Status      NotificationStatus  `json:"status"`
	ScheduledAt time.Time           `json:"scheduled_at"`
	Deadline    time.Time           `json:"deadline"`
	SentAt      *time.Time          `json:"sent_at,omitempty"`
	RetryCount  int                 `json:"retry_count"`
	CreatedAt   time.Time           `json:"created_at"`
}

// Fulfilled reports whether the obligation has at least gone out the door.
// Delivery confirmation and recipient acknowledgement only strengthen that.
func (n *Notification) Fulfilled() bool {
	switch n.Status {
	case NotificationSent, NotificationDelivered, NotificationAcknowledged:
		return true
	}
	return false
}

// Overdue reports whether the obligation is unmet past its deadline.
func (n *Notification) Overdue(now time.Time) bool {
	return !n.Fulfilled() && now.After(n.Deadline)
}
