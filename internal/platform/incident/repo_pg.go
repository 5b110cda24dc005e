package incident

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository stores incidents in public.security_incidents and their
// notification obligations in public.breach_notifications. Timeline events
// are a jsonb column: the timeline is always read and written whole, never
// queried into.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Create(ctx context.Context, inc *Incident) error {
	timeline, err := json.Marshal(inc.Timeline)
	if err != nil {
		return fmt.Errorf("marshal timeline: %w", err)
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO public.security_incidents
			(id, tenant_slug, type, severity, status, title, description,
			 phi_involved, affected_patients, reported_by, timeline, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`,
		inc.ID, nullable(inc.TenantSlug), inc.Type, inc.Severity, inc.Status,
		inc.Title, inc.Description, inc.PHIInvolved, inc.AffectedPatients,
		inc.ReportedBy, timeline, inc.DetectedAt,
	).Scan(&inc.CreatedAt, &inc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

const incidentColumns = `id, tenant_slug, type, severity, status, title, description,
	phi_involved, affected_patients, reported_by, timeline, contained_at,
	remediated_at, detected_at, created_at, updated_at`

func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (*Incident, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM public.security_incidents WHERE id = $1`, incidentColumns), id)
	inc, err := scanIncident(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

func (r *PGRepository) List(ctx context.Context, status Status, limit, offset int) ([]*Incident, int, error) {
	where := ""
	args := []any{limit, offset}
	if status != "" {
		where = "WHERE status = $3"
		args = append(args, status)
	}

	var total int
	countWhere := ""
	if status != "" {
		countWhere = "WHERE status = $1"
	}
	countArgs := args[2:]
	if err := r.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT count(*) FROM public.security_incidents %s", countWhere),
		countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count incidents: %w", err)
	}

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM public.security_incidents %s
		ORDER BY detected_at DESC LIMIT $1 OFFSET $2`, incidentColumns, where), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var out []*Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan incident: %w", err)
		}
		out = append(out, inc)
	}
	return out, total, rows.Err()
}

func (r *PGRepository) Update(ctx context.Context, inc *Incident) error {
	timeline, err := json.Marshal(inc.Timeline)
	if err != nil {
		return fmt.Errorf("marshal timeline: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE public.security_incidents
		SET status = $2, timeline = $3, contained_at = $4, remediated_at = $5,
		    affected_patients = $6, updated_at = now()
		WHERE id = $1`,
		inc.ID, inc.Status, timeline, inc.ContainedAt, inc.RemediatedAt, inc.AffectedPatients)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) CreateNotification(ctx context.Context, n *Notification) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO public.breach_notifications
			(id, incident_id, channel, status, scheduled_at, deadline)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		n.ID, n.IncidentID, n.Channel, n.Status, n.ScheduledAt, n.Deadline,
	).Scan(&n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *PGRepository) PendingNotifications(ctx context.Context) ([]*Notification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, incident_id, channel, status, scheduled_at, deadline, sent_at, retry_count, created_at
		FROM public.breach_notifications
		WHERE status IN ('PENDING', 'FAILED') AND scheduled_at <= now()
		ORDER BY deadline ASC`)
	if err != nil {
		return nil, fmt.Errorf("pending notifications: %w", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n := &Notification{}
		if err := rows.Scan(&n.ID, &n.IncidentID, &n.Channel, &n.Status,
			&n.ScheduledAt, &n.Deadline, &n.SentAt, &n.RetryCount, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *PGRepository) UpdateNotification(ctx context.Context, n *Notification) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE public.breach_notifications
		SET status = $2, sent_at = $3, retry_count = $4
		WHERE id = $1`,
		n.ID, n.Status, n.SentAt, n.RetryCount)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanIncident(row pgx.Row) (*Incident, error) {
	inc := &Incident{}
	var tenantSlug *string
	var timeline []byte
	err := row.Scan(&inc.ID, &tenantSlug, &inc.Type, &inc.Severity, &inc.Status,
		&inc.Title, &inc.Description, &inc.PHIInvolved, &inc.AffectedPatients,
		&inc.ReportedBy, &timeline, &inc.ContainedAt, &inc.RemediatedAt,
		&inc.DetectedAt, &inc.CreatedAt, &inc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if tenantSlug != nil {
		inc.TenantSlug = *tenantSlug
	}
	if len(timeline) > 0 {
		if err := json.Unmarshal(timeline, &inc.Timeline); err != nil {
			return nil, fmt.Errorf("unmarshal timeline: %w", err)
		}
	}
	return inc, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
