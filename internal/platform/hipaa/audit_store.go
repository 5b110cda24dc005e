package hipaa

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists audit entries in the shared public.audit_logs table.
// Audit records span tenants, so the table is schema-qualified and writes
// never depend on the request's tenant search_path.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a PGStore backed by the given connection pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const insertColumns = `
	id, user_id, user_role, tenant_slug, patient_id_hash, action, severity,
	resource, resource_id, ip_address, user_agent, request_path, request_method,
	metadata, is_anomaly, session_id, device_id, correlation_id, integrity_hash, created_at`

func entryArgs(e *Entry) ([]any, error) {
	var metadata []byte
	if e.Metadata != nil {
		var err error
		metadata, err = json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal audit metadata: %w", err)
		}
	}
	return []any{
		e.ID, nullable(e.UserID), nullable(e.UserRole), nullable(e.TenantSlug),
		nullable(e.PatientIDHash), e.Action, e.Severity,
		e.Resource, nullable(e.ResourceID), nullable(e.IPAddress), nullable(e.UserAgent),
		nullable(e.RequestPath), nullable(e.RequestMethod),
		metadata, e.IsAnomaly, nullable(e.SessionID), nullable(e.DeviceID),
		nullable(e.CorrelationID), e.IntegrityHash, e.CreatedAt,
	}, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Insert writes a single entry synchronously.
func (s *PGStore) Insert(ctx context.Context, entry *Entry) error {
	args, err := entryArgs(entry)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`INSERT INTO public.audit_logs (%s) VALUES (%s)`,
		insertColumns, placeholders(len(args)))

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// InsertBatch writes entries in a single transaction so a flush is atomic for
// the batch it contains.
func (s *PGStore) InsertBatch(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin audit batch: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	query := fmt.Sprintf(`INSERT INTO public.audit_logs (%s) VALUES (%s)`,
		insertColumns, placeholders(20))
	for _, e := range entries {
		args, err := entryArgs(e)
		if err != nil {
			return err
		}
		batch.Queue(query, args...)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("send audit batch: %w", err)
	}
	return tx.Commit(ctx)
}

// Query returns matching entries ordered newest-first plus the total count
// before pagination.
func (s *PGStore) Query(ctx context.Context, filter QueryFilter) ([]*Entry, int, error) {
	var conds []string
	var args []any

	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.PatientID != "" {
		// Already hashed by Trail.Query; raw identifiers never reach here.
		add("patient_id_hash = $%d", filter.PatientID)
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.Severity != "" {
		add("severity = $%d", filter.Severity)
	}
	if filter.IsAnomaly != nil {
		add("is_anomaly = $%d", *filter.IsAnomaly)
	}
	if !filter.StartDate.IsZero() {
		add("created_at >= $%d", filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		add("created_at <= $%d", filter.EndDate)
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM public.audit_logs %s", where)
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
		SELECT %s FROM public.audit_logs %s
		ORDER BY created_at DESC
		LIMIT %d OFFSET %d`, insertColumns, where, limit, filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate audit entries: %w", err)
	}

	return entries, total, nil
}

func scanEntry(rows pgx.Rows) (*Entry, error) {
	var e Entry
	var userID, userRole, tenantSlug, patientHash, resourceID *string
	var ipAddress, userAgent, requestPath, requestMethod *string
	var sessionID, deviceID, correlationID *string
	var metadata []byte

	if err := rows.Scan(
		&e.ID, &userID, &userRole, &tenantSlug, &patientHash, &e.Action, &e.Severity,
		&e.Resource, &resourceID, &ipAddress, &userAgent, &requestPath, &requestMethod,
		&metadata, &e.IsAnomaly, &sessionID, &deviceID, &correlationID,
		&e.IntegrityHash, &e.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan audit entry: %w", err)
	}

	deref := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	e.UserID = deref(userID)
	e.UserRole = deref(userRole)
	e.TenantSlug = deref(tenantSlug)
	e.PatientIDHash = deref(patientHash)
	e.ResourceID = deref(resourceID)
	e.IPAddress = deref(ipAddress)
	e.UserAgent = deref(userAgent)
	e.RequestPath = deref(requestPath)
	e.RequestMethod = deref(requestMethod)
	e.SessionID = deref(sessionID)
	e.DeviceID = deref(deviceID)
	e.CorrelationID = deref(correlationID)

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
		}
	}
	return &e, nil
}

// CountPHIAccess counts PHI_ACCESS entries by a user since the given time.
func (s *PGStore) CountPHIAccess(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM public.audit_logs
		WHERE user_id = $1 AND action = $2 AND created_at >= $3`,
		userID, ActionPHIAccess, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count phi access for %s: %w", userID, err)
	}
	return count, nil
}

// ActivityReport aggregates audit activity for a compliance reporting period.
func (s *PGStore) ActivityReport(ctx context.Context, start, end time.Time) (*ActivityReport, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT action, severity, COUNT(*)
		FROM public.audit_logs
		WHERE created_at BETWEEN $1 AND $2
		GROUP BY action, severity`, start, end)
	if err != nil {
		return nil, fmt.Errorf("query activity summary: %w", err)
	}
	defer rows.Close()

	report := &ActivityReport{
		PeriodStart: start,
		PeriodEnd:   end,
		GeneratedAt: time.Now().UTC(),
	}
	for rows.Next() {
		var line ActivityLine
		if err := rows.Scan(&line.Action, &line.Severity, &line.Count); err != nil {
			return nil, fmt.Errorf("scan activity line: %w", err)
		}
		report.Summary = append(report.Summary, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity summary: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM public.audit_logs
		WHERE action = $1 AND created_at BETWEEN $2 AND $3`,
		ActionSecurityViolation, start, end,
	).Scan(&report.Violations)
	if err != nil {
		return nil, fmt.Errorf("count violations: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM public.audit_logs
		WHERE is_anomaly AND created_at BETWEEN $1 AND $2`,
		start, end,
	).Scan(&report.Anomalies)
	if err != nil {
		return nil, fmt.Errorf("count anomalies: %w", err)
	}

	return report, nil
}

// ActivityReport summarizes audit activity for a date range.
type ActivityReport struct {
	PeriodStart time.Time      `json:"period_start"`
	PeriodEnd   time.Time      `json:"period_end"`
	Summary     []ActivityLine `json:"summary"`
	Violations  int            `json:"violations"`
	Anomalies   int            `json:"anomalies"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// ActivityLine is one action/severity bucket in an activity report.
type ActivityLine struct {
	Action   Action   `json:"action"`
	Severity Severity `json:"severity"`
	Count    int      `json:"count"`
}

func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(parts, ",")
}
