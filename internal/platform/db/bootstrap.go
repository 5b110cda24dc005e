package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// bootstrapStatements create the shared public-schema tables. These tables
// are deliberately outside any tenant schema: the tenant directory must be
// readable before a schema is pinned, and audit and incident data must
// survive tenant deletion.
var bootstrapStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS pgcrypto`,
	`CREATE TABLE IF NOT EXISTS public.tenants (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name VARCHAR(255) NOT NULL,
		slug VARCHAR(63) UNIQUE NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS public.audit_logs (
		id UUID PRIMARY KEY,
		user_id VARCHAR(64),
		user_role VARCHAR(64),
		tenant_slug VARCHAR(63),
		patient_id_hash CHAR(64),
		action VARCHAR(50) NOT NULL,
		severity VARCHAR(20) NOT NULL,
		resource VARCHAR(255) NOT NULL,
		resource_id VARCHAR(64),
		ip_address VARCHAR(45),
		user_agent TEXT,
		request_path TEXT,
		request_method VARCHAR(10),
		metadata JSONB,
		is_anomaly BOOLEAN NOT NULL DEFAULT FALSE,
		session_id VARCHAR(64),
		device_id VARCHAR(64),
		correlation_id VARCHAR(64),
		integrity_hash CHAR(64) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_user_created ON public.audit_logs(user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_patient ON public.audit_logs(patient_id_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON public.audit_logs(action, created_at)`,
	`CREATE TABLE IF NOT EXISTS public.security_incidents (
		id UUID PRIMARY KEY,
		tenant_slug VARCHAR(63),
		type VARCHAR(40) NOT NULL,
		severity VARCHAR(20) NOT NULL,
		status VARCHAR(20) NOT NULL,
		title VARCHAR(255) NOT NULL,
		description TEXT,
		phi_involved BOOLEAN NOT NULL DEFAULT FALSE,
		affected_patients INT NOT NULL DEFAULT 0,
		reported_by VARCHAR(64),
		timeline JSONB NOT NULL DEFAULT '[]',
		contained_at TIMESTAMPTZ,
		remediated_at TIMESTAMPTZ,
		detected_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_status ON public.security_incidents(status, detected_at)`,
	`CREATE TABLE IF NOT EXISTS public.breach_notifications (
		id UUID PRIMARY KEY,
		incident_id UUID NOT NULL REFERENCES public.security_incidents(id) ON DELETE CASCADE,
		channel VARCHAR(20) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
		scheduled_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		deadline TIMESTAMPTZ NOT NULL,
		sent_at TIMESTAMPTZ,
		retry_count INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_breach_notifications_pending
		ON public.breach_notifications(status, scheduled_at) WHERE status IN ('PENDING', 'FAILED')`,
}

// Bootstrap creates the shared tables. Idempotent; runs at startup before
// the server accepts traffic.
func Bootstrap(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range bootstrapStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap shared schema: %w", err)
		}
	}
	return nil
}
