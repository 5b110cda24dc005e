package tenant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/carelink/hospital-api/internal/platform/db"
)

// baselineTables are the per-tenant tables created at provisioning time.
// %[1]s is the schema name, which is derived from a validated slug and safe
// to interpolate.
var baselineTables = []string{
	`CREATE TABLE %[1]s.medical_records (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		patient_id UUID NOT NULL,
		physician_id VARCHAR(64) NOT NULL,
		record_type VARCHAR(50) NOT NULL,
		diagnosis TEXT,
		notes TEXT,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_at TIMESTAMPTZ DEFAULT NOW(),
		updated_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE TABLE %[1]s.devices (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name VARCHAR(255) NOT NULL,
		token_hash CHAR(64) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'active',
		failed_attempts INT NOT NULL DEFAULT 0,
		suspended_until TIMESTAMPTZ,
		last_seen_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE TABLE %[1]s.billings (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		patient_id VARCHAR(255) NOT NULL,
		invoice_number VARCHAR(50) UNIQUE NOT NULL,
		total_charges DECIMAL(12,2) DEFAULT 0,
		balance DECIMAL(12,2) DEFAULT 0,
		status VARCHAR(20) DEFAULT 'open',
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE TABLE %[1]s.prescriptions (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		patient_id VARCHAR(255) NOT NULL,
		prescription_number VARCHAR(50) UNIQUE NOT NULL,
		status VARCHAR(20) DEFAULT 'pending',
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE TABLE %[1]s.lab_orders (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		patient_id VARCHAR(255) NOT NULL,
		order_number VARCHAR(50) UNIQUE NOT NULL,
		status VARCHAR(20) DEFAULT 'pending',
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE INDEX idx_medical_records_patient ON %[1]s.medical_records(patient_id)`,
	`CREATE INDEX idx_billings_patient ON %[1]s.billings(patient_id)`,
	`CREATE INDEX idx_prescriptions_patient ON %[1]s.prescriptions(patient_id)`,
	`CREATE INDEX idx_lab_orders_patient ON %[1]s.lab_orders(patient_id)`,
}

// Provisioner manages the tenant lifecycle: registry row plus schema,
// created and destroyed together.
type Provisioner struct {
	registry      Registry
	pool          *pgxpool.Pool
	migrationsDir string
	logger        zerolog.Logger
}

// NewProvisioner creates a Provisioner. migrationsDir may be empty, in which
// case only the embedded baseline tables are created for new tenants.
func NewProvisioner(registry Registry, pool *pgxpool.Pool, migrationsDir string, logger zerolog.Logger) *Provisioner {
	return &Provisioner{
		registry:      registry,
		pool:          pool,
		migrationsDir: migrationsDir,
		logger:        logger.With().Str("component", "tenant_provisioner").Logger(),
	}
}

// Create provisions a new active tenant: registry row, schema, baseline
// tables, seed data, then any configured migrations.
//
// If any step after the registry insert fails, the registry row is rolled
// back; if the rollback itself fails the tenant is marked inactive so it can
// never be resolved as active with a missing or partial schema. Schema
// creation uses plain CREATE SCHEMA (no IF NOT EXISTS): a reused slug either
// gets a genuinely fresh schema or the create fails, which is the fresh-
// schema guarantee the directory relies on.
func (p *Provisioner) Create(ctx context.Context, name, slug string) (*Tenant, error) {
	if !ValidSlug(slug) {
		return nil, fmt.Errorf("invalid tenant slug %q", slug)
	}

	t := &Tenant{
		ID:     uuid.New(),
		Name:   name,
		Slug:   slug,
		Status: StatusActive,
	}
	if err := p.registry.Create(ctx, t); err != nil {
		return nil, err
	}

	if err := p.provisionSchema(ctx, t.Slug); err != nil {
		p.rollback(ctx, t)
		return nil, fmt.Errorf("provision schema for %s: %w", slug, err)
	}

	p.logger.Info().Str("slug", slug).Str("schema", SchemaName(slug)).Msg("tenant provisioned")
	return t, nil
}

func (p *Provisioner) provisionSchema(ctx context.Context, slug string) error {
	schema := SchemaName(slug)

	if _, err := p.pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA %s", schema)); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	for _, stmt := range baselineTables {
		if _, err := p.pool.Exec(ctx, fmt.Sprintf(stmt, schema)); err != nil {
			p.dropSchema(ctx, schema)
			return fmt.Errorf("create baseline tables: %w", err)
		}
	}

	if err := p.seed(ctx, schema); err != nil {
		p.dropSchema(ctx, schema)
		return err
	}

	if p.migrationsDir != "" {
		migrator := db.NewMigrator(p.pool, p.migrationsDir)
		if _, err := migrator.Up(ctx, schema); err != nil {
			p.dropSchema(ctx, schema)
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	return nil
}

func (p *Provisioner) seed(ctx context.Context, schema string) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.medical_records (patient_id, record_type)
		VALUES ('system', 'initialization')`, schema))
	if err != nil {
		return fmt.Errorf("seed tenant data: %w", err)
	}
	return nil
}

// rollback removes the registry row after a failed provision. If even that
// fails, the tenant is marked inactive: it must never be observable as
// active without a complete schema.
func (p *Provisioner) rollback(ctx context.Context, t *Tenant) {
	if err := p.registry.Delete(ctx, t.ID); err != nil {
		p.logger.Error().Err(err).Str("slug", t.Slug).
			Msg("rollback of registry row failed, marking tenant inactive")
		if err := p.registry.UpdateStatus(ctx, t.ID, StatusInactive); err != nil {
			p.logger.Error().Err(err).Str("slug", t.Slug).
				Msg("failed to mark half-provisioned tenant inactive")
		}
	}
}

// Delete destroys a tenant: schema first (cascading to all tenant tables),
// then the registry row. The ordering is deliberate and consistent — a
// tenant whose schema is gone but whose row briefly remains resolves as a
// normal lookup and then fails the schema pin, rather than leaking another
// tenant's data.
func (p *Provisioner) Delete(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	t, err := p.registry.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	p.dropSchema(ctx, SchemaName(t.Slug))

	if err := p.registry.Delete(ctx, t.ID); err != nil {
		return nil, fmt.Errorf("delete tenant row for %s: %w", t.Slug, err)
	}

	p.logger.Info().Str("slug", t.Slug).Msg("tenant deleted")
	return t, nil
}

func (p *Provisioner) dropSchema(ctx context.Context, schema string) {
	if _, err := p.pool.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema)); err != nil {
		p.logger.Error().Err(err).Str("schema", schema).Msg("drop schema failed")
	}
}
