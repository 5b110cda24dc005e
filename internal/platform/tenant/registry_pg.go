package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRegistry stores the tenant directory in public.tenants.
type PGRegistry struct {
	pool *pgxpool.Pool
}

// NewPGRegistry creates a registry backed by the given pool.
func NewPGRegistry(pool *pgxpool.Pool) *PGRegistry {
	return &PGRegistry{pool: pool}
}

func (r *PGRegistry) Create(ctx context.Context, t *Tenant) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO public.tenants (id, name, slug, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		t.ID, t.Name, t.Slug, t.Status,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrSlugTaken
		}
		return fmt.Errorf("insert tenant %s: %w", t.Slug, err)
	}
	return nil
}

func (r *PGRegistry) GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	return r.get(ctx, "id = $1", id)
}

func (r *PGRegistry) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return r.get(ctx, "slug = $1", slug)
}

func (r *PGRegistry) get(ctx context.Context, cond string, arg any) (*Tenant, error) {
	var t Tenant
	err := r.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, name, slug, status, created_at, updated_at
		FROM public.tenants WHERE %s`, cond), arg,
	).Scan(&t.ID, &t.Name, &t.Slug, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &t, nil
}

func (r *PGRegistry) List(ctx context.Context, limit, offset int) ([]*Tenant, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM public.tenants`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tenants: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, name, slug, status, created_at, updated_at
		FROM public.tenants
		ORDER BY created_at
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate tenants: %w", err)
	}
	return tenants, total, nil
}

func (r *PGRegistry) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE public.tenants SET status = $1, updated_at = NOW()
		WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update tenant status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRegistry) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM public.tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
