package medicalrecord

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carelink/hospital-api/internal/platform/db"
)

// PGRepository reads and writes medical_records on the tenant schema. Table
// names are deliberately unqualified: the pinned connection's search_path
// selects the tenant, and reusing this code against the wrong schema is
// impossible without also holding the wrong connection.
type PGRepository struct{}

func NewPGRepository() *PGRepository { return &PGRepository{} }

func (r *PGRepository) querier(ctx context.Context) (db.Querier, error) {
	conn := db.ConnFromContext(ctx)
	if conn == nil {
		return nil, errors.New("no tenant connection on context")
	}
	return conn, nil
}

func (r *PGRepository) Create(ctx context.Context, rec *Record) error {
	q, err := r.querier(ctx)
	if err != nil {
		return err
	}
	err = q.QueryRow(ctx, `
		INSERT INTO medical_records (id, patient_id, physician_id, record_type, diagnosis, notes, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		rec.ID, rec.PatientID, rec.PhysicianID, rec.RecordType, rec.Diagnosis, rec.Notes, rec.RecordedAt,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert medical record: %w", err)
	}
	return nil
}

const recordColumns = `id, patient_id, physician_id, record_type, diagnosis, notes, recorded_at, created_at, updated_at`

func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	q, err := r.querier(ctx)
	if err != nil {
		return nil, err
	}
	rec := &Record{}
	err = q.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM medical_records WHERE id = $1`, recordColumns), id).
		Scan(&rec.ID, &rec.PatientID, &rec.PhysicianID, &rec.RecordType,
			&rec.Diagnosis, &rec.Notes, &rec.RecordedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get medical record: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	q, err := r.querier(ctx)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := q.QueryRow(ctx,
		`SELECT count(*) FROM medical_records WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count medical records: %w", err)
	}

	rows, err := q.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM medical_records
		WHERE patient_id = $1
		ORDER BY recorded_at DESC LIMIT $2 OFFSET $3`, recordColumns),
		patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list medical records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec := &Record{}
		if err := rows.Scan(&rec.ID, &rec.PatientID, &rec.PhysicianID, &rec.RecordType,
			&rec.Diagnosis, &rec.Notes, &rec.RecordedAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan medical record: %w", err)
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

func (r *PGRepository) Update(ctx context.Context, rec *Record) error {
	q, err := r.querier(ctx)
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx, `
		UPDATE medical_records
		SET record_type = $2, diagnosis = $3, notes = $4, updated_at = NOW()
		WHERE id = $1`,
		rec.ID, rec.RecordType, rec.Diagnosis, rec.Notes)
	if err != nil {
		return fmt.Errorf("update medical record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) error {
	q, err := r.querier(ctx)
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx, `DELETE FROM medical_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete medical record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
