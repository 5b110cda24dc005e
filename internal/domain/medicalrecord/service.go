package medicalrecord

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carelink/hospital-api/internal/platform/hipaa"
)

// Service owns chart-entry business rules. PHI fields are encrypted before
// the repository sees them and decrypted on the way out, and every read or
// write lands a record-level entry on the audit trail with the patient
// identifier attached.
type Service struct {
	repo  Repository
	crypt *hipaa.EncryptionService
	audit *hipaa.Trail
}

func NewService(repo Repository, crypt *hipaa.EncryptionService, audit *hipaa.Trail) *Service {
	return &Service{repo: repo, crypt: crypt, audit: audit}
}

func (s *Service) Create(ctx context.Context, rec *Record, userID string) error {
	if rec.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if rec.PhysicianID == "" {
		return fmt.Errorf("physician_id is required")
	}
	if !validRecordTypes[rec.RecordType] {
		return fmt.Errorf("invalid record_type: %s", rec.RecordType)
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	stored := *rec
	var err error
	if stored.Diagnosis, err = s.crypt.EncryptField(rec.Diagnosis); err != nil {
		return fmt.Errorf("encrypt diagnosis: %w", err)
	}
	if stored.Notes, err = s.crypt.EncryptField(rec.Notes); err != nil {
		return fmt.Errorf("encrypt notes: %w", err)
	}

	if err := s.repo.Create(ctx, &stored); err != nil {
		return err
	}
	rec.CreatedAt, rec.UpdatedAt = stored.CreatedAt, stored.UpdatedAt

	s.audit.LogPHIAccess(ctx, userID, rec.PatientID.String(), "medical_record", hipaa.ActionPHICreate,
		map[string]any{"record_id": rec.ID.String(), "record_type": rec.RecordType})
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID, userID string) (*Record, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.decrypt(rec); err != nil {
		return nil, err
	}

	s.audit.LogPHIAccess(ctx, userID, rec.PatientID.String(), "medical_record", hipaa.ActionPHIAccess,
		map[string]any{"record_id": rec.ID.String()})
	return rec, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, userID string, limit, offset int) ([]*Record, int, error) {
	records, total, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, rec := range records {
		if err := s.decrypt(rec); err != nil {
			return nil, 0, err
		}
	}

	s.audit.LogPHIAccess(ctx, userID, patientID.String(), "medical_record", hipaa.ActionPHIAccess,
		map[string]any{"count": len(records)})
	return records, total, nil
}

func (s *Service) Update(ctx context.Context, rec *Record, userID string) error {
	if rec.RecordType != "" && !validRecordTypes[rec.RecordType] {
		return fmt.Errorf("invalid record_type: %s", rec.RecordType)
	}

	stored := *rec
	var err error
	if stored.Diagnosis, err = s.crypt.EncryptField(rec.Diagnosis); err != nil {
		return fmt.Errorf("encrypt diagnosis: %w", err)
	}
	if stored.Notes, err = s.crypt.EncryptField(rec.Notes); err != nil {
		return fmt.Errorf("encrypt notes: %w", err)
	}
	if err := s.repo.Update(ctx, &stored); err != nil {
		return err
	}

	s.audit.LogPHIAccess(ctx, userID, rec.PatientID.String(), "medical_record", hipaa.ActionPHIUpdate,
		map[string]any{"record_id": rec.ID.String()})
	return nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID, userID string) error {
	// Load first so the audit entry can carry the patient identifier.
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.audit.LogPHIAccess(ctx, userID, rec.PatientID.String(), "medical_record", hipaa.ActionPHIDelete,
		map[string]any{"record_id": id.String()})
	return nil
}

func (s *Service) decrypt(rec *Record) error {
	var err error
	if rec.Diagnosis, err = s.crypt.DecryptField(rec.Diagnosis); err != nil {
		return fmt.Errorf("decrypt diagnosis: %w", err)
	}
	if rec.Notes, err = s.crypt.DecryptField(rec.Notes); err != nil {
		return fmt.Errorf("decrypt notes: %w", err)
	}
	return nil
}
