package medicalrecord

import (
	"time"

	"github.com/google/uuid"
)

// Valid record types.
var validRecordTypes = map[string]bool{
	"consultation": true,
	"admission":    true,
	"discharge":    true,
	"lab_result":   true,
	"imaging":      true,
	"procedure":    true,
}

// Record is one entry in a patient's chart. Diagnosis and Notes are PHI and
// are stored encrypted; the struct always holds the plaintext form, the
// repository layer only ever sees ciphertext.
type Record struct {
	ID          uuid.UUID `json:"id"`
	PatientID   uuid.UUID `json:"patient_id"`
	PhysicianID string    `json:"physician_id"`
	RecordType  string    `json:"record_type"`
	Diagnosis   string    `json:"diagnosis"`
	Notes       string    `json:"notes"`
	RecordedAt  time.Time `json:"recorded_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
