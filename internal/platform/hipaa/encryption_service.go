package hipaa

import (
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog"
)

// EncryptionService is the field-level encryption facade handed to domain
// services. Unlike the raw PHIEncryptor it tolerates running without a key:
// development instances get pass-through crypto and a loud warning, while a
// malformed key is a startup error rather than silently unencrypted PHI.
type EncryptionService struct {
	encryptor FieldEncryptor
	enabled   bool
}

// NewEncryptionService builds the facade from a hex-encoded key. An empty key
// disables encryption; anything else must decode to exactly 32 bytes
// (AES-256).
func NewEncryptionService(key string, logger zerolog.Logger) (*EncryptionService, error) {
	if key == "" {
		logger.Warn().Msg("PHI field encryption disabled: PHI_ENCRYPTION_KEY is not set")
		return &EncryptionService{enabled: false}, nil
	}

	keyBytes, err := hex.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("PHI_ENCRYPTION_KEY is not valid hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("PHI_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
	}

	enc, err := NewPHIEncryptor(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("create PHI encryptor: %w", err)
	}

	logger.Info().Msg("PHI field-level encryption enabled")
	return &EncryptionService{encryptor: enc, enabled: true}, nil
}

// EncryptField encrypts one PHI field value, or returns it unchanged when
// encryption is disabled.
func (s *EncryptionService) EncryptField(value string) (string, error) {
	if !s.enabled {
		return value, nil
	}
	return s.encryptor.Encrypt(value)
}

// DecryptField reverses EncryptField.
func (s *EncryptionService) DecryptField(value string) (string, error) {
	if !s.enabled {
		return value, nil
	}
	return s.encryptor.Decrypt(value)
}

// IsEnabled reports whether values round-trip through real encryption.
func (s *EncryptionService) IsEnabled() bool {
	return s.enabled
}
