package hipaa

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

// FieldEncryptor encrypts and decrypts individual PHI field values.
type FieldEncryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// PHIEncryptor provides AES-256-GCM field-level encryption and decryption for PHI data.
type PHIEncryptor struct {
	aead cipher.AEAD
}

// NewPHIEncryptor creates a new PHIEncryptor with the given 32-byte AES-256 key.
func NewPHIEncryptor(key []byte) (*PHIEncryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("phi encryptor: key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("phi encryptor: create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("phi encryptor: create GCM: %w", err)
	}

	return &PHIEncryptor{aead: aead}, nil
}

// Encrypt encrypts the plaintext string and returns a base64-encoded ciphertext
// with the nonce prepended.
func (e *PHIEncryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("phi encrypt: generate nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, so the result is nonce + ciphertext.
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt decodes the base64 ciphertext, extracts the prepended nonce, and decrypts.
func (e *PHIEncryptor) Decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("phi decrypt: base64 decode: %w", err)
	}

	nonceSize := e.aead.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("phi decrypt: ciphertext too short")
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("phi decrypt: %w", err)
	}
	return string(plaintext), nil
}

// IntegritySigner produces keyed HMAC-SHA256 signatures over audit record
// content and keyed hashes of patient identifiers. The key never leaves the
// process, so a stored signature cannot be recomputed by anyone who can only
// read the database.
type IntegritySigner struct {
	key []byte
}

// NewIntegritySigner creates a signer with the given key. The key must be
// non-empty; key length is otherwise unconstrained (HMAC handles both short
// and long keys).
func NewIntegritySigner(key []byte) (*IntegritySigner, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("integrity signer: key must not be empty")
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &IntegritySigner{key: k}, nil
}

// Sign returns the hex-encoded HMAC-SHA256 signature of data.
func (s *IntegritySigner) Sign(data string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is a valid signature of data. Comparison
// is constant-time.
func (s *IntegritySigner) Verify(data, signature string) bool {
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(data))
	return hmac.Equal(sig, mac.Sum(nil))
}

// HashIdentifier returns a deterministic keyed hash of a patient identifier.
// The raw identifier must never reach storage; repositories and the audit
// trail store only this hash.
func (s *IntegritySigner) HashIdentifier(id string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte("id:"))
	mac.Write([]byte(id))
	return hex.EncodeToString(mac.Sum(nil))
}
