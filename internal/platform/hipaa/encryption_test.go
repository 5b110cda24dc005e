package hipaa

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0xAB}, 32)
}

func TestPHIEncryptor_RoundTrip(t *testing.T) {
	enc, err := NewPHIEncryptor(testKey())
	if err != nil {
		t.Fatalf("NewPHIEncryptor: %v", err)
	}

	plaintexts := []string{"", "a", "patient SSN 123-45-6789", strings.Repeat("x", 4096)}
	for _, pt := range plaintexts {
		ct, err := enc.Encrypt(pt)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", pt, err)
		}
		if ct == pt && pt != "" {
			t.Errorf("ciphertext equals plaintext for %q", pt)
		}

		got, err := enc.Decrypt(ct)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if got != pt {
			t.Errorf("round trip mismatch: got %q want %q", got, pt)
		}
	}
}

func TestPHIEncryptor_UniqueNonce(t *testing.T) {
	enc, _ := NewPHIEncryptor(testKey())

	a, _ := enc.Encrypt("same value")
	b, _ := enc.Encrypt("same value")
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical ciphertexts")
	}
}

func TestPHIEncryptor_RejectsBadKey(t *testing.T) {
	if _, err := NewPHIEncryptor([]byte("short")); err == nil {
		t.Error("expected error for short key")
	}
}

func TestPHIEncryptor_RejectsTamperedCiphertext(t *testing.T) {
	enc, _ := NewPHIEncryptor(testKey())
	ct, _ := enc.Encrypt("sensitive")

	tampered := "A" + ct[1:]
	if tampered == ct {
		tampered = "B" + ct[1:]
	}
	if _, err := enc.Decrypt(tampered); err == nil {
		t.Error("expected error decrypting tampered ciphertext")
	}

	if _, err := enc.Decrypt("notbase64!!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestIntegritySigner_SignVerify(t *testing.T) {
	signer, err := NewIntegritySigner(testKey())
	if err != nil {
		t.Fatalf("NewIntegritySigner: %v", err)
	}

	data := "user-1|PHI_ACCESS|/patients/42"
	sig := signer.Sign(data)

	if !signer.Verify(data, sig) {
		t.Error("valid signature failed verification")
	}
	if signer.Verify("tampered data", sig) {
		t.Error("signature verified against altered data")
	}
	if signer.Verify(data, sig[:len(sig)-2]+"ff") {
		t.Error("altered signature verified")
	}
	if signer.Verify(data, "not-hex") {
		t.Error("non-hex signature verified")
	}
}

func TestIntegritySigner_DifferentKeysDiffer(t *testing.T) {
	s1, _ := NewIntegritySigner([]byte("key-one"))
	s2, _ := NewIntegritySigner([]byte("key-two"))

	sig := s1.Sign("data")
	if s2.Verify("data", sig) {
		t.Error("signature verified under a different key")
	}
}

func TestIntegritySigner_RejectsEmptyKey(t *testing.T) {
	if _, err := NewIntegritySigner(nil); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestHashIdentifier(t *testing.T) {
	signer, _ := NewIntegritySigner(testKey())

	h1 := signer.HashIdentifier("patient-123")
	h2 := signer.HashIdentifier("patient-123")
	h3 := signer.HashIdentifier("patient-456")

	if h1 != h2 {
		t.Error("hash is not deterministic")
	}
	if h1 == h3 {
		t.Error("different identifiers produced the same hash")
	}
	if strings.Contains(h1, "patient-123") {
		t.Error("hash leaks the raw identifier")
	}
}

func TestEncryptionService_DisabledMode(t *testing.T) {
	svc, err := NewEncryptionService("", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEncryptionService: %v", err)
	}
	if svc.IsEnabled() {
		t.Error("service should be disabled without a key")
	}

	out, err := svc.EncryptField("plain")
	if err != nil || out != "plain" {
		t.Errorf("disabled encrypt should be a no-op, got (%q, %v)", out, err)
	}
}

func TestEncryptionService_EnabledRoundTrip(t *testing.T) {
	key := strings.Repeat("ab", 32)
	svc, err := NewEncryptionService(key, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEncryptionService: %v", err)
	}
	if !svc.IsEnabled() {
		t.Fatal("service should be enabled")
	}

	ct, err := svc.EncryptField("phi value")
	if err != nil {
		t.Fatalf("EncryptField: %v", err)
	}
	pt, err := svc.DecryptField(ct)
	if err != nil {
		t.Fatalf("DecryptField: %v", err)
	}
	if pt != "phi value" {
		t.Errorf("round trip mismatch: %q", pt)
	}
}

func TestEncryptionService_RejectsInvalidKey(t *testing.T) {
	if _, err := NewEncryptionService("nothex", zerolog.Nop()); err == nil {
		t.Error("expected error for invalid hex key")
	}
	if _, err := NewEncryptionService("abcd", zerolog.Nop()); err == nil {
		t.Error("expected error for short key")
	}
}
