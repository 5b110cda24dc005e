package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Port:               "8000",
		Env:                "development",
		DatabaseURL:        "postgres://localhost/hospital",
		DBMaxConns:         20,
		DBMinConns:         5,
		AuditFlushInterval: 5 * time.Second,
	}
}

func TestValidate_DevelopmentDefaults(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid development config, got %v", err)
	}
}

func TestValidate_ProductionRequiresKeys(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "missing PHI key",
			mutate: func(c *Config) {},
			want:   "PHI_ENCRYPTION_KEY",
		},
		{
			name: "missing audit key",
			mutate: func(c *Config) {
				c.PHIEncryptionKey = strings.Repeat("ab", 32)
			},
			want: "AUDIT_SIGNING_KEY",
		},
		{
			name: "missing jwt key",
			mutate: func(c *Config) {
				c.PHIEncryptionKey = strings.Repeat("ab", 32)
				c.AuditSigningKey = strings.Repeat("cd", 32)
			},
			want: "JWT_SIGNING_KEY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Env = "production"
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}

func TestValidate_KeyFormat(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid 64 hex chars", strings.Repeat("0f", 32), false},
		{"not hex", strings.Repeat("zz", 32), true},
		{"too short", "0f0f0f", true},
		{"empty is allowed in dev", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.PHIEncryptionKey = tt.key

			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}

func TestValidate_TLSFilesRequired(t *testing.T) {
	cfg := validConfig()
	cfg.TLSEnabled = true

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when TLS enabled without cert file")
	}

	cfg.TLSCertFile = "server.crt"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when TLS enabled without key file")
	}

	cfg.TLSKeyFile = "server.key"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid TLS config, got %v", err)
	}
}

func TestValidate_FlushInterval(t *testing.T) {
	cfg := validConfig()
	cfg.AuditFlushInterval = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero flush interval")
	}
}
