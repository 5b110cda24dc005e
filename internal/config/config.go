package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	JWTSigningKey      string        `mapstructure:"JWT_SIGNING_KEY"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
	PHIEncryptionKey   string        `mapstructure:"PHI_ENCRYPTION_KEY"`
	AuditSigningKey    string        `mapstructure:"AUDIT_SIGNING_KEY"`
	AuditFlushInterval time.Duration `mapstructure:"AUDIT_FLUSH_INTERVAL"`
	MigrationsDir      string        `mapstructure:"MIGRATIONS_DIR"`
	TLSEnabled         bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile        string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile         string        `mapstructure:"TLS_KEY_FILE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("AUDIT_FLUSH_INTERVAL", "5s")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("JWT_SIGNING_KEY")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("PHI_ENCRYPTION_KEY")
	v.BindEnv("AUDIT_SIGNING_KEY")
	v.BindEnv("AUDIT_FLUSH_INTERVAL")
	v.BindEnv("MIGRATIONS_DIR")
	v.BindEnv("TLS_ENABLED")
	v.BindEnv("TLS_CERT_FILE")
	v.BindEnv("TLS_KEY_FILE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. In production the
// PHI encryption key, the audit signing key, and the JWT signing key are all
// required; whenever a hex key is supplied it must be a 64-character hex
// string (32 bytes decoded). The server refuses to start with a misconfigured
// key rather than silently running without field encryption or with forgeable
// audit signatures.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.PHIEncryptionKey == "" {
			return fmt.Errorf("PHI_ENCRYPTION_KEY is required in production")
		}
		if c.AuditSigningKey == "" {
			return fmt.Errorf("AUDIT_SIGNING_KEY is required in production")
		}
		if c.JWTSigningKey == "" {
			return fmt.Errorf("JWT_SIGNING_KEY is required in production")
		}
	}

	if err := validateHexKey("PHI_ENCRYPTION_KEY", c.PHIEncryptionKey); err != nil {
		return err
	}
	if err := validateHexKey("AUDIT_SIGNING_KEY", c.AuditSigningKey); err != nil {
		return err
	}

	if c.AuditFlushInterval <= 0 {
		return fmt.Errorf("AUDIT_FLUSH_INTERVAL must be positive, got %s", c.AuditFlushInterval)
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}

func validateHexKey(name, key string) error {
	if key == "" {
		return nil
	}
	keyBytes, err := hex.DecodeString(key)
	if err != nil {
		return fmt.Errorf("%s is not valid hex: %w", name, err)
	}
	if len(keyBytes) != 32 {
		return fmt.Errorf("%s must be 32 bytes (64 hex chars), got %d bytes", name, len(keyBytes))
	}
	return nil
}
