package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/carelink/hospital-api/internal/config"
	"github.com/carelink/hospital-api/internal/domain/medicalrecord"
	"github.com/carelink/hospital-api/internal/platform/auth"
	"github.com/carelink/hospital-api/internal/platform/db"
	"github.com/carelink/hospital-api/internal/platform/hipaa"
	"github.com/carelink/hospital-api/internal/platform/incident"
	"github.com/carelink/hospital-api/internal/platform/middleware"
	"github.com/carelink/hospital-api/internal/platform/ratelimit"
	"github.com/carelink/hospital-api/internal/platform/scheduler"
	"github.com/carelink/hospital-api/internal/platform/tenant"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hospital-server",
		Short: "Multi-tenant hospital administration API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run tenant schema migrations",
	}

	var schema, dir string

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations to a tenant schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if schema == "" {
				return fmt.Errorf("--schema is required")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := db.NewMigrator(pool, dir).Up(ctx, schema)
			if err != nil {
				return err
			}
			fmt.Printf("Applied %d migration(s) to %s\n", applied, schema)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status for a tenant schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if schema == "" {
				return fmt.Errorf("--schema is required")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx, schema)
			if err != nil {
				return err
			}
			for _, s := range statuses {
				state := "pending"
				if s.Applied {
					state = "applied"
				}
				fmt.Printf("%4d  %-40s %s\n", s.Version, s.Name, state)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&schema, "schema", "", "Tenant schema name (e.g. tenant_mercy-general)")
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "Migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)
	cmd.AddCommand(statusCmd)
	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	withProvisioner := func(run func(ctx context.Context, p *tenant.Provisioner, r tenant.Registry) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.Bootstrap(ctx, pool); err != nil {
				return err
			}

			registry := tenant.NewPGRegistry(pool)
			return run(ctx, tenant.NewProvisioner(registry, pool, cfg.MigrationsDir, logger), registry)
		}
	}

	var name, slug string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Provision a new tenant and its schema",
		RunE: withProvisioner(func(ctx context.Context, p *tenant.Provisioner, _ tenant.Registry) error {
			if name == "" || slug == "" {
				return fmt.Errorf("--name and --slug are required")
			}
			t, err := p.Create(ctx, name, slug)
			if err != nil {
				return err
			}
			fmt.Printf("Created tenant %s (%s), schema %s\n", t.Name, t.ID, tenant.SchemaName(t.Slug))
			return nil
		}),
	}
	createCmd.Flags().StringVar(&name, "name", "", "Tenant display name")
	createCmd.Flags().StringVar(&slug, "slug", "", "Tenant slug (lowercase alphanumeric, hyphens)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: withProvisioner(func(ctx context.Context, _ *tenant.Provisioner, r tenant.Registry) error {
			tenants, total, err := r.List(ctx, 100, 0)
			if err != nil {
				return err
			}
			for _, t := range tenants {
				fmt.Printf("%s  %-20s %-12s %s\n", t.ID, t.Slug, t.Status, t.Name)
			}
			fmt.Printf("%d tenant(s)\n", total)
			return nil
		}),
	}

	var id string
	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a tenant and drop its schema",
		RunE: withProvisioner(func(ctx context.Context, p *tenant.Provisioner, _ tenant.Registry) error {
			tenantID, err := uuid.Parse(id)
			if err != nil {
				return fmt.Errorf("--id must be a UUID: %w", err)
			}
			t, err := p.Delete(ctx, tenantID)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted tenant %s (%s)\n", t.Slug, t.ID)
			return nil
		}),
	}
	deleteCmd.Flags().StringVar(&id, "id", "", "Tenant ID")

	cmd.AddCommand(createCmd)
	cmd.AddCommand(listCmd)
	cmd.AddCommand(deleteCmd)
	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.IsProduction() {
		if err := cfg.Validate(); err != nil {
			logger.Fatal().Err(err).Msg("invalid production config")
		}
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	if err := db.Bootstrap(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("failed to bootstrap shared schema")
	}
	logger.Info().Msg("connected to database")

	// Audit trail. Dev instances without a configured signing key get an
	// ephemeral one; signatures then only verify within the process lifetime.
	signingKey, err := auditSigningKey(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid AUDIT_SIGNING_KEY")
	}
	signer, err := hipaa.NewIntegritySigner(signingKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create integrity signer")
	}
	trail := hipaa.NewTrail(hipaa.NewPGStore(pool), signer, logger)

	// PHI field encryption
	crypt, err := hipaa.NewEncryptionService(cfg.PHIEncryptionKey, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create encryption service")
	}

	// Platform services
	registry := tenant.NewPGRegistry(pool)
	provisioner := tenant.NewProvisioner(registry, pool, cfg.MigrationsDir, logger)
	limiter := ratelimit.New(logger)
	security := middleware.NewSecurity(limiter, trail, middleware.DefaultRouteProfiles(), logger)
	guard := auth.NewGuard(trail)
	auth.DefaultRules(guard)
	deviceAuth := auth.NewDeviceAuthenticator(auth.NewPGDeviceStore(), trail, logger)

	incidentSvc := incident.NewService(incident.NewPGRepository(pool), trail,
		incident.NewLogNotifier(logger), logger)
	trail.SetAnomalyHandler(incidentSvc.HandleAuditAnomaly)

	recordSvc := medicalrecord.NewService(medicalrecord.NewPGRepository(), crypt, trail)

	jwtCfg := auth.JWTConfig{SigningKey: []byte(cfg.JWTSigningKey), Issuer: "hospital-api"}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware. The security pipeline runs before any route group:
	// rate ceilings and the content scan apply to unauthenticated traffic too.
	// The trade-off is that tenant resolution has not happened yet, so
	// RATE_LIMIT_EXCEEDED and SUSPICIOUS_ACTIVITY audit entries carry no
	// tenant slug. Flagged requests that proceed are attributable anyway:
	// the request log records the resolved tenant under the same
	// correlation id. Rate-limit denials end before resolution and are
	// tied to the caller by address and identity instead.
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.Headers())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Correlation-ID", "X-Tenant-ID", "X-Device-ID", "X-Device-Token"},
	}))
	e.Use(middleware.Sanitize())
	e.Use(security.Middleware())
	e.Use(middleware.PHIAudit(trail, []string{"/api/medical-records", "/api/prescriptions", "/api/lab-orders"}))

	// Health
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": "0.1.0"})
	})
	e.GET("/health/db", func(c echo.Context) error {
		if err := pool.Ping(c.Request().Context()); err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "database unreachable")
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	tenantMW := tenant.Middleware(registry, pool, logger)
	jwtMW := auth.JWTMiddleware(jwtCfg)

	// Tenant-scoped clinical routes: schema pin, then identity, then role gate.
	records := e.Group("/api/medical-records", tenantMW, jwtMW)
	medicalrecord.NewHandler(recordSvc).RegisterRoutes(records,
		guard.Require("medical_records.read"), guard.Require("medical_records.write"))

	// Device telemetry: device credentials instead of JWT, still tenant-scoped.
	telemetry := e.Group("/api/telemetry", tenantMW, deviceAuth.Middleware())
	telemetry.POST("/heartbeat", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	// Shared-schema compliance and admin routes.
	audits := e.Group("/api/audit", jwtMW, guard.Require("audit.read"))
	hipaa.NewHandler(trail).RegisterRoutes(audits)

	incidents := e.Group("/api/incidents", tenantMW, jwtMW)
	incident.NewHandler(incidentSvc).RegisterRoutes(incidents,
		guard.Require("incidents.read"), guard.Require("incidents.write"))

	admin := e.Group("/api/admin/tenants", jwtMW, guard.Require("tenants.manage"))
	tenant.NewHandler(provisioner, registry, trail).RegisterRoutes(admin)

	// Background jobs
	sched := scheduler.New(logger)
	sched.Register(scheduler.Job{
		Name:     "audit-flush",
		Interval: cfg.AuditFlushInterval,
		Run: func(ctx context.Context) error {
			trail.Flush(ctx)
			return nil
		},
	})
	sched.Register(scheduler.Job{
		Name:     "ratelimit-sweep",
		Interval: 5 * time.Minute,
		Run: func(ctx context.Context) error {
			limiter.Sweep()
			return nil
		},
	})
	sched.Register(scheduler.Job{
		Name:     "breach-notifications",
		Interval: time.Minute,
		Run:      incidentSvc.ProcessNotifications,
	})
	sched.Start(ctx)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	sched.Stop()
	trail.Flush(shutdownCtx)
	logger.Info().Msg("server stopped")
	return nil
}

func auditSigningKey(cfg *config.Config, logger zerolog.Logger) ([]byte, error) {
	if cfg.AuditSigningKey != "" {
		return hex.DecodeString(cfg.AuditSigningKey)
	}
	if cfg.IsProduction() {
		return nil, fmt.Errorf("AUDIT_SIGNING_KEY is required in production")
	}
	logger.Warn().Msg("AUDIT_SIGNING_KEY not set: using ephemeral audit signing key")
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}
