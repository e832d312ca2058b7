package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/schemehealth/claims/internal/config"
	"github.com/schemehealth/claims/internal/domain/admission"
	"github.com/schemehealth/claims/internal/domain/claims"
	"github.com/schemehealth/claims/internal/domain/payment"
	"github.com/schemehealth/claims/internal/domain/preauth"
	"github.com/schemehealth/claims/internal/domain/referral"
	"github.com/schemehealth/claims/internal/domain/tariff"
	"github.com/schemehealth/claims/internal/platform/auth"
	"github.com/schemehealth/claims/internal/platform/db"
	"github.com/schemehealth/claims/internal/platform/events"
	"github.com/schemehealth/claims/internal/platform/jsonx"
	"github.com/schemehealth/claims/internal/platform/lock"
	"github.com/schemehealth/claims/internal/platform/middleware"
	"github.com/schemehealth/claims/internal/platform/sandbox"
	"github.com/schemehealth/claims/internal/platform/telemetry"
	"github.com/schemehealth/claims/internal/platform/validation"
	"github.com/schemehealth/claims/internal/platform/webhook"
	"github.com/schemehealth/claims/internal/platform/websocket"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "claims-server",
		Short: "Scheme claims and payment batch API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(schemeCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the claims API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfig{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			scheme, _ := cmd.Flags().GetString("scheme")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaName(scheme)
			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, dir).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("scheme", "default", "Scheme whose schema is migrated")
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			scheme, _ := cmd.Flags().GetString("scheme")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaName(scheme)
			statuses, err := db.NewMigrator(pool, dir).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("scheme", "default", "Scheme whose schema is inspected")
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func schemeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheme",
		Short: "Manage insurance schemes",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and migrate a scheme schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating scheme schema: %s\n", db.SchemaName(name))
			if err := db.CreateSchemeSchema(ctx, pool, name, cfg.MigrationsDir); err != nil {
				return err
			}
			fmt.Println("Scheme created and migrated.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Scheme identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed a scheme with a demo tariff catalog, approved referrals and PA codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			scheme, _ := cmd.Flags().GetString("scheme")
			referrals, _ := cmd.Flags().GetInt("referrals")
			seed, _ := cmd.Flags().GetInt64("seed")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			conn, err := pool.Acquire(ctx)
			if err != nil {
				return fmt.Errorf("acquire connection: %w", err)
			}
			defer conn.Release()
			schema := pgx.Identifier{db.SchemaName(scheme)}.Sanitize()
			if _, err := conn.Exec(ctx, "SET search_path TO "+schema+", public"); err != nil {
				return fmt.Errorf("select scheme %s: %w", scheme, err)
			}
			defer conn.Exec(context.Background(), "RESET search_path") //nolint:errcheck
			ctx = db.WithConn(ctx, scheme, conn)

			svcs := wireServices(pool, lock.NopLocker{}, events.NewLogPublisher(logger), logger, cfg)
			seeder := sandbox.NewSeeder(sandbox.SeedConfig{
				ReferralCount:       referrals,
				FFSCodesPerReferral: 2,
				Seed:                seed,
			}, svcs.tariff, svcs.referral, svcs.preauth, logger)

			res, err := seeder.Seed(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Seeded %d bundle(s), %d referral(s), %d PA code(s) into %s.\n",
				len(res.Bundles), len(res.Referrals), len(res.PACodes), db.SchemaName(scheme))
			return nil
		},
	}
	cmd.Flags().String("scheme", "default", "Scheme to seed")
	cmd.Flags().Int("referrals", sandbox.DefaultSeedConfig().ReferralCount, "Number of approved referrals to create")
	cmd.Flags().Int64("seed", 1, "Random seed for reproducible data")
	return cmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// signingKey decodes AUTH_SIGNING_KEY, accepting hex or a raw secret.
func signingKey(raw string) []byte {
	if raw == "" {
		return nil
	}
	if decoded, err := hex.DecodeString(raw); err == nil && len(decoded) >= 16 {
		return decoded
	}
	return []byte(raw)
}

// buildLocker returns the lock backend and a function that closes it.
func buildLocker(ctx context.Context, cfg *config.Config) (lock.Locker, func(), error) {
	if cfg.LockBackend != "redis" {
		return lock.NopLocker{}, func() {}, nil
	}
	client, err := lock.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return lock.NewRedisLocker(client, "claims:", cfg.LockTTL), func() { client.Close() }, nil
}

func buildPublisher(cfg *config.Config, logger zerolog.Logger) (events.Publisher, func(), error) {
	switch cfg.EventsBackend {
	case "amqp":
	case "webhook":
		endpoints := make([]webhook.Endpoint, len(cfg.WebhookURLs))
		for i, u := range cfg.WebhookURLs {
			endpoints[i] = webhook.Endpoint{URL: u, Events: cfg.WebhookEvents}
		}
		pub, err := webhook.NewPublisher(endpoints, cfg.WebhookSecret, logger.With().Str("component", "webhook").Logger())
		if err != nil {
			return nil, nil, err
		}
		return pub, func() {}, nil
	default:
		return events.NewLogPublisher(logger), func() {}, nil
	}
	pub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		return nil, nil, err
	}
	return pub, func() {
		if err := pub.Close(); err != nil {
			logger.Warn().Err(err).Msg("close amqp publisher")
		}
	}, nil
}

type services struct {
	tariff    *tariff.Service
	preauth   *preauth.Service
	referral  *referral.Service
	admission *admission.Service
	claims    *claims.Service
	payment   *payment.Service

	// stream is nil outside the HTTP server.
	stream *websocket.Hub
}

func wireServices(pool *pgxpool.Pool, locker lock.Locker, pub events.Publisher, logger zerolog.Logger, cfg *config.Config) *services {
	tx := db.NewTransactor(pool)

	tariffSvc := tariff.NewService(tariff.NewRepoPG(pool), tx)
	paSvc := preauth.NewService(preauth.NewRepoPG(pool), logger.With().Str("component", "preauth").Logger())
	referralSvc := referral.NewService(referral.NewRepoPG(pool), tx, tariffSvc, paSvc,
		logger.With().Str("component", "referral").Logger())
	referralSvc.SetValidityMonths(cfg.ReferralValidityMonths)
	admissionSvc := admission.NewService(admission.NewRepoPG(pool), tx, referralSvc, tariffSvc, paSvc, pub,
		logger.With().Str("component", "admission").Logger())
	claimsSvc := claims.NewService(claims.NewRepoPG(pool), tx, referralSvc, admissionSvc, tariffSvc, paSvc, locker, pub,
		logger.With().Str("component", "claims").Logger())
	paymentSvc := payment.NewService(payment.NewRepoPG(pool), tx, claimsSvc, locker, pub,
		logger.With().Str("component", "payment").Logger())

	return &services{
		tariff:    tariffSvc,
		preauth:   paSvc,
		referral:  referralSvc,
		admission: admissionSvc,
		claims:    claimsSvc,
		payment:   paymentSvc,
	}
}

// newServer builds the echo instance with global middleware, the
// authenticated /api/v1 group and every domain route.
func newServer(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, metrics *telemetry.Metrics, svcs *services) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger, cfg.IsDev())
	e.Validator = validation.New()
	e.JSONSerializer = jsonx.Serializer{}

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", db.SchemeHeader},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, cfg.DefaultScheme))
	e.GET("/metrics", metrics.Handler())

	var authMW echo.MiddlewareFunc
	if cfg.ResolvedAuthMode() == "development" {
		logger.Warn().Msg("development auth enabled: requests are trusted without a token")
		authMW = auth.DevAuthMiddleware()
	} else {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: signingKey(cfg.AuthSigningKey),
		})
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	apiV1 := e.Group("/api/v1", authMW, db.SchemeMiddleware(pool, cfg.DefaultScheme), middleware.RateLimit(rateLimitCfg))

	tariff.NewHandler(svcs.tariff).RegisterRoutes(apiV1)
	preauth.NewHandler(svcs.preauth).RegisterRoutes(apiV1)
	referral.NewHandler(svcs.referral).RegisterRoutes(apiV1)
	admission.NewHandler(svcs.admission).RegisterRoutes(apiV1)
	claims.NewHandler(svcs.claims).RegisterRoutes(apiV1)
	payment.NewHandler(svcs.payment).RegisterRoutes(apiV1)
	if svcs.stream != nil {
		websocket.NewHandler(svcs.stream, cfg.CORSOrigins).RegisterRoutes(apiV1)
	}

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	locker, closeLocker, err := buildLocker(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to lock backend: %w", err)
	}
	defer closeLocker()

	pub, closePub, err := buildPublisher(cfg, logger)
	if err != nil {
		return fmt.Errorf("connect to event broker: %w", err)
	}
	defer closePub()
	logger.Info().Str("locks", cfg.LockBackend).Str("events", cfg.EventsBackend).Msg("backends ready")

	hub := websocket.NewHub(logger.With().Str("component", "stream").Logger())
	metrics := telemetry.New().WithPool(pool)
	svcs := wireServices(pool, locker, metrics.Publisher(events.Fanout{pub, hub}), logger, cfg)
	svcs.stream = hub
	e := newServer(cfg, logger, pool, metrics, svcs)

	serveErr := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
