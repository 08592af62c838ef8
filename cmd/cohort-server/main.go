package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cohort/cohort/internal/config"
	"github.com/cohort/cohort/internal/domain/cohort"
	"github.com/cohort/cohort/internal/domain/dataset"
	"github.com/cohort/cohort/internal/platform/auth"
	"github.com/cohort/cohort/internal/platform/db"
	"github.com/cohort/cohort/internal/platform/dialect"
	"github.com/cohort/cohort/internal/platform/hipaa"
	"github.com/cohort/cohort/internal/platform/middleware"
	"github.com/cohort/cohort/internal/platform/telemetry"
	"github.com/cohort/cohort/migrations"
)

const appSchema = "app"

func main() {
	rootCmd := &cobra.Command{
		Use:          "cohort-server",
		Short:        "Cohort query compiler and API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(compileCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// newCompiler binds a compiler to the configured warehouse. A non-empty
// dialectName overrides SQL_DIALECT.
func newCompiler(cfg *config.Config, dialectName string) (*cohort.Compiler, error) {
	if dialectName == "" {
		dialectName = cfg.SQLDialect
	}
	d, err := dialect.ForName(dialectName)
	if err != nil {
		return nil, err
	}
	opts, err := cohort.NewOptions(cohort.Options{
		FieldPersonID:    cfg.FieldPersonID,
		FieldEncounterID: cfg.FieldEncounterID,
		AliasPlaceholder: cfg.AliasPlaceholder,
		AppDB:            cfg.AppDB,
		CohortTable:      cfg.CohortTable,
	})
	if err != nil {
		return nil, err
	}
	return cohort.NewCompiler(opts, d)
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

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	compiler, err := newCompiler(cfg, "")
	if err != nil {
		return err
	}

	ctx := context.Background()
	appPool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, "cohort-app")
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to application database")
		return err
	}
	defer appPool.Close()
	logger.Info().Msg("connected to application database")

	metrics := telemetry.New()
	if err := metrics.RegisterPool("app", appPool); err != nil {
		return fmt.Errorf("register pool metrics: %w", err)
	}

	checks := []db.HealthCheck{{Name: "app", Pool: appPool}}
	var (
		warehouse cohort.Warehouse
		extractor dataset.Extractor
	)
	if cfg.ExecutionEnabled() {
		clinPool, err := db.NewPool(ctx, cfg.ClinicalDatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, "cohort-clinical")
		if err != nil {
			logger.Error().Err(err).Msg("failed to connect to clinical database")
			return err
		}
		defer clinPool.Close()
		warehouse = cohort.NewWarehousePG(clinPool)
		extractor = dataset.NewExtractorPG(clinPool)
		checks = append(checks, db.HealthCheck{Name: "clinical", Pool: clinPool})
		if err := metrics.RegisterPool("clinical", clinPool); err != nil {
			return fmt.Errorf("register pool metrics: %w", err)
		}
		logger.Info().Msg("connected to clinical database")
	} else {
		logger.Warn().Str("dialect", cfg.SQLDialect).Msg("query execution disabled; compile endpoints only")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
		Skipper:  auth.AuthSkipper,
	}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	}
	if cfg.ResolvedAuthMode() == "development" {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	e.Use(middleware.Audit(logger, hipaa.NewAuditLogger(appPool)))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"dialect": compiler.Dialect().Name(),
		})
	})
	e.GET("/health/db", db.HealthHandler(checks...))
	e.GET("/metrics", metrics.Handler())

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))

	queries := cohort.NewQueryRepoPG(appPool, cfg.CohortTable)
	concepts := cohort.NewConceptRepoPG(appPool)
	cohortSvc := cohort.NewService(compiler, queries, concepts, warehouse, cfg.QueryTimeout, logger)
	cohort.NewHandler(cohortSvc).RegisterRoutes(apiV1)

	datasetSvc := dataset.NewService(dataset.NewCompiler(compiler), queries, dataset.NewRepoPG(appPool),
		cohortSvc.Resolver(), extractor, cfg.QueryTimeout, logger)
	dataset.NewHandler(datasetSvc).RegisterRoutes(apiV1)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("dialect", compiler.Dialect().Name()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
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
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the application database schema",
	}

	withMigrator := func(fn func(ctx context.Context, m *db.Migrator) error) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx := context.Background()
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, "cohort-migrate")
		if err != nil {
			return err
		}
		defer pool.Close()

		return fn(ctx, db.NewMigrator(pool, migrations.FS, appSchema))
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) to schema %s.\n", count, appSchema)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	})

	return cmd
}
