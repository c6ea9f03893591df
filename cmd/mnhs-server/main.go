package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/mnhs/mnhs/internal/config"
	"github.com/mnhs/mnhs/internal/domain/billing"
	"github.com/mnhs/mnhs/internal/domain/medication"
	"github.com/mnhs/mnhs/internal/domain/overview"
	"github.com/mnhs/mnhs/internal/platform/db"
	"github.com/mnhs/mnhs/internal/platform/middleware"
	"github.com/mnhs/mnhs/internal/platform/reporting"
	"github.com/mnhs/mnhs/internal/platform/telemetry"
	"github.com/mnhs/mnhs/migrations"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Money amounts are emitted as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "mnhs-server",
		Short:        "MNHS hospital operations reporting API",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(reportCmd())
	return root
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var out io.Writer = os.Stdout
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "mnhs").Logger()
}

// loadConfig loads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// migrationSource prefers dir on disk when it holds migration files and
// falls back to the embedded set.
func migrationSource(dir string) fs.FS {
	if dir != "" {
		if matches, err := fs.Glob(os.DirFS(dir), "*.sql"); err == nil && len(matches) > 0 {
			return os.DirFS(dir)
		}
	}
	return migrations.FS
}

// ---------------------------------------------------------------------------
// serve
// ---------------------------------------------------------------------------

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the reporting API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

type services struct {
	billing    *billing.Service
	medication *medication.Service
	overview   *overview.Service
}

func newServices(pool *pgxpool.Pool, metrics *telemetry.Provider, logger zerolog.Logger) services {
	tx := db.NewTxManager(pool)
	return services{
		billing: billing.NewService(
			billing.NewDashboardRepoPG(pool), billing.NewExpenseRepoPG(pool), tx, metrics, logger),
		medication: medication.NewService(
			medication.NewStockRepoPG(pool), medication.NewCatalogRepoPG(pool), tx, metrics, logger),
		overview: overview.NewService(overview.NewRepoPG(pool), metrics, logger),
	}
}

// newServer wires middleware and routes. health may be nil.
func newServer(cfg *config.Config, svcs services, health *db.HealthChecker, metrics *telemetry.Provider, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimitBytes()))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/metrics"))
	if cfg.MetricsEnabled {
		e.Use(metrics.MetricsMiddleware())
		e.GET("/metrics", metrics.PrometheusHandler())
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	if health != nil {
		e.GET("/health/db", health.Handler())
	}

	api := e.Group("/api")
	billing.NewHandler(svcs.billing).RegisterRoutes(api)
	medication.NewHandler(svcs.medication).RegisterRoutes(api)
	overview.NewHandler(svcs.overview).RegisterRoutes(api)

	return e
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	metrics := telemetry.NewProvider(telemetry.Config{
		Enabled:           cfg.MetricsEnabled,
		ServiceVersion:    version,
		RuntimeCollectors: true,
	})
	e := newServer(cfg, newServices(pool, metrics, logger), db.NewHealthChecker(pool, db.RequiredTables), metrics, logger)

	// Graceful shutdown
	errc := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		logger.Error().Err(err).Msg("server error")
		return err
	case <-quit:
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// ---------------------------------------------------------------------------
// migrate
// ---------------------------------------------------------------------------

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	withMigrator := func(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator) error) error {
		dir, _ := cmd.Flags().GetString("dir")
		cfg, err := loadConfig()
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
		return fn(ctx, db.NewMigrator(pool, migrationSource(dir)))
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetInt("to")
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				var (
					count int
					err   error
				)
				if target > 0 {
					count, err = m.UpTo(ctx, target)
				} else {
					count, err = m.Up(ctx)
				}
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR, then the embedded set)")
	upCmd.Flags().Int("to", 0, "Apply migrations up to and including this version")

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR, then the embedded set)")

	cmd.AddCommand(upCmd, statusCmd)
	return cmd
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// ---------------------------------------------------------------------------
// report
// ---------------------------------------------------------------------------

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Compute a dashboard once and print it as JSON",
	}

	withServices := func(fn func(ctx context.Context, s services) (any, error)) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
			defer cancel()

			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			out, err := fn(ctx, newServices(pool, nil, logger))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), out)
		}
	}

	billingCmd := &cobra.Command{
		Use:   "billing",
		Short: "Billing dashboard",
	}
	hospitalID := billingCmd.Flags().Int64("hospital-id", 0, "Limit to one hospital")
	departmentID := billingCmd.Flags().Int64("department-id", 0, "Limit to one department")
	insurance := billingCmd.Flags().String("insurance-id", "", "Insurer id, or none/self/self-pay for uninsured activity")
	daysBack := billingCmd.Flags().Int("days-back", reporting.DefaultDaysBack, "Window length in days")
	billingCmd.RunE = withServices(func(ctx context.Context, s services) (any, error) {
		req := reporting.FilterRequest{Insurance: *insurance, DaysBack: *daysBack}
		if billingCmd.Flags().Changed("hospital-id") {
			req.HospitalID = hospitalID
		}
		if billingCmd.Flags().Changed("department-id") {
			req.DepartmentID = departmentID
		}
		return s.billing.Dashboard(ctx, req)
	})

	medsCmd := &cobra.Command{
		Use:   "medications",
		Short: "Medication stock dashboard",
	}
	hospital := medsCmd.Flags().String("hospital", "", "Hospital name")
	class := medsCmd.Flags().String("class", "", "Therapeutic class")
	onlyLow := medsCmd.Flags().Bool("only-low-stock", false, "Only list stock at or below half its reorder level")
	medsCmd.RunE = withServices(func(ctx context.Context, s services) (any, error) {
		return s.medication.Dashboard(ctx, medication.StockQuery{Hospital: *hospital, Class: *class, OnlyLowStock: *onlyLow})
	})

	overviewCmd := &cobra.Command{
		Use:   "overview",
		Short: "Operational overview",
	}
	dateRange := overviewCmd.Flags().String("range", "", "Inclusive appointment range YYYY-MM-DD/YYYY-MM-DD")
	overviewCmd.RunE = withServices(func(ctx context.Context, s services) (any, error) {
		return s.overview.Overview(ctx, *dateRange)
	})

	cmd.AddCommand(billingCmd, medsCmd, overviewCmd)
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
