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

	"github.com/facstrack/facstrack/internal/config"
	"github.com/facstrack/facstrack/internal/domain/panelresult"
	"github.com/facstrack/facstrack/internal/domain/patient"
	"github.com/facstrack/facstrack/internal/domain/patientmeta"
	"github.com/facstrack/facstrack/internal/domain/reference"
	"github.com/facstrack/facstrack/internal/domain/upload"
	"github.com/facstrack/facstrack/internal/platform/db"
	"github.com/facstrack/facstrack/internal/platform/metrics"
	"github.com/facstrack/facstrack/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "facstrack-server",
		Short: "Cytometry lab-data tracking API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(referenceCmd())

	if err := rootCmd.Execute(); err != nil {
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
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

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

			if dir == "" {
				dir = cfg.MigrationsDir
			}
			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default from config)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

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

			if dir == "" {
				dir = cfg.MigrationsDir
			}
			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
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
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default from config)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func referenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reference",
		Short: "Manage the panel and parameter dictionary",
	}

	loadCmd := &cobra.Command{
		Use:   "load <file>",
		Short: "Load a reference dictionary file into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

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

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			loader := reference.NewLoader(
				reference.NewPanelRepoPG(pool),
				reference.NewParameterRepoPG(pool),
				db.NewPGTransactor(pool),
				logger,
			)
			if err := loader.Load(ctx, f); err != nil {
				return fmt.Errorf("reference load failed: %w", err)
			}
			fmt.Println("Reference dictionary loaded.")
			return nil
		},
	}
	cmd.AddCommand(loadCmd)

	return cmd
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	collector := metrics.NewCollector("facstrack")
	transactor := db.NewPGTransactor(pool)

	// Repositories
	fileRepo := upload.NewFileRepoPG(pool)
	entryRepo := upload.NewEntryRepoPG(pool)
	patientRepo := patient.NewRepoPG(pool)
	panelRepo := reference.NewPanelRepoPG(pool)
	parameterRepo := reference.NewParameterRepoPG(pool)
	strategyRepo := panelresult.NewGatingStrategyRepoPG(pool)
	sampleRepo := panelresult.NewSampleRepoPG(pool)
	processingRepo := panelresult.NewDataProcessingRepoPG(pool)
	resultRepo := panelresult.NewResultRepoPG(pool)
	valueRepo := panelresult.NewValueRepoPG(pool)
	keyRepo := patientmeta.NewKeyRepoPG(pool)
	metadataRepo := patientmeta.NewMetadataRepoPG(pool)

	// Services
	refLoader := reference.NewLoader(panelRepo, parameterRepo, transactor, logger)
	panelSvc := panelresult.NewService(panelresult.Deps{
		Patients:            patientRepo,
		Panels:              panelRepo,
		Parameters:          parameterRepo,
		Strategies:          strategyRepo,
		Samples:             sampleRepo,
		Processing:          processingRepo,
		Results:             resultRepo,
		Values:              valueRepo,
		Files:               fileRepo,
		Entries:             entryRepo,
		Tx:                  transactor,
		Metrics:             collector,
		Log:                 logger,
		UnknownColumnPolicy: cfg.UnknownColumnPolicy,
	})
	metaSvc := patientmeta.NewService(patientRepo, keyRepo, metadataRepo,
		fileRepo, entryRepo, transactor, collector, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// API group
	apiV1 := e.Group("/api/v1")

	reference.NewHandler(refLoader, panelRepo, parameterRepo, cfg.UploadMaxBytes).RegisterRoutes(apiV1)
	panelresult.NewHandler(panelSvc, fileRepo, entryRepo, sampleRepo, cfg.UploadMaxBytes).RegisterRoutes(apiV1)
	patientmeta.NewHandler(metaSvc, keyRepo, cfg.UploadMaxBytes).RegisterRoutes(apiV1)
	patient.NewHandler(patientRepo).RegisterRoutes(apiV1)

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", echo.WrapHandler(collector.Handler()))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
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
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
