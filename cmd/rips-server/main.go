package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/rips/internal/config"
	ripsdomain "github.com/ehr/rips/internal/domain/rips"
	"github.com/ehr/rips/internal/platform/blobstore"
	"github.com/ehr/rips/internal/platform/db"
	"github.com/ehr/rips/internal/platform/middleware"
	"github.com/ehr/rips/internal/platform/openapi"
	"github.com/ehr/rips/internal/platform/refdata"
	"github.com/ehr/rips/internal/platform/rips"
	"github.com/ehr/rips/internal/platform/telemetry"
)

const appVersion = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "rips-server",
		Short:         "RIPS record engine: validation, generation and migration of RIPS files",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(structureCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(compareCmd())
	rootCmd.AddCommand(convertCmd())
	rootCmd.AddCommand(migrateCmd())
	return rootCmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	logger := zerolog.New(out).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return logger.Level(cfg.Level())
}

// engine bundles everything built from configuration.
type engine struct {
	pipeline *rips.Pipeline
	migrator *rips.Migrator
	pool     db.Pinger
	close    func()
}

// newEngine builds the pipeline. Reference codes come from Postgres when
// DATABASE_URL is set and from the built-in catalog otherwise.
func newEngine(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*engine, error) {
	e := &engine{close: func() {}}

	var ref rips.ReferenceData = refdata.Default()
	if cfg.HasDatabase() {
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:             cfg.DatabaseURL,
			MaxConns:        cfg.DBMaxConns,
			MinConns:        cfg.DBMinConns,
			ApplicationName: "rips-server",
			ConnectTimeout:  10 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		e.pool = pool
		e.close = pool.Close
		logger.Info().Msg("connected to database")

		catalog, err := refdata.Load(ctx, refdata.NewRepoPG(pool), logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		ref = catalog
	}

	reg := rips.MustDefaultRegistry()
	p, err := rips.NewPipeline(reg, rips.DefaultRuleEngine(), ref, rips.PipelineConfig{
		Workers: cfg.Workers,
		Encoder: rips.EncoderConfig{Separator: cfg.Separator(), FoldASCII: cfg.ASCIIFold},
	}, logger)
	if err != nil {
		e.close()
		return nil, err
	}
	e.pipeline = p
	e.migrator = rips.NewMigrator(reg, rips.DefaultCorrespondence())
	return e, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the RIPS API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg, os.Stdout)

	ctx := context.Background()
	eng, err := newEngine(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start engine")
		return err
	}
	defer eng.close()

	e := newServer(cfg, logger, eng, blobstore.NewInMemoryBlobStore())

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
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newServer(cfg *config.Config, logger zerolog.Logger, eng *engine, store blobstore.BlobStore) *echo.Echo {
	metrics := telemetry.NewProvider("rips-server", appVersion)

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
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": appVersion,
		})
	})
	e.GET("/metrics", metrics.Handler())
	if eng.pool != nil {
		e.GET("/health/db", db.HealthHandler(eng.pool))
	}

	api := e.Group("/api/v1/rips")
	svc := ripsdomain.NewService(eng.pipeline, eng.migrator, store, logger)
	svc.SetRecorder(metrics)
	ripsdomain.NewHandler(svc).RegisterRoutes(api)
	blobstore.NewBlobHandler(store).RegisterRoutes(api)
	openapi.NewGenerator(eng.pipeline.Registry(), appVersion, "/api/v1/rips").RegisterRoutes(api)

	return e
}
