// Package main is the entry point for the blobvault server.
// blobvault stores opaque binary objects by caller-supplied ID on a
// configurable medium: local disk, the metadata database or S3.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/prn-tf/blobvault/internal/app"
	"github.com/prn-tf/blobvault/internal/auth"
	"github.com/prn-tf/blobvault/internal/config"
	"github.com/prn-tf/blobvault/internal/handler"
	"github.com/prn-tf/blobvault/internal/logging"
	"github.com/prn-tf/blobvault/internal/metrics"
	"github.com/prn-tf/blobvault/internal/telemetry"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// init installs a console logger for errors raised before configuration is loaded.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Error().Err(err).Msg("blobvault server exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}

	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Str("storage_backend", cfg.Storage.Backend).
		Str("database_driver", cfg.Database.Driver).
		Msg("starting blobvault server")

	shutdownTracing, err := telemetry.Init(ctx, cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("failed to flush traces")
		}
	}()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to release resources")
		}
	}()

	authCfg := auth.ConfigFrom(cfg.Auth)
	verifier, err := auth.NewVerifier(authCfg)
	if err != nil {
		return err
	}

	routerCfg := handler.RouterConfig{
		BlobHandler:    handler.NewBlobHandler(a.Blobs, logger),
		HealthHandler:  handler.NewHealthHandler(a.DB, logger),
		AuthMiddleware: auth.Middleware(verifier, authCfg),
		MaxBodySize:    cfg.Server.MaxBodySize,
		Metrics:        a.Metrics,
		Logger:         logger,
	}

	// Metrics share the API listener when configured on the same port.
	separateMetrics := cfg.Metrics.Enabled && cfg.Metrics.Port != cfg.Server.Port
	if cfg.Metrics.Enabled && !separateMetrics {
		routerCfg.MetricsHandler = metrics.Handler(a.Registry)
		routerCfg.MetricsPath = cfg.Metrics.Path
	}

	servers := []*http.Server{{
		Addr:              cfg.Server.Addr(),
		Handler:           handler.NewRouter(routerCfg),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}}

	if separateMetrics {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, metrics.Handler(a.Registry))
		servers = append(servers, &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	eg, ctx := errgroup.WithContext(ctx)

	for _, srv := range servers {
		eg.Go(func() error {
			logger.Info().Str("addr", srv.Addr).Msg("listening")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})

		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.Sweeper.Enabled {
		a.Sweeper.Start()
		eg.Go(func() error {
			<-ctx.Done()
			a.Sweeper.Stop()
			return nil
		})
	}

	err = eg.Wait()
	logger.Info().Msg("blobvault server stopped")
	return err
}
