// Command worker runs the internal tier: it owns the generation
// pipeline, the job and artifact stores, and the admission rate
// limiter. It must never be exposed to the public network; every API
// route requires the shared-secret token.
//
// @title       Forge Worker API
// @version     1.0
// @description Internal tier for asynchronous image generation.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/infernalforge/forge/internal/config"
	httpapi "github.com/infernalforge/forge/internal/http"
	"github.com/infernalforge/forge/internal/http/handlers"
	"github.com/infernalforge/forge/internal/observability"
	"github.com/infernalforge/forge/internal/pipeline"
	"github.com/infernalforge/forge/internal/ratelimit"
	"github.com/infernalforge/forge/internal/services"
	"github.com/infernalforge/forge/internal/store"
	"github.com/infernalforge/forge/internal/sysutil"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("worker exited")
	}
}

// run holds the server lifecycle and returns instead of exiting, so
// deferred cleanup (OTel flush) always executes.
func run(ctx context.Context, cfg config.Config) error {
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(ctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return err
	}

	provider := pipeline.NewProvider(cfg.Pipeline.WarmupDelay, cfg.Pipeline.MinDuration)
	go func() {
		// Warm the pipeline so the first request does not pay the load cost.
		if _, err := provider.Get(); err != nil {
			log.Error().Err(err).Msg("pipeline warmup failed")
			return
		}
		log.Info().Msg("pipeline ready")
	}()

	limiter := ratelimit.New(cfg.Rate.Window, cfg.Rate.MaxPerUser, cfg.Rate.MaxConcurrent, cfg.Rate.MaxGlobal)
	jobs := store.NewJobStore()
	artifacts := store.NewArtifactRegistry()
	dispatcher := services.NewDispatcher(limiter, jobs, artifacts, provider, cfg.OutputDir)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	h := handlers.NewWorker(dispatcher, jobs, artifacts, provider, cfg.OutputDir, cfg.Pipeline)
	httpapi.RegisterWorkerRoutes(r, h, cfg)

	srv := &http.Server{
		Addr:              cfg.WorkerAddr(),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	log.Info().
		Str("gin_mode", cfg.GinMode).
		Dur("rate_window", cfg.Rate.Window).
		Int("rate_max_per_user", cfg.Rate.MaxPerUser).
		Int("rate_max_concurrent", cfg.Rate.MaxConcurrent).
		Int("rate_max_global", cfg.Rate.MaxGlobal).
		Dur("min_generation_time", cfg.Pipeline.MinDuration).
		Msg("worker configured")

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("output_dir", cfg.OutputDir).Msg("worker listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
