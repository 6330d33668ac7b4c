// Command gateway runs the public tier: it issues browser sessions,
// validates generation requests, and proxies them to the internal
// worker over the shared-secret trust boundary.
//
// @title       Forge Gateway API
// @version     1.0
// @description Public HTTP surface for asynchronous image generation.
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
	"github.com/infernalforge/forge/internal/http/middleware"
	"github.com/infernalforge/forge/internal/observability"
	"github.com/infernalforge/forge/internal/sysutil"
	"github.com/infernalforge/forge/internal/upstream"
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
		log.Fatal().Err(err).Msg("gateway exited")
	}
}

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

	client := upstream.New(cfg.WorkerURL, cfg.AuthToken, cfg.UpstreamTimeout, cfg.HealthTimeout)

	// Probe the worker once at boot. A failure is logged but not fatal;
	// the worker may simply come up after us.
	probeCtx, cancelProbe := context.WithTimeout(ctx, cfg.HealthTimeout)
	if _, err := client.Health(probeCtx); err != nil {
		log.Warn().Err(err).Str("worker_url", cfg.WorkerURL).Msg("worker unreachable at boot")
	} else {
		log.Info().Str("worker_url", cfg.WorkerURL).Msg("worker reachable")
	}
	cancelProbe()

	sessions := middleware.NewSessions(cfg.SessionSecret)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	h := handlers.NewGateway(client, cfg.Pipeline)
	httpapi.RegisterGatewayRoutes(r, h, sessions, cfg)

	srv := &http.Server{
		Addr:              cfg.GatewayAddr(),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	log.Info().
		Str("gin_mode", cfg.GinMode).
		Dur("upstream_timeout", cfg.UpstreamTimeout).
		Float64("edge_rps", cfg.EdgeRPS).
		Int("edge_burst", cfg.EdgeBurst).
		Bool("swagger", cfg.SwaggerEnabled).
		Msg("gateway configured")

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("gateway listening")
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
