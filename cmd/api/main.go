// Package main is the entry point of the orientation engine API server.
//
// The server answers orientation reports, what-if simulations and section
// rankings over HTTP. Section standings computed here and by the worker
// share the same Redis cache.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gradehub/orientation-engine/config"
	"github.com/gradehub/orientation-engine/internal/application/query"
	"github.com/gradehub/orientation-engine/internal/bootstrap"
	httpapi "github.com/gradehub/orientation-engine/internal/interface/http"
	"github.com/gradehub/orientation-engine/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := bootstrap.NewLogger(cfg).With(logger.Component("api"))
	log.Info("starting orientation engine API",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("timezone", cfg.App.Timezone),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. INFRASTRUCTURE
	// ─────────────────────────────────────────────────────────────────────────
	infra, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. QUERY HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	sources := infra.Sources()
	deps := httpapi.Dependencies{
		Report:   query.NewGetOrientationReportHandler(sources),
		Simulate: query.NewSimulateHandler(sources, infra.SimulationCache(), infra.Metrics),
		Ranking:  query.NewGetSectionRankingHandler(sources),
		Health:   infra.HealthChecker(),
		Metrics:  infra.Metrics,
		Logger:   log,
		Calendar: cfg.Calendar(),
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	serverCfg := httpapi.DefaultConfig()
	serverCfg.Host = cfg.HTTP.Host
	serverCfg.Port = cfg.HTTP.Port
	serverCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	serverCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	serverCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	serverCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	serverCfg.RateLimitPerMinute = cfg.HTTP.RateLimitPerMin
	serverCfg.EnableMetrics = cfg.Observability.MetricsEnabled
	serverCfg.MetricsPath = cfg.Observability.MetricsPath
	serverCfg.Version = cfg.App.Version

	server := httpapi.NewServer(serverCfg, deps)
	errCh := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
		log.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	log.Info("shutdown completed")
	return nil
}
