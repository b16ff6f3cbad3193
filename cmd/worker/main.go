// Package main is the entry point of the background worker.
//
// The worker rebuilds section standings on a cron schedule and stores them
// in Redis, where the API server reads them. Pass -once to run the rebuild
// a single time and exit.
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

	"github.com/gradehub/orientation-engine/config"
	"github.com/gradehub/orientation-engine/internal/bootstrap"
	"github.com/gradehub/orientation-engine/internal/domain/grade"
	"github.com/gradehub/orientation-engine/internal/infrastructure/scheduler"
	"github.com/gradehub/orientation-engine/internal/infrastructure/scheduler/jobs"
	"github.com/gradehub/orientation-engine/pkg/logger"
)

func main() {
	once := flag.Bool("once", false, "run the ranking rebuild once and exit")
	metricsAddr := flag.String("metrics-addr", ":9091", "address of the metrics endpoint (empty disables it)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *once, *metricsAddr); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, once bool, metricsAddr string) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := bootstrap.NewLogger(cfg).With(logger.Component("worker"))
	log.Info("starting orientation engine worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("timezone", cfg.App.Timezone),
		logger.String("rankings_spec", cfg.Scheduler.RebuildRankingsSpec),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. INFRASTRUCTURE
	// ─────────────────────────────────────────────────────────────────────────
	infra, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	if infra.Standings == nil {
		return errors.New("the worker needs redis to publish standings")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. JOBS
	// ─────────────────────────────────────────────────────────────────────────
	sections := make([]grade.Section, 0, len(cfg.Scheduler.Sections))
	for _, s := range cfg.Scheduler.Sections {
		sections = append(sections, grade.Section(s))
	}

	rebuild := jobs.NewRebuildSectionRankingsJob(
		infra.Grades,
		infra.Grades,
		infra.Standings,
		infra.Metrics,
		log,
		jobs.RebuildSectionRankingsConfig{
			Sections: sections,
			Year:     func() int { return cfg.SchedulerYear(time.Now()) },
			TieBreak: infra.Engine.TieBreak(),
			Workers:  cfg.Scheduler.Workers,
			CacheTTL: cfg.HTTP.StandingsCacheTTL,
		},
	)

	if once {
		return rebuild.Run(ctx)
	}

	sched := scheduler.New(scheduler.Config{
		Logger:     log,
		Location:   cfg.App.Location,
		JobTimeout: cfg.Scheduler.JobTimeout,
	})
	if err := sched.Register(rebuild, cfg.Scheduler.RebuildRankingsSpec); err != nil {
		return fmt.Errorf("register %s: %w", rebuild.Name(), err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. METRICS ENDPOINT
	// ─────────────────────────────────────────────────────────────────────────
	var metricsServer *http.Server
	if cfg.Observability.MetricsEnabled && metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Observability.MetricsPath, infra.Metrics.Handler())
		metricsServer = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", logger.Err(err))
			}
		}()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. RUN
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Scheduler.Enabled {
		// Warm the cache before the first tick.
		if _, err := sched.RunNow(ctx, rebuild.Name()); err != nil {
			log.Warn("initial rebuild failed", logger.Err(err))
		}
		sched.Start()
	} else {
		log.Warn("scheduler disabled, worker idle")
	}

	<-ctx.Done()
	log.Info("received shutdown signal")

	// ─────────────────────────────────────────────────────────────────────────
	// 6. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		log.Warn("scheduler did not stop cleanly", logger.Err(err))
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	log.Info("shutdown completed")
	return nil
}
