// Package bootstrap wires the infrastructure shared by the API server and
// the worker: logging, the engine rules, PostgreSQL, Redis and metrics.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gradehub/orientation-engine/config"
	"github.com/gradehub/orientation-engine/internal/application/query"
	"github.com/gradehub/orientation-engine/internal/domain/ranking"
	"github.com/gradehub/orientation-engine/internal/infrastructure/metrics"
	"github.com/gradehub/orientation-engine/internal/infrastructure/persistence/postgres"
	"github.com/gradehub/orientation-engine/internal/infrastructure/persistence/redis"
	"github.com/gradehub/orientation-engine/internal/interface/http/handlers"
	"github.com/gradehub/orientation-engine/pkg/circuitbreaker"
	"github.com/gradehub/orientation-engine/pkg/logger"
)

// Infra holds opened infrastructure. Cache, Standings and Simulations are
// nil when Redis is disabled or unreachable.
type Infra struct {
	Config  *config.Config
	Engine  *config.Engine
	Logger  *logger.Logger
	Metrics *metrics.Metrics

	DB      *postgres.Connection
	Grades  *postgres.GradeRepository
	Cohorts *postgres.CohortRepository

	Cache       *redis.Cache
	Standings   *redis.StandingsCache
	Simulations *redis.SimulationCache
}

// NewLogger builds the process logger from the observability settings.
func NewLogger(cfg *config.Config) *logger.Logger {
	level := logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		level = logger.LevelDebug
	}
	return logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     level,
		AddCaller: !cfg.IsProduction(),
		Pretty:    cfg.Observability.LogFormat == "console",
	}).With(
		logger.String("app", cfg.App.Name),
		logger.String("version", cfg.App.Version),
	)
}

// Open loads the engine rules and connects to PostgreSQL and, unless it is
// disabled, Redis. A Redis failure only disables caching.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Infra, error) {
	engine, err := config.LoadEngine(cfg.Engine.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}

	in := &Infra{
		Config:  cfg,
		Engine:  engine,
		Logger:  log,
		Metrics: metrics.New(),
	}

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database: DATABASE_URL is not set")
	}
	log.Info("connecting to database")
	in.DB, err = postgres.NewConnection(ctx, cfg.Database.URL, postgres.PoolSettings{
		MaxConns:        int32(cfg.Database.MaxOpenConns),
		MinConns:        int32(cfg.Database.MaxIdleConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		QueryTimeout:    cfg.Database.QueryTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		log.Info("running database migrations")
		if err := postgres.NewMigrator(in.DB).Migrate(ctx); err != nil {
			in.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
	}

	in.Grades = postgres.NewGradeRepository(in.DB)
	in.Cohorts = postgres.NewCohortRepository(in.DB)

	if cfg.Redis.Disabled {
		log.Info("redis disabled, caching off")
		return in, nil
	}

	in.Cache, err = redis.NewCache(ctx, redis.Config{
		URL:          cfg.Redis.URL,
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,

		BreakerFailures: 5,
		BreakerCooldown: 15 * time.Second,
		OnBreakerStateChange: func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	})
	if err != nil {
		log.Warn("redis unavailable, caching off", logger.Err(err))
		in.Cache = nil
		return in, nil
	}
	in.Standings = redis.NewStandingsCache(in.Cache)
	in.Simulations = redis.NewSimulationCache(in.Cache, cfg.HTTP.SimulationCacheTTL)
	log.Info("redis connection established")

	return in, nil
}

// Sources returns the read-side dependencies of the query handlers.
func (in *Infra) Sources() *query.Sources {
	var standings ranking.StandingsCache
	if in.Standings != nil {
		standings = in.Standings
	}
	return &query.Sources{
		Grades:       in.Grades,
		Cohorts:      in.Cohorts,
		Orientation:  in.Engine.Orientation,
		Standings:    standings,
		StandingsTTL: in.Config.HTTP.StandingsCacheTTL,
		TieBreak:     in.Engine.TieBreak(),
		HistoryYears: in.Engine.HistoryYears(),
		Workers:      in.Config.Engine.Workers,
		RulesDigest:  in.Engine.Digest(),
		Logger:       in.Logger,
	}
}

// SimulationCache returns the simulation cache, or nil without Redis.
func (in *Infra) SimulationCache() query.SimulationCache {
	if in.Simulations == nil {
		return nil
	}
	return in.Simulations
}

// HealthChecker checks the database and, when configured, the cache.
func (in *Infra) HealthChecker() *handlers.CompositeHealthChecker {
	hc := handlers.NewCompositeHealthChecker(in.Config.App.Version)
	hc.SetTimeout(3 * time.Second)
	hc.AddCheck("postgres", true, func(ctx context.Context) error {
		status := in.DB.Health(ctx)
		if !status.Healthy {
			return errors.New(status.Error)
		}
		in.Logger.Debug("database pool",
			logger.Int("total_conns", int(status.TotalConns)),
			logger.Int("acquired_conns", int(status.AcquiredConns)),
			logger.Latency(status.PingLatency),
		)
		return nil
	})
	if in.Cache != nil {
		hc.AddCheck("redis", false, handlers.PingCheck(in.Cache))
	}
	return hc
}

// Close releases connections.
func (in *Infra) Close() {
	if in.Cache != nil {
		if err := in.Cache.Close(); err != nil {
			in.Logger.Warn("closing redis", logger.Err(err))
		}
	}
	if in.DB != nil {
		in.DB.Close()
	}
}
