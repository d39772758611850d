package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wonny/aegis-rotator/internal/pipeline"
	"github.com/wonny/aegis-rotator/internal/strategyconfig"
	"github.com/wonny/aegis-rotator/pkg/config"
	"github.com/wonny/aegis-rotator/pkg/database"
	"github.com/wonny/aegis-rotator/pkg/logger"
	"github.com/wonny/aegis-rotator/pkg/metrics"
	"github.com/wonny/aegis-rotator/pkg/redis"
)

// app bundles the process-wide dependencies every command shares
// ⭐ SSOT: 의존성 초기화는 여기서만
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	strategy *strategyconfig.Config

	db      *database.DB  // nil when DB_ENABLED=false
	redis   *redis.Client // always set, no-op when REDIS_ENABLED=false
	cache   *redis.Cache  // nil when Redis is disabled
	metrics *metrics.Recorder
}

// newApp loads env config, the strategy YAML and connects to the enabled backends
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	log := logger.New(cfg)

	path := cfg.StrategyPath
	if strategyFile != "" {
		path = strategyFile
	}
	strategy, _, err := strategyconfig.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load strategy %s: %w", path, err)
	}
	for _, w := range strategyconfig.Warn(strategy) {
		log.WithField("code", w.Code).Warn(w.Message)
	}

	a := &app{cfg: cfg, log: log, strategy: strategy}

	if cfg.Database.Enabled {
		db, err := database.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		a.db = db
		log.Info("Connected to database")
	}

	rdb, err := redis.New(cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.redis = rdb
	if rdb.Enabled() {
		a.cache = redis.NewCache(rdb, "rotator")
		log.Info("Connected to redis")
	}

	if cfg.MetricsEnabled {
		a.metrics = metrics.New(prometheus.DefaultRegisterer)
	}

	return a, nil
}

// Close releases backend connections
func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close redis")
		}
	}
}

// infra maps the connected backends onto pipeline wiring
func (a *app) infra() pipeline.Infra {
	in := pipeline.Infra{
		Cache:     a.cache,
		CacheTTL:  a.cfg.Redis.CacheTTL,
		DataDir:   a.cfg.DataDir,
		OutputDir: a.cfg.OutputDir,
		Metrics:   a.metrics,
		Logger:    a.log,
	}
	if a.db != nil {
		in.Pool = a.db.Pool
	}
	return in
}

// build wires an orchestrator for the given (possibly flag-adjusted) strategy
func (a *app) build(strategy *strategyconfig.Config) (*pipeline.Orchestrator, error) {
	return pipeline.Build(strategy, a.infra())
}
