package pipeline

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis-rotator/internal/allocation"
	"github.com/wonny/aegis-rotator/internal/backtest"
	"github.com/wonny/aegis-rotator/internal/contracts"
	"github.com/wonny/aegis-rotator/internal/portfolio"
	"github.com/wonny/aegis-rotator/internal/series"
	"github.com/wonny/aegis-rotator/internal/strategyconfig"
	"github.com/wonny/aegis-rotator/pkg/logger"
	"github.com/wonny/aegis-rotator/pkg/metrics"
	"github.com/wonny/aegis-rotator/pkg/redis"
)

// Infra is the optional infrastructure a pipeline is wired to.
// Nil / empty fields switch the corresponding feature off.
type Infra struct {
	Pool      *pgxpool.Pool // db source + postgres sink
	Cache     *redis.Cache  // weight-matrix cache + run summary
	CacheTTL  time.Duration
	DataDir   string // csv source when the strategy has no source.dir
	OutputDir string // file sink
	Metrics   *metrics.Recorder
	Logger    *logger.Logger
}

// Build wires an orchestrator for one strategy config
func Build(strategy *strategyconfig.Config, infra Infra) (*Orchestrator, error) {
	if err := strategyconfig.Validate(strategy); err != nil {
		return nil, err
	}
	hash, err := strategyconfig.Hash(strategy)
	if err != nil {
		return nil, fmt.Errorf("hash strategy config: %w", err)
	}

	log := infra.Logger
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithFields(map[string]interface{}{
		"strategy":    strategy.Meta.StrategyID,
		"config_hash": shortHash(hash),
	})

	loader, err := newLoader(strategy, infra, log)
	if err != nil {
		return nil, err
	}

	allocator, err := allocation.New(allocation.ConfigFrom(strategy), log, infra.Metrics)
	if err != nil {
		return nil, fmt.Errorf("build allocator: %w", err)
	}
	if infra.Cache != nil {
		ttl := infra.CacheTTL
		if ttl <= 0 {
			ttl = redis.TTLDaily
		}
		allocator.WithCache(infra.Cache, hash, ttl)
	}

	// DB before files: a run directory is published only after the transaction commits
	var stores []Store
	if infra.Pool != nil {
		stores = append(stores, NewDBStore(infra.Pool))
	}
	if infra.OutputDir != "" {
		stores = append(stores, NewFileStore(infra.OutputDir))
	}
	if infra.Cache != nil {
		stores = append(stores, NewCacheStore(infra.Cache, redis.TTLDaily))
	}

	return NewOrchestrator(
		loader,
		allocator,
		portfolio.NewPostProcessorFromConfig(strategy, log, infra.Metrics),
		backtest.NewSimulator(backtest.ConfigFrom(strategy), log),
		backtest.ReportConfigFrom(strategy),
		stores,
		strategy.Meta.StrategyID,
		hash,
		infra.Metrics,
		log,
	), nil
}

func newLoader(strategy *strategyconfig.Config, infra Infra, log *logger.Logger) (contracts.SeriesLoader, error) {
	switch strategy.Source.Kind {
	case "db":
		if infra.Pool == nil {
			return nil, fmt.Errorf("source.kind=db requires a database (DB_ENABLED=true)")
		}
		from, _ := parseDate(strategy.Source.From)
		to, _ := parseDate(strategy.Source.To)
		return series.NewDBLoader(
			series.NewPriceRepository(infra.Pool),
			series.NewSignalRepository(infra.Pool),
			from, to, log,
		), nil
	default:
		dir := strategy.Source.Dir
		if dir == "" {
			dir = infra.DataDir
		}
		if dir == "" {
			return nil, fmt.Errorf("source.kind=csv requires source.dir or DATA_DIR")
		}
		return series.NewCSVLoader(dir, log), nil
	}
}

// parseDate reads an already-validated YYYY-MM-DD; empty → zero time
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
