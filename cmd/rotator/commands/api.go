package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/wonny/aegis-rotator/internal/api"
	"github.com/wonny/aegis-rotator/internal/api/handlers"
	"github.com/wonny/aegis-rotator/internal/backtest"
	"github.com/wonny/aegis-rotator/internal/contracts"
	"github.com/wonny/aegis-rotator/internal/portfolio"
	"github.com/wonny/aegis-rotator/internal/strategyconfig"
	"github.com/wonny/aegis-rotator/pkg/httputil"
	"github.com/wonny/aegis-rotator/pkg/redis"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "API 서버 시작",
	Long: `REST API 서버를 시작합니다.

Endpoints:
  GET  /health                  - Health check (db, redis)
  GET  /metrics                 - Prometheus metrics
  POST /api/backtest            - 파이프라인 실행 (strategy override)
  GET  /api/runs/{id}/weights   - 저장된 비중 행렬
  GET  /api/runs/{id}/equity    - 저장된 equity curve
  GET  /api/runs/{id}/summary   - 캐시된 성과 요약

Example:
  go run ./cmd/rotator api
  go run ./cmd/rotator api --port 8080`,
	RunE: runAPIServer,
}

var (
	apiPort string
)

func init() {
	rootCmd.AddCommand(apiCmd)

	// Flags
	apiCmd.Flags().StringVar(&apiPort, "port", "", "API 서버 포트 (기본: PORT)")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Aegis Rotator API Server ===")

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if apiPort != "" {
		a.cfg.Port = apiPort
	}

	deps := api.RouterDeps{
		Backtest: handlers.NewBacktestHandler(a.strategy, func(cfg *strategyconfig.Config) (handlers.Runner, error) {
			return a.build(cfg)
		}, a.log),
		Limiter: newLimiter(a),
		Checks:  map[string]api.Pinger{},
		Metrics: a.metrics,
		Logger:  a.log,
	}

	var (
		weights contracts.WeightRepository
		equity  contracts.EquityRepository
	)
	if a.db != nil {
		weights = portfolio.NewRepository(a.db.Pool)
		equity = backtest.NewRepository(a.db.Pool)
		deps.Checks["database"] = a.db
	}
	if a.redis.Enabled() {
		deps.Checks["redis"] = a.redis
	}
	deps.Runs = handlers.NewRunsHandler(weights, equity, a.cache, a.log)
	if a.metrics != nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	server := api.New(a.cfg, a.log, api.NewRouter(deps))

	// Start server with graceful shutdown
	go func() {
		if err := server.Start(); err != nil {
			a.log.WithError(err).Fatal("Failed to start server")
		}
	}()

	fmt.Printf("\n✅ Server running on http://localhost:%s\n", a.cfg.Port)
	fmt.Println("\nPress Ctrl+C to stop")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	a.log.Info("Server stopped")
	return nil
}

// newLimiter shares the limit through Redis when enabled, else per process
func newLimiter(a *app) httputil.Limiter {
	if a.redis.Enabled() {
		perMinute := max(int(a.cfg.RateLimitRPS*60), 1)
		return httputil.NewRedisLimiter(redis.NewRateLimiter(a.redis, "rotator"), perMinute, time.Minute)
	}
	return httputil.NewLocalLimiter(a.cfg.RateLimitRPS, a.cfg.RateLimitBurst)
}
