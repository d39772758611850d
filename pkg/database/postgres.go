package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis-rotator/pkg/config"
)

// DB wraps the pgxpool.Pool and provides additional functionality
// ⭐ SSOT: DB 연결은 이 패키지에서만 생성
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool
// ⭐ SSOT: 유일하게 pgxpool.New()를 호출하는 함수
func New(cfg *config.Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Ping checks if the database is accessible
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// WithTx runs fn inside one transaction; any error rolls everything back
// ⭐ SSOT: 결과 저장은 all-or-nothing (부분 쓰기 금지)
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// schema holds the DDL for every table the rotator reads or writes
var schema = []string{
	`CREATE SCHEMA IF NOT EXISTS data`,
	`CREATE SCHEMA IF NOT EXISTS rotator`,
	`CREATE TABLE IF NOT EXISTS data.sector_prices (
		sector_key  TEXT NOT NULL,
		trade_date  DATE NOT NULL,
		close_price DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (sector_key, trade_date)
	)`,
	`CREATE TABLE IF NOT EXISTS data.sector_signals (
		sector_key TEXT NOT NULL,
		trade_date DATE NOT NULL,
		flag       SMALLINT NOT NULL CHECK (flag BETWEEN -1 AND 1),
		PRIMARY KEY (sector_key, trade_date)
	)`,
	`CREATE TABLE IF NOT EXISTS rotator.runs (
		run_id      TEXT PRIMARY KEY,
		config_hash TEXT NOT NULL,
		entities    TEXT[] NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS rotator.weights (
		run_id          TEXT NOT NULL REFERENCES rotator.runs(run_id) ON DELETE CASCADE,
		day             INT NOT NULL,
		trade_date      DATE,
		weights         DOUBLE PRECISION[] NOT NULL,
		fallback        BOOLEAN NOT NULL DEFAULT FALSE,
		fallback_reason TEXT,
		augmented       TEXT,
		PRIMARY KEY (run_id, day)
	)`,
	`CREATE TABLE IF NOT EXISTS rotator.equity (
		run_id     TEXT NOT NULL REFERENCES rotator.runs(run_id) ON DELETE CASCADE,
		point      INT NOT NULL,
		trade_date DATE,
		equity     DOUBLE PRECISION NOT NULL,
		state      TEXT,
		PRIMARY KEY (run_id, point)
	)`,
}

// EnsureSchema creates the tables when missing
func (db *DB) EnsureSchema(ctx context.Context) error {
	return WithTx(ctx, db.Pool, func(tx pgx.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}
		}
		return nil
	})
}

// HealthCheck returns detailed health information about the database
func (db *DB) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	status := &HealthStatus{
		Healthy:   false,
		Timestamp: time.Now(),
	}

	start := time.Now()
	if err := db.Pool.Ping(ctx); err != nil {
		status.Error = err.Error()
		return status, err
	}
	status.ResponseTime = time.Since(start)
	status.Stats = db.Stats()
	status.Healthy = true
	return status, nil
}

// HealthStatus represents the health status of the database
type HealthStatus struct {
	Healthy      bool          `json:"healthy"`
	Timestamp    time.Time     `json:"timestamp"`
	ResponseTime time.Duration `json:"response_time"`
	Error        string        `json:"error,omitempty"`
	Stats        PoolStats     `json:"stats"`
}

// PoolStats represents connection pool statistics
type PoolStats struct {
	AcquireCount  int64 `json:"acquire_count"`
	AcquiredConns int32 `json:"acquired_conns"`
	IdleConns     int32 `json:"idle_conns"`
	MaxConns      int32 `json:"max_conns"`
	TotalConns    int32 `json:"total_conns"`
}

// Stats returns the current pool statistics
func (db *DB) Stats() PoolStats {
	stats := db.Pool.Stat()
	return PoolStats{
		AcquireCount:  stats.AcquireCount(),
		AcquiredConns: stats.AcquiredConns(),
		IdleConns:     stats.IdleConns(),
		MaxConns:      stats.MaxConns(),
		TotalConns:    stats.TotalConns(),
	}
}
