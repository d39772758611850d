package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis-rotator/internal/backtest"
	"github.com/wonny/aegis-rotator/internal/portfolio"
	"github.com/wonny/aegis-rotator/pkg/database"
	"github.com/wonny/aegis-rotator/pkg/redis"
)

// Store is an S6 result sink. Save either writes everything or nothing.
type Store interface {
	Name() string
	Save(ctx context.Context, result *RunResult) error
}

// bestEffort is implemented by stores whose failure must not fail the run
type bestEffort interface {
	BestEffort() bool
}

// discarder is implemented by stores that can withdraw a saved run
// when a later required store fails
type discarder interface {
	Discard(ctx context.Context, runID string) error
}

// =============================================================================
// Postgres
// =============================================================================

// DBStore writes the run, weights and equity curve in one transaction
type DBStore struct {
	pool *pgxpool.Pool
}

// NewDBStore creates a Postgres sink
func NewDBStore(pool *pgxpool.Pool) *DBStore {
	return &DBStore{pool: pool}
}

// Name implements Store
func (s *DBStore) Name() string { return "postgres" }

// Save implements Store
func (s *DBStore) Save(ctx context.Context, result *RunResult) error {
	return database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := portfolio.CreateRunTx(ctx, tx, result.RunID, result.ConfigHash, result.Weights.Entities); err != nil {
			return err
		}
		if err := portfolio.SaveWeightsTx(ctx, tx, result.RunID, result.Weights); err != nil {
			return err
		}
		return backtest.SaveSimulationTx(ctx, tx, result.RunID, result.Simulation)
	})
}

// Discard deletes the run row; weights and equity cascade
func (s *DBStore) Discard(ctx context.Context, runID string) error {
	return portfolio.NewRepository(s.pool).DeleteRun(ctx, runID)
}

// =============================================================================
// Files
// =============================================================================

// FileStore writes <dir>/<run_id>/{weights.csv,equity.csv,summary.json}.
// Files are staged in a temp directory and renamed into place.
type FileStore struct {
	dir string
}

// NewFileStore creates a file sink rooted at dir
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Name implements Store
func (s *FileStore) Name() string { return "files" }

// RunDir returns the output directory of a run
func (s *FileStore) RunDir(runID string) string {
	return filepath.Join(s.dir, runID)
}

// Save implements Store
func (s *FileStore) Save(_ context.Context, result *RunResult) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.MkdirTemp(s.dir, "."+result.RunID+"-")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := writeWeightsCSV(filepath.Join(tmp, "weights.csv"), result); err != nil {
		return err
	}
	if err := writeEquityCSV(filepath.Join(tmp, "equity.csv"), result); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(tmp, "summary.json"), result); err != nil {
		return err
	}

	final := s.RunDir(result.RunID)
	if err := os.RemoveAll(final); err != nil {
		return fmt.Errorf("replace %s: %w", final, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("publish %s: %w", final, err)
	}
	return nil
}

// Discard removes a published run directory
func (s *FileStore) Discard(_ context.Context, runID string) error {
	if err := os.RemoveAll(s.RunDir(runID)); err != nil {
		return fmt.Errorf("discard %s: %w", runID, err)
	}
	return nil
}

func writeWeightsCSV(path string, result *RunResult) error {
	m := result.Weights
	header := append([]string{"day", "date"}, m.Entities...)
	header = append(header, "fallback_reason", "augmented")

	records := make([][]string, 0, m.Len())
	for _, row := range m.Rows {
		rec := []string{strconv.Itoa(row.Day), formatDate(row.Date)}
		for _, w := range row.Weights {
			rec = append(rec, strconv.FormatFloat(w, 'f', -1, 64))
		}
		rec = append(rec, row.FallbackReason, row.Augmented)
		records = append(records, rec)
	}
	return writeCSV(path, header, records)
}

func writeEquityCSV(path string, result *RunResult) error {
	sim := result.Simulation
	header := []string{"point", "date", "equity", "state", "raw_return", "effective_return", "drawdown", "floor"}

	records := make([][]string, 0, len(sim.Equity))
	for i, p := range sim.Equity {
		rec := []string{strconv.Itoa(p.Day), formatDate(p.Date), strconv.FormatFloat(p.Value, 'f', -1, 64)}
		if i == 0 {
			rec = append(rec, "", "", "", "", "")
		} else {
			t := i - 1
			rec = append(rec,
				string(sim.States[t]),
				strconv.FormatFloat(sim.RawReturns[t], 'f', -1, 64),
				strconv.FormatFloat(sim.EffectiveReturns[t], 'f', -1, 64),
				strconv.FormatFloat(sim.Drawdown[t], 'f', -1, 64),
				strconv.FormatFloat(sim.Floor[t], 'f', -1, 64),
			)
		}
		records = append(records, rec)
	}
	return writeCSV(path, header, records)
}

func writeCSV(path string, header []string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return err
	}
	if err := w.WriteAll(records); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

type summaryFile struct {
	RunID      string            `json:"run_id"`
	StrategyID string            `json:"strategy_id"`
	ConfigHash string            `json:"config_hash"`
	Summary    *backtest.Summary `json:"summary"`
	Fallbacks  map[string]int    `json:"fallbacks"`
	Anomalies  int               `json:"anomalies"`
}

func writeJSON(path string, result *RunResult) error {
	data, err := json.MarshalIndent(summaryFile{
		RunID:      result.RunID,
		StrategyID: result.StrategyID,
		ConfigHash: result.ConfigHash,
		Summary:    result.Summary,
		Fallbacks:  result.Allocation.Fallbacks,
		Anomalies:  len(result.Anomalies),
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

// =============================================================================
// Redis
// =============================================================================

// CachedRun is the run summary kept in Redis for the API
type CachedRun struct {
	RunID      string            `json:"run_id"`
	StrategyID string            `json:"strategy_id"`
	ConfigHash string            `json:"config_hash"`
	Summary    *backtest.Summary `json:"summary"`
	CreatedAt  time.Time         `json:"created_at"`
}

// CacheStore keeps the run summary under redis.RunKey.
// Cache writes are best-effort: a failure is logged and the run still succeeds.
type CacheStore struct {
	cache *redis.Cache
	ttl   time.Duration
}

// NewCacheStore creates a Redis summary sink
func NewCacheStore(cache *redis.Cache, ttl time.Duration) *CacheStore {
	return &CacheStore{cache: cache, ttl: ttl}
}

// Name implements Store
func (s *CacheStore) Name() string { return "redis" }

// BestEffort marks the store as non-fatal
func (s *CacheStore) BestEffort() bool { return true }

// Save implements Store
func (s *CacheStore) Save(ctx context.Context, result *RunResult) error {
	return s.cache.Set(ctx, redis.RunKey(result.RunID), CachedRun{
		RunID:      result.RunID,
		StrategyID: result.StrategyID,
		ConfigHash: result.ConfigHash,
		Summary:    result.Summary,
		CreatedAt:  time.Now().UTC(),
	}, s.ttl)
}
