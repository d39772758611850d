package portfolio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis-rotator/internal/contracts"
	"github.com/wonny/aegis-rotator/pkg/database"
)

// ErrRunNotFound is returned when a run id has no stored rows
var ErrRunNotFound = errors.New("run not found")

// Repository handles weight matrix persistence
// ⭐ SSOT: weight 저장/조회는 여기서만
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new portfolio repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateRun registers a run before any result rows are written
func (r *Repository) CreateRun(ctx context.Context, runID, configHash string, entities []string) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return CreateRunTx(ctx, tx, runID, configHash, entities)
	})
}

// CreateRunTx registers a run inside a caller-owned transaction
func CreateRunTx(ctx context.Context, tx pgx.Tx, runID, configHash string, entities []string) error {
	query := `
		INSERT INTO rotator.runs (run_id, config_hash, entities, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (run_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, query, runID, configHash, entities); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// DeleteRun removes a run; weight and equity rows cascade
func (r *Repository) DeleteRun(ctx context.Context, runID string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM rotator.runs WHERE run_id = $1", runID); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// SaveWeights replaces the weight rows of a run in one transaction
func (r *Repository) SaveWeights(ctx context.Context, runID string, m *contracts.WeightMatrix) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return SaveWeightsTx(ctx, tx, runID, m)
	})
}

// SaveWeightsTx writes weight rows inside a caller-owned transaction
func SaveWeightsTx(ctx context.Context, tx pgx.Tx, runID string, m *contracts.WeightMatrix) error {
	if _, err := tx.Exec(ctx, "DELETE FROM rotator.weights WHERE run_id = $1", runID); err != nil {
		return fmt.Errorf("failed to delete old weights: %w", err)
	}

	query := `
		INSERT INTO rotator.weights (
			run_id, day, trade_date, weights, fallback, fallback_reason, augmented
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	batch := &pgx.Batch{}
	for _, row := range m.Rows {
		batch.Queue(query,
			runID, row.Day, nullableDate(row.Date), row.Weights,
			row.Fallback, nullableText(row.FallbackReason), nullableText(row.Augmented),
		)
	}

	br := tx.SendBatch(ctx, batch)
	defer br.Close()

	for range m.Rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert weight row: %w", err)
		}
	}
	return nil
}

// GetWeights loads a run's weight matrix in day order
func (r *Repository) GetWeights(ctx context.Context, runID string) (*contracts.WeightMatrix, error) {
	var entities []string
	err := r.pool.QueryRow(ctx, "SELECT entities FROM rotator.runs WHERE run_id = $1", runID).Scan(&entities)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	query := `
		SELECT day, trade_date, weights, fallback, COALESCE(fallback_reason, ''), COALESCE(augmented, '')
		FROM rotator.weights
		WHERE run_id = $1
		ORDER BY day
	`

	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query weights: %w", err)
	}
	defer rows.Close()

	m := &contracts.WeightMatrix{Entities: entities}
	for rows.Next() {
		var row contracts.WeightRow
		var date *time.Time
		if err := rows.Scan(&row.Day, &date, &row.Weights, &row.Fallback, &row.FallbackReason, &row.Augmented); err != nil {
			return nil, fmt.Errorf("failed to scan weight row: %w", err)
		}
		if date != nil {
			row.Date = *date
		}
		m.Rows = append(m.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

func nullableDate(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
