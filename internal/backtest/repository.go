package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis-rotator/internal/contracts"
	"github.com/wonny/aegis-rotator/pkg/database"
)

// Repository handles equity curve persistence
// ⭐ SSOT: equity 저장/조회는 여기서만
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new backtest repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SaveSimulation replaces the equity curve of a run in one transaction
func (r *Repository) SaveSimulation(ctx context.Context, runID string, res *contracts.SimulationResult) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return SaveSimulationTx(ctx, tx, runID, res)
	})
}

// SaveSimulationTx writes the curve inside a caller-owned transaction.
// Point 0 (initial capital) carries no state; point t+1 carries the state of day t.
func SaveSimulationTx(ctx context.Context, tx pgx.Tx, runID string, res *contracts.SimulationResult) error {
	if _, err := tx.Exec(ctx, "DELETE FROM rotator.equity WHERE run_id = $1", runID); err != nil {
		return fmt.Errorf("failed to delete old equity: %w", err)
	}

	query := `
		INSERT INTO rotator.equity (run_id, point, trade_date, equity, state)
		VALUES ($1, $2, $3, $4, $5)
	`

	batch := &pgx.Batch{}
	for i, p := range res.Equity {
		var state *string
		if i > 0 {
			s := string(res.States[i-1])
			state = &s
		}
		var date *time.Time
		if !p.Date.IsZero() {
			d := p.Date
			date = &d
		}
		batch.Queue(query, runID, p.Day, date, p.Value, state)
	}

	br := tx.SendBatch(ctx, batch)
	defer br.Close()

	for range res.Equity {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert equity point: %w", err)
		}
	}
	return nil
}

// GetEquity loads a run's curve and the per-day states (len(states) = len(points) − 1)
func (r *Repository) GetEquity(ctx context.Context, runID string) ([]contracts.EquityPoint, []contracts.RiskState, error) {
	query := `
		SELECT point, trade_date, equity, COALESCE(state, '')
		FROM rotator.equity
		WHERE run_id = $1
		ORDER BY point
	`

	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query equity: %w", err)
	}
	defer rows.Close()

	var points []contracts.EquityPoint
	var states []contracts.RiskState
	for rows.Next() {
		var p contracts.EquityPoint
		var date *time.Time
		var state string
		if err := rows.Scan(&p.Day, &date, &p.Value, &state); err != nil {
			return nil, nil, fmt.Errorf("failed to scan equity point: %w", err)
		}
		if date != nil {
			p.Date = *date
		}
		points = append(points, p)
		if p.Day > 0 {
			states = append(states, contracts.RiskState(state))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return points, states, nil
}
