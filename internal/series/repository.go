package series

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis-rotator/internal/contracts"
)

// PriceRepository implements contracts.PriceRepository
// ⭐ SSOT: 섹터 가격 저장소는 여기서만
type PriceRepository struct {
	pool *pgxpool.Pool
}

// NewPriceRepository creates a new price repository
func NewPriceRepository(pool *pgxpool.Pool) *PriceRepository {
	return &PriceRepository{pool: pool}
}

// GetByKeyAndDateRange retrieves closes for a sector within [from, to], ascending.
// Zero from/to leave that side open.
func (r *PriceRepository) GetByKeyAndDateRange(ctx context.Context, key string, from, to time.Time) ([]*contracts.Price, error) {
	query := `
		SELECT sector_key, trade_date, close_price
		FROM data.sector_prices
		WHERE sector_key = $1
		  AND ($2::date IS NULL OR trade_date >= $2)
		  AND ($3::date IS NULL OR trade_date <= $3)
		ORDER BY trade_date ASC
	`

	rows, err := r.pool.Query(ctx, query, key, nullableDate(from), nullableDate(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	var prices []*contracts.Price
	for rows.Next() {
		var p contracts.Price
		if err := rows.Scan(&p.Key, &p.Date, &p.Close); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		prices = append(prices, &p)
	}
	return prices, rows.Err()
}

// SaveBatch upserts price records
func (r *PriceRepository) SaveBatch(ctx context.Context, prices []*contracts.Price) error {
	if len(prices) == 0 {
		return nil
	}

	query := `
		INSERT INTO data.sector_prices (sector_key, trade_date, close_price)
		VALUES ($1, $2, $3)
		ON CONFLICT (sector_key, trade_date) DO UPDATE SET
			close_price = EXCLUDED.close_price`

	batch := &pgx.Batch{}
	for _, p := range prices {
		batch.Queue(query, p.Key, p.Date, p.Close)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range prices {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to upsert price: %w", err)
		}
	}
	return nil
}

// SignalRepository implements contracts.SignalRepository
// ⭐ SSOT: 섹터 시그널 저장소는 여기서만
type SignalRepository struct {
	pool *pgxpool.Pool
}

// NewSignalRepository creates a new signal repository
func NewSignalRepository(pool *pgxpool.Pool) *SignalRepository {
	return &SignalRepository{pool: pool}
}

// GetByKeyAndDateRange retrieves flags for a sector within [from, to], ascending
func (r *SignalRepository) GetByKeyAndDateRange(ctx context.Context, key string, from, to time.Time) ([]*contracts.SignalFlag, error) {
	query := `
		SELECT sector_key, trade_date, flag
		FROM data.sector_signals
		WHERE sector_key = $1
		  AND ($2::date IS NULL OR trade_date >= $2)
		  AND ($3::date IS NULL OR trade_date <= $3)
		ORDER BY trade_date ASC
	`

	rows, err := r.pool.Query(ctx, query, key, nullableDate(from), nullableDate(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var flags []*contracts.SignalFlag
	for rows.Next() {
		var f contracts.SignalFlag
		var flag int16
		if err := rows.Scan(&f.Key, &f.Date, &flag); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		f.Flag = int(flag)
		flags = append(flags, &f)
	}
	return flags, rows.Err()
}

// SaveBatch upserts signal flags
func (r *SignalRepository) SaveBatch(ctx context.Context, flags []*contracts.SignalFlag) error {
	if len(flags) == 0 {
		return nil
	}

	query := `
		INSERT INTO data.sector_signals (sector_key, trade_date, flag)
		VALUES ($1, $2, $3)
		ON CONFLICT (sector_key, trade_date) DO UPDATE SET
			flag = EXCLUDED.flag`

	batch := &pgx.Batch{}
	for _, f := range flags {
		batch.Queue(query, f.Key, f.Date, int16(f.Flag))
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range flags {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to upsert signal: %w", err)
		}
	}
	return nil
}

func nullableDate(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
