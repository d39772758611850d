package contracts

import (
	"context"
	"time"
)

// ⭐ SSOT: Repository 인터페이스 정의는 여기서만

// PriceRepository manages sector close prices
type PriceRepository interface {
	GetByKeyAndDateRange(ctx context.Context, key string, from, to time.Time) ([]*Price, error)
	SaveBatch(ctx context.Context, prices []*Price) error
}

// Price represents a sector close record
type Price struct {
	Key   string
	Date  time.Time
	Close float64
}

// SignalRepository manages sector signal flags
type SignalRepository interface {
	GetByKeyAndDateRange(ctx context.Context, key string, from, to time.Time) ([]*SignalFlag, error)
	SaveBatch(ctx context.Context, flags []*SignalFlag) error
}

// SignalFlag represents one day's directional flag for a sector
type SignalFlag struct {
	Key  string
	Date time.Time
	Flag int // -1, 0, +1
}

// WeightRepository persists post-processed weight matrices under a run id
type WeightRepository interface {
	SaveWeights(ctx context.Context, runID string, m *WeightMatrix) error
	GetWeights(ctx context.Context, runID string) (*WeightMatrix, error)
}

// EquityRepository persists simulation output under a run id
type EquityRepository interface {
	SaveSimulation(ctx context.Context, runID string, res *SimulationResult) error
	GetEquity(ctx context.Context, runID string) ([]EquityPoint, []RiskState, error)
}
