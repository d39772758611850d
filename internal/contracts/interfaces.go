package contracts

import "context"

// SeriesLoader loads raw per-entity signals and returns (S0)
// ⭐ SSOT: S0 로딩 인터페이스 (DB / CSV 디렉터리)
type SeriesLoader interface {
	Load(ctx context.Context, entities []Entity) ([]EntitySeries, error)
}

// WeightAllocator turns an aligned panel into a raw weight matrix (S2)
// ⭐ SSOT: S2 최적화 인터페이스
type WeightAllocator interface {
	Allocate(ctx context.Context, panel *Panel) (*WeightMatrix, *AllocationReport, error)
}

// WeightProcessor normalizes a raw weight matrix (S3)
// ⭐ SSOT: S3 후처리 인터페이스
type WeightProcessor interface {
	Process(m *WeightMatrix) (*WeightMatrix, []NumericAnomaly)
}

// EquitySimulator runs the equity curve + overlay (S4)
// ⭐ SSOT: S4 시뮬레이션 인터페이스
type EquitySimulator interface {
	Run(weights *WeightMatrix, panel *Panel) (*SimulationResult, error)
}

// AllocationReport summarizes per-day outcomes of one allocation run
type AllocationReport struct {
	Days          int              `json:"days"`
	FlatDays      int              `json:"flat_days"`
	SolvedDays    int              `json:"solved_days"`
	AugmentedDays int              `json:"augmented_days"`
	Fallbacks     map[string]int   `json:"fallbacks"` // reason → count
	Anomalies     []NumericAnomaly `json:"anomalies,omitempty"`
	CacheHit      bool             `json:"cache_hit"`
}

// TotalFallbacks sums fallback days over all reasons
func (r *AllocationReport) TotalFallbacks() int {
	n := 0
	for _, c := range r.Fallbacks {
		n += c
	}
	return n
}
