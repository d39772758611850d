package contracts

import "time"

// RiskState is the trailing-stop overlay state
type RiskState string

const (
	StateActive     RiskState = "ACTIVE"
	StateSuppressed RiskState = "SUPPRESSED"
)

// EquityPoint is one point of an equity curve
type EquityPoint struct {
	Day   int       `json:"day"`
	Date  time.Time `json:"date,omitempty"`
	Value float64   `json:"value"`
}

// SimulationResult holds the output curve and every derived series.
// Equity has L+1 points (point 0 = initial capital), every other series has L.
// ⭐ SSOT: 매 run마다 새로 생성, 이전 run 상태 재사용 금지
type SimulationResult struct {
	Equity           []EquityPoint `json:"equity"`
	EffectiveReturns []float64     `json:"effective_returns"`
	RawReturns       []float64     `json:"raw_returns"`

	Shadow   []float64   `json:"shadow"`    // E_t
	Peak     []float64   `json:"peak"`      // M_t
	Drawdown []float64   `json:"drawdown"`  // D_t
	Vol      []float64   `json:"vol"`       // σ_t (annualized)
	Floor    []float64   `json:"floor"`     // F_t
	States   []RiskState `json:"states"`

	SuppressedDays int              `json:"suppressed_days"`
	Anomalies      []NumericAnomaly `json:"anomalies,omitempty"`
}

// Len returns the number of simulated days
func (r *SimulationResult) Len() int {
	return len(r.EffectiveReturns)
}

// FinalEquity returns the last point of the output curve
func (r *SimulationResult) FinalEquity() float64 {
	if len(r.Equity) == 0 {
		return 0
	}
	return r.Equity[len(r.Equity)-1].Value
}

// EquityValues returns the curve values without dates
func (r *SimulationResult) EquityValues() []float64 {
	out := make([]float64, len(r.Equity))
	for i, p := range r.Equity {
		out[i] = p.Value
	}
	return out
}
