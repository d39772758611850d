package backtest

import (
	"math"

	"github.com/wonny/aegis-rotator/internal/contracts"
)

// Attribution is one sector's share of the simulated return
type Attribution struct {
	Entity       string  `json:"entity"`
	Contribution float64 `json:"contribution"` // Σ w·r over active days (단순 합)
	Exposure     float64 `json:"exposure"`     // 평균 |w|
	ReturnPct    float64 `json:"return_pct"`   // 기여도 / 노출도 (%)
	HeldDays     int     `json:"held_days"`    // w ≠ 0
}

// Attribute splits each day's effective return across the entity columns.
// Suppressed days contribute nothing, so Σ Contribution = Σ EffectiveReturns.
// Weights and panel are aligned on the trailing res.Len() days, as in Simulator.Run.
func Attribute(weights *contracts.WeightMatrix, panel *contracts.Panel, res *contracts.SimulationResult) []Attribution {
	if weights == nil || panel == nil || res == nil {
		return nil
	}
	L := res.Len()
	if L == 0 || weights.Len() < L || panel.Len() < L {
		return nil
	}
	wOffset := weights.Len() - L
	pOffset := panel.Len() - L

	out := make([]Attribution, len(weights.Entities))
	for i, key := range weights.Entities {
		out[i].Entity = key
	}

	contrib := make([]float64, len(out))
	for t := 0; t < L; t++ {
		row := weights.Rows[wOffset+t].Weights
		rets := panel.Returns[pOffset+t]
		n := min(len(out), len(row), len(rets))

		day := 0.0
		for i := 0; i < n; i++ {
			w := row[i]
			out[i].Exposure += math.Abs(w)
			if w != 0 {
				out[i].HeldDays++
			}
			contrib[i] = w * rets[i]
			day += contrib[i]
		}

		// 억제된 날, 시뮬레이터가 비유한 수익률을 0으로 대체한 날은 기여 없음
		if res.States[t] == contracts.StateSuppressed || !contracts.IsFinite(day) {
			continue
		}
		for i := 0; i < n; i++ {
			out[i].Contribution += contrib[i]
		}
	}

	for i := range out {
		out[i].Exposure /= float64(L)
		if out[i].Exposure > 0 {
			out[i].ReturnPct = out[i].Contribution / out[i].Exposure * 100
		}
	}
	return out
}
