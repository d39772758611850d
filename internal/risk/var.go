package risk

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// =============================================================================
// VaR (Value at Risk) Calculation
// =============================================================================

// CalculateVaR 과거 수익률 기반 VaR 계산 (Historical Simulation)
// returns: 일별 수익률 배열 (양수=이익, 음수=손실)
// confidence: 신뢰수준 (예: 0.95, 0.99)
// 반환값: VaR는 손실을 양수로 표현 (예: 0.05 = 5% 손실 가능)
func CalculateVaR(returns []float64, confidence float64) VaRResult {
	if len(returns) == 0 {
		return VaRResult{Confidence: confidence}
	}

	// 오름차순: 손실이 앞에
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	idx := int(math.Floor((1.0 - confidence) * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return VaRResult{
		Confidence: confidence,
		VaR:        lossPositive(sorted[idx]),
		CVaR:       CalculateCVaR(sorted, idx),
	}
}

// CalculateCVaR Conditional VaR (Expected Shortfall) 계산
// sorted: 오름차순 정렬된 수익률
// varIdx: VaR 인덱스 (이 인덱스 이하의 수익률이 tail)
func CalculateCVaR(sorted []float64, varIdx int) float64 {
	if len(sorted) == 0 || varIdx < 0 {
		return 0
	}
	if varIdx >= len(sorted) {
		varIdx = len(sorted) - 1
	}
	return lossPositive(stat.Mean(sorted[:varIdx+1], nil))
}

// CalculateParametricVaR 정규분포 가정 VaR 계산
// VaR = z·σ, CVaR = VaR + σ·φ(z)/(1-c)
func CalculateParametricVaR(stdDev, confidence float64) VaRResult {
	if !(confidence > 0 && confidence < 1) || !(stdDev > 0) {
		return VaRResult{Confidence: confidence}
	}

	z := distuv.UnitNormal.Quantile(confidence)
	varValue := math.Max(z*stdDev, 0)
	cvar := varValue + stdDev*distuv.UnitNormal.Prob(z)/(1-confidence)

	return VaRResult{
		Confidence: confidence,
		VaR:        varValue,
		CVaR:       cvar,
	}
}

// =============================================================================
// 통계 유틸리티
// =============================================================================

// Percentile 백분위수 계산 (p: 0-100, 선형 보간)
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	idx := p / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(idx))
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	weight := idx - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

func lossPositive(r float64) float64 {
	if r < 0 {
		return -r
	}
	return 0
}
