package risk

// VaRConvention VaR 부호 규약
// ⭐ SSOT: Loss를 양수로 표현 (VaR=0.05 → 5% 손실 가능)
// 전체 시스템에서 이 규약을 일관되게 사용
const VaRConvention = "loss_positive"

// VaRResult VaR 계산 결과
// ⭐ SSOT: VaR/CVaR는 손실을 양수로 표현
// - VaR=0.05 → 95% 신뢰수준에서 최대 5% 손실 가능
// - CVaR=0.07 → 5% tail에서 평균 7% 손실 예상
type VaRResult struct {
	Confidence float64 `json:"confidence"` // 신뢰수준 (예: 0.95, 0.99)
	VaR        float64 `json:"var"`        // Value at Risk (손실, 양수)
	CVaR       float64 `json:"cvar"`       // Conditional VaR (Expected Shortfall, 양수)
}

// BootstrapConfig holding-period bootstrap 설정
// ⭐ SSOT: 재현성을 위해 Seed를 항상 기록
type BootstrapConfig struct {
	NumSimulations   int       `json:"num_simulations"`   // 기본: 10000
	HoldingPeriod    int       `json:"holding_period"`    // 보유 기간 (일, 기본: 5)
	ConfidenceLevels []float64 `json:"confidence_levels"` // [0.95, 0.99]
	Seed             uint64    `json:"seed"`              // 같은 seed → 같은 결과
	MinSamples       int       `json:"min_samples"`       // fail-closed, 기본: 30
}

// DefaultBootstrapConfig 기본 bootstrap 설정
func DefaultBootstrapConfig() BootstrapConfig {
	return BootstrapConfig{
		NumSimulations:   10000,
		HoldingPeriod:    5,
		ConfidenceLevels: []float64{0.95, 0.99},
		Seed:             42,
		MinSamples:       30,
	}
}

// BootstrapResult holding-period 누적 수익률 분포 요약
type BootstrapResult struct {
	Config      BootstrapConfig `json:"config"`
	SampleCount int             `json:"sample_count"` // 입력 일별 수익률 수
	MeanReturn  float64         `json:"mean_return"`
	StdDev      float64         `json:"std_dev"`
	VaR         []VaRResult     `json:"var"`         // ConfidenceLevels 순서
	Percentiles map[int]float64 `json:"percentiles"` // 1, 5, 25, 50, 75, 95, 99
}
