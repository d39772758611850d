package risk

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat"
)

var (
	ErrInsufficientData = errors.New("insufficient data for simulation")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// Bootstrap resamples daily returns with replacement into holding-period
// returns and summarizes the tail of that distribution.
func Bootstrap(returns []float64, cfg BootstrapConfig) (*BootstrapResult, error) {
	if cfg.NumSimulations <= 0 || cfg.HoldingPeriod <= 0 {
		return nil, fmt.Errorf("%w: simulations=%d holding=%d", ErrInvalidConfig, cfg.NumSimulations, cfg.HoldingPeriod)
	}
	// Fail-closed: 최소 샘플 수 체크
	if len(returns) == 0 || len(returns) < cfg.MinSamples {
		return nil, fmt.Errorf("%w: %d samples, need %d", ErrInsufficientData, len(returns), cfg.MinSamples)
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	sims := make([]float64, cfg.NumSimulations)
	for i := range sims {
		cum := 1.0
		for d := 0; d < cfg.HoldingPeriod; d++ {
			cum *= 1 + returns[rng.IntN(len(returns))]
		}
		sims[i] = cum - 1
	}

	mean, std := stat.MeanStdDev(sims, nil)
	result := &BootstrapResult{
		Config:      cfg,
		SampleCount: len(returns),
		MeanReturn:  mean,
		StdDev:      std,
		Percentiles: make(map[int]float64),
	}
	for _, c := range cfg.ConfidenceLevels {
		result.VaR = append(result.VaR, CalculateVaR(sims, c))
	}

	sort.Float64s(sims)
	for _, p := range []int{1, 5, 25, 50, 75, 95, 99} {
		result.Percentiles[p] = Percentile(sims, float64(p))
	}
	return result, nil
}
