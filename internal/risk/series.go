package risk

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// RunningMax returns M_t = max(x_0..x_t)
func RunningMax(values []float64) []float64 {
	out := make([]float64, len(values))
	peak := math.Inf(-1)
	for i, v := range values {
		if v > peak {
			peak = v
		}
		out[i] = peak
	}
	return out
}

// Drawdowns returns D_t = x_t / M_t − 1 (always ≤ 0 for positive series)
func Drawdowns(values []float64) []float64 {
	peaks := RunningMax(values)
	out := make([]float64, len(values))
	for i, v := range values {
		if peaks[i] > 0 {
			out[i] = v/peaks[i] - 1
		}
	}
	return out
}

// MaxDrawdown returns the deepest drawdown as a positive fraction
func MaxDrawdown(values []float64) float64 {
	worst := 0.0
	for _, d := range Drawdowns(values) {
		if d < worst {
			worst = d
		}
	}
	return -worst
}

// RollingStdDev returns the sample stdev (N−1) of the trailing window ending
// at each index. Indices with fewer than window observations are 0.
func RollingStdDev(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	if window < 2 {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		out[i] = stat.StdDev(values[i-window+1:i+1], nil)
	}
	return out
}

// Annualize scales a daily stdev by √periods
func Annualize(dailyStd, periods float64) float64 {
	return dailyStd * math.Sqrt(periods)
}
