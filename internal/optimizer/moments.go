package optimizer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Moments estimates the mean vector and sample covariance (N−1) of a
// [observation][asset] sample.
func Moments(sample [][]float64) ([]float64, *mat.SymDense, error) {
	rows := len(sample)
	if rows < 2 {
		return nil, nil, fmt.Errorf("%w: %d observations", ErrInsufficientSample, rows)
	}
	cols := len(sample[0])
	if cols == 0 {
		return nil, nil, fmt.Errorf("%w: no assets", ErrInsufficientSample)
	}

	x := mat.NewDense(rows, cols, nil)
	for i, row := range sample {
		if len(row) != cols {
			return nil, nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrInvalidProblem, i, len(row), cols)
		}
		x.SetRow(i, row)
	}

	mu := make([]float64, cols)
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, x)
		mu[j] = stat.Mean(col, nil)
	}

	var sigma mat.SymDense
	stat.CovarianceMatrix(&sigma, x, nil)

	return mu, &sigma, nil
}

// SharpeScore is mean/stdev of a return sample; stdev 0 or NaN scores −Inf
func SharpeScore(returns []float64) float64 {
	if len(returns) < 2 {
		return math.Inf(-1)
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if !(std > 0) || math.IsNaN(mean) || math.IsInf(std, 0) {
		return math.Inf(-1)
	}
	return mean / std
}
