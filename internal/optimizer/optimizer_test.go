package optimizer

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func identity(n int) *mat.SymDense {
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		s.SetSym(i, i, 1)
	}
	return s
}

func sumAbs(w []float64) float64 {
	total := 0.0
	for _, x := range w {
		total += math.Abs(x)
	}
	return total
}

func TestLongOnlySolver_KnownOptimum(t *testing.T) {
	// max 0.1·w1 − ½(w1² + w2²), w1 + w2 = 1 → w = (0.55, 0.45)
	solver := NewLongOnlySolver(DefaultOptions())
	w, err := solver.Solve(context.Background(), Problem{
		Mu:           []float64{0.1, 0},
		Sigma:        identity(2),
		RiskAversion: 1,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.55, w[0], 1e-8)
	assert.InDelta(t, 0.45, w[1], 1e-8)
}

func TestLongOnlySolver_CornerSolution(t *testing.T) {
	// 기대수익 차이가 크면 한 종목에 100%
	solver := NewLongOnlySolver(DefaultOptions())
	w, err := solver.Solve(context.Background(), Problem{
		Mu:           []float64{5, 0, 0},
		Sigma:        identity(3),
		RiskAversion: 1,
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, w[0], 1e-8)
	assert.InDelta(t, 0.0, w[1], 1e-8)
	assert.InDelta(t, 0.0, w[2], 1e-8)
}

func TestLongShortSolver_Bounds(t *testing.T) {
	solver := NewLongShortSolver(DefaultOptions())

	w, err := solver.Solve(context.Background(), Problem{
		Mu:           []float64{0.1, -0.1},
		Sigma:        identity(2),
		RiskAversion: 1,
		Bound:        0.5,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, w[0], 1e-8)
	assert.InDelta(t, -0.5, w[1], 1e-8)

	// |w_i| = (|μ_i| − ν)/λ with Σ|w| = 1 → ν = −0.3675
	w, err = solver.Solve(context.Background(), Problem{
		Mu:           []float64{0.3, 0.01, -0.2, 0.02},
		Sigma:        identity(4),
		RiskAversion: 2,
		Bound:        0.5,
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sumAbs(w), 1e-9)
	for _, x := range w {
		assert.LessOrEqual(t, math.Abs(x), 0.5+1e-12)
	}
	assert.InDelta(t, 0.33375, w[0], 1e-8)
	assert.InDelta(t, 0.18875, w[1], 1e-8)
	assert.InDelta(t, -0.28375, w[2], 1e-8)
	assert.InDelta(t, 0.19375, w[3], 1e-8)
}

func TestLongShortSolver_Infeasible(t *testing.T) {
	solver := NewLongShortSolver(DefaultOptions())
	_, err := solver.Solve(context.Background(), Problem{
		Mu:           []float64{0.1},
		Sigma:        identity(1),
		RiskAversion: 1,
		Bound:        0.5,
	})
	assert.ErrorIs(t, err, ErrInfeasible)
	assert.Equal(t, "infeasible", Reason(err))
}

func TestSolve_SingularCovariance(t *testing.T) {
	// 완전 상관 → Cholesky 실패
	sigma := mat.NewSymDense(2, []float64{1, 1, 1, 1})

	for _, mode := range []Mode{ModeLongOnly, ModeLongShort} {
		solver, err := New(mode, Options{})
		require.NoError(t, err)

		_, err = solver.Solve(context.Background(), Problem{
			Mu:           []float64{0.1, 0.1},
			Sigma:        sigma,
			RiskAversion: 1,
			Bound:        0.5,
		})
		assert.ErrorIs(t, err, ErrSingularCovariance, string(mode))
	}
}

func TestSolve_IllConditioned(t *testing.T) {
	sigma := mat.NewSymDense(2, []float64{1, 0, 0, 1e-14})
	err := CheckCovariance(sigma)
	assert.ErrorIs(t, err, ErrSingularCovariance)
}

func TestSolve_NotConverged(t *testing.T) {
	solver := NewLongOnlySolver(Options{MaxIterations: 1, Tolerance: 1e-300})
	_, err := solver.Solve(context.Background(), Problem{
		Mu:           []float64{0.1, 0},
		Sigma:        identity(2),
		RiskAversion: 1,
	})
	assert.ErrorIs(t, err, ErrNotConverged)
}

func TestSolve_Timeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	solver := NewLongOnlySolver(DefaultOptions())
	_, err := solver.Solve(ctx, Problem{
		Mu:           []float64{0.1, 0},
		Sigma:        identity(2),
		RiskAversion: 1,
	})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, "timeout", Reason(err))
}

func TestSolve_InvalidProblem(t *testing.T) {
	solver := NewLongOnlySolver(DefaultOptions())

	_, err := solver.Solve(context.Background(), Problem{Mu: []float64{0.1}, Sigma: identity(2), RiskAversion: 1})
	assert.ErrorIs(t, err, ErrInvalidProblem)

	_, err = solver.Solve(context.Background(), Problem{Mu: []float64{math.NaN(), 0}, Sigma: identity(2), RiskAversion: 1})
	assert.ErrorIs(t, err, ErrNumeric)
}

func TestNew_UnknownMode(t *testing.T) {
	_, err := New("leveraged", Options{})
	assert.Error(t, err)
}

func TestProjectCappedSimplex(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		cap  float64
		want []float64
	}{
		{"already feasible", []float64{0.3, 0.7}, 1, []float64{0.3, 0.7}},
		{"shift down", []float64{1, 1}, 1, []float64{0.5, 0.5}},
		{"negative clipped", []float64{2, -1}, 1, []float64{1, 0}},
		{"cap binds", []float64{0.9, 0.1, 0.0}, 0.5, []float64{0.5, 0.3, 0.2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := projectCappedSimplex(tt.in, tt.cap)
			require.Len(t, got, len(tt.want))
			for i := range got {
				assert.InDelta(t, tt.want[i], got[i], 1e-12)
			}
		})
	}
}

func TestProjectSignedBox_KeepsSign(t *testing.T) {
	got := projectSignedBox([]float64{-0.9, 0.1, 0.0}, []float64{-1, 1, 1}, 0.5)
	assert.InDelta(t, -0.5, got[0], 1e-12)
	assert.InDelta(t, 0.3, got[1], 1e-12)
	assert.InDelta(t, 0.2, got[2], 1e-12)
	assert.InDelta(t, 1.0, sumAbs(got), 1e-12)

	// 반대 방향 성분은 0으로
	got = projectSignedBox([]float64{0.9, 0.4}, []float64{1, -1}, 1)
	assert.InDelta(t, 1.0, got[0], 1e-12)
	assert.Equal(t, 0.0, got[1])
}

func TestMoments(t *testing.T) {
	sample := [][]float64{
		{0.01, 0.02},
		{0.03, -0.02},
		{0.02, 0.00},
	}
	mu, sigma, err := Moments(sample)
	require.NoError(t, err)

	assert.InDelta(t, 0.02, mu[0], 1e-12)
	assert.InDelta(t, 0.0, mu[1], 1e-12)
	// sample variance (N−1): ((−.01)² + .01² + 0²)/2 = 1e-4
	assert.InDelta(t, 1e-4, sigma.At(0, 0), 1e-15)
	assert.InDelta(t, 4e-4, sigma.At(1, 1), 1e-15)
	assert.InDelta(t, -2e-4, sigma.At(0, 1), 1e-15)

	_, _, err = Moments(sample[:1])
	assert.True(t, errors.Is(err, ErrInsufficientSample))
}

func TestSharpeScore(t *testing.T) {
	assert.True(t, math.IsInf(SharpeScore([]float64{0.25, 0.25, 0.25}), -1))
	assert.True(t, math.IsInf(SharpeScore([]float64{0.01}), -1))
	assert.Greater(t, SharpeScore([]float64{0.01, 0.02, 0.03}), 0.0)
}

func TestObjective(t *testing.T) {
	p := Problem{Mu: []float64{0.1, 0}, Sigma: identity(2), RiskAversion: 1}
	assert.InDelta(t, 0.1*0.55-0.5*(0.55*0.55+0.45*0.45), Objective(p, []float64{0.55, 0.45}), 1e-12)
}
