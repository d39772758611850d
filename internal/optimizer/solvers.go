package optimizer

import (
	"context"
	"fmt"
	"math"
)

// LongOnlySolver maximizes the mean-variance objective on the unit simplex
type LongOnlySolver struct {
	opts Options
}

// NewLongOnlySolver creates a long-only solver
func NewLongOnlySolver(opts Options) *LongOnlySolver {
	return &LongOnlySolver{opts: opts.withDefaults()}
}

// Solve returns w ≥ 0 with Σw = 1
func (s *LongOnlySolver) Solve(ctx context.Context, p Problem) ([]float64, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return projectedGradient(ctx, p, s.opts, func(v []float64) []float64 {
		return projectCappedSimplex(v, 1)
	})
}

// LongShortSolver maximizes the objective over the box [-b, b] with Σ|w| = 1
type LongShortSolver struct {
	opts Options
}

// NewLongShortSolver creates a long-short solver
func NewLongShortSolver(opts Options) *LongShortSolver {
	return &LongShortSolver{opts: opts.withDefaults()}
}

// Solve returns -b ≤ w ≤ b with Σ|w| = 1.
// n·b < 1 cannot reach unit gross exposure and is reported as infeasible.
//
// Σ|w| = 1 is not convex, so the search runs on the orthant fixed by sign(μ)
// (μ_i = 0 → long). Inside one orthant the problem is concave and the
// projection sign⊙Π(|v|) is exact.
func (s *LongShortSolver) Solve(ctx context.Context, p Problem) ([]float64, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	b := p.Bound
	if b <= 0 {
		b = DefaultBound
	}
	n := len(p.Mu)
	if float64(n)*b < 1-1e-12 {
		return nil, fmt.Errorf("%w: %d entities with bound %.3f", ErrInfeasible, n, b)
	}

	signs := make([]float64, n)
	for i, m := range p.Mu {
		signs[i] = 1
		if m < 0 {
			signs[i] = -1
		}
	}

	return projectedGradient(ctx, p, s.opts, func(v []float64) []float64 {
		return projectSignedBox(v, signs, b)
	})
}

// projectSignedBox projects onto {x : sign(x_i) ∈ {0, signs_i}, Σ|x| = 1, |x_i| ≤ b}
func projectSignedBox(v, signs []float64, b float64) []float64 {
	oriented := make([]float64, len(v))
	for i, x := range v {
		oriented[i] = x * signs[i]
	}
	out := projectCappedSimplex(oriented, b)
	for i := range out {
		out[i] *= signs[i]
	}
	return out
}

// projectCappedSimplex projects a onto {x : 0 ≤ x_i ≤ b, Σx = 1}.
// x_i = clip(a_i − τ, 0, b); τ is bracketed by bisection then solved exactly on the free set.
func projectCappedSimplex(a []float64, b float64) []float64 {
	n := len(a)
	sum := func(tau float64) float64 {
		s := 0.0
		for _, x := range a {
			s += math.Min(math.Max(x-tau, 0), b)
		}
		return s
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, x := range a {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	lo -= b // sum(lo) = n·b ≥ 1
	// sum(hi) = 0

	for i := 0; i < 200; i++ {
		mid := 0.5 * (lo + hi)
		if mid <= lo || mid >= hi {
			break
		}
		if sum(mid) > 1 {
			lo = mid
		} else {
			hi = mid
		}
	}
	tau := 0.5 * (lo + hi)

	// 경계 집합이 정해지면 τ를 닫힌 형태로 재계산
	free, capped := 0, 0
	freeSum := 0.0
	for _, x := range a {
		d := x - tau
		switch {
		case d >= b:
			capped++
		case d > 0:
			free++
			freeSum += x
		}
	}
	if free > 0 {
		tau = (freeSum + float64(capped)*b - 1) / float64(free)
	}

	out := make([]float64, n)
	for i, x := range a {
		out[i] = math.Min(math.Max(x-tau, 0), b)
	}
	return out
}
