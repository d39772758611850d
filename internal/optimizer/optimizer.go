package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Mode selects the constraint set of the mean-variance problem
type Mode string

const (
	ModeLongOnly  Mode = "long_only"  // w ≥ 0, Σw = 1
	ModeLongShort Mode = "long_short" // -b ≤ w ≤ b, Σ|w| = 1
)

// Defaults
const (
	DefaultRiskAversion  = 1.0
	DefaultBound         = 0.5
	DefaultMaxIterations = 10000
	DefaultTolerance     = 1e-10

	// MaxCondition 초과 시 공분산을 특이(singular)로 간주
	MaxCondition = 1e12
)

// Failure reasons. The allocator turns any of these into an equal-weight day.
var (
	ErrSingularCovariance = errors.New("singular covariance")
	ErrNotConverged       = errors.New("not converged")
	ErrTimeout            = errors.New("solve timeout")
	ErrNumeric            = errors.New("non-finite solution")
	ErrInfeasible         = errors.New("infeasible constraints")
	ErrInsufficientSample = errors.New("insufficient sample")
	ErrInvalidProblem     = errors.New("invalid problem")
)

// Reason maps a solver error to a short label for logs and metrics
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrSingularCovariance):
		return "singular_covariance"
	case errors.Is(err, ErrNotConverged):
		return "not_converged"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrNumeric):
		return "numeric"
	case errors.Is(err, ErrInfeasible):
		return "infeasible"
	case errors.Is(err, ErrInsufficientSample):
		return "insufficient_sample"
	default:
		return "unknown"
	}
}

// Problem is maximize μᵀw − (λ/2)·wᵀΣw over the solver's constraint set
type Problem struct {
	Mu           []float64
	Sigma        *mat.SymDense
	RiskAversion float64 // λ
	Bound        float64 // b, long-short only
}

// Solver is the capability boundary of the allocator.
// Solvers never fall back; they either return weights or an error.
type Solver interface {
	Solve(ctx context.Context, p Problem) ([]float64, error)
}

// Options tunes the iterative solvers
type Options struct {
	MaxIterations int
	Tolerance     float64
}

// DefaultOptions returns the documented defaults
func DefaultOptions() Options {
	return Options{
		MaxIterations: DefaultMaxIterations,
		Tolerance:     DefaultTolerance,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.Tolerance <= 0 {
		o.Tolerance = DefaultTolerance
	}
	return o
}

// New returns the solver for a mode
func New(mode Mode, opts Options) (Solver, error) {
	switch mode {
	case ModeLongOnly:
		return &LongOnlySolver{opts: opts.withDefaults()}, nil
	case ModeLongShort:
		return &LongShortSolver{opts: opts.withDefaults()}, nil
	default:
		return nil, fmt.Errorf("unknown optimizer mode %q", mode)
	}
}

// CheckCovariance rejects covariance matrices that are not positive definite
// or whose condition number exceeds MaxCondition.
func CheckCovariance(sigma *mat.SymDense) error {
	n := sigma.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if v := sigma.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: covariance[%d,%d]=%v", ErrNumeric, i, j, v)
			}
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(sigma); !ok {
		return fmt.Errorf("%w: not positive definite", ErrSingularCovariance)
	}
	if cond := chol.Cond(); cond > MaxCondition || math.IsInf(cond, 0) || math.IsNaN(cond) {
		return fmt.Errorf("%w: condition number %.3g", ErrSingularCovariance, cond)
	}
	return nil
}

// validate checks dimensions and parameters common to both solvers
func (p Problem) validate() error {
	n := len(p.Mu)
	if n == 0 || p.Sigma == nil {
		return fmt.Errorf("%w: empty problem", ErrInvalidProblem)
	}
	if p.Sigma.SymmetricDim() != n {
		return fmt.Errorf("%w: mu has %d entries, sigma is %dx%d", ErrInvalidProblem, n, p.Sigma.SymmetricDim(), p.Sigma.SymmetricDim())
	}
	if !(p.RiskAversion > 0) {
		return fmt.Errorf("%w: risk aversion must be positive, got %v", ErrInvalidProblem, p.RiskAversion)
	}
	for i, m := range p.Mu {
		if math.IsNaN(m) || math.IsInf(m, 0) {
			return fmt.Errorf("%w: mu[%d]=%v", ErrNumeric, i, m)
		}
	}
	return CheckCovariance(p.Sigma)
}

// projection maps a point back onto the feasible set
type projection func(v []float64) []float64

// projectedGradient runs ascent on the concave objective.
// Step size 1/(λ·trΣ) bounds the gradient's Lipschitz constant.
func projectedGradient(ctx context.Context, p Problem, opts Options, project projection) ([]float64, error) {
	n := len(p.Mu)
	trace := mat.Trace(p.Sigma)
	if !(trace > 0) {
		return nil, fmt.Errorf("%w: covariance trace %v", ErrSingularCovariance, trace)
	}
	step := 1 / (p.RiskAversion * trace)

	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	w = project(w)

	sw := mat.NewVecDense(n, nil)
	v := make([]float64, n)

	for iter := 0; iter < opts.MaxIterations; iter++ {
		if iter%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w after %d iterations: %v", ErrTimeout, iter, err)
			}
		}

		// ∇ = μ − λΣw
		sw.MulVec(p.Sigma, mat.NewVecDense(n, w))
		for i := 0; i < n; i++ {
			v[i] = w[i] + step*(p.Mu[i]-p.RiskAversion*sw.AtVec(i))
		}

		next := project(v)

		delta := 0.0
		for i := 0; i < n; i++ {
			if math.IsNaN(next[i]) || math.IsInf(next[i], 0) {
				return nil, fmt.Errorf("%w: w[%d]=%v at iteration %d", ErrNumeric, i, next[i], iter)
			}
			delta = math.Max(delta, math.Abs(next[i]-w[i]))
		}
		w = next

		if delta < opts.Tolerance {
			return w, nil
		}
	}

	return nil, fmt.Errorf("%w: %d iterations", ErrNotConverged, opts.MaxIterations)
}

// Objective evaluates μᵀw − (λ/2)·wᵀΣw
func Objective(p Problem, w []float64) float64 {
	x := mat.NewVecDense(len(w), w)
	mu := mat.NewVecDense(len(p.Mu), p.Mu)
	return mat.Dot(mu, x) - 0.5*p.RiskAversion*mat.Inner(x, p.Sigma, x)
}
