package allocation

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wonny/aegis-rotator/internal/contracts"
	"github.com/wonny/aegis-rotator/internal/optimizer"
	"github.com/wonny/aegis-rotator/internal/strategyconfig"
	"github.com/wonny/aegis-rotator/pkg/logger"
	"github.com/wonny/aegis-rotator/pkg/metrics"
	"github.com/wonny/aegis-rotator/pkg/redis"
)

// Lookback modes
const (
	LookbackExpanding = "expanding" // 0..t 전체
	LookbackFixed     = "fixed"     // 최근 W개 (t 포함)
)

// Fallback reasons that are not solver errors
const (
	ReasonNonFinite = contracts.FallbackNonFinite
)

// Config holds allocator parameters
type Config struct {
	Mode         optimizer.Mode
	Lookback     string
	Window       int
	WarmupDays   int
	RiskAversion float64
	Bound        float64
	Augment      bool
	SolveTimeout time.Duration
	Workers      int
	Solver       optimizer.Options
}

// ConfigFrom maps the strategy YAML onto allocator parameters
func ConfigFrom(cfg *strategyconfig.Config) Config {
	a := cfg.Allocation
	return Config{
		Mode:         optimizer.Mode(a.Mode),
		Lookback:     a.Lookback,
		Window:       a.Window,
		WarmupDays:   a.WarmupDays,
		RiskAversion: a.RiskAversion,
		Bound:        a.MaxWeight,
		Augment:      a.AugmentSingle,
		SolveTimeout: a.SolveTimeout,
		Workers:      a.Workers,
		Solver: optimizer.Options{
			MaxIterations: a.MaxIterations,
			Tolerance:     a.Tolerance,
		},
	}
}

// Allocator turns an aligned panel into one weight row per day
// ⭐ SSOT: S2 일별 최적화. 실패한 날은 equal-weight로 대체, run은 계속
type Allocator struct {
	cfg     Config
	solver  optimizer.Solver
	logger  *logger.Logger
	metrics *metrics.Recorder

	cache      *redis.Cache
	cacheScope string // strategy config hash
	cacheTTL   time.Duration
}

// New creates an Allocator. log and rec may be nil.
func New(cfg Config, log *logger.Logger, rec *metrics.Recorder) (*Allocator, error) {
	solver, err := optimizer.New(cfg.Mode, cfg.Solver)
	if err != nil {
		return nil, err
	}
	return NewWithSolver(cfg, solver, log, rec), nil
}

// NewWithSolver creates an Allocator around an explicit Solver
func NewWithSolver(cfg Config, solver optimizer.Solver, log *logger.Logger, rec *metrics.Recorder) *Allocator {
	if cfg.RiskAversion <= 0 {
		cfg.RiskAversion = optimizer.DefaultRiskAversion
	}
	if cfg.Bound <= 0 {
		cfg.Bound = optimizer.DefaultBound
	}
	if cfg.Lookback == "" {
		cfg.Lookback = LookbackExpanding
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Allocator{
		cfg:     cfg,
		solver:  solver,
		logger:  log.WithStage(contracts.StageAllocate.String()),
		metrics: rec,
	}
}

// WithCache enables weight-matrix caching scoped by the strategy config hash
func (a *Allocator) WithCache(cache *redis.Cache, configHash string, ttl time.Duration) *Allocator {
	a.cache = cache
	a.cacheScope = configHash
	a.cacheTTL = ttl
	return a
}

// dayResult is the private per-day outcome; rows are assembled in day order
type dayResult struct {
	row       contracts.WeightRow
	solved    bool
	anomalies []contracts.NumericAnomaly
	err       error // optimization failure behind a fallback
}

// Allocate computes the raw (pre post-processing) weight matrix
func (a *Allocator) Allocate(ctx context.Context, panel *contracts.Panel) (*contracts.WeightMatrix, *contracts.AllocationReport, error) {
	if panel == nil || panel.Len() == 0 || panel.Width() == 0 {
		return nil, nil, &contracts.InsufficientDataError{Day: -1, Reason: "empty panel"}
	}

	cacheKey := ""
	if a.cache != nil {
		cacheKey = redis.WeightsKey(a.cacheScope, Fingerprint(panel))
		var cached contracts.WeightMatrix
		found, err := a.cache.Get(ctx, cacheKey, &cached)
		if err != nil {
			a.logger.WithError(err).Warn("weight cache read failed")
		}
		if found && cached.Len() == panel.Len() {
			a.logger.WithField("key", cacheKey).Info("weight matrix cache hit")
			report := reportFromMatrix(&cached)
			report.CacheHit = true
			return &cached, report, nil
		}
	}

	L := panel.Len()
	results := make([]dayResult, L)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Workers)
	for t := 0; t < L; t++ {
		g.Go(func() error {
			results[t] = a.allocateDay(gctx, panel, t)
			return nil
		})
	}
	_ = g.Wait()

	// 전체 run 취소는 구조적 실패 (일별 timeout과 구분)
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("allocation cancelled: %w", err)
	}

	m := &contracts.WeightMatrix{
		Entities: append([]string(nil), panel.Entities...),
		Rows:     make([]contracts.WeightRow, L),
	}
	report := &contracts.AllocationReport{Days: L, Fallbacks: map[string]int{}}

	for t, res := range results {
		m.Rows[t] = res.row
		report.Anomalies = append(report.Anomalies, res.anomalies...)
		for range res.anomalies {
			a.metrics.RecordAnomaly(contracts.StageAllocate.String())
		}

		switch {
		case res.row.IsFlat():
			report.FlatDays++
		case res.row.Fallback:
			report.Fallbacks[res.row.FallbackReason]++
			a.metrics.RecordFallback(res.row.FallbackReason)
			a.logger.WithError(res.err).WithFields(map[string]interface{}{
				"day":    t,
				"reason": res.row.FallbackReason,
				"active": res.row.Active,
			}).Warn("equal-weight fallback")
		case res.solved:
			report.SolvedDays++
		}
		if res.row.Augmented != "" {
			report.AugmentedDays++
		}
	}

	a.logger.WithFields(map[string]interface{}{
		"days":      report.Days,
		"solved":    report.SolvedDays,
		"flat":      report.FlatDays,
		"fallbacks": report.TotalFallbacks(),
		"augmented": report.AugmentedDays,
	}).Info("allocation complete")

	if a.cache != nil {
		if err := a.cache.Set(ctx, cacheKey, m, a.cacheTTL); err != nil {
			a.logger.WithError(err).Warn("weight cache write failed")
		}
	}

	return m, report, nil
}

// allocateDay runs steps 1–6 for a single day. It never fails: any
// optimization problem becomes an equal-weight row.
func (a *Allocator) allocateDay(ctx context.Context, panel *contracts.Panel, t int) dayResult {
	n := panel.Width()
	row := contracts.WeightRow{
		Day:     t,
		Date:    panel.DateAt(t),
		Weights: make([]float64, n),
	}

	if t < a.cfg.WarmupDays {
		return dayResult{row: row}
	}

	// 1. active set
	active := a.activeColumns(panel.Signals[t])
	if len(active) == 0 {
		return dayResult{row: row}
	}

	from := a.lookbackStart(t)

	// 2. 단일 활성 → Sharpe-like 점수 최고인 비활성 섹터 추가
	if len(active) == 1 && a.cfg.Augment {
		if col, ok := bestInactive(panel, active[0], from, t+1); ok {
			active = append(active, col)
			row.Augmented = panel.Entities[col]
		}
	}

	row.Active = make([]string, len(active))
	for i, col := range active {
		row.Active[i] = panel.Entities[col]
	}

	// 3. μ, Σ over [from, t]
	sample := make([][]float64, 0, t+1-from)
	for d := from; d <= t; d++ {
		obs := make([]float64, len(active))
		for i, col := range active {
			obs[i] = panel.Returns[d][col]
		}
		sample = append(sample, obs)
	}

	mu, sigma, err := optimizer.Moments(sample)
	if err != nil {
		return a.fallback(row, active, optimizer.Reason(err), err, nil)
	}

	// 4. solve
	solveCtx := ctx
	if a.cfg.SolveTimeout > 0 {
		var cancel context.CancelFunc
		solveCtx, cancel = context.WithTimeout(ctx, a.cfg.SolveTimeout)
		defer cancel()
	}

	start := time.Now()
	w, err := a.solver.Solve(solveCtx, optimizer.Problem{
		Mu:           mu,
		Sigma:        sigma,
		RiskAversion: a.cfg.RiskAversion,
		Bound:        a.cfg.Bound,
	})
	a.metrics.RecordSolve(string(a.cfg.Mode), time.Since(start).Seconds())
	if err != nil {
		return a.fallback(row, active, optimizer.Reason(err), err, nil)
	}

	var anomalies []contracts.NumericAnomaly
	for i, x := range w {
		if !contracts.IsFinite(x) {
			anomalies = append(anomalies,
				contracts.NewNumericAnomaly(contracts.StageAllocate, panel.Entities[active[i]], t, x))
		}
	}
	if len(anomalies) > 0 {
		return a.fallback(row, active, ReasonNonFinite, optimizer.ErrNumeric, anomalies)
	}

	// 6. 전체 컬럼 공간으로 확장
	for i, col := range active {
		row.Weights[col] = w[i]
	}
	return dayResult{row: row, solved: true}
}

// fallback fills the row with 1/|A| over the (possibly augmented) active set
func (a *Allocator) fallback(row contracts.WeightRow, active []int, reason string, cause error, anomalies []contracts.NumericAnomaly) dayResult {
	for i := range row.Weights {
		row.Weights[i] = 0
	}
	eq := 1 / float64(len(active))
	for _, col := range active {
		row.Weights[col] = eq
	}
	row.Fallback = true
	row.FallbackReason = reason

	return dayResult{
		row:       row,
		anomalies: anomalies,
		err:       &contracts.OptimizationFailure{Day: row.Day, Reason: reason, Err: cause},
	}
}

// activeColumns returns the columns eligible for allocation on one day.
// long_only은 숏 신호를 표현할 수 없으므로 +1만 활성
func (a *Allocator) activeColumns(signals []int) []int {
	var active []int
	for col, s := range signals {
		if s == 0 {
			continue
		}
		if a.cfg.Mode == optimizer.ModeLongOnly && s < 0 {
			continue
		}
		active = append(active, col)
	}
	return active
}

// lookbackStart returns the first day of the estimation window ending at t
func (a *Allocator) lookbackStart(t int) int {
	if a.cfg.Lookback == LookbackFixed && a.cfg.Window > 0 {
		return max(0, t-a.cfg.Window+1)
	}
	return 0
}

// bestInactive picks the inactive column with the highest mean/stdev over [from, to).
// Degenerate columns score −Inf and are never picked; ties keep the earliest column.
func bestInactive(panel *contracts.Panel, activeCol, from, to int) (int, bool) {
	best, bestScore := -1, math.Inf(-1)
	for col := 0; col < panel.Width(); col++ {
		if col == activeCol {
			continue
		}
		score := optimizer.SharpeScore(panel.ReturnColumn(col, from, to))
		if score > bestScore {
			best, bestScore = col, score
		}
	}
	return best, best >= 0
}

// reportFromMatrix rebuilds a report for a cached matrix
func reportFromMatrix(m *contracts.WeightMatrix) *contracts.AllocationReport {
	report := &contracts.AllocationReport{Days: m.Len(), Fallbacks: map[string]int{}}
	for _, row := range m.Rows {
		switch {
		case row.IsFlat():
			report.FlatDays++
		case row.Fallback:
			report.Fallbacks[row.FallbackReason]++
		default:
			report.SolvedDays++
		}
		if row.Augmented != "" {
			report.AugmentedDays++
		}
	}
	return report
}

// Fingerprint hashes the panel contents (entities, signals, return bits)
func Fingerprint(panel *contracts.Panel) string {
	h := sha256.New()
	for _, e := range panel.Entities {
		h.Write([]byte(e))
		h.Write([]byte{0})
	}
	buf := make([]byte, 0, 8)
	for t := 0; t < panel.Len(); t++ {
		for col := 0; col < panel.Width(); col++ {
			buf = binary.LittleEndian.AppendUint64(buf[:0], uint64(int64(panel.Signals[t][col])))
			h.Write(buf)
			buf = binary.LittleEndian.AppendUint64(buf[:0], math.Float64bits(panel.Returns[t][col]))
			h.Write(buf)
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
