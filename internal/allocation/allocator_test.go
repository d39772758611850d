package allocation

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-rotator/internal/contracts"
	"github.com/wonny/aegis-rotator/internal/optimizer"
	"github.com/wonny/aegis-rotator/pkg/redis"
)

// solverFunc adapts a function to optimizer.Solver
type solverFunc func(ctx context.Context, p optimizer.Problem) ([]float64, error)

func (f solverFunc) Solve(ctx context.Context, p optimizer.Problem) ([]float64, error) {
	return f(ctx, p)
}

func newPanel(entities []string, signals [][]int, returns [][]float64) *contracts.Panel {
	return &contracts.Panel{Entities: entities, Signals: signals, Returns: returns}
}

func constSignals(days int, row ...int) [][]int {
	out := make([][]int, days)
	for t := range out {
		out[t] = append([]int(nil), row...)
	}
	return out
}

// 서로 다른 움직임의 3개 섹터 (20일)
func threeSectorReturns() [][]float64 {
	out := make([][]float64, 20)
	for t := range out {
		x := float64(t)
		out[t] = []float64{
			0.004 + 0.010*math.Sin(x),
			0.002 + 0.008*math.Cos(1.7*x),
			0.001 + 0.012*math.Sin(2.3*x+1),
		}
	}
	return out
}

func defaultConfig(mode optimizer.Mode) Config {
	return Config{
		Mode:         mode,
		Lookback:     LookbackExpanding,
		RiskAversion: 1,
		Bound:        0.5,
		Augment:      true,
		SolveTimeout: time.Second,
		Workers:      4,
	}
}

func mustAllocator(t *testing.T, cfg Config) *Allocator {
	t.Helper()
	a, err := New(cfg, nil, nil)
	require.NoError(t, err)
	return a
}

func TestAllocate_LongOnlyRowsSumToOne(t *testing.T) {
	panel := newPanel([]string{"TECH", "FMCG", "BANK"}, constSignals(20, 1, 1, 1), threeSectorReturns())

	m, report, err := mustAllocator(t, defaultConfig(optimizer.ModeLongOnly)).Allocate(context.Background(), panel)
	require.NoError(t, err)
	require.Equal(t, 20, m.Len())

	// day 0: 관측치 1개 → fallback
	assert.True(t, m.Rows[0].Fallback)
	assert.Equal(t, "insufficient_sample", m.Rows[0].FallbackReason)
	assert.InDeltaSlice(t, []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}, m.Rows[0].Weights, 1e-12)

	// day 1-2: 관측치 < 섹터 수 → rank 부족
	for _, day := range []int{1, 2} {
		assert.Equal(t, "singular_covariance", m.Rows[day].FallbackReason)
	}

	for tt := 3; tt < m.Len(); tt++ {
		row := m.Rows[tt]
		assert.False(t, row.Fallback, "day %d: %s", tt, row.FallbackReason)
		assert.InDelta(t, 1.0, row.Gross(), 1e-9, "day %d", tt)
		for _, w := range row.Weights {
			assert.GreaterOrEqual(t, w, -1e-12)
		}
	}

	assert.Equal(t, 20, report.Days)
	assert.Equal(t, 17, report.SolvedDays)
	assert.Equal(t, map[string]int{"insufficient_sample": 1, "singular_covariance": 2}, report.Fallbacks)
}

func TestAllocate_FlatAndWarmupDays(t *testing.T) {
	signals := constSignals(20, 1, 1, 0)
	signals[10] = []int{0, 0, 0}

	cfg := defaultConfig(optimizer.ModeLongOnly)
	cfg.WarmupDays = 3

	m, report, err := mustAllocator(t, cfg).Allocate(context.Background(),
		newPanel([]string{"TECH", "FMCG", "BANK"}, signals, threeSectorReturns()))
	require.NoError(t, err)

	for _, day := range []int{0, 1, 2, 10} {
		assert.True(t, m.Rows[day].IsFlat(), "day %d", day)
		assert.Equal(t, 0.0, m.Rows[day].Gross())
	}
	assert.Equal(t, 4, report.FlatDays)

	// 비활성 섹터는 항상 0
	for _, row := range m.Rows {
		assert.Equal(t, 0.0, row.Weights[2])
	}
}

func TestAllocate_IdenticalEntitiesFallBackToEqualWeight(t *testing.T) {
	returns := make([][]float64, 10)
	for t := range returns {
		r := 0.01 * float64(t%3-1)
		returns[t] = []float64{r, r}
	}
	panel := newPanel([]string{"TECH", "TECH2"}, constSignals(10, 1, 1), returns)

	m, report, err := mustAllocator(t, defaultConfig(optimizer.ModeLongOnly)).Allocate(context.Background(), panel)
	require.NoError(t, err)

	for _, row := range m.Rows {
		assert.True(t, row.Fallback)
		assert.Equal(t, []float64{0.5, 0.5}, row.Weights)
	}
	assert.Equal(t, 9, report.Fallbacks["singular_covariance"])
	assert.Zero(t, report.SolvedDays)
}

func TestAllocate_SingleActiveAugmentation(t *testing.T) {
	returns := threeSectorReturns()
	// BANK: 꾸준한 양의 수익 → Sharpe 최고
	for t := range returns {
		returns[t][2] = 0.01 + 0.001*float64(t%2)
	}
	panel := newPanel([]string{"TECH", "FMCG", "BANK"}, constSignals(20, 1, 0, 0), returns)

	m, report, err := mustAllocator(t, defaultConfig(optimizer.ModeLongOnly)).Allocate(context.Background(), panel)
	require.NoError(t, err)

	// day 0: 점수 계산 불가 (관측치 1개) → 증강 없음
	assert.Empty(t, m.Rows[0].Augmented)
	assert.Equal(t, []float64{1, 0, 0}, m.Rows[0].Weights)

	for tt := 2; tt < m.Len(); tt++ {
		row := m.Rows[tt]
		assert.Equal(t, "BANK", row.Augmented, "day %d", tt)
		assert.Equal(t, []string{"TECH", "BANK"}, row.Active)
		assert.Equal(t, 0.0, row.Weights[1])
		assert.InDelta(t, 1.0, row.Gross(), 1e-9)
	}
	assert.Equal(t, 19, report.AugmentedDays)
}

func TestAllocate_AugmentationDisabled(t *testing.T) {
	cfg := defaultConfig(optimizer.ModeLongOnly)
	cfg.Augment = false
	panel := newPanel([]string{"TECH", "FMCG", "BANK"}, constSignals(20, 0, 1, 0), threeSectorReturns())

	m, _, err := mustAllocator(t, cfg).Allocate(context.Background(), panel)
	require.NoError(t, err)
	for _, row := range m.Rows {
		assert.Empty(t, row.Augmented)
		assert.InDeltaSlice(t, []float64{0, 1, 0}, row.Weights, 1e-9)
	}
}

func TestBestInactive_TiesAndDegenerate(t *testing.T) {
	returns := [][]float64{
		{0.01, 0.02, 0.02, 0},
		{0.02, 0.01, 0.01, 0},
		{0.03, 0.03, 0.03, 0},
	}
	panel := newPanel([]string{"A", "B", "C", "D"}, constSignals(3, 1, 0, 0, 0), returns)

	// B와 C 동점 → 앞 컬럼
	col, ok := bestInactive(panel, 0, 0, 3)
	require.True(t, ok)
	assert.Equal(t, 1, col)

	// D만 남으면 stdev 0 → 선택 안 함
	degenerate := newPanel([]string{"A", "D"}, constSignals(3, 1, 0), [][]float64{{0.01, 0}, {0.02, 0}, {0.03, 0}})
	_, ok = bestInactive(degenerate, 0, 0, 3)
	assert.False(t, ok)
}

func TestAllocate_LongOnlyIgnoresShortSignals(t *testing.T) {
	panel := newPanel([]string{"TECH", "FMCG", "BANK"}, constSignals(20, 1, -1, 1), threeSectorReturns())

	m, _, err := mustAllocator(t, defaultConfig(optimizer.ModeLongOnly)).Allocate(context.Background(), panel)
	require.NoError(t, err)
	for _, row := range m.Rows {
		assert.Equal(t, 0.0, row.Weights[1])
		assert.Equal(t, []string{"TECH", "BANK"}, row.Active)
	}
}

func TestAllocate_LongShortGrossExposure(t *testing.T) {
	panel := newPanel([]string{"TECH", "FMCG", "BANK"}, constSignals(20, 1, -1, 1), threeSectorReturns())

	m, _, err := mustAllocator(t, defaultConfig(optimizer.ModeLongShort)).Allocate(context.Background(), panel)
	require.NoError(t, err)
	for tt, row := range m.Rows {
		assert.InDelta(t, 1.0, row.Gross(), 1e-9, "day %d", tt)
		for _, w := range row.Weights {
			assert.LessOrEqual(t, math.Abs(w), 0.5+1e-9)
		}
	}
}

func TestAllocate_SolverFailuresBecomeFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		solve   solverFunc
		reason  string
		anomaly bool
	}{
		{
			name:   "timeout",
			solve:  func(context.Context, optimizer.Problem) ([]float64, error) { return nil, optimizer.ErrTimeout },
			reason: "timeout",
		},
		{
			name:   "not converged",
			solve:  func(context.Context, optimizer.Problem) ([]float64, error) { return nil, optimizer.ErrNotConverged },
			reason: "not_converged",
		},
		{
			name: "nan weight",
			solve: func(_ context.Context, p optimizer.Problem) ([]float64, error) {
				w := make([]float64, len(p.Mu))
				w[0] = math.NaN()
				return w, nil
			},
			reason:  ReasonNonFinite,
			anomaly: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewWithSolver(defaultConfig(optimizer.ModeLongOnly), tt.solve, nil, nil)
			panel := newPanel([]string{"TECH", "FMCG"}, constSignals(5, 1, 1), threeSectorReturns()[:5])

			m, report, err := a.Allocate(context.Background(), panel)
			require.NoError(t, err)

			for d := 1; d < 5; d++ {
				assert.True(t, m.Rows[d].Fallback)
				assert.Equal(t, tt.reason, m.Rows[d].FallbackReason)
				assert.Equal(t, []float64{0.5, 0.5}, m.Rows[d].Weights)
			}
			assert.Equal(t, 4, report.Fallbacks[tt.reason])
			if tt.anomaly {
				require.Len(t, report.Anomalies, 4)
				assert.Equal(t, contracts.StageAllocate, report.Anomalies[0].Stage)
				assert.Equal(t, "TECH", report.Anomalies[0].Entity)
			}
		})
	}
}

func TestLookbackStart_Fixed(t *testing.T) {
	var sizes []int
	solve := solverFunc(func(_ context.Context, p optimizer.Problem) ([]float64, error) {
		return []float64{1}, nil
	})
	cfg := defaultConfig(optimizer.ModeLongOnly)
	cfg.Lookback = LookbackFixed
	cfg.Window = 5
	a := NewWithSolver(cfg, solve, nil, nil)

	for _, day := range []int{0, 3, 4, 10} {
		sizes = append(sizes, day+1-a.lookbackStart(day))
	}
	assert.Equal(t, []int{1, 4, 5, 5}, sizes)
}

func TestAllocate_DeterministicAcrossWorkers(t *testing.T) {
	panel := newPanel([]string{"TECH", "FMCG", "BANK"}, constSignals(20, 1, 1, 1), threeSectorReturns())

	serial := defaultConfig(optimizer.ModeLongOnly)
	serial.Workers = 1
	parallel := defaultConfig(optimizer.ModeLongOnly)
	parallel.Workers = 8

	m1, _, err := mustAllocator(t, serial).Allocate(context.Background(), panel)
	require.NoError(t, err)
	m2, _, err := mustAllocator(t, parallel).Allocate(context.Background(), panel)
	require.NoError(t, err)
	assert.Equal(t, m1, m2)
}

func TestAllocate_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	panel := newPanel([]string{"TECH"}, constSignals(3, 1), [][]float64{{0}, {0.01}, {0.02}})
	_, _, err := mustAllocator(t, defaultConfig(optimizer.ModeLongOnly)).Allocate(ctx, panel)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAllocate_EmptyPanel(t *testing.T) {
	_, _, err := mustAllocator(t, defaultConfig(optimizer.ModeLongOnly)).Allocate(context.Background(), &contracts.Panel{})
	assert.ErrorIs(t, err, contracts.ErrInsufficientData)
}

func TestAllocate_CacheHit(t *testing.T) {
	panel := newPanel([]string{"TECH", "FMCG"}, constSignals(2, 1, 1), [][]float64{{0, 0}, {0.01, 0.02}})
	cached := &contracts.WeightMatrix{
		Entities: panel.Entities,
		Rows: []contracts.WeightRow{
			{Day: 0, Weights: []float64{0.5, 0.5}, Fallback: true, FallbackReason: "insufficient_sample"},
			{Day: 1, Weights: []float64{0.3, 0.7}},
		},
	}
	payload, err := json.Marshal(cached)
	require.NoError(t, err)

	db, mock := redismock.NewClientMock()
	cache := redis.NewCache(redis.NewFromRedis(db), "rotator")
	key := "rotator:cache:" + redis.WeightsKey("cfg", Fingerprint(panel))
	mock.ExpectGet(key).SetVal(string(payload))

	a := mustAllocator(t, defaultConfig(optimizer.ModeLongOnly)).WithCache(cache, "cfg", redis.TTLDaily)
	m, report, err := a.Allocate(context.Background(), panel)
	require.NoError(t, err)

	assert.True(t, report.CacheHit)
	assert.Equal(t, 1, report.SolvedDays)
	assert.Equal(t, 1, report.Fallbacks["insufficient_sample"])
	assert.Equal(t, []float64{0.3, 0.7}, m.Rows[1].Weights)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFingerprint(t *testing.T) {
	a := newPanel([]string{"TECH"}, constSignals(2, 1), [][]float64{{0}, {0.01}})
	b := newPanel([]string{"TECH"}, constSignals(2, 1), [][]float64{{0}, {0.01}})
	assert.Equal(t, Fingerprint(a), Fingerprint(b))

	b.Returns[1][0] = 0.011
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}
