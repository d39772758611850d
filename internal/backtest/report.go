package backtest

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/wonny/aegis-rotator/internal/contracts"
	"github.com/wonny/aegis-rotator/internal/risk"
	"github.com/wonny/aegis-rotator/internal/strategyconfig"
)

// TradingDaysPerYear is the year length used for CAGR and annualization
const TradingDaysPerYear = 252.0

// ReportConfig holds S5 parameters
type ReportConfig struct {
	RollingWindow int
	RiskFreeRate  float64
	Intervals     []strategyconfig.Interval
	Bootstrap     risk.BootstrapConfig
}

// ReportConfigFrom maps the strategy YAML onto report parameters
func ReportConfigFrom(cfg *strategyconfig.Config) ReportConfig {
	return ReportConfig{
		RollingWindow: cfg.Backtest.RollingWindow,
		RiskFreeRate:  cfg.Backtest.RiskFreeRate,
		Intervals:     cfg.Backtest.Intervals,
		Bootstrap:     risk.DefaultBootstrapConfig(),
	}
}

// IntervalAverage is the mean rolling return over the last Days points.
// Value is nil when the curve is too short.
type IntervalAverage struct {
	Name  string   `json:"name"`
	Days  int      `json:"days"`
	Value *float64 `json:"value"`
}

// Summary holds performance metrics of one simulated run
// ⭐ SSOT: 모든 수익률/변동성은 소수 (0.05 = 5%), rolling/interval은 %
type Summary struct {
	Days           int     `json:"days"`
	InitialCapital float64 `json:"initial_capital"`
	FinalEquity    float64 `json:"final_equity"`
	TotalReturn    float64 `json:"total_return"`
	CAGR           float64 `json:"cagr"`
	Volatility     float64 `json:"volatility"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	SortinoRatio   float64 `json:"sortino_ratio"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	WinRate        float64 `json:"win_rate"`
	WinLossRatio   float64 `json:"win_loss_ratio"`
	FlatDayPct     float64 `json:"flat_day_pct"`
	SuppressedDays int     `json:"suppressed_days"`
	FallbackDays   int     `json:"fallback_days"`

	VaR95        risk.VaRResult        `json:"var_95"`
	BootstrapVaR *risk.BootstrapResult `json:"bootstrap_var,omitempty"`

	RollingReturns []RollingPoint    `json:"rolling_returns"`
	Intervals      []IntervalAverage `json:"intervals"`

	Attribution []Attribution `json:"attribution,omitempty"` // Attribute로 채움
}

// RollingPoint is one rolling % return keyed by the equity point it ends on
type RollingPoint struct {
	Point int       `json:"point"` // index into SimulationResult.Equity
	Date  time.Time `json:"date,omitempty"`
	Value float64   `json:"value"`
}

// RollingSeries keys RollingReturnPct by the closing equity point: out[j] ends on Equity[j+n]
func RollingSeries(equity []contracts.EquityPoint, n int) []RollingPoint {
	curve := make([]float64, len(equity))
	for i, p := range equity {
		curve[i] = p.Value
	}
	values := RollingReturnPct(curve, n)
	if values == nil {
		return nil
	}
	out := make([]RollingPoint, len(values))
	for j, v := range values {
		end := equity[j+n]
		out[j] = RollingPoint{Point: j + n, Date: end.Date, Value: v}
	}
	return out
}

// RollingValues drops the keys of a rolling series
func RollingValues(points []RollingPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}

// RollingReturnPct returns the % change over n points: out[j] = (c[j+n]/c[j] − 1)·100,
// so out[j] belongs to curve index j+n
func RollingReturnPct(curve []float64, n int) []float64 {
	if n <= 0 || len(curve) <= n {
		return nil
	}
	out := make([]float64, len(curve)-n)
	for j := range out {
		if curve[j] == 0 {
			out[j] = 0
			continue
		}
		out[j] = (curve[j+n]/curve[j] - 1) * 100
	}
	return out
}

// IntervalAverages averages the trailing Days values of a rolling series
func IntervalAverages(rolling []float64, intervals []strategyconfig.Interval) []IntervalAverage {
	out := make([]IntervalAverage, 0, len(intervals))
	for _, iv := range intervals {
		avg := IntervalAverage{Name: iv.Name, Days: iv.Days}
		if iv.Days > 0 && len(rolling) >= iv.Days {
			v := stat.Mean(rolling[len(rolling)-iv.Days:], nil)
			avg.Value = &v
		}
		out = append(out, avg)
	}
	return out
}

// Summarize computes S5 metrics. weights may be nil.
func Summarize(res *contracts.SimulationResult, weights *contracts.WeightMatrix, cfg ReportConfig) *Summary {
	curve := res.EquityValues()
	sum := &Summary{
		Days:           res.Len(),
		SuppressedDays: res.SuppressedDays,
	}
	if len(curve) == 0 {
		return sum
	}

	sum.InitialCapital = curve[0]
	sum.FinalEquity = curve[len(curve)-1]
	if sum.InitialCapital > 0 {
		sum.TotalReturn = sum.FinalEquity/sum.InitialCapital - 1
	}

	years := float64(res.Len()) / TradingDaysPerYear
	if years > 0 && sum.InitialCapital > 0 && sum.FinalEquity > 0 {
		sum.CAGR = math.Pow(sum.FinalEquity/sum.InitialCapital, 1/years) - 1
	}

	returns := res.EffectiveReturns
	if len(returns) >= 2 {
		sum.Volatility = risk.Annualize(stat.StdDev(returns, nil), TradingDaysPerYear)
	}
	if sum.Volatility > 0 {
		sum.SharpeRatio = (sum.CAGR - cfg.RiskFreeRate) / sum.Volatility
	}

	// Sortino: 하방 편차만 사용
	var downside []float64
	var wins, losses int
	var winSum, lossSum float64
	for _, r := range returns {
		switch {
		case r > 0:
			wins++
			winSum += r
		case r < 0:
			losses++
			lossSum += -r
			downside = append(downside, r)
		}
	}
	if len(downside) >= 2 {
		dd := risk.Annualize(stat.StdDev(downside, nil), TradingDaysPerYear)
		if dd > 0 {
			sum.SortinoRatio = (sum.CAGR - cfg.RiskFreeRate) / dd
		}
	}
	if wins+losses > 0 {
		sum.WinRate = float64(wins) / float64(wins+losses)
	}
	if wins > 0 && losses > 0 {
		sum.WinLossRatio = (winSum / float64(wins)) / (lossSum / float64(losses))
	}

	sum.MaxDrawdown = risk.MaxDrawdown(curve)
	sum.VaR95 = risk.CalculateVaR(returns, 0.95)
	if boot, err := risk.Bootstrap(returns, cfg.Bootstrap); err == nil {
		sum.BootstrapVaR = boot
	}

	if weights != nil && weights.Len() > 0 {
		sum.FlatDayPct = float64(weights.FlatDays()) / float64(weights.Len()) * 100
		sum.FallbackDays = weights.FallbackDays()
	}

	sum.RollingReturns = RollingSeries(res.Equity, cfg.RollingWindow)
	sum.Intervals = IntervalAverages(RollingValues(sum.RollingReturns), cfg.Intervals)
	return sum
}
