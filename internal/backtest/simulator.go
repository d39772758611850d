package backtest

import (
	"fmt"

	"github.com/wonny/aegis-rotator/internal/contracts"
	"github.com/wonny/aegis-rotator/internal/risk"
	"github.com/wonny/aegis-rotator/internal/strategyconfig"
	"github.com/wonny/aegis-rotator/pkg/logger"
)

// Recovery rules for leaving SUPPRESSED
const (
	RecoveryShadow    = "shadow"     // E_t ≥ M_t (unsuppressed 기준 신고가 회복)
	RecoveryExitLevel = "exit_level" // E_t ≥ stop 발동일의 E
)

// PortfolioEntity labels anomalies on the weighted portfolio return
const PortfolioEntity = "portfolio"

// Config holds simulator parameters
type Config struct {
	InitialCapital float64
	Overlay        bool
	K              float64
	VolWindow      int
	Annualization  float64
	RecoveryRule   string
}

// DefaultConfig returns the documented defaults
func DefaultConfig() Config {
	return Config{
		InitialCapital: 1_000_000,
		Overlay:        true,
		K:              0.125,
		VolWindow:      30,
		Annualization:  252,
		RecoveryRule:   RecoveryShadow,
	}
}

// ConfigFrom maps the strategy YAML onto simulator parameters
func ConfigFrom(cfg *strategyconfig.Config) Config {
	return Config{
		InitialCapital: cfg.Backtest.InitialCapital,
		Overlay:        cfg.Overlay.Enable,
		K:              cfg.Overlay.K,
		VolWindow:      cfg.Overlay.VolWindow,
		Annualization:  cfg.Overlay.Annualization,
		RecoveryRule:   cfg.Overlay.RecoveryRule,
	}
}

// Simulator implements S4: equity curve with the adaptive trailing stop
// ⭐ SSOT: 자산곡선 시뮬레이션은 여기서만
// 엄격히 순차 실행: t일 판단은 t일까지의 값만 사용 (look-ahead 금지)
type Simulator struct {
	config Config
	logger *logger.Logger
}

// NewSimulator creates a new simulator. log may be nil.
func NewSimulator(config Config, log *logger.Logger) *Simulator {
	if log == nil {
		log = logger.Nop()
	}
	return &Simulator{
		config: config,
		logger: log.WithStage(contracts.StageSimulate.String()),
	}
}

// Run simulates the portfolio. Weights and panel must share the same entity
// columns; their lengths are aligned on the most recent common days.
func (s *Simulator) Run(weights *contracts.WeightMatrix, panel *contracts.Panel) (*contracts.SimulationResult, error) {
	if err := checkColumns(weights, panel); err != nil {
		return nil, err
	}

	L := min(weights.Len(), panel.Len())
	if L == 0 {
		return nil, &contracts.InsufficientDataError{Day: -1, Reason: "no common days between weights and returns"}
	}
	wOffset := weights.Len() - L
	pOffset := panel.Len() - L

	res := &contracts.SimulationResult{
		Equity:           make([]contracts.EquityPoint, L+1),
		EffectiveReturns: make([]float64, L),
		RawReturns:       make([]float64, L),
		States:           make([]contracts.RiskState, L),
	}

	// 1. r_t = w_t · ret_t
	for t := 0; t < L; t++ {
		row := weights.Rows[wOffset+t]
		rets := panel.Returns[pOffset+t]
		if len(row.Weights) != len(rets) {
			return nil, &contracts.MisalignedError{
				Day:    t,
				Reason: fmt.Sprintf("weight row has %d columns, returns have %d", len(row.Weights), len(rets)),
			}
		}
		r := 0.0
		for i, w := range row.Weights {
			r += w * rets[i]
		}
		if !contracts.IsFinite(r) {
			res.Anomalies = append(res.Anomalies, contracts.NewNumericAnomaly(contracts.StageSimulate, PortfolioEntity, t, r))
			r = 0
		}
		res.RawReturns[t] = r
	}

	// 2. 전체 구간 파생 시리즈 (unsuppressed shadow curve)
	res.Shadow = make([]float64, L)
	e := 1.0
	for t, r := range res.RawReturns {
		e *= 1 + r
		res.Shadow[t] = e
	}
	res.Peak = risk.RunningMax(res.Shadow)
	res.Drawdown = risk.Drawdowns(res.Shadow)

	res.Vol = risk.RollingStdDev(res.RawReturns, s.config.VolWindow)
	res.Floor = make([]float64, L)
	for t := range res.Vol {
		res.Vol[t] = risk.Annualize(res.Vol[t], s.config.Annualization)
		res.Floor[t] = -s.config.K * res.Vol[t]
	}

	// 3. 상태 전이 (t = 1..L-1, day 0은 ACTIVE)
	res.States[0] = contracts.StateActive
	exitLevel := 0.0
	for t := 1; t < L; t++ {
		prev := res.States[t-1]
		next := prev

		if s.config.Overlay {
			switch prev {
			case contracts.StateSuppressed:
				if s.recovered(res, t, exitLevel) {
					next = contracts.StateActive
				}
			case contracts.StateActive:
				if res.Drawdown[t] < res.Floor[t] {
					next = contracts.StateSuppressed
					exitLevel = res.Shadow[t]
				}
			}
		}
		res.States[t] = next
	}

	// 4. 출력 자산곡선
	res.Equity[0] = contracts.EquityPoint{Day: 0, Date: panel.DateAt(pOffset - 1), Value: s.config.InitialCapital}
	for t := 0; t < L; t++ {
		eff := res.RawReturns[t]
		if res.States[t] == contracts.StateSuppressed {
			eff = 0
			res.SuppressedDays++
		}
		res.EffectiveReturns[t] = eff
		res.Equity[t+1] = contracts.EquityPoint{
			Day:   t + 1,
			Date:  panel.DateAt(pOffset + t),
			Value: res.Equity[t].Value * (1 + eff),
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"days":            L,
		"suppressed_days": res.SuppressedDays,
		"final_equity":    res.FinalEquity(),
		"anomalies":       len(res.Anomalies),
	}).Info("simulation complete")

	return res, nil
}

func (s *Simulator) recovered(res *contracts.SimulationResult, t int, exitLevel float64) bool {
	if s.config.RecoveryRule == RecoveryExitLevel {
		return res.Shadow[t] >= exitLevel
	}
	return res.Shadow[t] >= res.Peak[t]
}

func checkColumns(weights *contracts.WeightMatrix, panel *contracts.Panel) error {
	if weights == nil || panel == nil {
		return &contracts.InsufficientDataError{Day: -1, Reason: "nil weights or panel"}
	}
	if len(weights.Entities) != len(panel.Entities) {
		return &contracts.MisalignedError{
			Day:    -1,
			Reason: fmt.Sprintf("weights have %d columns, panel has %d", len(weights.Entities), len(panel.Entities)),
		}
	}
	for i, key := range weights.Entities {
		if panel.Entities[i] != key {
			return &contracts.MisalignedError{
				Entity: key,
				Day:    -1,
				Reason: fmt.Sprintf("column %d is %q in returns", i, panel.Entities[i]),
			}
		}
	}
	return nil
}
