package strategyconfig

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError 검증 실패 (프로그램 중단)
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Warning 권장 위반 (경고만)
type Warning struct {
	Code    string
	Message string
}

// Validate checks all required constraints
// 실패 시 error 반환 (프로그램 중단)
func Validate(cfg *Config) error {
	// === Meta ===
	if cfg.Meta.StrategyID == "" {
		return ValidationError{"meta.strategy_id", "required"}
	}

	// === Entities ===
	if len(cfg.Entities) == 0 {
		return ValidationError{"entities", "at least one entity required"}
	}
	seen := make(map[string]bool, len(cfg.Entities))
	for i, e := range cfg.Entities {
		if e.Key == "" {
			return ValidationError{fmt.Sprintf("entities[%d].key", i), "required"}
		}
		if seen[e.Key] {
			return ValidationError{fmt.Sprintf("entities[%d].key", i), fmt.Sprintf("duplicate key %q", e.Key)}
		}
		seen[e.Key] = true
	}

	// === Source ===
	switch cfg.Source.Kind {
	case "csv", "db":
	default:
		return ValidationError{"source.kind", "must be csv or db"}
	}
	if err := validateDate(cfg.Source.From); err != nil {
		return ValidationError{"source.from", err.Error()}
	}
	if err := validateDate(cfg.Source.To); err != nil {
		return ValidationError{"source.to", err.Error()}
	}

	// === Allocation ===
	a := cfg.Allocation
	switch a.Mode {
	case "long_only", "long_short":
	default:
		return ValidationError{"allocation.mode", "must be long_only or long_short"}
	}
	switch a.Lookback {
	case "expanding":
	case "fixed":
		if a.Window < 2 {
			return ValidationError{"allocation.window", "must be >= 2 for fixed lookback"}
		}
	default:
		return ValidationError{"allocation.lookback", "must be expanding or fixed"}
	}
	if a.WarmupDays < 0 {
		return ValidationError{"allocation.warmup_days", "must be >= 0"}
	}
	if !(a.RiskAversion > 0) {
		return ValidationError{"allocation.risk_aversion", "must be > 0"}
	}
	if err := validateFraction(a.MaxWeight); err != nil {
		return ValidationError{"allocation.max_weight", err.Error()}
	}
	if a.SolveTimeout < 0 {
		return ValidationError{"allocation.solve_timeout", "must be >= 0"}
	}
	if a.Workers < 0 {
		return ValidationError{"allocation.workers", "must be >= 0"}
	}
	if a.MaxIterations <= 0 {
		return ValidationError{"allocation.max_iterations", "must be > 0"}
	}
	if !(a.Tolerance > 0) {
		return ValidationError{"allocation.tolerance", "must be > 0"}
	}

	// === PostProcess ===
	if err := validateFraction(cfg.PostProcess.Cap); err != nil {
		return ValidationError{"post_process.cap", err.Error()}
	}
	switch cfg.PostProcess.Method {
	case "clip_normalize", "capped":
	default:
		return ValidationError{"post_process.method", "must be clip_normalize or capped"}
	}

	// === Overlay ===
	o := cfg.Overlay
	if o.K < 0 {
		return ValidationError{"overlay.k", "must be >= 0"}
	}
	if o.VolWindow < 2 {
		return ValidationError{"overlay.vol_window", "must be >= 2"}
	}
	if !(o.Annualization > 0) {
		return ValidationError{"overlay.annualization", "must be > 0"}
	}
	switch o.RecoveryRule {
	case "shadow", "exit_level":
	default:
		return ValidationError{"overlay.recovery_rule", "must be shadow or exit_level"}
	}

	// === Backtest ===
	b := cfg.Backtest
	if !(b.InitialCapital > 0) {
		return ValidationError{"backtest.initial_capital", "must be > 0"}
	}
	if b.RollingWindow < 1 {
		return ValidationError{"backtest.rolling_window", "must be >= 1"}
	}
	for i, iv := range b.Intervals {
		if iv.Name == "" || iv.Days <= 0 {
			return ValidationError{fmt.Sprintf("backtest.intervals[%d]", i), "name required and days must be > 0"}
		}
	}

	return nil
}

// Warn checks recommended constraints (non-fatal)
func Warn(cfg *Config) []Warning {
	var warnings []Warning
	n := float64(len(cfg.Entities))

	// long_short: n·b < 1 이면 매일 fallback
	if cfg.Allocation.Mode == "long_short" && n*cfg.Allocation.MaxWeight < 1 {
		warnings = append(warnings, Warning{
			Code:    "INFEASIBLE_BOUND",
			Message: fmt.Sprintf("entities×max_weight = %.2f < 1: 모든 날이 equal-weight fallback", n*cfg.Allocation.MaxWeight),
		})
	}

	// long_short + augmentation off → 단일 활성 날은 항상 infeasible
	if cfg.Allocation.Mode == "long_short" && !cfg.Allocation.AugmentSingle && cfg.Allocation.MaxWeight < 1 {
		warnings = append(warnings, Warning{
			Code:    "SINGLE_ACTIVE_FALLBACK",
			Message: "augment_single=false: 활성 섹터 1개인 날은 fallback 처리",
		})
	}

	// cap·n < 1 이면 cap을 지킬 수 없음 → 1/k equal
	if n*cfg.PostProcess.Cap < 1 {
		warnings = append(warnings, Warning{
			Code:    "CAP_UNREACHABLE",
			Message: "entities×cap < 1: 후처리 결과가 cap을 초과할 수 있음",
		})
	}

	if !cfg.Overlay.Enable {
		warnings = append(warnings, Warning{
			Code:    "OVERLAY_DISABLED",
			Message: "trailing stop overlay 비활성화",
		})
	}

	return warnings
}

// === Helper Functions ===

func validateDate(s string) error {
	if s == "" {
		return nil
	}
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return errors.New("must be YYYY-MM-DD format")
	}
	return nil
}

// validateFraction는 값이 (0, 1] 범위인지 검증
func validateFraction(v float64) error {
	if !(v > 0) || v > 1 {
		return errors.New("must be in range (0, 1]")
	}
	return nil
}
