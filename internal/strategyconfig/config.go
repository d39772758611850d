package strategyconfig

import (
	"time"

	"github.com/wonny/aegis-rotator/internal/contracts"
)

// Config는 섹터 로테이션 전략의 전체 설정
type Config struct {
	Meta        Meta               `yaml:"meta" json:"meta"`
	Entities    []contracts.Entity `yaml:"entities" json:"entities"`
	Source      Source             `yaml:"source" json:"source"`
	Allocation  Allocation         `yaml:"allocation" json:"allocation"`
	PostProcess PostProcess        `yaml:"post_process" json:"post_process"`
	Overlay     Overlay            `yaml:"overlay" json:"overlay"`
	Backtest    Backtest           `yaml:"backtest" json:"backtest"`
}

// Meta 메타 정보
type Meta struct {
	StrategyID string `yaml:"strategy_id" json:"strategy_id" default:"sector_rotator"`
	Version    string `yaml:"version" json:"version" default:"1"`
}

// Source S0: 입력 시계열 위치
type Source struct {
	Kind string `yaml:"kind" json:"kind" default:"csv"` // csv | db
	Dir  string `yaml:"dir" json:"dir"`                 // csv: raw/<SYMBOL>.csv, signals/<KEY>_flag.csv
	From string `yaml:"from" json:"from"`               // db: YYYY-MM-DD (optional)
	To   string `yaml:"to" json:"to"`                   // db: YYYY-MM-DD (optional)
}

// Allocation S2: 일별 mean-variance 최적화
type Allocation struct {
	Mode          string        `yaml:"mode" json:"mode" default:"long_only"`         // long_only | long_short
	Lookback      string        `yaml:"lookback" json:"lookback" default:"expanding"` // expanding | fixed
	Window        int           `yaml:"window" json:"window" default:"30"`            // fixed lookback 길이
	WarmupDays    int           `yaml:"warmup_days" json:"warmup_days"`               // 이 기간은 flat
	RiskAversion  float64       `yaml:"risk_aversion" json:"risk_aversion" default:"1.0"`
	MaxWeight     float64       `yaml:"max_weight" json:"max_weight" default:"0.5"` // long_short bound b
	AugmentSingle bool          `yaml:"augment_single" json:"augment_single" default:"true"`
	SolveTimeout  time.Duration `yaml:"solve_timeout" json:"solve_timeout" default:"2s"` // 0 = 무제한
	Workers       int           `yaml:"workers" json:"workers"`                         // 0 = GOMAXPROCS
	MaxIterations int           `yaml:"max_iterations" json:"max_iterations" default:"10000"`
	Tolerance     float64       `yaml:"tolerance" json:"tolerance" default:"1e-10"`
}

// PostProcess S3: 비중 후처리
type PostProcess struct {
	Cap    float64 `yaml:"cap" json:"cap" default:"0.5"`
	Method string  `yaml:"method" json:"method" default:"clip_normalize"` // clip_normalize | capped
}

// Overlay S4: adaptive trailing stop
type Overlay struct {
	Enable        bool    `yaml:"enable" json:"enable" default:"true"`
	K             float64 `yaml:"k" json:"k" default:"0.125"`
	VolWindow     int     `yaml:"vol_window" json:"vol_window" default:"30"`
	Annualization float64 `yaml:"annualization" json:"annualization" default:"252"`
	RecoveryRule  string  `yaml:"recovery_rule" json:"recovery_rule" default:"shadow"` // shadow | exit_level
}

// Backtest S5: 리포트 파라미터
type Backtest struct {
	InitialCapital float64    `yaml:"initial_capital" json:"initial_capital" default:"1000000"`
	RollingWindow  int        `yaml:"rolling_window" json:"rolling_window" default:"30"`
	RiskFreeRate   float64    `yaml:"risk_free_rate" json:"risk_free_rate"`
	Intervals      []Interval `yaml:"intervals" json:"intervals" default:"[{\"name\":\"1M\",\"days\":21},{\"name\":\"1Y\",\"days\":252},{\"name\":\"3Y\",\"days\":756},{\"name\":\"5Y\",\"days\":1260}]"`
}

// Interval is a named averaging horizon in trading days
type Interval struct {
	Name string `yaml:"name" json:"name"`
	Days int    `yaml:"days" json:"days"`
}

// EntityKeys returns the entity keys in configured order
func (c *Config) EntityKeys() []string {
	keys := make([]string, len(c.Entities))
	for i, e := range c.Entities {
		keys[i] = e.Key
	}
	return keys
}
