package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/wonny/aegis-rotator/internal/backtest"
	"github.com/wonny/aegis-rotator/internal/contracts"
	"github.com/wonny/aegis-rotator/internal/pipeline"
	"github.com/wonny/aegis-rotator/internal/strategyconfig"
	"github.com/wonny/aegis-rotator/pkg/httputil"
	"github.com/wonny/aegis-rotator/pkg/logger"
)

// Runner runs one pipeline pass
type Runner interface {
	Run(ctx context.Context, config pipeline.RunConfig) (*pipeline.RunResult, error)
}

// BuildFunc wires a Runner for a (request-adjusted) strategy config
type BuildFunc func(cfg *strategyconfig.Config) (Runner, error)

// BacktestHandler runs the pipeline on demand
// ⭐ SSOT: 백테스트 API 핸들러는 여기서만
type BacktestHandler struct {
	base   *strategyconfig.Config
	build  BuildFunc
	logger *logger.Logger
}

// NewBacktestHandler creates a new backtest handler. base is never mutated.
func NewBacktestHandler(base *strategyconfig.Config, build BuildFunc, log *logger.Logger) *BacktestHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &BacktestHandler{base: base, build: build, logger: log}
}

// EntityRequest is one sector of a request
type EntityRequest struct {
	Key    string `json:"key" validate:"required,max=32"`
	Symbol string `json:"symbol" validate:"max=32"`
}

// BacktestRequest overrides the base strategy; zero fields keep the base value
type BacktestRequest struct {
	Entities       []EntityRequest `json:"entities" validate:"omitempty,min=1,max=64,dive"`
	Mode           string          `json:"mode" validate:"omitempty,oneof=long_only long_short"`
	Lookback       string          `json:"lookback" validate:"omitempty,oneof=expanding fixed"`
	Window         int             `json:"window" validate:"omitempty,gte=2"`
	RiskAversion   float64         `json:"risk_aversion" validate:"omitempty,gt=0"`
	MaxWeight      float64         `json:"max_weight" validate:"omitempty,gt=0,lte=1"`
	Cap            float64         `json:"cap" validate:"omitempty,gt=0,lte=1"`
	Method         string          `json:"method" validate:"omitempty,oneof=clip_normalize capped"`
	Overlay        *bool           `json:"overlay"`
	K              float64         `json:"k" validate:"omitempty,gte=0"`
	RecoveryRule   string          `json:"recovery_rule" validate:"omitempty,oneof=shadow exit_level"`
	InitialCapital float64         `json:"initial_capital" validate:"omitempty,gt=0"`
	From           string          `json:"from" validate:"omitempty,datetime=2006-01-02"`
	To             string          `json:"to" validate:"omitempty,datetime=2006-01-02"`
	Persist        bool            `json:"persist"`
	View           string          `json:"view" default:"summary" validate:"oneof=summary full"`
}

// BacktestResponse is the API view of a run
type BacktestResponse struct {
	RunID      string                      `json:"run_id"`
	ConfigHash string                      `json:"config_hash"`
	Persisted  bool                        `json:"persisted"`
	DurationMS int64                       `json:"duration_ms"`
	Summary    *backtest.Summary           `json:"summary"`
	Allocation *contracts.AllocationReport `json:"allocation"`
	LastWeight map[string]float64          `json:"last_weights"`
	Anomalies  int                         `json:"anomalies"`

	// view=full
	Weights *contracts.WeightMatrix `json:"weights,omitempty"`
	Equity  []contracts.EquityPoint `json:"equity,omitempty"`
	States  []contracts.RiskState   `json:"states,omitempty"`
}

// Run handles POST /api/backtest
func (h *BacktestHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if errs := httputil.DecodeAndValidate(r, &req); errs != nil {
		httputil.WriteValidation(w, errs)
		return
	}

	cfg := h.apply(req)
	if err := strategyconfig.Validate(cfg); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	runner, err := h.build(cfg)
	if err != nil {
		h.logger.WithError(err).Error("Failed to build pipeline")
		httputil.WriteError(w, statusFor(err), err.Error())
		return
	}

	res, err := runner.Run(r.Context(), pipeline.RunConfig{
		Entities: cfg.Entities,
		DryRun:   !req.Persist,
	})
	if err != nil {
		h.logger.WithError(err).Warn("Backtest run failed")
		httputil.WriteError(w, statusFor(err), err.Error())
		return
	}

	resp := BacktestResponse{
		RunID:      res.RunID,
		ConfigHash: res.ConfigHash,
		Persisted:  res.Persisted,
		DurationMS: res.Duration.Milliseconds(),
		Summary:    res.Summary,
		Allocation: res.Allocation,
		Anomalies:  len(res.Anomalies),
	}
	if res.Weights != nil && res.Weights.Len() > 0 {
		resp.LastWeight = res.Weights.Row(res.Weights.Len() - 1)
	}
	if req.View == "full" {
		resp.Weights = res.Weights
		if res.Simulation != nil {
			resp.Equity = res.Simulation.Equity
			resp.States = res.Simulation.States
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// apply copies the base config and overlays the request
func (h *BacktestHandler) apply(req BacktestRequest) *strategyconfig.Config {
	cfg := *h.base
	cfg.Entities = append([]contracts.Entity(nil), h.base.Entities...)
	cfg.Backtest.Intervals = append([]strategyconfig.Interval(nil), h.base.Backtest.Intervals...)

	if len(req.Entities) > 0 {
		cfg.Entities = make([]contracts.Entity, len(req.Entities))
		for i, e := range req.Entities {
			cfg.Entities[i] = contracts.Entity{Key: e.Key, Symbol: e.Symbol}
		}
	}
	setString(&cfg.Allocation.Mode, req.Mode)
	setString(&cfg.Allocation.Lookback, req.Lookback)
	setString(&cfg.PostProcess.Method, req.Method)
	setString(&cfg.Overlay.RecoveryRule, req.RecoveryRule)
	setString(&cfg.Source.From, req.From)
	setString(&cfg.Source.To, req.To)
	if req.Window > 0 {
		cfg.Allocation.Window = req.Window
	}
	if req.RiskAversion > 0 {
		cfg.Allocation.RiskAversion = req.RiskAversion
	}
	if req.MaxWeight > 0 {
		cfg.Allocation.MaxWeight = req.MaxWeight
	}
	if req.Cap > 0 {
		cfg.PostProcess.Cap = req.Cap
	}
	if req.Overlay != nil {
		cfg.Overlay.Enable = *req.Overlay
	}
	if req.K > 0 {
		cfg.Overlay.K = req.K
	}
	if req.InitialCapital > 0 {
		cfg.Backtest.InitialCapital = req.InitialCapital
	}
	return &cfg
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// statusFor maps pipeline errors onto HTTP status codes
func statusFor(err error) int {
	var verr strategyconfig.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, contracts.ErrInsufficientData), errors.Is(err, contracts.ErrMisaligned):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
