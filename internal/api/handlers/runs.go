package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wonny/aegis-rotator/internal/contracts"
	"github.com/wonny/aegis-rotator/internal/pipeline"
	"github.com/wonny/aegis-rotator/internal/portfolio"
	"github.com/wonny/aegis-rotator/pkg/httputil"
	"github.com/wonny/aegis-rotator/pkg/logger"
	"github.com/wonny/aegis-rotator/pkg/redis"
)

// RunsHandler serves stored run results
type RunsHandler struct {
	weights contracts.WeightRepository // nil when the database is disabled
	equity  contracts.EquityRepository
	cache   *redis.Cache // nil when Redis is disabled
	logger  *logger.Logger
}

// NewRunsHandler creates a new runs handler
func NewRunsHandler(weights contracts.WeightRepository, equity contracts.EquityRepository, cache *redis.Cache, log *logger.Logger) *RunsHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &RunsHandler{weights: weights, equity: equity, cache: cache, logger: log}
}

// EquityResponse is a stored curve with its per-day states
type EquityResponse struct {
	RunID  string                  `json:"run_id"`
	Equity []contracts.EquityPoint `json:"equity"`
	States []contracts.RiskState   `json:"states"`
}

// GetWeights handles GET /api/runs/{id}/weights
func (h *RunsHandler) GetWeights(w http.ResponseWriter, r *http.Request) {
	if h.weights == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "database disabled")
		return
	}
	runID := mux.Vars(r)["id"]

	m, err := h.weights.GetWeights(r.Context(), runID)
	if errors.Is(err, portfolio.ErrRunNotFound) {
		httputil.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.logger.WithError(err).WithRun(runID).Error("Failed to load weights")
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load weights")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m)
}

// GetEquity handles GET /api/runs/{id}/equity
func (h *RunsHandler) GetEquity(w http.ResponseWriter, r *http.Request) {
	if h.equity == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "database disabled")
		return
	}
	runID := mux.Vars(r)["id"]

	points, states, err := h.equity.GetEquity(r.Context(), runID)
	if err != nil {
		h.logger.WithError(err).WithRun(runID).Error("Failed to load equity")
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load equity")
		return
	}
	if len(points) == 0 {
		httputil.WriteError(w, http.StatusNotFound, "run not found: "+runID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, EquityResponse{RunID: runID, Equity: points, States: states})
}

// GetSummary handles GET /api/runs/{id}/summary (Redis only)
func (h *RunsHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "cache disabled")
		return
	}
	runID := mux.Vars(r)["id"]

	var run pipeline.CachedRun
	found, err := h.cache.Get(r.Context(), redis.RunKey(runID), &run)
	if err != nil {
		h.logger.WithError(err).WithRun(runID).Warn("Failed to decode cached run")
	}
	if !found {
		httputil.WriteError(w, http.StatusNotFound, "run summary not cached: "+runID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, run)
}
