package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wonny/aegis-rotator/internal/api/handlers"
	"github.com/wonny/aegis-rotator/pkg/httputil"
	"github.com/wonny/aegis-rotator/pkg/logger"
	"github.com/wonny/aegis-rotator/pkg/metrics"
)

// Pinger is a dependency checked by /health
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps holds everything the router mounts
type RouterDeps struct {
	Backtest *handlers.BacktestHandler
	Runs     *handlers.RunsHandler
	Limiter  httputil.Limiter    // nil → no rate limiting
	Gatherer prometheus.Gatherer // nil → no /metrics
	Checks   map[string]Pinger   // name → dependency for /health
	Metrics  *metrics.Recorder
	Logger   *logger.Logger
}

// NewRouter creates and configures the HTTP router
// ⭐ SSOT: 라우팅 설정은 이 함수에서만
func NewRouter(deps RouterDeps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}

	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", healthCheckHandler(deps.Checks)).Methods(http.MethodGet)

	// Prometheus
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	if deps.Limiter != nil {
		api.Use(httputil.RateLimit(deps.Limiter))
	}

	// Backtest
	api.HandleFunc("/backtest", deps.Backtest.Run).Methods(http.MethodPost)

	// Stored runs
	api.HandleFunc("/runs/{id}/weights", deps.Runs.GetWeights).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/equity", deps.Runs.GetEquity).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/summary", deps.Runs.GetSummary).Methods(http.MethodGet)

	// Apply middleware
	r.Use(loggingMiddleware(log, deps.Metrics))
	r.Use(recoveryMiddleware(log))

	return r
}

// healthCheckHandler reports ok (200) or degraded (503) with per-dependency status
func healthCheckHandler(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := "ok"
		deps := make(map[string]string, len(checks))
		for name, p := range checks {
			if err := p.Ping(ctx); err != nil {
				deps[name] = err.Error()
				status = "degraded"
				continue
			}
			deps[name] = "ok"
		}

		code := http.StatusOK
		if status != "ok" {
			code = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, map[string]interface{}{
			"status":       status,
			"service":      "aegis-rotator-api",
			"dependencies": deps,
		})
	}
}

// statusRecorder captures the response code for logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs HTTP requests and records request metrics by route template
func loggingMiddleware(log *logger.Logger, rec *metrics.Recorder) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sr, r)

			route := r.URL.Path
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			elapsed := time.Since(start)
			rec.RecordHTTP(route, strconv.Itoa(sr.status), elapsed.Seconds())

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   sr.status,
				"duration": elapsed,
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					httputil.WriteError(w, http.StatusInternalServerError, "Internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
