package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records allocation, overlay and API metrics using Prometheus.
// A nil *Recorder is valid and records nothing.
// ⭐ SSOT: 메트릭 이름은 여기서만 정의
type Recorder struct {
	fallbacks      *prometheus.CounterVec
	anomalies      *prometheus.CounterVec
	solveDuration  *prometheus.HistogramVec
	stageDuration  *prometheus.HistogramVec
	suppressedDays *prometheus.GaugeVec
	finalEquity    *prometheus.GaugeVec
	runsTotal      *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
}

// New creates a recorder registered on reg (prometheus.DefaultRegisterer in binaries)
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		fallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotator_allocation_fallbacks_total",
				Help: "Days resolved by equal-weight fallback, by reason",
			},
			[]string{"reason"},
		),
		anomalies: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotator_numeric_anomalies_total",
				Help: "NaN/Inf values replaced, by pipeline stage",
			},
			[]string{"stage"},
		),
		solveDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rotator_solve_duration_seconds",
				Help:    "Per-day optimizer solve duration",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"mode"},
		),
		stageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rotator_stage_duration_seconds",
				Help:    "Pipeline stage duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		suppressedDays: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rotator_suppressed_days",
				Help: "Days suppressed by the trailing-stop overlay in the last run",
			},
			[]string{"strategy"},
		),
		finalEquity: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rotator_final_equity",
				Help: "Final equity of the last run",
			},
			[]string{"strategy"},
		),
		runsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotator_runs_total",
				Help: "Pipeline runs by outcome",
			},
			[]string{"status"},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotator_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
		httpLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rotator_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
}

// RecordFallback counts one equal-weight fallback day
func (r *Recorder) RecordFallback(reason string) {
	if r == nil {
		return
	}
	r.fallbacks.WithLabelValues(reason).Inc()
}

// RecordAnomaly counts one replaced NaN/Inf
func (r *Recorder) RecordAnomaly(stage string) {
	if r == nil {
		return
	}
	r.anomalies.WithLabelValues(stage).Inc()
}

// RecordSolve observes a solve duration in seconds
func (r *Recorder) RecordSolve(mode string, seconds float64) {
	if r == nil {
		return
	}
	r.solveDuration.WithLabelValues(mode).Observe(seconds)
}

// RecordStage observes a pipeline stage duration in seconds
func (r *Recorder) RecordStage(stage string, seconds float64) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordRun sets the last-run gauges and counts the run outcome
func (r *Recorder) RecordRun(strategy, status string, suppressedDays int, finalEquity float64) {
	if r == nil {
		return
	}
	r.runsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		r.suppressedDays.WithLabelValues(strategy).Set(float64(suppressedDays))
		r.finalEquity.WithLabelValues(strategy).Set(finalEquity)
	}
}

// RecordHTTP counts one request and observes its latency
func (r *Recorder) RecordHTTP(route, code string, seconds float64) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(route, code).Inc()
	r.httpLatency.WithLabelValues(route).Observe(seconds)
}
