package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-rotator/internal/api/handlers"
	"github.com/wonny/aegis-rotator/internal/contracts"
	"github.com/wonny/aegis-rotator/internal/strategyconfig"
	"github.com/wonny/aegis-rotator/pkg/httputil"
	"github.com/wonny/aegis-rotator/pkg/metrics"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func testRouter(t *testing.T, deps RouterDeps) http.Handler {
	t.Helper()
	if deps.Backtest == nil {
		cfg := strategyconfig.Default()
		cfg.Entities = []contracts.Entity{{Key: "TECH"}}
		deps.Backtest = handlers.NewBacktestHandler(cfg, func(*strategyconfig.Config) (handlers.Runner, error) {
			panic("build exploded")
		}, nil)
	}
	if deps.Runs == nil {
		deps.Runs = handlers.NewRunsHandler(nil, nil, nil, nil)
	}
	return NewRouter(deps)
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	r := httptest.NewRequest(method, path, rd)
	r.RemoteAddr = "192.0.2.7:4242"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]Pinger
		wantCode   int
		wantStatus string
	}{
		{name: "no dependencies", wantCode: http.StatusOK, wantStatus: "ok"},
		{
			name:       "all healthy",
			checks:     map[string]Pinger{"database": pingFunc(func(context.Context) error { return nil })},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "redis down",
			checks: map[string]Pinger{
				"database": pingFunc(func(context.Context) error { return nil }),
				"redis":    pingFunc(func(context.Context) error { return errors.New("dial tcp: refused") }),
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(testRouter(t, RouterDeps{Checks: tt.checks}), http.MethodGet, "/health", "")
			assert.Equal(t, tt.wantCode, rec.Code)

			var body struct {
				Status       string            `json:"status"`
				Dependencies map[string]string `json:"dependencies"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Len(t, body.Dependencies, len(tt.checks))
		})
	}
}

func TestMetricsEndpointRecordsRouteTemplate(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := testRouter(t, RouterDeps{Gatherer: reg, Metrics: metrics.New(reg)})

	assert.Equal(t, http.StatusServiceUnavailable, do(h, http.MethodGet, "/api/runs/abc/weights", "").Code)

	rec := do(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "rotator_http_requests_total")
	assert.Contains(t, body, `/api/runs/{id}/weights`)
	assert.NotContains(t, body, "/api/runs/abc/weights")
}

func TestRecoveryMiddleware(t *testing.T) {
	rec := do(testRouter(t, RouterDeps{}), http.MethodPost, "/api/backtest", `{}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Internal server error", body.Error)
}

func TestRateLimitOnlyGuardsAPI(t *testing.T) {
	h := testRouter(t, RouterDeps{Limiter: httputil.NewLocalLimiter(0.001, 1)})

	assert.Equal(t, http.StatusServiceUnavailable, do(h, http.MethodGet, "/api/runs/a/equity", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(h, http.MethodGet, "/api/runs/a/equity", "").Code)

	// health는 제한 없음
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/health", "").Code)
	}
}

func TestUnknownMethod(t *testing.T) {
	rec := do(testRouter(t, RouterDeps{}), http.MethodGet, "/api/backtest", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
