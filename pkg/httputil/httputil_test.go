package httputil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	Mode    string   `json:"mode" default:"long_only" validate:"oneof=long_only long_short"`
	Window  int      `json:"window" default:"30" validate:"gte=2"`
	Sectors []string `json:"sectors" validate:"required,min=1"`
}

func TestDecodeAndValidate(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantCodes []string
		check     func(t *testing.T, req sampleRequest)
	}{
		{
			name: "defaults applied",
			body: `{"sectors":["TECH"]}`,
			check: func(t *testing.T, req sampleRequest) {
				assert.Equal(t, "long_only", req.Mode)
				assert.Equal(t, 30, req.Window)
			},
		},
		{
			name:      "oneof and gte",
			body:      `{"sectors":["TECH"],"mode":"short_only","window":1}`,
			wantCodes: []string{"ERR_ONEOF", "ERR_GTE"},
		},
		{
			name:      "required",
			body:      ``,
			wantCodes: []string{"ERR_REQUIRED"},
		},
		{
			name:      "unknown field",
			body:      `{"sectors":["TECH"],"cap":2}`,
			wantCodes: []string{"ERR_DECODE"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var req sampleRequest
			errs := DecodeAndValidate(r, &req)

			var codes []string
			for _, e := range errs {
				codes = append(codes, e.Code)
			}
			assert.Equal(t, tt.wantCodes, codes)
			if tt.check != nil {
				tt.check(t, req)
			}
		})
	}
}

func TestWriteValidation(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteValidation(rec, []ValidationError{{Code: "ERR_REQUIRED", Field: "x", Message: "x is required"}})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation failed", body.Error)
	assert.Len(t, body.Details, 1)
}

func TestLocalLimiter(t *testing.T) {
	l := NewLocalLimiter(1, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "10.0.0.1")
	assert.False(t, ok)

	// 다른 클라이언트는 독립 bucket
	ok, _ = l.Allow(ctx, "10.0.0.2")
	assert.True(t, ok)
}

func TestRateLimitMiddleware(t *testing.T) {
	h := RateLimit(NewLocalLimiter(0.001, 1))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func() int {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "192.0.2.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, do())
	assert.Equal(t, http.StatusTooManyRequests, do())
}

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", ClientKey(r))

	r.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", ClientKey(r))
}
