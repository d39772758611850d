package httputil

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wonny/aegis-rotator/pkg/redis"
)

// Limiter decides whether a client may issue one more request
type Limiter interface {
	Allow(ctx context.Context, clientKey string) (bool, error)
}

// LocalLimiter is a per-client token bucket held in process memory
type LocalLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*rate.Limiter
}

// NewLocalLimiter creates a token-bucket limiter per client
func NewLocalLimiter(rps float64, burst int) *LocalLimiter {
	return &LocalLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*rate.Limiter),
	}
}

// Allow implements Limiter
func (l *LocalLimiter) Allow(_ context.Context, clientKey string) (bool, error) {
	l.mu.Lock()
	lim, ok := l.clients[clientKey]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.clients[clientKey] = lim
	}
	l.mu.Unlock()
	return lim.Allow(), nil
}

// RedisLimiter shares a sliding-window limit across API instances
type RedisLimiter struct {
	limiter *redis.RateLimiter
	limit   int
	window  time.Duration
}

// NewRedisLimiter wraps redis.RateLimiter
func NewRedisLimiter(limiter *redis.RateLimiter, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{limiter: limiter, limit: limit, window: window}
}

// Allow implements Limiter
func (l *RedisLimiter) Allow(ctx context.Context, clientKey string) (bool, error) {
	ok, _, err := l.limiter.Allow(ctx, redis.APIRateLimit(clientKey, l.limit, l.window))
	return ok, err
}

// RateLimit rejects requests over the limit with 429.
// Limiter errors fail open.
func RateLimit(l Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := l.Allow(r.Context(), ClientKey(r))
			if err == nil && !ok {
				w.Header().Set("Retry-After", strconv.Itoa(1))
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientKey identifies the caller by remote IP
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
