package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// Cache provides typed JSON caching on top of Client
// ⭐ SSOT: 캐시 헬퍼는 여기서만
//
// Redis 장애가 반복되면 breaker가 열리고 캐시는 miss로 동작 (파이프라인은 계속 진행)
type Cache struct {
	client  *Client
	prefix  string
	breaker *gobreaker.CircuitBreaker
}

// NewCache creates a new cache helper
func NewCache(client *Client, prefix string) *Cache {
	st := gobreaker.Settings{
		Name:     prefix + ":cache",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
	}
	return &Cache{
		client:  client,
		prefix:  prefix,
		breaker: gobreaker.NewCircuitBreaker(st),
	}
}

func (c *Cache) fullKey(key string) string {
	return fmt.Sprintf("%s:cache:%s", c.prefix, key)
}

// Get retrieves a cached value. Miss, disabled Redis and an open breaker all report found=false.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !c.client.Enabled() {
		return false, nil
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.client.Redis().Get(ctx, c.fullKey(key)).Bytes()
	})
	if err != nil {
		// miss / breaker open은 에러가 아님
		return false, nil
	}

	if err := json.Unmarshal(out.([]byte), dest); err != nil {
		return false, fmt.Errorf("cache unmarshal failed: %w", err)
	}
	return true, nil
}

// Set stores a value in cache with TTL
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !c.client.Enabled() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal failed: %w", err)
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.client.Redis().Set(ctx, c.fullKey(key), data, ttl).Err()
	})
	return err
}

// Delete removes a cached value
func (c *Cache) Delete(ctx context.Context, key string) error {
	if !c.client.Enabled() {
		return nil
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.client.Redis().Del(ctx, c.fullKey(key)).Err()
	})
	return err
}

// BreakerState exposes the breaker state for health reporting
func (c *Cache) BreakerState() string {
	return c.breaker.State().String()
}

// Predefined TTLs
const (
	TTLShort = 10 * time.Minute // API 조회 결과
	TTLDaily = 24 * time.Hour   // 일별 weight matrix
)

// WeightsKey identifies a weight matrix by strategy config hash and panel fingerprint
func WeightsKey(configHash, panelFingerprint string) string {
	return fmt.Sprintf("weights:%s:%s", configHash, panelFingerprint)
}

// RunKey identifies a persisted pipeline run summary
func RunKey(runID string) string {
	return fmt.Sprintf("run:%s", runID)
}
