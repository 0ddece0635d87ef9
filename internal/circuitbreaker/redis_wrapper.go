package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper is the suggestion cache client. Every command passes through
// a breaker so an unreachable Redis costs one rejected call instead of a dial
// timeout.
type RedisWrapper struct {
	client *redis.Client
	cb     *CircuitBreaker
}

// NewRedisWrapper guards client with a breaker built from settings, falling
// back to the CB_REDIS_* environment defaults. service labels the metrics.
func NewRedisWrapper(client *redis.Client, service string, settings Settings, logger *zap.Logger) *RedisWrapper {
	cfg := settings.Merge(GetRedisConfig()).ToConfig()
	// redis.Nil is a cache miss.
	cfg.IsFailure = func(err error) bool { return !errors.Is(err, redis.Nil) }
	cb := NewCircuitBreaker("redis", cfg, logger)
	Default.Track(service, cb)
	return &RedisWrapper{client: client, cb: cb}
}

func (rw *RedisWrapper) Ping(ctx context.Context) error {
	return rw.cb.Execute(ctx, func() error { return rw.client.Ping(ctx).Err() })
}

// Get returns redis.Nil for a missing key.
func (rw *RedisWrapper) Get(ctx context.Context, key string) (string, error) {
	return call(ctx, rw.cb, func() (string, error) { return rw.client.Get(ctx, key).Result() })
}

func (rw *RedisWrapper) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return rw.cb.Execute(ctx, func() error { return rw.client.Set(ctx, key, value, ttl).Err() })
}

func (rw *RedisWrapper) Close() error { return rw.client.Close() }

func (rw *RedisWrapper) IsCircuitBreakerOpen() bool { return rw.cb.IsOpen() }
