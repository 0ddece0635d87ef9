package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRedisWrapperRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rw := NewRedisWrapper(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test-roundtrip", Settings{}, zaptest.NewLogger(t))
	defer rw.Close()
	ctx := context.Background()

	require.NoError(t, rw.Ping(ctx))
	require.NoError(t, rw.Set(ctx, "suggest:abc", `{"tools":[]}`, time.Minute))

	got, err := rw.Get(ctx, "suggest:abc")
	require.NoError(t, err)
	assert.Equal(t, `{"tools":[]}`, got)

	mr.FastForward(2 * time.Minute)
	_, err = rw.Get(ctx, "suggest:abc")
	assert.ErrorIs(t, err, redis.Nil)
}

func TestRedisWrapperMissesKeepBreakerClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	rw := NewRedisWrapper(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test-miss", Settings{FailureThreshold: 1}, zaptest.NewLogger(t))
	defer rw.Close()

	for i := 0; i < 5; i++ {
		_, err := rw.Get(context.Background(), "suggest:missing")
		require.ErrorIs(t, err, redis.Nil)
	}
	assert.False(t, rw.IsCircuitBreakerOpen())
}

func TestRedisWrapperTripsOnOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client := redis.NewClient(&redis.Options{Addr: addr, DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	rw := NewRedisWrapper(client, "test-outage", Settings{FailureThreshold: 2}, zaptest.NewLogger(t))
	defer rw.Close()
	ctx := context.Background()

	assert.Error(t, rw.Ping(ctx))
	assert.Error(t, rw.Set(ctx, "k", "v", 0))
	require.True(t, rw.IsCircuitBreakerOpen())

	_, err := rw.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.Contains(t, Default.Open(), "test-outage/redis")
}
