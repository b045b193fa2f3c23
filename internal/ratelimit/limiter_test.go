package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/cantoria/cantoria/internal/ratelimit"
	_ "github.com/cantoria/cantoria/testing"
)

func newLimiter(t *testing.T) (*ratelimit.Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := ratelimit.NewRedisCounterStore(client)
	return ratelimit.NewLimiter(store, nil, nil), mr
}

func TestCheckFreshKey(t *testing.T) {
	limiter, _ := newLimiter(t)

	res, err := limiter.Check(context.Background(), "user:1", 5, time.Minute)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, 5, res.Limit)
	require.Equal(t, 4, res.Remaining)
	require.InDelta(t, time.Now().Add(time.Minute).Unix(), res.ResetAt, 2)
}

func TestCheckExhaustsWindow(t *testing.T) {
	limiter, _ := newLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := limiter.Check(ctx, "user:7", 5, time.Minute)
		require.NoError(t, err)
		require.True(t, res.Allowed, "request %d should pass", i+1)
		require.Equal(t, 4-i, res.Remaining)
	}

	res, err := limiter.Check(ctx, "user:7", 5, time.Minute)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, 0, res.Remaining)
}

func TestCheckWindowExpiry(t *testing.T) {
	limiter, mr := newLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := limiter.Check(ctx, "ip:10.0.0.1", 3, time.Minute)
		require.NoError(t, err)
	}
	res, err := limiter.Check(ctx, "ip:10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	mr.FastForward(time.Minute + time.Second)

	res, err = limiter.Check(ctx, "ip:10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, 2, res.Remaining)
}

func TestCheckExpirySetOnce(t *testing.T) {
	limiter, mr := newLimiter(t)
	ctx := context.Background()

	_, err := limiter.Check(ctx, "user:9", 10, time.Minute)
	require.NoError(t, err)

	mr.FastForward(30 * time.Second)

	// Later hits in the same window must not push the expiry out.
	_, err = limiter.Check(ctx, "user:9", 10, time.Minute)
	require.NoError(t, err)
	require.LessOrEqual(t, mr.TTL("user:9"), 30*time.Second)
}

func TestCheckFailsOpenOnStoreError(t *testing.T) {
	limiter, mr := newLimiter(t)
	mr.Close()

	res, err := limiter.Check(context.Background(), "user:1", 5, time.Minute)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, 1, res.Remaining)
}

func TestCheckRejectsInvalidInput(t *testing.T) {
	limiter, _ := newLimiter(t)
	ctx := context.Background()

	_, err := limiter.Check(ctx, "", 5, time.Minute)
	require.Error(t, err)

	_, err = limiter.Check(ctx, "user:1", 0, time.Minute)
	require.Error(t, err)

	_, err = limiter.Check(ctx, "user:1", 5, 500*time.Millisecond)
	require.Error(t, err)
}
