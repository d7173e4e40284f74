package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestLimiterSlidingWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := Limiter{Client: client, Prefix: "promo:rl:"}

	ctx := context.Background()
	const key = "store-1:203.0.113.7"
	window := 2 * time.Second
	max := 2

	for i := 0; i < max; i++ {
		allowed, remaining, _, err := limiter.Allow(ctx, key, window, max)
		require.NoError(t, err)
		require.True(t, allowed)
		require.Equal(t, max-(i+1), remaining)
	}

	allowed, remaining, _, err := limiter.Allow(ctx, key, window, max)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Zero(t, remaining)

	// a different store shares nothing with the throttled one
	allowed, _, _, err = limiter.Allow(ctx, "store-2:203.0.113.7", window, max)
	require.NoError(t, err)
	require.True(t, allowed)

	mr.FastForward(window)

	allowed, _, _, err = limiter.Allow(ctx, key, window, max)
	require.NoError(t, err)
	require.True(t, allowed, "window must slide open again")
}

func TestLimiterDisabledWithoutThresholds(t *testing.T) {
	limiter := Limiter{}
	allowed, _, _, err := limiter.Allow(context.Background(), "store-1:anyone", time.Second, 0)
	require.NoError(t, err)
	require.True(t, allowed)
}
