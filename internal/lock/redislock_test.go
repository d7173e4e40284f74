package lock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/promo-core/internal/lock"
)

func TestWithLockSerializesSweeps(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var sweeps []string
	var mu sync.Mutex
	firstRunning := make(chan struct{})
	finishFirst := make(chan struct{})

	go func() {
		err := locker.WithLock(ctx, "promo:sweep", 100*time.Millisecond, func(context.Context) error {
			mu.Lock()
			sweeps = append(sweeps, "worker-1")
			mu.Unlock()
			close(firstRunning)
			<-finishFirst
			return nil
		})
		require.NoError(t, err)
	}()

	<-firstRunning

	go func() {
		err := locker.WithLock(ctx, "promo:sweep", 100*time.Millisecond, func(context.Context) error {
			mu.Lock()
			sweeps = append(sweeps, "worker-2")
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
	}()

	close(finishFirst)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sweeps) == 2
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"worker-1", "worker-2"}, sweeps, "second worker must wait for the lock")
}

func TestWithLockRequiresClientAndCallback(t *testing.T) {
	require.Error(t, lock.Locker{}.WithLock(context.Background(), "promo:sweep", time.Second, func(context.Context) error { return nil }))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	require.Error(t, lock.Locker{R: client}.WithLock(context.Background(), "promo:sweep", time.Second, nil))
}
