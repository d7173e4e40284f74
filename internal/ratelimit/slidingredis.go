// Package ratelimit throttles the public pricing preview endpoint. Previews
// are read-only but expensive (catalog load, rate lookup, full pipeline), so
// each store+client pair gets a sliding window rather than a shared bucket.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter is a sliding window over a redis sorted set. Every request lands as
// a member scored by its nanosecond timestamp; the trim plus count runs in
// one pipeline so concurrent previews against the same key stay consistent.
type Limiter struct {
	Client *redis.Client
	Prefix string
}

// Allow registers one request under key and reports whether the window still
// has room. A nil client or non-positive limit disables throttling.
func (l Limiter) Allow(ctx context.Context, key string, window time.Duration, max int) (allowed bool, remaining int, reset time.Time, err error) {
	if l.Client == nil || max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}

	now := time.Now()
	resetAt := now.Add(window)
	cutoff := float64(now.Add(-window).UnixNano())

	windowKey := l.Prefix + key
	member := key + ":" + uuid.NewString()

	pipe := l.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, windowKey, "-inf", strconv.FormatFloat(cutoff, 'f', -1, 64))
	pipe.ZAdd(ctx, windowKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	countCmd := pipe.ZCard(ctx, windowKey)
	pipe.Expire(ctx, windowKey, window)
	if _, err = pipe.Exec(ctx); err != nil {
		return false, 0, resetAt, err
	}

	inWindow := int(countCmd.Val())
	remaining = max - inWindow
	if remaining < 0 {
		remaining = 0
	}
	return inWindow <= max, remaining, resetAt, nil
}
