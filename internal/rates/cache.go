package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	keys "github.com/noah-isme/promo-core/internal/cache"
	"github.com/noah-isme/promo-core/internal/fx"
	"github.com/noah-isme/promo-core/internal/obs"
)

var cacheKey = keys.KeyRates()

// CachedSource serves the rate table from redis and falls through to the
// upstream source on a miss. Refresh is also called on a schedule by the
// worker so most passes never touch the upstream at all.
type CachedSource struct {
	Upstream Source
	Redis    *redis.Client
	TTL      time.Duration
	Logger   zerolog.Logger
}

func NewCachedSource(upstream Source, rdb *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedSource {
	return &CachedSource{Upstream: upstream, Redis: rdb, TTL: ttl, Logger: logger}
}

func (c *CachedSource) GetRates(ctx context.Context, asOf time.Time) (fx.RateTable, error) {
	if table, ok := c.cached(ctx); ok {
		obs.ObserveRatesFetch("cache", "ok")
		return table, nil
	}
	return c.Refresh(ctx, asOf)
}

// Refresh fetches from the upstream and rewrites the cache.
func (c *CachedSource) Refresh(ctx context.Context, asOf time.Time) (fx.RateTable, error) {
	table, err := c.Upstream.GetRates(ctx, asOf)
	if err != nil {
		return nil, err
	}
	if err := c.store(ctx, table); err != nil {
		c.Logger.Warn().Err(err).Msg("rates cache write failed")
	}
	return table, nil
}

func (c *CachedSource) cached(ctx context.Context) (fx.RateTable, bool) {
	if c.Redis == nil {
		return nil, false
	}
	data, err := c.Redis.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.Logger.Warn().Err(err).Msg("rates cache read failed")
		}
		return nil, false
	}

	var wire map[string]string
	if err := json.Unmarshal(data, &wire); err != nil {
		c.Logger.Warn().Err(err).Msg("rates cache payload malformed")
		return nil, false
	}

	table := make(fx.RateTable, len(wire))
	for key, raw := range wire {
		pair, err := fx.ParsePair(key)
		if err != nil {
			c.Logger.Warn().Str("pair", key).Msg("skipping malformed cached pair")
			continue
		}
		rate, err := decimal.NewFromString(raw)
		if err != nil || !rate.IsPositive() {
			c.Logger.Warn().Str("pair", key).Str("rate", raw).Msg("skipping malformed cached rate")
			continue
		}
		table[pair] = rate
	}
	if len(table) == 0 {
		return nil, false
	}
	return table, true
}

func (c *CachedSource) store(ctx context.Context, table fx.RateTable) error {
	if c.Redis == nil {
		return nil
	}
	wire := make(map[string]string, len(table))
	for pair, rate := range table {
		wire[pair.String()] = rate.String()
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("encode rates cache: %w", err)
	}
	return c.Redis.Set(ctx, cacheKey, data, c.TTL).Err()
}

// StaticSource serves a fixed table. Useful for single-currency stores and in
// tests.
type StaticSource struct {
	Table fx.RateTable
}

func (s StaticSource) GetRates(ctx context.Context, asOf time.Time) (fx.RateTable, error) {
	return s.Table, nil
}
