package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	keys "github.com/noah-isme/promo-core/internal/cache"
	"github.com/noah-isme/promo-core/internal/promo"
)

var keyPrefix = keys.KeyLedger()

// reserveScript checks every counter against its limit and increments them in
// one atomic step, so two concurrent reservations can never both take the
// last slot. A limit of -1 means unlimited.
var reserveScript = redis.NewScript(`
local glim = tonumber(ARGV[1])
local clim = tonumber(ARGV[2])
if glim >= 0 and tonumber(redis.call('GET', KEYS[1]) or '0') >= glim then
  return 0
end
if clim >= 0 and tonumber(redis.call('GET', KEYS[2]) or '0') >= clim then
  return 0
end
redis.call('INCR', KEYS[1])
redis.call('INCR', KEYS[2])
if ARGV[6] ~= '' then
  redis.call('INCR', KEYS[5])
end
redis.call('HSET', KEYS[3], 'rule', ARGV[4], 'customer', ARGV[5], 'coupon', ARGV[6], 'expires', ARGV[3])
redis.call('ZADD', KEYS[4], ARGV[3], ARGV[7])
return 1
`)

// releaseScript decrements the counters recorded in the token hash and
// removes the reservation. Idempotent: releasing an unknown token is a no-op.
var releaseScript = redis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'rule', 'customer', 'coupon')
if not f[1] then
  return 0
end
redis.call('DECR', ARGV[2] .. 'rule:' .. f[1] .. ':global')
redis.call('DECR', ARGV[2] .. 'rule:' .. f[1] .. ':cust:' .. f[2])
if f[3] ~= '' then
  redis.call('DECR', ARGV[2] .. 'coupon:' .. f[3])
end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`)

// commitScript makes the counters permanent by dropping the pending
// reservation record, returning its fields so the commit can be recorded
// durably. A nil reply means the token was unknown or already settled.
var commitScript = redis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'rule', 'customer', 'coupon')
if not f[1] then
  return false
end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return f
`)

// RedisLedger tracks rule usage in redis counters with a pending sorted set
// for expiry. Suited to stores where redis is the checkout hot path and
// postgres only holds the committed history.
type RedisLedger struct {
	rdb      *redis.Client
	ttl      time.Duration
	recorder RedemptionRecorder
}

func NewRedisLedger(rdb *redis.Client, ttl time.Duration) *RedisLedger {
	return &RedisLedger{rdb: rdb, ttl: ttl}
}

// WithRecorder attaches a durable store that receives every committed
// redemption. Without it, committed usage is visible only to this ledger's
// counters and never to rules loaded from the database.
func (l *RedisLedger) WithRecorder(r RedemptionRecorder) *RedisLedger {
	l.recorder = r
	return l
}

func globalKey(ruleID string) string { return keyPrefix + "rule:" + ruleID + ":global" }

func customerKey(ruleID, customerID string) string {
	return keyPrefix + "rule:" + ruleID + ":cust:" + customerID
}

func couponKey(code string) string { return keyPrefix + "coupon:" + code }

func tokenKey(token string) string { return keyPrefix + "resv:" + token }

func pendingKey() string { return keyPrefix + "pending" }

func limitArg(limit *int) int {
	if limit == nil {
		return -1
	}
	return *limit
}

func (l *RedisLedger) Reserve(ctx context.Context, rule promo.Rule, customerID, couponCode string) (Reservation, error) {
	token := uuid.NewString()
	expiresAt := time.Now().Add(l.ttl)
	ruleID := rule.ID.String()

	keys := []string{
		globalKey(ruleID),
		customerKey(ruleID, customerID),
		tokenKey(token),
		pendingKey(),
		couponKey(couponCode),
	}
	args := []any{
		limitArg(rule.UsageLimitGlobal),
		limitArg(rule.UsageLimitPerCustomer),
		expiresAt.Unix(),
		ruleID,
		customerID,
		couponCode,
		token,
	}

	ok, err := reserveScript.Run(ctx, l.rdb, keys, args...).Int()
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve rule %s: %w", ruleID, err)
	}
	if ok == 0 {
		return Reservation{}, ErrConflict
	}
	return Reservation{
		Token:      token,
		RuleID:     ruleID,
		CustomerID: customerID,
		CouponCode: couponCode,
		ExpiresAt:  expiresAt,
	}, nil
}

func (l *RedisLedger) Commit(ctx context.Context, token string) error {
	res, err := commitScript.Run(ctx, l.rdb, []string{tokenKey(token), pendingKey()}, token).Result()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("commit reservation: %w", err)
	}
	if l.recorder == nil {
		return nil
	}

	fields, ok := res.([]interface{})
	if !ok || len(fields) < 3 {
		return fmt.Errorf("commit reservation: unexpected reply %T", res)
	}
	ruleID, err := uuid.Parse(stringField(fields[0]))
	if err != nil {
		return fmt.Errorf("commit reservation: parse rule id: %w", err)
	}
	red := Redemption{
		RuleID:     ruleID,
		CustomerID: stringField(fields[1]),
		CouponCode: stringField(fields[2]),
	}
	if err := l.recorder.RecordRedemption(ctx, red); err != nil {
		return fmt.Errorf("record redemption: %w", err)
	}
	return nil
}

func stringField(v interface{}) string {
	s, _ := v.(string)
	return s
}

func (l *RedisLedger) Release(ctx context.Context, token string) error {
	ok, err := releaseScript.Run(ctx, l.rdb, []string{tokenKey(token), pendingKey()}, token, keyPrefix).Int()
	if err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	if ok == 0 {
		return ErrNotFound
	}
	return nil
}

func (l *RedisLedger) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	tokens, err := l.rdb.ZRangeByScore(ctx, pendingKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan pending reservations: %w", err)
	}

	released := 0
	for _, token := range tokens {
		if err := l.Release(ctx, token); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return released, err
		}
		released++
	}
	return released, nil
}

// GlobalUsage reports the current reserved-plus-committed count for a rule.
func (l *RedisLedger) GlobalUsage(ctx context.Context, ruleID string) (int, error) {
	n, err := l.rdb.Get(ctx, globalKey(ruleID)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read rule usage: %w", err)
	}
	return n, nil
}
