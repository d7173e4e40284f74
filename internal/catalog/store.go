// Package catalog loads discount rules and coupon codes for the pricing
// engine. Every query is scoped to one store; rules coming off the database
// are validated at the boundary and dropped with a warning when malformed.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	keys "github.com/noah-isme/promo-core/internal/cache"
	"github.com/noah-isme/promo-core/internal/money"
	"github.com/noah-isme/promo-core/internal/pricing"
	"github.com/noah-isme/promo-core/internal/promo"
)

// ErrRuleNotFound is returned when a rule id does not exist in the store.
var ErrRuleNotFound = errors.New("catalog: rule not found")

// Store reads rules, coupons and redemption history from postgres, with an
// optional redis cache in front of the per-store rule list.
type Store struct {
	pool   *pgxpool.Pool
	cache  *Cache
	logger zerolog.Logger
}

func NewStore(pool *pgxpool.Pool, cache *Cache, logger zerolog.Logger) *Store {
	return &Store{pool: pool, cache: cache, logger: logger}
}

const ruleColumns = `
	id, scope, product_ids, category_ids,
	value_type, value::text, currency,
	priority, combinable, active, start_at, end_at,
	min_purchase_amount::text, min_purchase_currency,
	min_quantity,
	max_discount_amount::text, max_discount_currency,
	usage_limit_global, usage_limit_per_customer, current_usage,
	requires_coupon`

// ListApplicableRules returns the store's active rules whose scope could
// touch the given products or categories. The engine re-checks scope per
// line; this is only a coarse prefilter over the cached store rule set.
func (s *Store) ListApplicableRules(ctx context.Context, storeID string, productIDs, categoryIDs []uuid.UUID, asOf time.Time) ([]promo.Rule, error) {
	rules, err := s.listStoreRules(ctx, storeID)
	if err != nil {
		return nil, err
	}

	out := make([]promo.Rule, 0, len(rules))
	for _, r := range rules {
		if r.Scope == promo.ScopeStoreWide ||
			(r.Scope == promo.ScopeProducts && intersects(r.ProductIDs, productIDs)) ||
			(r.Scope == promo.ScopeCategories && intersects(r.CategoryIDs, categoryIDs)) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) listStoreRules(ctx context.Context, storeID string) ([]promo.Rule, error) {
	key := rulesCacheKey(storeID)
	var docs []ruleDoc
	if hit, err := s.cache.GetJSON(ctx, key, &docs); err != nil {
		s.logger.Warn().Err(err).Str("store_id", storeID).Msg("rule cache read failed")
	} else if hit {
		return s.decodeRules(storeID, docs)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT`+ruleColumns+`
		FROM discount_rules
		WHERE store_id = $1 AND active`,
		storeID)
	if err != nil {
		return nil, fmt.Errorf("list store rules: %w", err)
	}
	docs, err = pgx.CollectRows(rows, scanRuleDoc)
	if err != nil {
		return nil, fmt.Errorf("scan store rules: %w", err)
	}

	if err := s.cache.SetJSON(ctx, key, docs); err != nil {
		s.logger.Warn().Err(err).Str("store_id", storeID).Msg("rule cache write failed")
	}
	return s.decodeRules(storeID, docs)
}

// GetRule loads one rule by id, bypassing the cache. Checkout uses it to get
// fresh usage counters right before reserving.
func (s *Store) GetRule(ctx context.Context, storeID string, id uuid.UUID) (promo.Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+ruleColumns+`
		FROM discount_rules
		WHERE store_id = $1 AND id = $2`,
		storeID, id)
	if err != nil {
		return promo.Rule{}, fmt.Errorf("get rule: %w", err)
	}
	doc, err := pgx.CollectOneRow(rows, scanRuleDoc)
	if errors.Is(err, pgx.ErrNoRows) {
		return promo.Rule{}, ErrRuleNotFound
	}
	if err != nil {
		return promo.Rule{}, fmt.Errorf("scan rule: %w", err)
	}
	rule, err := doc.toRule()
	if err != nil {
		return promo.Rule{}, err
	}
	if err := rule.Validate(); err != nil {
		return promo.Rule{}, err
	}
	return rule, nil
}

// ResolveCouponCode looks up a presented code within the store.
func (s *Store) ResolveCouponCode(ctx context.Context, storeID, code string) (promo.Coupon, error) {
	var c promo.Coupon
	err := s.pool.QueryRow(ctx, `
		SELECT code, rule_id, active, usage_count, per_customer_limit
		FROM coupon_codes
		WHERE store_id = $1 AND code = $2`,
		storeID, code).Scan(&c.Code, &c.RuleID, &c.Active, &c.UsageCount, &c.PerCustomerLimit)
	if errors.Is(err, pgx.ErrNoRows) {
		return promo.Coupon{}, pricing.ErrCouponNotFound
	}
	if err != nil {
		return promo.Coupon{}, fmt.Errorf("resolve coupon %q: %w", code, err)
	}
	return c, nil
}

// CountCustomerRedemptions returns committed redemption counts per rule for
// one customer. Rules without redemptions are absent from the map.
func (s *Store) CountCustomerRedemptions(ctx context.Context, storeID, customerID string, ruleIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	if len(ruleIDs) == 0 {
		return map[uuid.UUID]int{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT rd.rule_id, COUNT(*)
		FROM rule_redemptions rd
		JOIN discount_rules r ON r.id = rd.rule_id
		WHERE r.store_id = $1 AND rd.customer_id = $2 AND rd.rule_id = ANY($3)
		GROUP BY rd.rule_id`,
		storeID, customerID, ruleIDs)
	if err != nil {
		return nil, fmt.Errorf("count redemptions: %w", err)
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan redemption count: %w", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read redemption counts: %w", err)
	}
	return counts, nil
}

// InvalidateRules drops the cached rule list for a store after rule changes.
func (s *Store) InvalidateRules(ctx context.Context, storeID string) error {
	return s.cache.Delete(ctx, rulesCacheKey(storeID))
}

func (s *Store) decodeRules(storeID string, docs []ruleDoc) ([]promo.Rule, error) {
	rules := make([]promo.Rule, 0, len(docs))
	for _, doc := range docs {
		rule, err := doc.toRule()
		if err == nil {
			err = rule.Validate()
		}
		if err != nil {
			s.logger.Warn().Err(err).
				Str("store_id", storeID).
				Str("rule_id", doc.ID.String()).
				Msg("dropping malformed rule")
			continue
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func intersects(a, b []uuid.UUID) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// ruleDoc is the storage and cache representation of a rule. Currencies are
// plain ISO codes here; they become currency.Unit at the boundary.
type ruleDoc struct {
	ID          uuid.UUID   `json:"id"`
	Scope       string      `json:"scope"`
	ProductIDs  []uuid.UUID `json:"product_ids,omitempty"`
	CategoryIDs []uuid.UUID `json:"category_ids,omitempty"`

	ValueType string          `json:"value_type"`
	Value     decimal.Decimal `json:"value"`
	Currency  *string         `json:"currency,omitempty"`

	Priority   int  `json:"priority"`
	Combinable bool `json:"combinable"`

	Active  bool       `json:"active"`
	StartAt time.Time  `json:"start_at"`
	EndAt   *time.Time `json:"end_at,omitempty"`

	MinPurchaseAmount   *decimal.Decimal `json:"min_purchase_amount,omitempty"`
	MinPurchaseCurrency *string          `json:"min_purchase_currency,omitempty"`
	MinQuantity         *int             `json:"min_quantity,omitempty"`
	MaxDiscountAmount   *decimal.Decimal `json:"max_discount_amount,omitempty"`
	MaxDiscountCurrency *string          `json:"max_discount_currency,omitempty"`

	UsageLimitGlobal      *int `json:"usage_limit_global,omitempty"`
	UsageLimitPerCustomer *int `json:"usage_limit_per_customer,omitempty"`
	CurrentUsage          int  `json:"current_usage"`

	RequiresCoupon bool `json:"requires_coupon"`
}

func scanRuleDoc(row pgx.CollectableRow) (ruleDoc, error) {
	var d ruleDoc
	var value *string
	var minAmt, maxAmt *string
	err := row.Scan(
		&d.ID, &d.Scope, &d.ProductIDs, &d.CategoryIDs,
		&d.ValueType, &value, &d.Currency,
		&d.Priority, &d.Combinable, &d.Active, &d.StartAt, &d.EndAt,
		&minAmt, &d.MinPurchaseCurrency,
		&d.MinQuantity,
		&maxAmt, &d.MaxDiscountCurrency,
		&d.UsageLimitGlobal, &d.UsageLimitPerCustomer, &d.CurrentUsage,
		&d.RequiresCoupon,
	)
	if err != nil {
		return ruleDoc{}, err
	}
	if value != nil {
		if d.Value, err = decimal.NewFromString(*value); err != nil {
			return ruleDoc{}, fmt.Errorf("rule %s value: %w", d.ID, err)
		}
	}
	if d.MinPurchaseAmount, err = parseOptDecimal(minAmt); err != nil {
		return ruleDoc{}, fmt.Errorf("rule %s min purchase: %w", d.ID, err)
	}
	if d.MaxDiscountAmount, err = parseOptDecimal(maxAmt); err != nil {
		return ruleDoc{}, fmt.Errorf("rule %s max discount: %w", d.ID, err)
	}
	return d, nil
}

func parseOptDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (d ruleDoc) toRule() (promo.Rule, error) {
	r := promo.Rule{
		ID:          d.ID,
		Scope:       promo.Scope(d.Scope),
		ProductIDs:  d.ProductIDs,
		CategoryIDs: d.CategoryIDs,

		ValueType: promo.ValueType(d.ValueType),
		Value:     d.Value,

		Priority:   d.Priority,
		Combinable: d.Combinable,

		Active:  d.Active,
		StartAt: d.StartAt,
		EndAt:   d.EndAt,

		MinQuantity: d.MinQuantity,

		UsageLimitGlobal:      d.UsageLimitGlobal,
		UsageLimitPerCustomer: d.UsageLimitPerCustomer,
		UsedGlobal:            d.CurrentUsage,

		RequiresCoupon: d.RequiresCoupon,
	}

	if d.Currency != nil {
		unit, err := currency.ParseISO(*d.Currency)
		if err != nil {
			return promo.Rule{}, fmt.Errorf("%w: currency %q: %v", promo.ErrRuleDataInvalid, *d.Currency, err)
		}
		r.Currency = unit
	}

	var err error
	if r.MinPurchase, err = optMoney(d.MinPurchaseAmount, d.MinPurchaseCurrency); err != nil {
		return promo.Rule{}, fmt.Errorf("%w: min purchase: %v", promo.ErrRuleDataInvalid, err)
	}
	if r.MaxDiscount, err = optMoney(d.MaxDiscountAmount, d.MaxDiscountCurrency); err != nil {
		return promo.Rule{}, fmt.Errorf("%w: max discount: %v", promo.ErrRuleDataInvalid, err)
	}
	return r, nil
}

func optMoney(amount *decimal.Decimal, code *string) (*money.Money, error) {
	if amount == nil {
		return nil, nil
	}
	if code == nil {
		return nil, errors.New("amount without currency")
	}
	unit, err := currency.ParseISO(*code)
	if err != nil {
		return nil, err
	}
	m := money.New(*amount, unit)
	return &m, nil
}

func rulesCacheKey(storeID string) string {
	return keys.KeyRules(storeID)
}
