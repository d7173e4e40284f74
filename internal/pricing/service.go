package pricing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/promo-core/internal/events"
	"github.com/noah-isme/promo-core/internal/fx"
	"github.com/noah-isme/promo-core/internal/obs"
	"github.com/noah-isme/promo-core/internal/promo"
)

// ErrCouponNotFound is returned by catalog implementations when a presented
// code resolves to nothing. Unknown codes are skipped, not fatal.
var ErrCouponNotFound = errors.New("pricing: coupon code not found")

// CatalogStore is the catalog collaborator contract. Rule and coupon
// lifecycle belongs to the catalog; the engine only reads snapshots for the
// duration of one pass.
type CatalogStore interface {
	ListApplicableRules(ctx context.Context, storeID string, productIDs, categoryIDs []uuid.UUID, asOf time.Time) ([]promo.Rule, error)
	ResolveCouponCode(ctx context.Context, storeID, code string) (promo.Coupon, error)
	CountCustomerRedemptions(ctx context.Context, storeID, customerID string, ruleIDs []uuid.UUID) (map[uuid.UUID]int, error)
}

// RateSource is the exchange-rate collaborator contract.
type RateSource interface {
	GetRates(ctx context.Context, asOf time.Time) (fx.RateTable, error)
}

// Engine wires the pure pipeline to its collaborators.
type Engine struct {
	Catalog CatalogStore
	Rates   RateSource
	Bus     *events.Bus
	Logger  zerolog.Logger
	Now     func() time.Time
}

// pricingCompleted is the payload persisted for every successful pass.
type pricingCompleted struct {
	StoreID        string   `json:"store_id"`
	CustomerID     string   `json:"customer_id,omitempty"`
	Currency       string   `json:"currency"`
	Subtotal       string   `json:"subtotal"`
	TotalDiscount  string   `json:"total_discount"`
	GrandTotal     string   `json:"grand_total"`
	AppliedRuleIDs []string `json:"applied_rule_ids,omitempty"`
}

// Price executes one pricing pass: it loads candidate rules, resolves
// presented coupon codes, loads the customer's redemption history and rates,
// then runs Compute. It never consumes usage; the ledger is invoked by the
// checkout flow after order confirmation, not here.
func (e *Engine) Price(ctx context.Context, cart Cart, pctx Context) (Result, error) {
	if e == nil || e.Catalog == nil || e.Rates == nil {
		return Result{}, errors.New("pricing: engine not configured")
	}
	if pctx.AsOf.IsZero() {
		pctx.AsOf = e.now()
	}

	productIDs, categoryIDs := cartIDs(cart)
	rules, err := e.Catalog.ListApplicableRules(ctx, pctx.StoreID, productIDs, categoryIDs, pctx.AsOf)
	if err != nil {
		obs.ObservePricingPass("error", 0)
		return Result{}, err
	}

	coupons := make([]promo.Coupon, 0, len(pctx.CouponCodes))
	for _, code := range pctx.CouponCodes {
		c, err := e.Catalog.ResolveCouponCode(ctx, pctx.StoreID, code)
		if err != nil {
			if errors.Is(err, ErrCouponNotFound) {
				e.Logger.Debug().Str("code", code).Msg("coupon code not found")
				continue
			}
			obs.ObservePricingPass("error", 0)
			return Result{}, err
		}
		coupons = append(coupons, c)
	}

	if err := e.loadCustomerUsage(ctx, pctx, rules); err != nil {
		obs.ObservePricingPass("error", 0)
		return Result{}, err
	}

	rates, err := e.Rates.GetRates(ctx, pctx.AsOf)
	if err != nil {
		obs.ObservePricingPass("error", 0)
		return Result{}, err
	}

	start := time.Now()
	res, err := Compute(cart, rules, coupons, rates, pctx)
	if err != nil {
		obs.ObservePricingPass("error", time.Since(start))
		return Result{}, err
	}
	obs.ObservePricingPass("ok", time.Since(start))
	e.emitCompleted(ctx, pctx, res)

	e.Logger.Info().
		Str("store_id", pctx.StoreID).
		Str("customer_id", pctx.CustomerID).
		Int("rules_considered", len(rules)).
		Int("rules_applied", len(res.AppliedRuleIDs)).
		Str("grand_total", res.GrandTotal.String()).
		Msg("pricing_pass")
	return res, nil
}

// emitCompleted records the pass for downstream consumers. Emission is
// best-effort: a bus failure never fails the pass that already priced.
func (e *Engine) emitCompleted(ctx context.Context, pctx Context, res Result) {
	if e.Bus == nil {
		return
	}
	applied := make([]string, 0, len(res.AppliedRuleIDs))
	for _, id := range res.AppliedRuleIDs {
		applied = append(applied, id.String())
	}
	payload := pricingCompleted{
		StoreID:        pctx.StoreID,
		CustomerID:     pctx.CustomerID,
		Currency:       pctx.Target.String(),
		Subtotal:       res.Subtotal.String(),
		TotalDiscount:  res.TotalDiscount.String(),
		GrandTotal:     res.GrandTotal.String(),
		AppliedRuleIDs: applied,
	}
	if _, err := e.Bus.Emit(ctx, events.TopicPricingCompleted, uuid.New(), payload); err != nil {
		e.Logger.Warn().Err(err).Msg("event emit failed")
	}
}

// loadCustomerUsage fills UsedByCustomer for rules carrying a per-customer
// limit, keeping evaluation itself free of I/O.
func (e *Engine) loadCustomerUsage(ctx context.Context, pctx Context, rules []promo.Rule) error {
	if pctx.CustomerID == "" {
		return nil
	}
	var limited []uuid.UUID
	for _, r := range rules {
		if r.UsageLimitPerCustomer != nil {
			limited = append(limited, r.ID)
		}
	}
	if len(limited) == 0 {
		return nil
	}
	counts, err := e.Catalog.CountCustomerRedemptions(ctx, pctx.StoreID, pctx.CustomerID, limited)
	if err != nil {
		return err
	}
	for i := range rules {
		if n, ok := counts[rules[i].ID]; ok {
			rules[i].UsedByCustomer = n
		}
	}
	return nil
}

func (e *Engine) now() time.Time {
	if e != nil && e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func cartIDs(cart Cart) (products, categories []uuid.UUID) {
	seenP := make(map[uuid.UUID]struct{}, len(cart.Lines))
	seenC := make(map[uuid.UUID]struct{}, len(cart.Lines))
	for _, l := range cart.Lines {
		if _, ok := seenP[l.ProductID]; !ok && l.ProductID != uuid.Nil {
			seenP[l.ProductID] = struct{}{}
			products = append(products, l.ProductID)
		}
		if _, ok := seenC[l.CategoryID]; !ok && l.CategoryID != uuid.Nil {
			seenC[l.CategoryID] = struct{}{}
			categories = append(categories, l.CategoryID)
		}
	}
	return products, categories
}
