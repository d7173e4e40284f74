// Package promo holds the discount rule model and the decision components
// that determine whether and how rules apply to a cart: scope matching,
// eligibility evaluation, stacking resolution and reduction calculation.
package promo

import (
	"errors"
	"fmt"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/noah-isme/promo-core/internal/money"
)

// ErrRuleDataInvalid is returned for rules that violate the strict shape
// (percentage outside (0,100], non-positive fixed amount, missing currency).
// Malformed rules are rejected, never sanitized.
var ErrRuleDataInvalid = errors.New("promo: rule data invalid")

// Scope describes which cart lines a rule may affect.
type Scope string

const (
	// ScopeStoreWide matches every line in the cart.
	ScopeStoreWide Scope = "store_wide"
	// ScopeProducts matches lines whose product id is in the rule's set.
	ScopeProducts Scope = "products"
	// ScopeCategories matches lines whose category id is in the rule's set.
	ScopeCategories Scope = "categories"
)

// ValueType distinguishes percentage from fixed-amount rules.
type ValueType string

const (
	ValuePercentage  ValueType = "percentage"
	ValueFixedAmount ValueType = "fixed_amount"
)

// Rule is the validated snapshot of a discount rule for one pricing pass.
// Usage counters are loaded by the catalog collaborator before evaluation so
// that evaluation itself stays pure.
type Rule struct {
	ID          uuid.UUID `validate:"required"`
	Scope       Scope
	ProductIDs  []uuid.UUID
	CategoryIDs []uuid.UUID

	ValueType ValueType
	Value     decimal.Decimal
	// Currency is required for fixed-amount rules; it names the currency the
	// flat value is denominated in.
	Currency currency.Unit

	Priority   int
	Combinable bool

	Active  bool
	StartAt time.Time
	EndAt   *time.Time

	MinPurchase *money.Money
	MinQuantity *int
	MaxDiscount *money.Money

	UsageLimitGlobal      *int
	UsageLimitPerCustomer *int
	UsedGlobal            int
	UsedByCustomer        int

	RequiresCoupon bool
}

// Coupon is a presented coupon code resolved against the catalog.
type Coupon struct {
	Code             string
	RuleID           uuid.UUID
	Active           bool
	UsageCount       int
	PerCustomerLimit *int
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(ruleStructLevel, Rule{})
	return v
}

func ruleStructLevel(sl validator.StructLevel) {
	r := sl.Current().Interface().(Rule)
	hundred := decimal.NewFromInt(100)
	switch r.ValueType {
	case ValuePercentage:
		if !r.Value.IsPositive() || r.Value.GreaterThan(hundred) {
			sl.ReportError(r.Value, "Value", "Value", "percentage_range", "")
		}
	case ValueFixedAmount:
		if !r.Value.IsPositive() {
			sl.ReportError(r.Value, "Value", "Value", "fixed_positive", "")
		}
		if r.Currency == (currency.Unit{}) {
			sl.ReportError(r.Currency, "Currency", "Currency", "fixed_currency", "")
		}
	default:
		sl.ReportError(r.ValueType, "ValueType", "ValueType", "value_type", "")
	}
	if r.MinQuantity != nil && *r.MinQuantity < 0 {
		sl.ReportError(r.MinQuantity, "MinQuantity", "MinQuantity", "min_quantity", "")
	}
	if r.MaxDiscount != nil && r.MaxDiscount.IsNegative() {
		sl.ReportError(r.MaxDiscount, "MaxDiscount", "MaxDiscount", "max_discount", "")
	}
}

// Validate checks the rule against the strict shape required by the pricing
// core. It wraps ErrRuleDataInvalid so callers can match with errors.Is.
func (r Rule) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrRuleDataInvalid, err)
	}
	return nil
}

// Line is the promo-side view of a cart line: amounts already expressed in
// the pricing pass's target currency.
type Line struct {
	LineID     string
	ProductID  uuid.UUID
	CategoryID uuid.UUID
	Subtotal   decimal.Decimal
	Quantity   int
}
