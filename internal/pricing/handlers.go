package pricing

import (
	"encoding/json"
	"errors"
	"net/http"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/noah-isme/promo-core/internal/common"
	"github.com/noah-isme/promo-core/internal/fx"
	"github.com/noah-isme/promo-core/internal/money"
	"github.com/noah-isme/promo-core/internal/tenant"
)

// Handler exposes the pricing preview endpoint.
type Handler struct {
	Engine    *Engine
	Validator *validator.Validate
}

type previewLine struct {
	LineID     string `json:"line_id" validate:"required"`
	ProductID  string `json:"product_id" validate:"required,uuid"`
	CategoryID string `json:"category_id" validate:"omitempty,uuid"`
	UnitPrice  string `json:"unit_price" validate:"required"`
	Currency   string `json:"currency" validate:"required,len=3"`
	Quantity   int    `json:"quantity" validate:"required,gt=0"`
}

type previewRequest struct {
	Currency    string        `json:"currency" validate:"required,len=3"`
	CustomerID  string        `json:"customer_id"`
	CouponCodes []string      `json:"coupon_codes" validate:"max=10"`
	Lines       []previewLine `json:"lines" validate:"required,min=1,dive"`
}

type reductionOut struct {
	RuleID string `json:"rule_id"`
	Amount string `json:"amount"`
}

type pricedLineOut struct {
	LineID        string         `json:"line_id"`
	OriginalTotal string         `json:"original_total"`
	Reductions    []reductionOut `json:"reductions"`
}

type skippedOut struct {
	RuleID string `json:"rule_id"`
	Reason string `json:"reason"`
}

type previewResponse struct {
	Currency       string          `json:"currency"`
	Lines          []pricedLineOut `json:"lines"`
	Subtotal       string          `json:"subtotal"`
	TotalDiscount  string          `json:"total_discount"`
	GrandTotal     string          `json:"grand_total"`
	AppliedRuleIDs []string        `json:"applied_rule_ids"`
	Skipped        []skippedOut    `json:"skipped,omitempty"`
}

// Preview prices a cart without consuming any usage.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	if h.Engine == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "pricing engine not configured", nil)
		return
	}
	storeID, ok := tenant.From(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "STORE_REQUIRED", "store is required", nil)
		return
	}

	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if h.Validator != nil {
		if err := h.Validator.Struct(req); err != nil {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid payload", err.Error())
			return
		}
	}

	target, err := currency.ParseISO(req.Currency)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_CURRENCY", "unknown currency code", nil)
		return
	}

	cart, err := cartFromRequest(req)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}

	customerID := req.CustomerID
	if id, ok := common.CustomerID(r.Context()); ok {
		customerID = id
	}

	result, err := h.Engine.Price(r.Context(), cart, Context{
		StoreID:     storeID,
		CustomerID:  customerID,
		CouponCodes: req.CouponCodes,
		Target:      target,
	})
	if err != nil {
		writePricingError(w, err)
		return
	}

	common.JSON(w, http.StatusOK, map[string]any{"data": responseFromResult(target, result)})
}

func writePricingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrEmptyCart), errors.Is(err, ErrInvalidQuantity):
		common.JSONError(w, http.StatusBadRequest, "BAD_CART", err.Error(), nil)
	case errors.Is(err, fx.ErrMissingRate):
		common.JSONError(w, http.StatusUnprocessableEntity, "RATE_UNAVAILABLE", "unable to calculate price, try again", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "pricing failed", nil)
	}
}

func cartFromRequest(req previewRequest) (Cart, error) {
	lines := make([]Line, 0, len(req.Lines))
	for _, in := range req.Lines {
		productID, err := uuid.Parse(in.ProductID)
		if err != nil {
			return Cart{}, errors.New("invalid product id")
		}
		var categoryID uuid.UUID
		if in.CategoryID != "" {
			if categoryID, err = uuid.Parse(in.CategoryID); err != nil {
				return Cart{}, errors.New("invalid category id")
			}
		}
		unit, err := currency.ParseISO(in.Currency)
		if err != nil {
			return Cart{}, errors.New("unknown line currency")
		}
		price, err := decimal.NewFromString(in.UnitPrice)
		if err != nil || price.IsNegative() {
			return Cart{}, errors.New("invalid unit price")
		}
		lines = append(lines, Line{
			LineID:     in.LineID,
			ProductID:  productID,
			CategoryID: categoryID,
			UnitPrice:  money.New(price, unit),
			Quantity:   in.Quantity,
		})
	}
	return Cart{Lines: lines}, nil
}

func responseFromResult(target currency.Unit, result Result) previewResponse {
	out := previewResponse{
		Currency:       target.String(),
		Lines:          make([]pricedLineOut, 0, len(result.Lines)),
		Subtotal:       result.Subtotal.Amount.String(),
		TotalDiscount:  result.TotalDiscount.Amount.String(),
		GrandTotal:     result.GrandTotal.Amount.String(),
		AppliedRuleIDs: make([]string, 0, len(result.AppliedRuleIDs)),
	}
	for _, line := range result.Lines {
		lo := pricedLineOut{
			LineID:        line.LineID,
			OriginalTotal: line.OriginalTotal.Amount.String(),
			Reductions:    make([]reductionOut, 0, len(line.Reductions)),
		}
		for _, red := range line.Reductions {
			lo.Reductions = append(lo.Reductions, reductionOut{
				RuleID: red.RuleID.String(),
				Amount: red.Amount.Amount.String(),
			})
		}
		out.Lines = append(out.Lines, lo)
	}
	for _, id := range result.AppliedRuleIDs {
		out.AppliedRuleIDs = append(out.AppliedRuleIDs, id.String())
	}
	for _, sk := range result.Skipped {
		out.Skipped = append(out.Skipped, skippedOut{RuleID: sk.RuleID.String(), Reason: string(sk.Reason)})
	}
	return out
}
