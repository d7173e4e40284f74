package checkout

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/noah-isme/promo-core/internal/common"
	"github.com/noah-isme/promo-core/internal/ledger"
	"github.com/noah-isme/promo-core/internal/tenant"
)

type Handler struct {
	Svc       *Service
	Validator *validator.Validate
}

type reserveRequest struct {
	CustomerID string   `json:"customer_id" validate:"required"`
	RuleIDs    []string `json:"rule_ids" validate:"required,min=1,dive,uuid"`
	CouponCode string   `json:"coupon_code"`
}

type reservationOut struct {
	Token     string    `json:"token"`
	RuleID    string    `json:"rule_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type settleRequest struct {
	Tokens []string `json:"tokens" validate:"required,min=1,dive,required"`
}

// Reserve claims usage capacity for the rules applied at checkout.
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	storeID, ok := tenant.From(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "STORE_REQUIRED", "store is required", nil)
		return
	}

	var req reserveRequest
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

	ruleIDs := make([]uuid.UUID, 0, len(req.RuleIDs))
	for _, raw := range req.RuleIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid rule id", nil)
			return
		}
		ruleIDs = append(ruleIDs, id)
	}

	customerID := req.CustomerID
	if id, ok := common.CustomerID(r.Context()); ok {
		customerID = id
	}

	reservations, err := h.Svc.Reserve(r.Context(), storeID, ReserveInput{
		CustomerID: customerID,
		RuleIDs:    ruleIDs,
		CouponCode: req.CouponCode,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]reservationOut, 0, len(reservations))
	for _, resv := range reservations {
		out = append(out, reservationOut{
			Token:     resv.Token,
			RuleID:    resv.RuleID,
			ExpiresAt: resv.ExpiresAt,
		})
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": out})
}

// Commit settles reservations after order confirmation.
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, h.svcCommit)
}

// Release rolls reservations back after cancellation.
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, h.svcRelease)
}

func (h *Handler) svcCommit(r *http.Request, tokens []string) error {
	return h.Svc.Commit(r.Context(), tokens)
}

func (h *Handler) svcRelease(r *http.Request, tokens []string) error {
	return h.Svc.Release(r.Context(), tokens)
}

func (h *Handler) settle(w http.ResponseWriter, r *http.Request, op func(*http.Request, []string) error) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	var req settleRequest
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
	if err := op(r, req.Tokens); err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]string{"status": "ok"}})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusBadRequest
		}
		common.JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	if errors.Is(err, ledger.ErrConflict) {
		common.JSONError(w, http.StatusConflict, "OFFER_EXHAUSTED", "offer no longer available", nil)
		return
	}
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout failed", nil)
}
