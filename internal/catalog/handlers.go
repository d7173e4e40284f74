package catalog

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/promo-core/internal/common"
	"github.com/noah-isme/promo-core/internal/events"
	"github.com/noah-isme/promo-core/internal/tenant"
)

// Handler exposes the cache administration surface. Rule writes happen in the
// admin backend; it calls this endpoint after changing a store's rules so the
// next preview reads fresh ones.
type Handler struct {
	Store  *Store
	Bus    *events.Bus
	Logger zerolog.Logger
}

// Invalidate drops the store's cached rule list.
func (h *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	storeID, ok := tenant.From(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "STORE_REQUIRED", "store could not be resolved", nil)
		return
	}
	if err := h.Store.InvalidateRules(r.Context(), storeID); err != nil {
		h.Logger.Error().Err(err).Str("store_id", storeID).Msg("rule cache invalidation failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not invalidate rule cache", nil)
		return
	}
	if h.Bus != nil {
		payload := map[string]string{"store_id": storeID}
		if _, err := h.Bus.Emit(r.Context(), events.TopicRulesInvalidated, uuid.New(), payload); err != nil {
			h.Logger.Warn().Err(err).Str("topic", events.TopicRulesInvalidated).Msg("event emit failed")
		}
	}
	common.JSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}
