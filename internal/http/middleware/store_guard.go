package middleware

import (
	"net/http"

	"github.com/noah-isme/promo-core/internal/tenant"
)

// RequireStore ensures a store identifier exists in the request context.
func RequireStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := tenant.From(r.Context()); !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":"STORE_REQUIRED","message":"store is required"}}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
