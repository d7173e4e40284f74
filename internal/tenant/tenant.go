// Package tenant carries the store identifier through request contexts.
// Every rule, coupon and reservation belongs to exactly one store; handlers
// resolve the store once at the edge and everything below reads it from
// context.
package tenant

import (
	"context"
	"strings"
)

type contextKey string

const storeContextKey contextKey = "store.id"

// With stores the store identifier inside the context.
func With(ctx context.Context, storeID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, storeContextKey, storeID)
}

// From extracts the store identifier from the context if available.
func From(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	storeID, ok := ctx.Value(storeContextKey).(string)
	if !ok {
		return "", false
	}
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return "", false
	}
	return storeID, true
}

// PrefixKey namespaces a cache or queue key per store.
func PrefixKey(storeID, key string) string {
	if storeID == "" {
		return key
	}
	return storeID + ":" + key
}
