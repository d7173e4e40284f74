// Package cache centralizes the redis key layout so the api and worker
// processes never disagree about where a value lives.
package cache

// KeyRules returns the per-store cache key for the active rule list.
func KeyRules(storeID string) string {
	return "promo:rules:" + storeID
}

// KeyRates returns the cache key for the latest exchange-rate table.
func KeyRates() string {
	return "promo:rates:latest"
}

// KeyLedger returns the key prefix for ledger counters and reservations.
func KeyLedger() string {
	return "promo:ledger:"
}

// KeyIdem returns the key prefix for idempotency locks on reservation writes.
func KeyIdem() string {
	return "promo:idem:"
}
