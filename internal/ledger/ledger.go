// Package ledger records consumption of limited-use discount rules. A
// reservation is a provisional, time-bounded claim on a rule's remaining
// capacity: acquired at checkout, made permanent on commit, rolled back on
// release, and auto-released by the sweep once its deadline passes.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/promo-core/internal/promo"
)

var (
	// ErrConflict means the rule has no remaining capacity for this
	// reservation. Checkout flows surface it as "offer no longer available".
	ErrConflict = errors.New("ledger: reservation conflict")
	// ErrNotFound means the token does not reference a pending reservation.
	ErrNotFound = errors.New("ledger: reservation not found")
)

// Reservation is a provisional claim handed back by Reserve.
type Reservation struct {
	Token      string
	RuleID     string
	CustomerID string
	CouponCode string
	ExpiresAt  time.Time
}

// Redemption is the durable record of a committed reservation.
type Redemption struct {
	RuleID     uuid.UUID
	CustomerID string
	CouponCode string
}

// RedemptionRecorder persists committed redemptions for ledgers that keep
// their counters outside the database. Eligibility reads current_usage and
// rule_redemptions, so every commit has to land there no matter which
// backend took the reservation.
type RedemptionRecorder interface {
	RecordRedemption(ctx context.Context, r Redemption) error
}

// Ledger is the at-most-once usage consumption contract. Reserve must never
// allow the global counter past its limit, even under concurrent callers.
type Ledger interface {
	Reserve(ctx context.Context, rule promo.Rule, customerID, couponCode string) (Reservation, error)
	Commit(ctx context.Context, token string) error
	Release(ctx context.Context, token string) error
	// ReleaseExpired rolls back pending reservations whose deadline passed
	// and reports how many were released.
	ReleaseExpired(ctx context.Context, now time.Time) (int, error)
}
