// Package checkout turns a priced cart into reservations against the usage
// ledger and settles them when the order confirms or falls through.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/promo-core/internal/catalog"
	"github.com/noah-isme/promo-core/internal/common"
	"github.com/noah-isme/promo-core/internal/events"
	"github.com/noah-isme/promo-core/internal/ledger"
	"github.com/noah-isme/promo-core/internal/obs"
	"github.com/noah-isme/promo-core/internal/promo"
)

// RuleSource loads fresh rule snapshots for reservation.
type RuleSource interface {
	GetRule(ctx context.Context, storeID string, id uuid.UUID) (promo.Rule, error)
}

// Service coordinates the reserve/commit/release lifecycle. Pricing stays
// read-only; this is the only place usage is consumed.
type Service struct {
	Catalog RuleSource
	Ledger  ledger.Ledger
	Bus     *events.Bus
	Logger  zerolog.Logger
}

// ReserveInput names the rules an order wants to redeem.
type ReserveInput struct {
	CustomerID string
	RuleIDs    []uuid.UUID
	CouponCode string
}

// Reserve claims capacity for every requested rule. All-or-nothing: when any
// rule is exhausted the claims already taken are rolled back and the caller
// gets ErrConflict for the whole batch.
func (s *Service) Reserve(ctx context.Context, storeID string, in ReserveInput) ([]ledger.Reservation, error) {
	if s == nil || s.Catalog == nil || s.Ledger == nil {
		return nil, errors.New("checkout: service not configured")
	}
	if len(in.RuleIDs) == 0 {
		return nil, common.NewAppError("NO_RULES", "no rules to reserve", http.StatusBadRequest, nil)
	}

	reservations := make([]ledger.Reservation, 0, len(in.RuleIDs))
	for _, ruleID := range in.RuleIDs {
		rule, err := s.Catalog.GetRule(ctx, storeID, ruleID)
		if err != nil {
			s.rollback(ctx, reservations)
			if errors.Is(err, catalog.ErrRuleNotFound) {
				return nil, common.NewAppError("RULE_NOT_FOUND", "rule not found", http.StatusNotFound, err)
			}
			return nil, fmt.Errorf("load rule %s: %w", ruleID, err)
		}

		resv, err := s.Ledger.Reserve(ctx, rule, in.CustomerID, in.CouponCode)
		if err != nil {
			s.rollback(ctx, reservations)
			if errors.Is(err, ledger.ErrConflict) {
				obs.ObserveReservation("reserve", "conflict")
				return nil, common.NewAppError("OFFER_EXHAUSTED", "offer no longer available", http.StatusConflict, err)
			}
			obs.ObserveReservation("reserve", "error")
			return nil, err
		}
		obs.ObserveReservation("reserve", "ok")
		reservations = append(reservations, resv)
		s.emit(ctx, events.TopicReservationCreated, ruleID, resv)
	}
	return reservations, nil
}

// Commit makes reserved usage permanent after order confirmation.
func (s *Service) Commit(ctx context.Context, tokens []string) error {
	for _, token := range tokens {
		if err := s.Ledger.Commit(ctx, token); err != nil {
			obs.ObserveReservation("commit", "error")
			if errors.Is(err, ledger.ErrNotFound) {
				return common.NewAppError("RESERVATION_NOT_FOUND", "reservation not found or already settled", http.StatusNotFound, err)
			}
			return err
		}
		obs.ObserveReservation("commit", "ok")
		s.emit(ctx, events.TopicReservationCommitted, uuid.Nil, map[string]string{"token": token})
	}
	return nil
}

// Release rolls reserved usage back after cancellation or payment failure.
func (s *Service) Release(ctx context.Context, tokens []string) error {
	for _, token := range tokens {
		if err := s.Ledger.Release(ctx, token); err != nil {
			obs.ObserveReservation("release", "error")
			if errors.Is(err, ledger.ErrNotFound) {
				return common.NewAppError("RESERVATION_NOT_FOUND", "reservation not found or already settled", http.StatusNotFound, err)
			}
			return err
		}
		obs.ObserveReservation("release", "ok")
		s.emit(ctx, events.TopicReservationReleased, uuid.Nil, map[string]string{"token": token})
	}
	return nil
}

// SweepExpired releases reservations whose deadline passed. The worker calls
// this on a schedule under a distributed lock.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	released, err := s.Ledger.ReleaseExpired(ctx, now)
	if err != nil {
		return released, err
	}
	if released > 0 {
		obs.ObserveReservationsSwept(released)
		s.Logger.Info().Int("released", released).Msg("expired reservations released")
	}
	return released, nil
}

func (s *Service) rollback(ctx context.Context, reservations []ledger.Reservation) {
	for _, resv := range reservations {
		if err := s.Ledger.Release(ctx, resv.Token); err != nil && !errors.Is(err, ledger.ErrNotFound) {
			s.Logger.Error().Err(err).Str("token", resv.Token).Msg("reservation rollback failed")
		}
	}
}

func (s *Service) emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) {
	if s.Bus == nil {
		return
	}
	if aggregateID == uuid.Nil {
		aggregateID = uuid.New()
	}
	if _, err := s.Bus.Emit(ctx, topic, aggregateID, payload); err != nil {
		s.Logger.Warn().Err(err).Str("topic", topic).Msg("event emit failed")
	}
}
