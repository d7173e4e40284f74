package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/promo-core/internal/catalog"
	"github.com/noah-isme/promo-core/internal/ledger"
	"github.com/noah-isme/promo-core/internal/obs"
	"github.com/noah-isme/promo-core/internal/promo"
)

type fakeRuleSource struct {
	rules map[uuid.UUID]promo.Rule
}

func (f *fakeRuleSource) GetRule(_ context.Context, _ string, id uuid.UUID) (promo.Rule, error) {
	rule, ok := f.rules[id]
	if !ok {
		return promo.Rule{}, catalog.ErrRuleNotFound
	}
	return rule, nil
}

type fakeLedger struct {
	conflictOn map[uuid.UUID]bool
	failOn     map[uuid.UUID]error
	reserved   []string
	released   []string
	committed  []string
}

func (f *fakeLedger) Reserve(_ context.Context, rule promo.Rule, customerID, couponCode string) (ledger.Reservation, error) {
	if err := f.failOn[rule.ID]; err != nil {
		return ledger.Reservation{}, err
	}
	if f.conflictOn[rule.ID] {
		return ledger.Reservation{}, ledger.ErrConflict
	}
	token := uuid.NewString()
	f.reserved = append(f.reserved, token)
	return ledger.Reservation{
		Token:      token,
		RuleID:     rule.ID.String(),
		CustomerID: customerID,
		CouponCode: couponCode,
		ExpiresAt:  time.Now().Add(time.Minute),
	}, nil
}

func (f *fakeLedger) Commit(_ context.Context, token string) error {
	f.committed = append(f.committed, token)
	return nil
}

func (f *fakeLedger) Release(_ context.Context, token string) error {
	f.released = append(f.released, token)
	return nil
}

func (f *fakeLedger) ReleaseExpired(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

func newTestService(rules map[uuid.UUID]promo.Rule, ldg *fakeLedger) *Service {
	return &Service{
		Catalog: &fakeRuleSource{rules: rules},
		Ledger:  ldg,
		Logger:  zerolog.Nop(),
	}
}

func TestReserveAllRules(t *testing.T) {
	r1 := promo.Rule{ID: uuid.New()}
	r2 := promo.Rule{ID: uuid.New()}
	ldg := &fakeLedger{}
	svc := newTestService(map[uuid.UUID]promo.Rule{r1.ID: r1, r2.ID: r2}, ldg)

	reservations, err := svc.Reserve(context.Background(), "store-1", ReserveInput{
		CustomerID: "cust-1",
		RuleIDs:    []uuid.UUID{r1.ID, r2.ID},
	})
	require.NoError(t, err)
	require.Len(t, reservations, 2)
	require.Empty(t, ldg.released)
}

func TestReserveRollsBackOnConflict(t *testing.T) {
	r1 := promo.Rule{ID: uuid.New()}
	r2 := promo.Rule{ID: uuid.New()}
	ldg := &fakeLedger{conflictOn: map[uuid.UUID]bool{r2.ID: true}}
	svc := newTestService(map[uuid.UUID]promo.Rule{r1.ID: r1, r2.ID: r2}, ldg)

	_, err := svc.Reserve(context.Background(), "store-1", ReserveInput{
		CustomerID: "cust-1",
		RuleIDs:    []uuid.UUID{r1.ID, r2.ID},
	})
	require.Error(t, err)

	// the claim taken for r1 must be rolled back
	require.Len(t, ldg.reserved, 1)
	require.Equal(t, ldg.reserved, ldg.released)
}

func TestReserveUnknownRule(t *testing.T) {
	ldg := &fakeLedger{}
	svc := newTestService(map[uuid.UUID]promo.Rule{}, ldg)

	_, err := svc.Reserve(context.Background(), "store-1", ReserveInput{
		CustomerID: "cust-1",
		RuleIDs:    []uuid.UUID{uuid.New()},
	})
	require.Error(t, err)
	require.Empty(t, ldg.reserved)
}

func TestReserveCountsConflictsAndErrorsApart(t *testing.T) {
	obs.MustRegisterDomainMetrics("checkout_test", prometheus.NewRegistry())
	conflictBase := testutil.ToFloat64(obs.ReservationTotal.WithLabelValues("reserve", "conflict"))
	errorBase := testutil.ToFloat64(obs.ReservationTotal.WithLabelValues("reserve", "error"))

	exhausted := promo.Rule{ID: uuid.New()}
	broken := promo.Rule{ID: uuid.New()}
	rules := map[uuid.UUID]promo.Rule{exhausted.ID: exhausted, broken.ID: broken}

	svc := newTestService(rules, &fakeLedger{conflictOn: map[uuid.UUID]bool{exhausted.ID: true}})
	_, err := svc.Reserve(context.Background(), "store-1", ReserveInput{
		CustomerID: "cust-1",
		RuleIDs:    []uuid.UUID{exhausted.ID},
	})
	require.Error(t, err)

	svc = newTestService(rules, &fakeLedger{failOn: map[uuid.UUID]error{broken.ID: errors.New("connection refused")}})
	_, err = svc.Reserve(context.Background(), "store-1", ReserveInput{
		CustomerID: "cust-1",
		RuleIDs:    []uuid.UUID{broken.ID},
	})
	require.Error(t, err)

	conflicts := testutil.ToFloat64(obs.ReservationTotal.WithLabelValues("reserve", "conflict")) - conflictBase
	infraErrors := testutil.ToFloat64(obs.ReservationTotal.WithLabelValues("reserve", "error")) - errorBase
	require.Equal(t, 1.0, conflicts, "exhausted capacity counts as conflict")
	require.Equal(t, 1.0, infraErrors, "ledger failures must not count as conflicts")
}

func TestCommitAndRelease(t *testing.T) {
	ldg := &fakeLedger{}
	svc := newTestService(nil, ldg)

	require.NoError(t, svc.Commit(context.Background(), []string{"a", "b"}))
	require.Equal(t, []string{"a", "b"}, ldg.committed)

	require.NoError(t, svc.Release(context.Background(), []string{"c"}))
	require.Equal(t, []string{"c"}, ldg.released)
}
