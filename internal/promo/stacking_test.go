package promo_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/promo-core/internal/promo"
)

func rule(priority int, combinable bool) promo.Rule {
	return promo.Rule{ID: uuid.New(), Priority: priority, Combinable: combinable}
}

func ids(rules []promo.Rule) []uuid.UUID {
	out := make([]uuid.UUID, len(rules))
	for i, r := range rules {
		out[i] = r.ID
	}
	return out
}

func TestResolveCombinablesStack(t *testing.T) {
	a := rule(10, true)
	b := rule(5, true)
	got := promo.Resolve([]promo.Rule{b, a})
	require.Equal(t, []uuid.UUID{a.ID, b.ID}, ids(got))
}

func TestResolveExclusiveLocksOut(t *testing.T) {
	exclusive := rule(20, false)
	combinable := rule(10, true)
	got := promo.Resolve([]promo.Rule{combinable, exclusive})
	require.Equal(t, []uuid.UUID{exclusive.ID}, ids(got))
}

func TestResolveExclusiveNeverJoins(t *testing.T) {
	combinable := rule(20, true)
	exclusive := rule(10, false)
	trailing := rule(5, true)
	got := promo.Resolve([]promo.Rule{exclusive, combinable, trailing})
	// The combinable rule wins first; the exclusive rule cannot join an
	// existing set and does not lock it either, so later combinables stack.
	require.Equal(t, []uuid.UUID{combinable.ID, trailing.ID}, ids(got))
}

func TestResolveExclusiveBlocksEverythingAfter(t *testing.T) {
	exclusive := rule(30, false)
	second := rule(20, false)
	third := rule(10, true)
	got := promo.Resolve([]promo.Rule{third, second, exclusive})
	require.Equal(t, []uuid.UUID{exclusive.ID}, ids(got))
}

func TestResolveTieBreakByID(t *testing.T) {
	a := promo.Rule{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), Priority: 10, Combinable: true}
	b := promo.Rule{ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), Priority: 10, Combinable: true}
	got := promo.Resolve([]promo.Rule{b, a})
	require.Equal(t, []uuid.UUID{a.ID, b.ID}, ids(got))

	// Same result regardless of input order.
	got = promo.Resolve([]promo.Rule{a, b})
	require.Equal(t, []uuid.UUID{a.ID, b.ID}, ids(got))
}

func TestResolveEmpty(t *testing.T) {
	require.Empty(t, promo.Resolve(nil))
}
