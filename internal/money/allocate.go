package money

import (
	"math/big"
	"sort"
)

// Allocate splits total minor units across recipients proportionally to their
// weights using largest-remainder distribution, so the shares always sum to
// total exactly. Each share is additionally capped at the corresponding caps
// entry; total must not exceed the sum of caps. Ties on remainders resolve to
// the lower index, keeping the split deterministic.
func Allocate(total int64, weights, caps []int64) []int64 {
	n := len(weights)
	shares := make([]int64, n)
	if total <= 0 || n == 0 {
		return shares
	}

	var weightSum int64
	for _, w := range weights {
		if w > 0 {
			weightSum += w
		}
	}
	if weightSum == 0 {
		return shares
	}

	// Integer proportional floor using big.Int to avoid overflow on
	// total*weight for large carts.
	remainders := make([]*big.Int, n)
	bigTotal := big.NewInt(total)
	bigSum := big.NewInt(weightSum)
	var assigned int64
	for i, w := range weights {
		remainders[i] = big.NewInt(0)
		if w <= 0 {
			continue
		}
		num := new(big.Int).Mul(bigTotal, big.NewInt(w))
		quo, rem := new(big.Int).QuoRem(num, bigSum, new(big.Int))
		share := quo.Int64()
		if i < len(caps) && share > caps[i] {
			share = caps[i]
		}
		shares[i] = share
		remainders[i] = rem
		assigned += share
	}

	leftover := total - assigned
	if leftover <= 0 {
		return shares
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return remainders[order[a]].Cmp(remainders[order[b]]) > 0
	})

	// Hand out leftover minor units one at a time; repeated passes cover the
	// case where caps on some recipients push more than one extra unit onto
	// others.
	for leftover > 0 {
		progressed := false
		for _, idx := range order {
			if leftover == 0 {
				break
			}
			if weights[idx] <= 0 {
				continue
			}
			if idx < len(caps) && shares[idx] >= caps[idx] {
				continue
			}
			shares[idx]++
			leftover--
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return shares
}
