package promo

import (
	"bytes"
	"sort"
)

// Resolve orders the eligible rules and picks the winning subset.
//
// Rules are sorted by priority descending with ties broken by rule id
// ascending, a reproducible ordering independent of input order. The sorted
// list is then walked with a lock: an exclusive (non-combinable) rule is
// accepted only when nothing was accepted before it, and once accepted it
// blocks everything after it. Combinable rules accumulate until an exclusive
// rule locks the set.
//
// Combinability is a property of the rule, not derived from scope overlap:
// an exclusive rule locks the cart even against rules targeting disjoint
// lines.
func Resolve(rules []Rule) []Rule {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(a, b int) bool {
		if sorted[a].Priority != sorted[b].Priority {
			return sorted[a].Priority > sorted[b].Priority
		}
		return bytes.Compare(sorted[a].ID[:], sorted[b].ID[:]) < 0
	})

	var accepted []Rule
	locked := false
	for _, r := range sorted {
		if locked {
			continue
		}
		if !r.Combinable {
			if len(accepted) == 0 {
				accepted = append(accepted, r)
				locked = true
			}
			continue
		}
		accepted = append(accepted, r)
	}
	return accepted
}
