package promo

import "github.com/google/uuid"

// Matches reports whether the rule's scope applies to the line. A rule either
// fully applies to a line or not at all; unknown scopes fail closed.
func Matches(r Rule, line Line) bool {
	switch r.Scope {
	case ScopeStoreWide:
		return true
	case ScopeProducts:
		return containsID(r.ProductIDs, line.ProductID)
	case ScopeCategories:
		return containsID(r.CategoryIDs, line.CategoryID)
	default:
		return false
	}
}

// MatchingLines filters the cart lines the rule applies to, preserving order.
func MatchingLines(r Rule, lines []Line) []Line {
	var out []Line
	for _, line := range lines {
		if Matches(r, line) {
			out = append(out, line)
		}
	}
	return out
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
