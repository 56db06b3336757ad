package catalog

import (
	"sort"
	"strings"
)

// Select matches the catalog against the request text and returns the
// role-capped, deterministically ordered adapter selection.
//
// Matching is a case-insensitive substring test of each adapter's keywords
// over the prompt and negative prompt combined, so a character named only in
// the negative text still pulls in its adapter. Permanent adapters are
// candidates regardless of keywords. Within each role candidates are ordered
// permanent-first, then by ascending rank (catalog order breaks ties) and
// truncated to the role's quota. The final list is permanent adapters first,
// then the remaining candidates grouped by role priority, rank ascending.
// Output never contains the same id twice.
//
// Pure function of catalog + inputs; safe for concurrent use.
func (c *Catalog) Select(text, negative string, quotas map[Role]int) []StyleAdapter {
	lowered := strings.ToLower(text) + " " + strings.ToLower(negative)

	byRole := make(map[Role][]StyleAdapter)
	for _, a := range c.adapters {
		if a.Permanent || matchesKeyword(a, lowered) {
			byRole[a.Role] = append(byRole[a.Role], a)
		}
	}

	capped := make(map[Role][]StyleAdapter, len(byRole))
	for role, candidates := range byRole {
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].Permanent != candidates[j].Permanent {
				return candidates[i].Permanent
			}
			if candidates[i].Rank != candidates[j].Rank {
				return candidates[i].Rank < candidates[j].Rank
			}
			return candidates[i].pos < candidates[j].pos
		})
		if quota, ok := roleQuota(role, quotas); ok && len(candidates) > quota {
			candidates = candidates[:quota]
		}
		capped[role] = candidates
	}

	var out []StyleAdapter
	seen := make(map[string]struct{})
	appendUnique := func(a StyleAdapter) {
		if _, dup := seen[a.ID]; dup {
			return
		}
		seen[a.ID] = struct{}{}
		out = append(out, a)
	}

	var permanents []StyleAdapter
	for _, role := range rolePriority {
		for _, a := range capped[role] {
			if a.Permanent {
				permanents = append(permanents, a)
			}
		}
	}
	sort.SliceStable(permanents, func(i, j int) bool {
		if permanents[i].Rank != permanents[j].Rank {
			return permanents[i].Rank < permanents[j].Rank
		}
		return permanents[i].pos < permanents[j].pos
	})
	for _, a := range permanents {
		appendUnique(a)
	}

	for _, role := range rolePriority {
		for _, a := range capped[role] {
			if !a.Permanent {
				appendUnique(a)
			}
		}
	}
	return out
}

func matchesKeyword(a StyleAdapter, loweredText string) bool {
	for _, kw := range a.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(loweredText, kw) {
			return true
		}
	}
	return false
}

func roleQuota(role Role, quotas map[Role]int) (int, bool) {
	if q, ok := quotas[role]; ok {
		return q, true
	}
	if q, ok := quotas[RoleMisc]; ok {
		return q, true
	}
	return 0, false
}

// PruneToLimit trims an already role-capped selection down to a provider's
// hard adapter cap, keeping the lowest-rank entries system-wide and
// preserving their relative order. Pruning an already-fitting list returns it
// unchanged, so the operation is idempotent.
func PruneToLimit(list []StyleAdapter, max int) []StyleAdapter {
	if max <= 0 || len(list) <= max {
		return list
	}

	type indexed struct {
		adapter StyleAdapter
		idx     int
	}
	ranked := make([]indexed, len(list))
	for i, a := range list {
		ranked[i] = indexed{adapter: a, idx: i}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].adapter.Rank != ranked[j].adapter.Rank {
			return ranked[i].adapter.Rank < ranked[j].adapter.Rank
		}
		return ranked[i].idx < ranked[j].idx
	})

	keep := make(map[int]struct{}, max)
	for _, entry := range ranked[:max] {
		keep[entry.idx] = struct{}{}
	}

	out := make([]StyleAdapter, 0, max)
	for i, a := range list {
		if _, ok := keep[i]; ok {
			out = append(out, a)
		}
	}
	return out
}

// FilterInlineSpecs drops adapters whose source reference is an inline
// name:id@version model spec. Backends without native spec resolution would
// reject or misinterpret them.
func FilterInlineSpecs(list []StyleAdapter) []StyleAdapter {
	out := make([]StyleAdapter, 0, len(list))
	for _, a := range list {
		if a.InlineSpec() {
			continue
		}
		out = append(out, a)
	}
	return out
}

// IDs returns the adapter ids in selection order, mostly for logging and for
// the summarizer's required-names rule.
func IDs(list []StyleAdapter) []string {
	ids := make([]string, 0, len(list))
	for _, a := range list {
		ids = append(ids, a.ID)
	}
	return ids
}
