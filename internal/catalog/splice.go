package catalog

import (
	"regexp"
	"strings"
)

var phraseSplit = regexp.MustCompile(`[,.]`)

// SplicePrompt builds the effective prompt and negative prompt for a
// selection: adapter prepend fragments, then the base text, then append
// fragments. Negative fragments (catalog default first) are joined with
// commas. Both outputs are phrase-deduplicated.
func (c *Catalog) SplicePrompt(base, negative string, selected []StyleAdapter) (string, string) {
	var prepend, appendParts []string
	negativeParts := []string{c.defaultNegative, negative}

	for _, a := range selected {
		if text := strings.TrimSpace(a.PrependText); text != "" {
			prepend = append(prepend, text)
		}
		if text := strings.TrimSpace(a.AppendText); text != "" {
			appendParts = append(appendParts, text)
		}
		if text := strings.TrimSpace(a.NegativeText); text != "" {
			negativeParts = append(negativeParts, text)
		}
	}

	parts := make([]string, 0, len(prepend)+1+len(appendParts))
	parts = append(parts, prepend...)
	if base = strings.TrimSpace(base); base != "" {
		parts = append(parts, base)
	}
	parts = append(parts, appendParts...)

	prompt := deduplicatePhrases(strings.Join(parts, " "))
	neg := deduplicatePhrases(joinNonEmpty(negativeParts, ", "))
	return prompt, neg
}

// deduplicatePhrases removes repeated comma/period-separated phrases,
// case-insensitively, keeping the first occurrence.
func deduplicatePhrases(text string) string {
	parts := phraseSplit.Split(text, -1)
	seen := make(map[string]struct{}, len(parts))
	deduped := make([]string, 0, len(parts))
	for _, part := range parts {
		clean := strings.ToLower(strings.TrimSpace(part))
		if clean == "" {
			continue
		}
		if _, dup := seen[clean]; dup {
			continue
		}
		seen[clean] = struct{}{}
		deduped = append(deduped, strings.TrimSpace(part))
	}
	return strings.Join(deduped, ", ")
}

func joinNonEmpty(parts []string, sep string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, strings.TrimSpace(p))
		}
	}
	return strings.Join(kept, sep)
}
