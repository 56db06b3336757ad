package prompt

import (
	"strings"
	"unicode"
)

// Clean normalizes raw prompt text for the wire: drops characters outside
// printable Latin ranges (emoji and control characters confuse several
// backends), collapses runs of whitespace and trims the result.
func Clean(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == '\n' || r == '\t':
			b.WriteRune(' ')
		case r < 32:
			// skip control characters
		case r <= unicode.MaxLatin1 || unicode.IsLetter(r) && unicode.In(r, unicode.Latin):
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// TruncateWords caps text at max words, leaving shorter text untouched.
func TruncateWords(text string, max int) string {
	if max <= 0 {
		return text
	}
	words := strings.Fields(text)
	if len(words) <= max {
		return text
	}
	return strings.Join(words[:max], " ")
}
