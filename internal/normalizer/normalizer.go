// Package normalizer implements the pure name-normalization function used
// ahead of classification, exclusion matching, and supplier lookup. No
// collaborators, no state; same input always yields the same output.
package normalizer

import (
	"strings"
	"unicode"
)

// stopTokens are removed wherever they appear in the name once casefolded:
// corporate suffixes and articles. Membership is checked per token, so
// interior occurrences ("Acme LLC Holdings", "Jack in the Box") are
// stripped the same as leading or trailing ones.
var stopTokens = map[string]bool{
	"inc": true, "incorporated": true,
	"llc": true, "l.l.c": true,
	"ltd": true, "limited": true,
	"corp": true, "corporation": true,
	"co": true, "company": true,
	"lp": true, "llp": true,
	"pllc": true, "pc": true,
	"plc": true,
	"the": true, "a": true, "an": true,
}

// Normalize reduces raw to the canonical form used for matching: casefold,
// strip punctuation, drop every stop token, collapse whitespace, and
// re-trim. A name consisting entirely of stop tokens keeps them rather
// than reducing to nothing. Idempotent: the output contains no removable
// token, so Normalize(Normalize(s)) == Normalize(s).
func Normalize(raw string) string {
	folded := strings.ToLower(strings.TrimSpace(raw))
	stripped := stripPunctuation(folded)
	tokens := strings.Fields(stripped)

	kept := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !stopTokens[t] {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		kept = tokens
	}
	return strings.Join(kept, " ")
}

func stripPunctuation(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsSpace(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return b.String()
}
