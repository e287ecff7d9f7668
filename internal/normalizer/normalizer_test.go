package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_StripsArticlesAndSuffixes(t *testing.T) {
	assert.Equal(t, "acme", Normalize("The Acme Co."))
	assert.Equal(t, "acme widgets", Normalize("ACME Widgets, LLC"))
}

func TestNormalize_StripsInteriorStopTokens(t *testing.T) {
	assert.Equal(t, "acme holdings", Normalize("Acme LLC Holdings"))
	assert.Equal(t, "jack in box", Normalize("Jack in the Box"))
	assert.Equal(t, "acme", Normalize("the the acme"))
}

func TestNormalize_CollapsesWhitespaceAndPunctuation(t *testing.T) {
	assert.Equal(t, "j p morgan", Normalize("  J.P.   Morgan  "))
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"The Acme Co.",
		"J.P. Morgan & Co.",
		"john smith",
		"",
		// Doubled leading article and interior suffix are the cases a
		// position-based strip gets wrong.
		"the the acme",
		"Acme LLC Holdings",
		"The Inc",
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		assert.Equal(t, once, twice, "Normalize should be idempotent for %q", in)
	}
}

func TestNormalize_AllStopTokensKeptRatherThanEmpty(t *testing.T) {
	// A bare suffix with nothing else shouldn't be stripped to empty.
	assert.Equal(t, "inc", Normalize("Inc"))
	assert.Equal(t, "the inc", Normalize("The Inc"))
}

func TestNormalize_Empty(t *testing.T) {
	assert.Equal(t, "", Normalize(""))
	assert.Equal(t, "", Normalize("   "))
}
