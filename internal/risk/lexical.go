// Package risk implements the per-query PII risk classifier: fast lexical
// rules combined with NLP named-entity and census-surname checks.
package risk

import (
	"strings"

	"github.com/suggest-data/sanitizer-cli/internal/model"
	"github.com/suggest-data/sanitizer-cli/internal/reference"
)

// asciiPunctuation matches Python's string.punctuation, which the original
// tokenizer stripped from every word before the surname lookup.
const asciiPunctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// ClassifyLexical applies the deterministic lexical risk rules in priority
// order: any ASCII digit flags the query, then "@". Pure and total; callers
// substitute the sentinel for missing text before calling.
func ClassifyLexical(text string) model.RiskReason {
	if strings.ContainsAny(text, "0123456789") {
		return model.ReasonNumeral
	}
	if strings.Contains(text, "@") {
		return model.ReasonAtSymbol
	}
	return model.ReasonNone
}

// ContainsCensusSurname reports whether any whitespace-delimited token of
// text, lowercased and with all punctuation removed, appears in the surname
// set. Matches whole tokens only: a surname embedded in a longer word does
// not count. Returns on the first hit, so a query increments the surname
// counter at most once no matter how many names it contains.
func ContainsCensusSurname(text string, surnames reference.Set) bool {
	if len(surnames) == 0 {
		return false
	}
	for _, raw := range strings.Fields(text) {
		word := stripPunctuation(strings.ToLower(raw))
		if word == "" {
			continue
		}
		if surnames.Contains(word) {
			return true
		}
	}
	return false
}

// stripPunctuation removes every ASCII punctuation character, internal ones
// included ("o'brien" becomes "obrien", matching the reference tokenizer).
func stripPunctuation(word string) string {
	if !strings.ContainsAny(word, asciiPunctuation) {
		return word
	}
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(asciiPunctuation, r) {
			return -1
		}
		return r
	}, word)
}
