// Package textsim provides the token normalisation and similarity helpers
// shared by workflow detection and the suggestion sources.
package textsim

import (
	"strings"
	"unicode"
)

// Tokenize lower-cases text and splits it on non-alphanumeric boundaries.
// Order and duplicates are preserved.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// TokenSet returns the distinct tokens of text.
func TokenSet(text string) map[string]struct{} {
	tokens := Tokenize(text)
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return set
}

// Similarity returns the Jaccard similarity of the token sets of a and b.
// Empty input on either side yields 0.
func Similarity(a, b string) float64 {
	setA := TokenSet(a)
	setB := TokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}

	intersection := SharedTokens(setA, setB)
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

// SharedTokens counts the tokens present in both sets.
func SharedTokens(a, b map[string]struct{}) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			n++
		}
	}
	return n
}

// IndexPhrase returns the token offset of the first whole-word occurrence of
// phrase in tokens, or -1. Matching is case-insensitive because both sides go
// through Tokenize.
func IndexPhrase(tokens []string, phrase string) int {
	want := Tokenize(phrase)
	if len(want) == 0 || len(want) > len(tokens) {
		return -1
	}
	for i := 0; i+len(want) <= len(tokens); i++ {
		if tokens[i] != want[0] {
			continue
		}
		match := true
		for j := 1; j < len(want); j++ {
			if tokens[i+j] != want[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// ContainsPhrase reports whether phrase occurs in tokens as whole words.
func ContainsPhrase(tokens []string, phrase string) bool {
	return IndexPhrase(tokens, phrase) >= 0
}

// Shorten limits s to max runes, cutting at the last whitespace when one
// exists and marking the cut with "...". The result never exceeds max runes.
func Shorten(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return strings.Repeat(".", max)
	}
	cut := max - 3
	for i := cut; i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace) + "..."
}
