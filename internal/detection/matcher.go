package detection

import (
	"fmt"
	"math"
	"strings"

	"github.com/PadsterH2012/archon-plus-sub002/internal/textsim"
)

// Matcher scores task text against the keyword patterns of a catalog.
type Matcher struct {
	catalog *Catalog
}

// NewMatcher creates a matcher over catalog. A nil catalog selects the
// built-in default.
func NewMatcher(catalog *Catalog) *Matcher {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Matcher{catalog: catalog}
}

// Match returns one keyword_pattern suggestion per pattern with at least one
// whole-word keyword hit, in catalog order.
func (m *Matcher) Match(text string) []Suggestion {
	tokens := textsim.Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	var out []Suggestion
	for _, p := range m.catalog.patterns {
		var matched []string
		for _, kw := range p.Keywords {
			if textsim.ContainsPhrase(tokens, kw) {
				matched = append(matched, kw)
			}
		}
		if len(matched) == 0 {
			continue
		}

		out = append(out, Suggestion{
			Type:            SuggestionKeywordPattern,
			ID:              p.Name,
			Title:           p.Name,
			Category:        p.Category,
			Score:           float64(len(matched)),
			Confidence:      patternConfidence(p, len(matched)),
			MatchedKeywords: matched,
			Reason:          fmt.Sprintf("Matched %d keywords: %s", len(matched), strings.Join(matched, ", ")),
		})
	}
	return out
}

// patternConfidence is weight × min(1, raw / s) where s is the pattern's
// saturation capped by its keyword count.
func patternConfidence(p KeywordPattern, raw int) float64 {
	s := p.Saturation
	if n := len(p.Keywords); n < s {
		s = n
	}
	if s <= 0 || raw <= 0 {
		return 0
	}
	return p.Weight * math.Min(1.0, float64(raw)/float64(s))
}
