package detection

import (
	"math"
	"sort"
)

// Rank merges suggestion lists, keeps the highest-scoring entry per
// (type, id) and orders the survivors by score, descending. Ties keep
// discovery order: earlier lists first, then position within a list.
func Rank(lists ...[]Suggestion) []Suggestion {
	best := make(map[string]int)
	var merged []Suggestion

	for _, list := range lists {
		for _, s := range list {
			s = clampSuggestion(s)
			key := s.Key()
			if idx, ok := best[key]; ok {
				if s.Score > merged[idx].Score {
					merged[idx] = s
				}
				continue
			}
			best[key] = len(merged)
			merged = append(merged, s)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if merged == nil {
		merged = []Suggestion{}
	}
	return merged
}

// CountByType tallies suggestions per type.
func CountByType(suggestions []Suggestion) map[SuggestionType]int {
	counts := make(map[SuggestionType]int, 3)
	for _, s := range suggestions {
		counts[s.Type]++
	}
	return counts
}

// clampSuggestion enforces the score/confidence bounds on values that came
// from external sources. NaN becomes 0 and an infinite score is capped so the
// result still encodes as JSON.
func clampSuggestion(s Suggestion) Suggestion {
	switch {
	case math.IsNaN(s.Score) || s.Score < 0:
		s.Score = 0
	case math.IsInf(s.Score, 1):
		s.Score = math.MaxFloat64
	}
	switch {
	case math.IsNaN(s.Confidence) || s.Confidence < 0:
		s.Confidence = 0
	case s.Confidence > 1:
		s.Confidence = 1
	}
	return s
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
