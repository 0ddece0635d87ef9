package detection

import (
	"fmt"

	"github.com/PadsterH2012/archon-plus-sub002/internal/textsim"
)

// Thresholds splits confidence into binding tiers.
type Thresholds struct {
	AutoExecute float64 `mapstructure:"auto_execute" json:"auto_execute"`
	Preview     float64 `mapstructure:"preview" json:"preview"`
}

// DefaultThresholds returns the standard 0.8 / 0.5 tier boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{AutoExecute: 0.8, Preview: 0.5}
}

// Recommender converts ranked suggestions into binding recommendations.
type Recommender struct {
	thresholds Thresholds
}

// NewRecommender creates a recommender. Invalid thresholds (out of range or
// preview above auto-execute) fall back to the defaults.
func NewRecommender(t Thresholds) *Recommender {
	if t.Preview <= 0 || t.AutoExecute > 1 || t.Preview > t.AutoExecute {
		t = DefaultThresholds()
	}
	return &Recommender{thresholds: t}
}

// Recommend returns one recommendation per suggestion, in input order.
func (r *Recommender) Recommend(title, description string, suggestions []Suggestion) []BindingRecommendation {
	out := make([]BindingRecommendation, 0, len(suggestions))
	task := textsim.Shorten(title, 80)
	if task == "" {
		task = textsim.Shorten(description, 80)
	}

	for _, s := range suggestions {
		bindingType, action := r.tier(s.Confidence)
		notes := []string{
			fmt.Sprintf("%s '%s' scored %.2f with confidence %.2f", s.Type, s.ID, s.Score, s.Confidence),
		}
		if s.Reason != "" {
			notes = append(notes, "Reason: "+s.Reason)
		}

		switch bindingType {
		case BindingAutoExecute:
			notes = append(notes, fmt.Sprintf("Confidence is at or above %.2f: bind and execute automatically", r.thresholds.AutoExecute))
		case BindingSuggestWithPreview:
			notes = append(notes, fmt.Sprintf("Confidence is between %.2f and %.2f: show a preview before binding", r.thresholds.Preview, r.thresholds.AutoExecute))
		default:
			notes = append(notes, fmt.Sprintf("Confidence is below %.2f: requires manual review before binding", r.thresholds.Preview))
		}
		if task != "" {
			notes = append(notes, fmt.Sprintf("Task: %s", task))
		}

		out = append(out, BindingRecommendation{
			Suggestion:        s,
			BindingType:       bindingType,
			RecommendedAction: action,
			ExecutionNotes:    notes,
		})
	}
	return out
}

func (r *Recommender) tier(confidence float64) (BindingType, string) {
	switch {
	case confidence >= r.thresholds.AutoExecute:
		return BindingAutoExecute, ActionAutoBindAndExecute
	case confidence >= r.thresholds.Preview:
		return BindingSuggestWithPreview, ActionShowPreviewAndSuggest
	default:
		return BindingManualReview, ActionSuggestForManualReview
	}
}
