package detection

import (
	"encoding/json"
	"fmt"
)

// SuggestionType discriminates where a workflow suggestion came from.
type SuggestionType string

const (
	SuggestionKeywordPattern   SuggestionType = "keyword_pattern"
	SuggestionMCPWorkflow      SuggestionType = "mcp_workflow"
	SuggestionExistingWorkflow SuggestionType = "existing_workflow"
)

// IdentityField names the JSON key that carries a suggestion's identity.
func (t SuggestionType) IdentityField() string {
	switch t {
	case SuggestionKeywordPattern:
		return "pattern_name"
	case SuggestionMCPWorkflow:
		return "workflow_name"
	case SuggestionExistingWorkflow:
		return "workflow_id"
	default:
		return "id"
	}
}

// Valid reports whether t is one of the known suggestion types.
func (t SuggestionType) Valid() bool {
	switch t {
	case SuggestionKeywordPattern, SuggestionMCPWorkflow, SuggestionExistingWorkflow:
		return true
	}
	return false
}

// Suggestion is a single candidate workflow for a task. ID holds the
// variant-specific identity: the pattern name, the MCP workflow name or the
// stored workflow id.
type Suggestion struct {
	Type            SuggestionType
	ID              string
	Title           string
	Category        string
	Description     string
	Score           float64
	Confidence      float64
	MatchedKeywords []string
	Reason          string
}

// Key identifies a suggestion for deduplication.
func (s Suggestion) Key() string {
	return string(s.Type) + "\x00" + s.ID
}

// MarshalJSON renders the identity under its variant-specific key.
func (s Suggestion) MarshalJSON() ([]byte, error) {
	matched := s.MatchedKeywords
	if matched == nil {
		matched = []string{}
	}
	out := map[string]any{
		"type":              s.Type,
		"score":             s.Score,
		"confidence":        s.Confidence,
		"matched_keywords":  matched,
		"suggestion_reason": s.Reason,
	}
	out[s.Type.IdentityField()] = s.ID
	if s.Title != "" {
		out["title"] = s.Title
	}
	if s.Category != "" {
		out["category"] = s.Category
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the shape produced by MarshalJSON. It is used when
// suggestions are read back from a cache.
func (s *Suggestion) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type            SuggestionType `json:"type"`
		PatternName     string         `json:"pattern_name"`
		WorkflowName    string         `json:"workflow_name"`
		WorkflowID      string         `json:"workflow_id"`
		Title           string         `json:"title"`
		Category        string         `json:"category"`
		Description     string         `json:"description"`
		Score           float64        `json:"score"`
		Confidence      float64        `json:"confidence"`
		MatchedKeywords []string       `json:"matched_keywords"`
		Reason          string         `json:"suggestion_reason"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !raw.Type.Valid() {
		return fmt.Errorf("unknown suggestion type %q", raw.Type)
	}

	*s = Suggestion{
		Type:            raw.Type,
		Title:           raw.Title,
		Category:        raw.Category,
		Description:     raw.Description,
		Score:           raw.Score,
		Confidence:      raw.Confidence,
		MatchedKeywords: raw.MatchedKeywords,
		Reason:          raw.Reason,
	}
	switch raw.Type {
	case SuggestionKeywordPattern:
		s.ID = raw.PatternName
	case SuggestionMCPWorkflow:
		s.ID = raw.WorkflowName
	case SuggestionExistingWorkflow:
		s.ID = raw.WorkflowID
	}
	return nil
}

// ExtractedParameters holds structured hints pulled out of task text. Every
// category is always present in JSON output.
type ExtractedParameters struct {
	URLs          []string `json:"urls"`
	Files         []string `json:"files"`
	QuotedStrings []string `json:"quoted_strings"`
	Technologies  []string `json:"technologies"`
}

// EmptyParameters returns a value with every category initialised.
func EmptyParameters() ExtractedParameters {
	return ExtractedParameters{
		URLs:          []string{},
		Files:         []string{},
		QuotedStrings: []string{},
		Technologies:  []string{},
	}
}

// BindingType is the confidence tier of a recommendation.
type BindingType string

const (
	BindingAutoExecute        BindingType = "auto_execute"
	BindingSuggestWithPreview BindingType = "suggest_with_preview"
	BindingManualReview       BindingType = "manual_review"
)

// Recommended actions, one per binding tier.
const (
	ActionAutoBindAndExecute     = "auto_bind_and_execute"
	ActionShowPreviewAndSuggest  = "show_preview_and_suggest"
	ActionSuggestForManualReview = "suggest_for_manual_review"
)

// BindingRecommendation turns a ranked suggestion into an actionable proposal.
type BindingRecommendation struct {
	Suggestion        Suggestion  `json:"suggestion"`
	BindingType       BindingType `json:"binding_type"`
	RecommendedAction string      `json:"recommended_action"`
	ExecutionNotes    []string    `json:"execution_notes"`
}

// DetectionRequest is the input of Detector.Detect.
type DetectionRequest struct {
	Title       string `json:"task_title"`
	Description string `json:"task_description"`
	ProjectID   string `json:"project_id,omitempty"`
}

// DetectionResult is the JSON-serialisable outcome of a detection call.
type DetectionResult struct {
	TaskTitle              string                  `json:"task_title"`
	TaskDescription        string                  `json:"task_description"`
	ProjectID              string                  `json:"project_id,omitempty"`
	WorkflowSuggestions    []Suggestion            `json:"workflow_suggestions"`
	ExtractedParameters    ExtractedParameters     `json:"extracted_parameters"`
	BindingRecommendations []BindingRecommendation `json:"binding_recommendations"`
	DetectionMetadata      map[string]any          `json:"detection_metadata"`
	Error                  string                  `json:"error,omitempty"`
}

// Degraded reports whether the result was produced by the failure path.
func (r *DetectionResult) Degraded() bool {
	return r.Error != ""
}
