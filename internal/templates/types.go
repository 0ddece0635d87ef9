package templates

import "context"

// TemplateType enumerates the kinds of expansion templates.
type TemplateType string

const (
	TemplateTypeProject  TemplateType = "project"
	TemplateTypeTask     TemplateType = "task"
	TemplateTypeWorkflow TemplateType = "workflow"
	TemplateTypeSequence TemplateType = "sequence"
)

// Definition is a named template whose Content holds {{...}} placeholders.
type Definition struct {
	Name         string         `yaml:"name" json:"name"`
	Title        string         `yaml:"title" json:"title"`
	Description  string         `yaml:"description" json:"description,omitempty"`
	Version      string         `yaml:"version" json:"version,omitempty"`
	TemplateType TemplateType   `yaml:"template_type" json:"template_type"`
	Category     string         `yaml:"category" json:"category,omitempty"`
	Content      string         `yaml:"template_content" json:"template_content"`
	Metadata     map[string]any `yaml:"metadata" json:"metadata,omitempty"`
}

// Component is a reusable block of instruction text referenced from a
// template as {{group::<name>}}. Components are read-only inputs.
type Component struct {
	Name                     string   `yaml:"name" json:"name"`
	ComponentType            string   `yaml:"component_type" json:"component_type"`
	Category                 string   `yaml:"category" json:"category"`
	Description              string   `yaml:"description" json:"description,omitempty"`
	InstructionText          string   `yaml:"-" json:"instruction_text"`
	EstimatedDurationMinutes int      `yaml:"estimated_duration_minutes" json:"estimated_duration_minutes"`
	Priority                 string   `yaml:"priority" json:"priority"`
	RequiredTools            []string `yaml:"required_tools" json:"required_tools"`
}

// TemplateSource looks up template definitions by name. A missing template
// is reported as (nil, false, nil); errors are reserved for lookup failures.
type TemplateSource interface {
	GetTemplate(ctx context.Context, name string) (*Definition, bool, error)
}

// ComponentSource looks up components by name with the same conventions as
// TemplateSource.
type ComponentSource interface {
	GetComponent(ctx context.Context, name string) (*Component, bool, error)
}
