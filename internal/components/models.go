// Package components loads reusable instruction blocks that templates inject
// with {{group::<name>}} placeholders.
//
// Components are markdown files with YAML frontmatter. The frontmatter holds
// the component's metadata and the markdown body is its instruction text.
package components

import (
	"sync"
	"time"

	"github.com/PadsterH2012/archon-plus-sub002/internal/templates"
)

// Component types.
const (
	TypeAction       = "action"
	TypeGroup        = "group"
	TypeSequence     = "sequence"
	TypeVerification = "verification"
)

// Component represents a parsed component definition from a markdown file.
type Component struct {
	Name                     string         `yaml:"name" json:"name"`
	Version                  string         `yaml:"version" json:"version"`
	ComponentType            string         `yaml:"component_type" json:"component_type"`
	Category                 string         `yaml:"category" json:"category"`
	Description              string         `yaml:"description" json:"description"`
	EstimatedDurationMinutes int            `yaml:"estimated_duration_minutes" json:"estimated_duration_minutes"`
	Priority                 string         `yaml:"priority" json:"priority"`
	RequiredTools            []string       `yaml:"required_tools" json:"required_tools,omitempty"`
	Enabled                  bool           `yaml:"enabled" json:"enabled"`
	Metadata                 map[string]any `yaml:"metadata" json:"metadata,omitempty"`
	InstructionText          string         `yaml:"-" json:"instruction_text,omitempty"` // Markdown body after frontmatter
}

// ToTemplateComponent converts to the read-only view consumed by template expansion.
func (c *Component) ToTemplateComponent() *templates.Component {
	return &templates.Component{
		Name:                     c.Name,
		ComponentType:            c.ComponentType,
		Category:                 c.Category,
		Description:              c.Description,
		InstructionText:          c.InstructionText,
		EstimatedDurationMinutes: c.EstimatedDurationMinutes,
		Priority:                 c.Priority,
		RequiredTools:            append([]string(nil), c.RequiredTools...),
	}
}

// Registry manages loaded components with thread-safe access.
type Registry struct {
	mu         sync.RWMutex
	components map[string]Entry    // Key: "name@version" or "name" for latest
	byCategory map[string][]string // Category -> component keys
	byName     map[string][]Entry  // Name -> all versions (sorted by version desc)
}

// Entry wraps a component with loading metadata.
type Entry struct {
	Key         string
	Component   *Component
	SourcePath  string
	ContentHash string // SHA256 of file content
	LoadedAt    time.Time
}

// Summary is a lightweight representation for API responses.
type Summary struct {
	Name                     string   `json:"name"`
	Version                  string   `json:"version"`
	ComponentType            string   `json:"component_type"`
	Category                 string   `json:"category"`
	Description              string   `json:"description"`
	EstimatedDurationMinutes int      `json:"estimated_duration_minutes"`
	Priority                 string   `json:"priority"`
	RequiredTools            []string `json:"required_tools"`
	Enabled                  bool     `json:"enabled"`
}
