package templates

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ValidationIssue captures a single validation failure with a stable code for metrics.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationError aggregates template validation failures.
type ValidationError struct {
	Template string
	Issues   []ValidationIssue
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	prefix := "template validation failed"
	if e.Template != "" {
		prefix = fmt.Sprintf("template '%s' validation failed", e.Template)
	}
	if len(e.Issues) == 0 {
		return prefix
	}
	if len(e.Issues) == 1 {
		return prefix + ": " + e.Issues[0].Message
	}
	return fmt.Sprintf("%s: %d validation errors: %s", prefix, len(e.Issues), strings.Join(e.Messages(), "; "))
}

// HasIssues reports whether any validation problems were captured.
func (e *ValidationError) HasIssues() bool {
	return e != nil && len(e.Issues) > 0
}

// Messages returns just the human-readable text for each issue.
func (e *ValidationError) Messages() []string {
	if e == nil {
		return nil
	}
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.Message
	}
	return msgs
}

// TemplateNotFoundError is returned when a template name has no definition.
type TemplateNotFoundError struct {
	Name string
}

func (e *TemplateNotFoundError) Error() string {
	return fmt.Sprintf("template '%s' not found", e.Name)
}

// MissingComponentError names the first placeholder whose component is not
// registered.
type MissingComponentError struct {
	Template    string
	Placeholder string
	Component   string
}

func (e *MissingComponentError) Error() string {
	return fmt.Sprintf("template '%s' references missing component '%s' (placeholder %s)", e.Template, e.Component, e.Placeholder)
}

// IsTemplateNotFound reports whether err wraps a TemplateNotFoundError.
func IsTemplateNotFound(err error) bool {
	var target *TemplateNotFoundError
	return errors.As(err, &target)
}

// IsMissingComponent reports whether err wraps a MissingComponentError.
func IsMissingComponent(err error) bool {
	var target *MissingComponentError
	return errors.As(err, &target)
}

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

var allowedTemplateTypes = map[TemplateType]struct{}{
	TemplateTypeProject:  {},
	TemplateTypeTask:     {},
	TemplateTypeWorkflow: {},
	TemplateTypeSequence: {},
}

// ValidateTemplate performs structural checks and returns a ValidationError when problems exist.
// Component existence is not checked here; see Expander.ValidateTemplate.
func ValidateTemplate(tpl *Definition) error {
	if tpl == nil {
		return &ValidationError{Issues: []ValidationIssue{{Code: "template_nil", Message: "template is nil"}}}
	}

	var issues []ValidationIssue

	if strings.TrimSpace(tpl.Name) == "" {
		issues = append(issues, ValidationIssue{Code: "template_name_missing", Message: "template name is required"})
	}
	if tpl.TemplateType != "" {
		if _, ok := allowedTemplateTypes[tpl.TemplateType]; !ok {
			issues = append(issues, ValidationIssue{Code: "template_type_unknown", Message: fmt.Sprintf("unknown template type '%s'", tpl.TemplateType)})
		}
	}

	if strings.TrimSpace(tpl.Content) == "" {
		issues = append(issues, ValidationIssue{Code: "template_content_empty", Message: "template_content is required"})
	} else {
		plan, err := CompileTemplate(tpl)
		if err != nil {
			return err
		}
		issues = append(issues, planIssues(plan)...)
	}

	if len(issues) > 0 {
		sortIssues(issues)
		return &ValidationError{Template: tpl.Name, Issues: issues}
	}
	return nil
}

func planIssues(plan *Plan) []ValidationIssue {
	var issues []ValidationIssue
	if !plan.HasUserTask {
		issues = append(issues, ValidationIssue{Code: "user_task_missing", Message: fmt.Sprintf("content must contain a {{%s}} placeholder", UserTaskToken)})
	}
	if len(plan.Components) == 0 {
		issues = append(issues, ValidationIssue{Code: "component_placeholder_missing", Message: fmt.Sprintf("content must reference at least one component with {{%s<name>}}", GroupPrefix)})
	}
	return issues
}

func sortIssues(issues []ValidationIssue) {
	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Code == issues[j].Code {
			return issues[i].Message < issues[j].Message
		}
		return issues[i].Code < issues[j].Code
	})
}
