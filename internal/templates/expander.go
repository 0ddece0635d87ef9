package templates

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	ometrics "github.com/PadsterH2012/archon-plus-sub002/internal/metrics"
	"github.com/PadsterH2012/archon-plus-sub002/internal/tracing"
)

// ExpansionRequest is the input of Expander.Expand.
type ExpansionRequest struct {
	TemplateName        string         `json:"template_name"`
	OriginalDescription string         `json:"original_description"`
	ContextData         map[string]any `json:"context_data,omitempty"`
}

// ExpansionResult is the JSON-serialisable outcome of an expansion.
type ExpansionResult struct {
	ExpandedInstructions string         `json:"expanded_instructions"`
	ExpansionTimeMs      float64        `json:"expansion_time_ms"`
	TemplateName         string         `json:"template_name"`
	ComponentCount       int            `json:"component_count"`
	TemplateMetadata     map[string]any `json:"template_metadata"`
	OriginalDescription  string         `json:"original_description"`
}

// Expander injects component instruction text into templates around the
// verbatim task description.
type Expander struct {
	templates  TemplateSource
	components ComponentSource
	logger     *zap.Logger
}

// NewExpander creates an expander over the given sources.
func NewExpander(templates TemplateSource, components ComponentSource, logger *zap.Logger) *Expander {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Expander{templates: templates, components: components, logger: logger}
}

// Expand loads the template, resolves every component it references and
// renders it. Errors are *TemplateNotFoundError, *MissingComponentError,
// *ValidationError or a wrapped source failure; no partial output is
// returned with an error.
func (e *Expander) Expand(ctx context.Context, req ExpansionRequest) (*ExpansionResult, error) {
	ctx, span := tracing.StartSpan(ctx, "templates.expand",
		attribute.String("template", req.TemplateName),
	)
	defer span.End()

	result, err := e.expand(ctx, req)
	if err != nil {
		status := expansionStatus(err)
		label := req.TemplateName
		if status == "not_found" {
			// unknown names would otherwise become unbounded label values
			label = "unknown"
		}
		ometrics.RecordExpansionMetrics(label, status, 0, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("Template expansion failed",
			zap.String("template", req.TemplateName),
			zap.Error(err),
		)
		return nil, err
	}

	ometrics.RecordExpansionMetrics(req.TemplateName, "success", result.ExpansionTimeMs/1000.0, result.ComponentCount)
	span.SetAttributes(attribute.Int("components", result.ComponentCount))
	e.logger.Debug("Template expanded",
		zap.String("template", req.TemplateName),
		zap.Int("components", result.ComponentCount),
		zap.Float64("expansion_time_ms", result.ExpansionTimeMs),
	)
	return result, nil
}

func (e *Expander) expand(ctx context.Context, req ExpansionRequest) (*ExpansionResult, error) {
	tpl, plan, err := e.load(ctx, req.TemplateName)
	if err != nil {
		return nil, err
	}

	resolved, err := e.resolve(ctx, plan)
	if err != nil {
		return nil, err
	}
	if issues := planIssues(plan); len(issues) > 0 {
		return nil, &ValidationError{Template: tpl.Name, Issues: issues}
	}

	start := time.Now()
	expanded, err := plan.Render(req.OriginalDescription, resolved)
	elapsed := time.Since(start)
	if err != nil {
		return nil, err
	}

	return &ExpansionResult{
		ExpandedInstructions: expanded,
		ExpansionTimeMs:      float64(elapsed.Nanoseconds()) / 1e6,
		TemplateName:         tpl.Name,
		ComponentCount:       len(plan.Components),
		TemplateMetadata:     buildMetadata(tpl, plan, resolved, req.ContextData),
		OriginalDescription:  req.OriginalDescription,
	}, nil
}

// ValidateTemplate checks that the named template exists, contains the task
// placeholder and references at least one component, all of which resolve.
func (e *Expander) ValidateTemplate(ctx context.Context, name string) error {
	tpl, plan, err := e.load(ctx, name)
	if err != nil {
		return err
	}

	issues := planIssues(plan)
	for _, comp := range plan.Components {
		_, ok, err := e.components.GetComponent(ctx, comp)
		if err != nil {
			return fmt.Errorf("lookup component '%s': %w", comp, err)
		}
		if !ok {
			issues = append(issues, ValidationIssue{
				Code:    "component_unknown",
				Message: fmt.Sprintf("placeholder {{%s%s}} references unknown component '%s'", GroupPrefix, comp, comp),
			})
		}
	}
	if len(issues) > 0 {
		sortIssues(issues)
		for _, issue := range issues {
			ometrics.TemplateValidationErrors.WithLabelValues(issue.Code).Inc()
		}
		return &ValidationError{Template: tpl.Name, Issues: issues}
	}
	return nil
}

func (e *Expander) load(ctx context.Context, name string) (*Definition, *Plan, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, &TemplateNotFoundError{Name: name}
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	tpl, ok, err := e.templates.GetTemplate(ctx, name)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup template '%s': %w", name, err)
	}
	if !ok || tpl == nil {
		return nil, nil, &TemplateNotFoundError{Name: name}
	}

	plan, err := CompileTemplate(tpl)
	if err != nil {
		return nil, nil, err
	}
	return tpl, plan, nil
}

// resolve fetches every referenced component before any substitution takes
// place, stopping at the first missing one.
func (e *Expander) resolve(ctx context.Context, plan *Plan) (map[string]*Component, error) {
	resolved := make(map[string]*Component, len(plan.Components))
	for _, name := range plan.Components {
		comp, ok, err := e.components.GetComponent(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("lookup component '%s': %w", name, err)
		}
		if !ok || comp == nil {
			return nil, &MissingComponentError{
				Template:    plan.TemplateName,
				Placeholder: fmt.Sprintf("{{%s%s}}", GroupPrefix, name),
				Component:   name,
			}
		}
		resolved[name] = comp
	}
	return resolved, nil
}

func buildMetadata(tpl *Definition, plan *Plan, resolved map[string]*Component, contextData map[string]any) map[string]any {
	duration := 0
	tools := []string{}
	seenTools := make(map[string]struct{})
	for _, name := range plan.Components {
		c := resolved[name]
		duration += c.EstimatedDurationMinutes
		for _, tool := range c.RequiredTools {
			if _, ok := seenTools[tool]; ok {
				continue
			}
			seenTools[tool] = struct{}{}
			tools = append(tools, tool)
		}
	}

	contextKeys := make([]string, 0, len(contextData))
	for k := range contextData {
		contextKeys = append(contextKeys, k)
	}
	sort.Strings(contextKeys)

	unresolved := append([]string{}, plan.Unresolved...)
	components := append([]string{}, plan.Components...)

	return map[string]any{
		"title":                      tpl.Title,
		"template_type":              string(tpl.TemplateType),
		"category":                   tpl.Category,
		"components":                 components,
		"estimated_duration_minutes": duration,
		"required_tools":             tools,
		"unresolved_placeholders":    unresolved,
		"context_keys":               contextKeys,
	}
}

func expansionStatus(err error) string {
	var (
		notFound   *TemplateNotFoundError
		missing    *MissingComponentError
		validation *ValidationError
	)
	switch {
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &missing):
		return "missing_component"
	case errors.As(err, &validation):
		return "invalid"
	default:
		return "error"
	}
}
