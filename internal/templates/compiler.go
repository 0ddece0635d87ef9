package templates

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

const (
	// UserTaskToken is replaced by the verbatim task description.
	UserTaskToken = "USER_TASK"
	// GroupPrefix marks a component reference: {{group::<name>}}.
	GroupPrefix = "group::"
)

// placeholderPattern matches {{token}}; whitespace inside the braces is ignored.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)

// SegmentKind classifies a piece of compiled template content.
type SegmentKind int

const (
	SegmentLiteral SegmentKind = iota
	SegmentUserTask
	SegmentComponent
	SegmentUnknown
)

// Segment is a literal run of text or a single placeholder occurrence.
type Segment struct {
	Kind SegmentKind
	// Text is the literal text, or the raw placeholder including braces.
	Text string
	// Component is set for SegmentComponent.
	Component string
}

// Plan is a template's content split into segments, ready for rendering.
type Plan struct {
	TemplateName string
	Segments     []Segment
	// Components lists distinct component names in first-seen order.
	Components []string
	// Unresolved lists distinct placeholders that are left untouched.
	Unresolved  []string
	HasUserTask bool
	Checksum    string
}

// CompileTemplate scans the template content once and records every
// placeholder. It does not consult any registry.
func CompileTemplate(tpl *Definition) (*Plan, error) {
	if tpl == nil {
		return nil, fmt.Errorf("template is nil")
	}

	content := tpl.Content
	sum := sha256.Sum256([]byte(content))
	plan := &Plan{
		TemplateName: tpl.Name,
		Checksum:     hex.EncodeToString(sum[:]),
	}

	seenComponents := make(map[string]struct{})
	seenUnresolved := make(map[string]struct{})
	last := 0
	for _, loc := range placeholderPattern.FindAllStringSubmatchIndex(content, -1) {
		if loc[0] > last {
			plan.Segments = append(plan.Segments, Segment{Kind: SegmentLiteral, Text: content[last:loc[0]]})
		}
		raw := content[loc[0]:loc[1]]
		token := content[loc[2]:loc[3]]
		last = loc[1]

		switch {
		case token == UserTaskToken:
			plan.HasUserTask = true
			plan.Segments = append(plan.Segments, Segment{Kind: SegmentUserTask, Text: raw})
		case strings.HasPrefix(token, GroupPrefix) && strings.TrimSpace(strings.TrimPrefix(token, GroupPrefix)) != "":
			name := strings.TrimSpace(strings.TrimPrefix(token, GroupPrefix))
			plan.Segments = append(plan.Segments, Segment{Kind: SegmentComponent, Text: raw, Component: name})
			if _, ok := seenComponents[name]; !ok {
				seenComponents[name] = struct{}{}
				plan.Components = append(plan.Components, name)
			}
		default:
			plan.Segments = append(plan.Segments, Segment{Kind: SegmentUnknown, Text: raw})
			if _, ok := seenUnresolved[raw]; !ok {
				seenUnresolved[raw] = struct{}{}
				plan.Unresolved = append(plan.Unresolved, raw)
			}
		}
	}
	if last < len(content) {
		plan.Segments = append(plan.Segments, Segment{Kind: SegmentLiteral, Text: content[last:]})
	}
	return plan, nil
}

// Render substitutes every segment in a single pass. Inserted text is never
// rescanned for placeholders. Every component in p.Components must be present
// in components.
func (p *Plan) Render(description string, components map[string]*Component) (string, error) {
	var b strings.Builder
	for _, seg := range p.Segments {
		switch seg.Kind {
		case SegmentUserTask:
			b.WriteString(description)
		case SegmentComponent:
			c, ok := components[seg.Component]
			if !ok || c == nil {
				return "", &MissingComponentError{Template: p.TemplateName, Placeholder: seg.Text, Component: seg.Component}
			}
			b.WriteString(c.InstructionText)
		default:
			b.WriteString(seg.Text)
		}
	}
	return b.String(), nil
}
