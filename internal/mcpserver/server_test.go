package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/PadsterH2012/archon-plus-sub002/internal/components"
	"github.com/PadsterH2012/archon-plus-sub002/internal/detection"
	"github.com/PadsterH2012/archon-plus-sub002/internal/templates"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	comps := components.NewRegistry()
	require.NoError(t, comps.Register(&components.Component{
		Name: "read_code", Category: "analysis", InstructionText: "Read the code.", Enabled: true,
		EstimatedDurationMinutes: 5,
	}))
	require.NoError(t, comps.Register(&components.Component{
		Name: "run_tests", Category: "quality", InstructionText: "Run the tests.", Enabled: true,
		EstimatedDurationMinutes: 10,
	}))

	tpls := templates.NewRegistry()
	require.NoError(t, tpls.Register(&templates.Definition{
		Name:         "bugfix",
		Title:        "Bug fix",
		TemplateType: templates.TemplateTypeTask,
		Content:      "{{group::read_code}}\n{{USER_TASK}}\n{{group::run_tests}}",
	}))
	require.NoError(t, tpls.Register(&templates.Definition{
		Name:    "broken",
		Title:   "References a missing component",
		Content: "{{USER_TASK}}\n{{group::gone}}",
	}))

	logger := zaptest.NewLogger(t)
	exp := templates.NewExpander(tpls, comps, logger)
	return NewServer(detection.NewDetector(), exp, tpls, comps, logger)
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("result has no text content")
	return ""
}

func TestNewServer(t *testing.T) {
	srv := newTestServer(t)
	require.NotNil(t, srv.MCPServer())
}

func TestDetectTool(t *testing.T) {
	srv := newTestServer(t)

	result, err := srv.handleDetect(context.Background(), callRequest(map[string]any{
		"task_title":       "Deploy the API",
		"task_description": "Ship it to \"staging\" after tests pass",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var detected detection.DetectionResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &detected))
	assert.Equal(t, "Deploy the API", detected.TaskTitle)
	assert.Equal(t, []string{"staging"}, detected.ExtractedParameters.QuotedStrings)
	assert.NotNil(t, detected.WorkflowSuggestions)
	assert.NotNil(t, detected.BindingRecommendations)
}

func TestDetectToolRequiresTitle(t *testing.T) {
	srv := newTestServer(t)
	result, err := srv.handleDetect(context.Background(), callRequest(map[string]any{
		"task_description": "no title",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "task_title is required")
}

func TestExpandTool(t *testing.T) {
	srv := newTestServer(t)

	result, err := srv.handleExpand(context.Background(), callRequest(map[string]any{
		"template_name":        "bugfix",
		"original_description": "Fix the login redirect",
		"context_data":         map[string]any{"ticket": "T-9"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var expanded templates.ExpansionResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &expanded))
	assert.Equal(t, "Read the code.\nFix the login redirect\nRun the tests.", expanded.ExpandedInstructions)
	assert.Equal(t, 2, expanded.ComponentCount)
	assert.Equal(t, "bugfix", expanded.TemplateName)
}

func TestExpandToolErrors(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing name", map[string]any{"original_description": "x"}, "template_name is required"},
		{"unknown template", map[string]any{"template_name": "nope", "original_description": "x"}, "not found"},
		{"missing component", map[string]any{"template_name": "broken", "original_description": "x"}, "gone"},
		{"bad context", map[string]any{"template_name": "bugfix", "original_description": "x", "context_data": "oops"}, "context_data must be an object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := srv.handleExpand(context.Background(), callRequest(tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, resultText(t, result), tt.want)
		})
	}
}

func TestListTools(t *testing.T) {
	srv := newTestServer(t)

	result, err := srv.handleListTemplates(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	var tpls struct {
		Templates []templates.TemplateSummary `json:"templates"`
		Count     int                         `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &tpls))
	assert.Equal(t, 2, tpls.Count)

	result, err = srv.handleListComponents(context.Background(), callRequest(map[string]any{"category": "quality"}))
	require.NoError(t, err)
	var comps struct {
		Components []components.Summary `json:"components"`
		Count      int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &comps))
	require.Equal(t, 1, comps.Count)
	assert.Equal(t, "run_tests", comps.Components[0].Name)

	result, err = srv.handleListComponents(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &comps))
	assert.Equal(t, 2, comps.Count)
}
