// Package mcpserver exposes workflow detection and template expansion as
// Model Context Protocol tools so agents can augment a task before starting
// work on it.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/PadsterH2012/archon-plus-sub002/internal/components"
	"github.com/PadsterH2012/archon-plus-sub002/internal/detection"
	"github.com/PadsterH2012/archon-plus-sub002/internal/templates"
)

// Version is the MCP server version, set at build time.
var Version = "dev"

// Detector is the subset of *detection.Detector the server needs.
type Detector interface {
	Detect(ctx context.Context, req detection.DetectionRequest) detection.DetectionResult
}

// Expander is the subset of *templates.Expander the server needs.
type Expander interface {
	Expand(ctx context.Context, req templates.ExpansionRequest) (*templates.ExpansionResult, error)
}

// TemplateLister lists registered templates.
type TemplateLister interface {
	List() []templates.TemplateSummary
}

// ComponentLister lists registered components.
type ComponentLister interface {
	List() []components.Summary
	ListByCategory(category string) []components.Summary
}

// Server wraps an mcp-go server with the augmentation tools registered.
type Server struct {
	mcpServer  *server.MCPServer
	detector   Detector
	expander   Expander
	templates  TemplateLister
	components ComponentLister
	logger     *zap.Logger
}

// NewServer creates a server with every tool registered.
func NewServer(d Detector, e Expander, t TemplateLister, c ComponentLister, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		detector:   d,
		expander:   e,
		templates:  t,
		components: c,
		logger:     logger,
	}
	s.mcpServer = server.NewMCPServer(
		"task-augmentor",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions("Call detect_workflows_for_task with a task title and description to find "+
			"matching workflows and binding recommendations. Call expand_task_description with a "+
			"template name to wrap the task in the template's component instructions. "+
			"list_templates and list_components show what is available."),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server instance.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves MCP over standard input/output until stdin closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("detect_workflows_for_task",
			mcp.WithDescription("Detect workflows that could help with a task. Returns ranked workflow suggestions, "+
				"parameters extracted from the text (URLs, files, quoted strings, technologies) and binding "+
				"recommendations (auto_execute, preview, suggest)."),
			mcp.WithString("task_title",
				mcp.Required(),
				mcp.Description("Short title of the task"),
			),
			mcp.WithString("task_description",
				mcp.Description("Full task description"),
			),
			mcp.WithString("project_id",
				mcp.Description("Project identifier used to scope existing workflow suggestions"),
			),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		s.handleDetect,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("expand_task_description",
			mcp.WithDescription("Expand a task description with a template: component instruction blocks are "+
				"placed around the original description, which is kept verbatim."),
			mcp.WithString("template_name",
				mcp.Required(),
				mcp.Description("Name of the expansion template"),
			),
			mcp.WithString("original_description",
				mcp.Required(),
				mcp.Description("The task description to expand"),
			),
			mcp.WithObject("context_data",
				mcp.Description("Optional context; keys are recorded in the result metadata"),
			),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		s.handleExpand,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("list_templates",
			mcp.WithDescription("List the registered expansion templates."),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		s.handleListTemplates,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("list_components",
			mcp.WithDescription("List the registered instruction components."),
			mcp.WithString("category",
				mcp.Description("Only list components in this category"),
			),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		s.handleListComponents,
	)
}

func (s *Server) handleDetect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title := mcp.ParseString(req, "task_title", "")
	if strings.TrimSpace(title) == "" {
		return mcp.NewToolResultError("task_title is required"), nil
	}

	result := s.detector.Detect(ctx, detection.DetectionRequest{
		Title:       title,
		Description: mcp.ParseString(req, "task_description", ""),
		ProjectID:   mcp.ParseString(req, "project_id", ""),
	})
	if result.Degraded() {
		s.logger.Warn("Detection degraded", zap.String("error", result.Error))
	}
	return marshalToolResult(result)
}

func (s *Server) handleExpand(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(req, "template_name", "")
	if strings.TrimSpace(name) == "" {
		return mcp.NewToolResultError("template_name is required"), nil
	}

	var contextData map[string]any
	if raw := mcp.ParseArgument(req, "context_data", nil); raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return mcp.NewToolResultError("context_data must be an object"), nil
		}
		contextData = m
	}

	result, err := s.expander.Expand(ctx, templates.ExpansionRequest{
		TemplateName:        name,
		OriginalDescription: mcp.ParseString(req, "original_description", ""),
		ContextData:         contextData,
	})
	if err != nil {
		var (
			notFound *templates.TemplateNotFoundError
			missing  *templates.MissingComponentError
			verr     *templates.ValidationError
		)
		if errors.As(err, &notFound) || errors.As(err, &missing) || errors.As(err, &verr) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		s.logger.Error("Expansion failed", zap.String("template", name), zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("expansion failed: %v", err)), nil
	}
	return marshalToolResult(result)
}

func (s *Server) handleListTemplates(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list := s.templates.List()
	return marshalToolResult(map[string]any{
		"templates": list,
		"count":     len(list),
	})
}

func (s *Server) handleListComponents(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var list []components.Summary
	if category := mcp.ParseString(req, "category", ""); category != "" {
		list = s.components.ListByCategory(category)
	} else {
		list = s.components.List()
	}
	if list == nil {
		list = []components.Summary{}
	}
	return marshalToolResult(map[string]any{
		"components": list,
		"count":      len(list),
	})
}

func marshalToolResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("internal error: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
