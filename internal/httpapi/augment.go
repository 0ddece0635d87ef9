package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/PadsterH2012/archon-plus-sub002/internal/components"
	"github.com/PadsterH2012/archon-plus-sub002/internal/detection"
	"github.com/PadsterH2012/archon-plus-sub002/internal/templates"
)

// maxBodyBytes bounds request payloads.
const maxBodyBytes = 1 << 20

// Detector is the subset of *detection.Detector the handler needs.
type Detector interface {
	Detect(ctx context.Context, req detection.DetectionRequest) detection.DetectionResult
}

// Expander is the subset of *templates.Expander the handler needs.
type Expander interface {
	Expand(ctx context.Context, req templates.ExpansionRequest) (*templates.ExpansionResult, error)
	ValidateTemplate(ctx context.Context, name string) error
}

// TemplateLister lists registered templates.
type TemplateLister interface {
	List() []templates.TemplateSummary
}

// ComponentLister lists registered components.
type ComponentLister interface {
	List() []components.Summary
	ListByCategory(category string) []components.Summary
	Categories() []string
	GetVersions(name string) []components.Entry
}

// AugmentHandler serves workflow detection and template expansion.
type AugmentHandler struct {
	detector   Detector
	expander   Expander
	templates  TemplateLister
	components ComponentLister
	logger     *zap.Logger
}

// NewAugmentHandler creates a new handler.
func NewAugmentHandler(d Detector, e Expander, t TemplateLister, c ComponentLister, logger *zap.Logger) *AugmentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AugmentHandler{detector: d, expander: e, templates: t, components: c, logger: logger}
}

// RegisterRoutes registers the API routes on the provided mux.
func (h *AugmentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/tasks/detect", h.handleDetect)
	mux.HandleFunc("POST /api/v1/tasks/expand", h.handleExpand)
	mux.HandleFunc("POST /api/v1/templates/{name}/validate", h.handleValidate)
	mux.HandleFunc("GET /api/v1/templates", h.handleListTemplates)
	mux.HandleFunc("GET /api/v1/components", h.handleListComponents)
	mux.HandleFunc("GET /api/v1/components/{name}/versions", h.handleComponentVersions)
}

func (h *AugmentHandler) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detection.DetectionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "task_title is required")
		return
	}

	result := h.detector.Detect(r.Context(), req)
	if result.Degraded() {
		h.logger.Warn("Detection degraded",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("error", result.Error),
		)
	}
	h.respond(w, http.StatusOK, result)
}

func (h *AugmentHandler) handleExpand(w http.ResponseWriter, r *http.Request) {
	var req templates.ExpansionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.TemplateName) == "" {
		writeError(w, http.StatusBadRequest, "template_name is required")
		return
	}

	result, err := h.expander.Expand(r.Context(), req)
	if err != nil {
		h.writeTemplateError(w, r, req.TemplateName, err)
		return
	}
	h.respond(w, http.StatusOK, result)
}

func (h *AugmentHandler) handleValidate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.expander.ValidateTemplate(r.Context(), name); err != nil {
		var verr *templates.ValidationError
		if errors.As(err, &verr) {
			h.respond(w, http.StatusOK, map[string]any{
				"template_name": name,
				"valid":         false,
				"issues":        verr.Issues,
			})
			return
		}
		h.writeTemplateError(w, r, name, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{
		"template_name": name,
		"valid":         true,
		"issues":        []templates.ValidationIssue{},
	})
}

func (h *AugmentHandler) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	list := h.templates.List()
	h.respond(w, http.StatusOK, map[string]any{
		"templates": list,
		"count":     len(list),
	})
}

func (h *AugmentHandler) handleListComponents(w http.ResponseWriter, r *http.Request) {
	var list []components.Summary
	if category := r.URL.Query().Get("category"); category != "" {
		list = h.components.ListByCategory(category)
	} else {
		list = h.components.List()
	}
	if list == nil {
		list = []components.Summary{}
	}
	h.respond(w, http.StatusOK, map[string]any{
		"components": list,
		"count":      len(list),
		"categories": h.components.Categories(),
	})
}

// handleComponentVersions lists every loaded version of one component,
// newest first.
func (h *AugmentHandler) handleComponentVersions(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	entries := h.components.GetVersions(name)
	if len(entries) == 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("component '%s' not found", name))
		return
	}
	versions := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		versions = append(versions, map[string]any{
			"version":      e.Component.Version,
			"content_hash": e.ContentHash,
			"source_path":  e.SourcePath,
			"enabled":      e.Component.Enabled,
		})
	}
	h.respond(w, http.StatusOK, map[string]any{"name": name, "versions": versions})
}

// writeTemplateError maps expander errors to status codes.
func (h *AugmentHandler) writeTemplateError(w http.ResponseWriter, r *http.Request, name string, err error) {
	var (
		notFound *templates.TemplateNotFoundError
		missing  *templates.MissingComponentError
		verr     *templates.ValidationError
	)
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &missing), errors.As(err, &verr):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("Template operation failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("template", name),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// respond writes v and logs a body that could not be encoded.
func (h *AugmentHandler) respond(w http.ResponseWriter, code int, v any) {
	if err := writeJSON(w, code, v); err != nil {
		h.logger.Error("Failed to encode response", zap.Int("status", code), zap.Error(err))
	}
}

// writeJSON encodes v before writing anything so an unencodable body turns
// into a 500 rather than a truncated 200.
func writeJSON(w http.ResponseWriter, code int, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		code = http.StatusInternalServerError
		body = []byte(`{"error":"failed to encode response"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(append(body, '\n'))
	return err
}

func writeError(w http.ResponseWriter, code int, msg string) {
	_ = writeJSON(w, code, map[string]string{"error": msg})
}
