package detection

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/PadsterH2012/archon-plus-sub002/internal/metrics"
	"github.com/PadsterH2012/archon-plus-sub002/internal/tracing"
)

// MCPWorkflowSource suggests workflows exposed by an external tool catalog.
type MCPWorkflowSource interface {
	MCPWorkflowSuggestions(ctx context.Context, text string) ([]Suggestion, error)
}

// ExistingWorkflowSource suggests previously defined workflows.
type ExistingWorkflowSource interface {
	ExistingWorkflowSuggestions(ctx context.Context, text, projectID string) ([]Suggestion, error)
}

// Source names reported in metadata, logs and metrics.
const (
	SourceKeywordPatterns  = "keyword_patterns"
	SourceMCPCatalog       = "mcp_catalog"
	SourceExistingWorkflow = "existing_workflows"
)

// Detector is the detection facade: it matches keyword patterns, merges
// collaborator suggestions, ranks them and attaches binding recommendations.
type Detector struct {
	mu          sync.RWMutex
	matcher     *Matcher
	extractor   *Extractor
	recommender *Recommender
	mcp         MCPWorkflowSource
	existing    ExistingWorkflowSource
	logger      *zap.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithCatalog replaces the built-in keyword and technology catalog.
func WithCatalog(c *Catalog) Option {
	return func(d *Detector) {
		if c == nil {
			return
		}
		d.matcher = NewMatcher(c)
		d.extractor = NewExtractor(c)
	}
}

// WithThresholds overrides the binding tier boundaries.
func WithThresholds(t Thresholds) Option {
	return func(d *Detector) { d.recommender = NewRecommender(t) }
}

// WithMCPSource sets the tool catalog collaborator.
func WithMCPSource(s MCPWorkflowSource) Option {
	return func(d *Detector) { d.mcp = s }
}

// WithExistingSource sets the stored workflow collaborator.
func WithExistingSource(s ExistingWorkflowSource) Option {
	return func(d *Detector) { d.existing = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDetector builds a detector. Without options it uses the default catalog,
// default thresholds and no external sources.
func NewDetector(opts ...Option) *Detector {
	catalog := DefaultCatalog()
	d := &Detector{
		matcher:     NewMatcher(catalog),
		extractor:   NewExtractor(catalog),
		recommender: NewRecommender(DefaultThresholds()),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ReloadCatalog swaps in the keyword catalog at path. The previous catalog
// stays active on error.
func (d *Detector) ReloadCatalog(path string) error {
	c, err := LoadCatalog(path)
	if err != nil {
		metrics.RegistryReloads.WithLabelValues("keyword_catalog", "error").Inc()
		return err
	}
	d.SetCatalog(c)
	metrics.RegistryReloads.WithLabelValues("keyword_catalog", "success").Inc()
	d.logger.Info("Keyword catalog reloaded",
		zap.String("path", path),
		zap.Int("patterns", len(c.patterns)),
	)
	return nil
}

// SetCatalog replaces the keyword and technology catalog. Calls already in
// flight finish with the catalog they started with.
func (d *Detector) SetCatalog(c *Catalog) {
	if c == nil {
		return
	}
	matcher, extractor := NewMatcher(c), NewExtractor(c)
	d.mu.Lock()
	d.matcher, d.extractor = matcher, extractor
	d.mu.Unlock()
}

// Detect never returns an error: collaborator failures, panics and
// cancellation produce a degraded result with Error set.
func (d *Detector) Detect(ctx context.Context, req DetectionRequest) DetectionResult {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "detection.detect",
		attribute.String("project_id", req.ProjectID),
	)
	defer span.End()

	result, err := d.safeDetect(ctx, req, start)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		d.logger.Warn("Workflow detection degraded",
			zap.String("task_title", req.Title),
			zap.String("project_id", req.ProjectID),
			zap.Error(err),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordDetectionMetrics("degraded", elapsed, nil)
		return degradedResult(req, err)
	}

	byType := make(map[string]int, 3)
	for t, n := range CountByType(result.WorkflowSuggestions) {
		byType[string(t)] = n
	}
	for _, rec := range result.BindingRecommendations {
		metrics.BindingRecommendations.WithLabelValues(string(rec.BindingType)).Inc()
	}
	metrics.RecordDetectionMetrics("success", elapsed, byType)
	span.SetAttributes(attribute.Int("suggestions", len(result.WorkflowSuggestions)))

	d.logger.Debug("Workflow detection completed",
		zap.String("task_title", req.Title),
		zap.Int("suggestions", len(result.WorkflowSuggestions)),
		zap.Float64("elapsed_ms", elapsed*1000),
	)
	return result
}

func (d *Detector) safeDetect(ctx context.Context, req DetectionRequest, start time.Time) (result DetectionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detection panicked: %v", r)
		}
	}()
	return d.detect(ctx, req, start)
}

func (d *Detector) detect(ctx context.Context, req DetectionRequest, start time.Time) (DetectionResult, error) {
	if err := ctx.Err(); err != nil {
		return DetectionResult{}, err
	}

	d.mu.RLock()
	matcher, extractor := d.matcher, d.extractor
	d.mu.RUnlock()

	text := strings.TrimSpace(req.Title + "\n" + req.Description)
	keyword := matcher.Match(text)

	var mcpSuggestions, existingSuggestions []Suggestion
	sources := []string{SourceKeywordPatterns}

	g, gctx := errgroup.WithContext(ctx)
	if d.mcp != nil && text != "" {
		sources = append(sources, SourceMCPCatalog)
		g.Go(func() (err error) {
			defer recoverSource(SourceMCPCatalog, &err)
			out, err := d.mcp.MCPWorkflowSuggestions(gctx, text)
			if err != nil {
				return sourceError(SourceMCPCatalog, err)
			}
			mcpSuggestions = d.conform(SourceMCPCatalog, SuggestionMCPWorkflow, out)
			return nil
		})
	}
	if d.existing != nil && text != "" {
		sources = append(sources, SourceExistingWorkflow)
		g.Go(func() (err error) {
			defer recoverSource(SourceExistingWorkflow, &err)
			out, err := d.existing.ExistingWorkflowSuggestions(gctx, text, req.ProjectID)
			if err != nil {
				return sourceError(SourceExistingWorkflow, err)
			}
			existingSuggestions = d.conform(SourceExistingWorkflow, SuggestionExistingWorkflow, out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return DetectionResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return DetectionResult{}, err
	}

	ranked := Rank(keyword, mcpSuggestions, existingSuggestions)
	counts := CountByType(ranked)

	return DetectionResult{
		TaskTitle:              req.Title,
		TaskDescription:        req.Description,
		ProjectID:              req.ProjectID,
		WorkflowSuggestions:    ranked,
		ExtractedParameters:    extractor.Extract(text),
		BindingRecommendations: d.recommender.Recommend(req.Title, req.Description, ranked),
		DetectionMetadata: map[string]any{
			"keyword_matches":   counts[SuggestionKeywordPattern],
			"mcp_matches":       counts[SuggestionMCPWorkflow],
			"existing_matches":  counts[SuggestionExistingWorkflow],
			"total_suggestions": len(ranked),
			"detection_time_ms": float64(time.Since(start).Microseconds()) / 1000.0,
			"sources":           sources,
		},
	}, nil
}

// conform fills a missing type and drops entries of a foreign type, without
// an identity or with a non-finite score or confidence.
func (d *Detector) conform(source string, want SuggestionType, in []Suggestion) []Suggestion {
	out := make([]Suggestion, 0, len(in))
	for _, s := range in {
		if s.Type == "" {
			s.Type = want
		}
		if s.Type != want || strings.TrimSpace(s.ID) == "" || !finite(s.Score) || !finite(s.Confidence) {
			d.logger.Warn("Dropping malformed suggestion",
				zap.String("source", source),
				zap.String("type", string(s.Type)),
				zap.String("id", s.ID),
				zap.Float64("score", s.Score),
				zap.Float64("confidence", s.Confidence),
			)
			continue
		}
		out = append(out, s)
	}
	return out
}

func sourceError(source string, err error) error {
	metrics.SourceErrors.WithLabelValues(source).Inc()
	return fmt.Errorf("%s lookup failed: %w", source, err)
}

func recoverSource(source string, err *error) {
	if r := recover(); r != nil {
		metrics.SourceErrors.WithLabelValues(source).Inc()
		*err = fmt.Errorf("%s lookup panicked: %v", source, r)
	}
}

func degradedResult(req DetectionRequest, err error) DetectionResult {
	return DetectionResult{
		TaskTitle:              req.Title,
		TaskDescription:        req.Description,
		ProjectID:              req.ProjectID,
		WorkflowSuggestions:    []Suggestion{},
		ExtractedParameters:    EmptyParameters(),
		BindingRecommendations: []BindingRecommendation{},
		DetectionMetadata:      map[string]any{},
		Error:                  err.Error(),
	}
}
