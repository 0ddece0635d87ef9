package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Detection metrics
	DetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "augment_detections_total",
			Help: "Total number of workflow detection calls",
		},
		[]string{"status"},
	)

	DetectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "augment_detection_duration_seconds",
			Help:    "Workflow detection duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	SuggestionsReturned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "augment_suggestions_returned_total",
			Help: "Total number of ranked suggestions returned, by suggestion type",
		},
		[]string{"type"},
	)

	BindingRecommendations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "augment_binding_recommendations_total",
			Help: "Total number of binding recommendations, by binding type",
		},
		[]string{"binding_type"},
	)

	SourceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "augment_suggestion_source_errors_total",
			Help: "Total number of failed suggestion source calls",
		},
		[]string{"source"},
	)

	// Expansion metrics
	ExpansionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "augment_expansions_total",
			Help: "Total number of template expansions",
		},
		[]string{"template", "status"},
	)

	ExpansionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "augment_expansion_duration_seconds",
			Help:    "Template substitution pass duration in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
		[]string{"template"},
	)

	ExpansionComponents = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "augment_expansion_components",
			Help:    "Number of components resolved per expansion",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)

	// Registry metrics
	TemplatesLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "augment_templates_loaded_total",
			Help: "Total number of templates loaded into the registry",
		},
		[]string{"template"},
	)

	ComponentsLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "augment_components_loaded_total",
			Help: "Total number of components loaded into the registry",
		},
		[]string{"category"},
	)

	TemplateValidationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "augment_template_validation_errors_total",
			Help: "Total number of template validation issues, by issue code",
		},
		[]string{"code"},
	)

	RegistryReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "augment_registry_reloads_total",
			Help: "Total number of registry reloads triggered by file changes",
		},
		[]string{"registry", "status"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "augment_cache_hits_total",
			Help: "Total number of suggestion cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "augment_cache_misses_total",
			Help: "Total number of suggestion cache misses",
		},
		[]string{"cache"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "augment_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"route", "code"},
	)

	HTTPRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "augment_http_rate_limited_total",
			Help: "Total number of HTTP requests rejected by the rate limiter",
		},
	)
)

// RecordDetectionMetrics records metrics for a completed detection call
func RecordDetectionMetrics(status string, durationSeconds float64, byType map[string]int) {
	DetectionsTotal.WithLabelValues(status).Inc()
	DetectionDuration.Observe(durationSeconds)
	for t, n := range byType {
		if n > 0 {
			SuggestionsReturned.WithLabelValues(t).Add(float64(n))
		}
	}
}

// RecordExpansionMetrics records metrics for a template expansion
func RecordExpansionMetrics(template, status string, durationSeconds float64, components int) {
	ExpansionsTotal.WithLabelValues(template, status).Inc()
	if status != "success" {
		return
	}
	ExpansionDuration.WithLabelValues(template).Observe(durationSeconds)
	ExpansionComponents.Observe(float64(components))
}
