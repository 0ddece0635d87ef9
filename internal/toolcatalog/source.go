package toolcatalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/PadsterH2012/archon-plus-sub002/internal/detection"
	"github.com/PadsterH2012/archon-plus-sub002/internal/metrics"
	"github.com/PadsterH2012/archon-plus-sub002/internal/textsim"
	"github.com/PadsterH2012/archon-plus-sub002/internal/tracing"
)

const cacheName = "mcp_suggestions"

// Cache is the key/value store behind the suggestion cache. The circuit
// breaker Redis wrapper satisfies it; a miss returns redis.Nil.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// Options tunes scoring and caching.
type Options struct {
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	KeyPrefix      string        `mapstructure:"key_prefix"`
	MaxSuggestions int           `mapstructure:"max_suggestions"`
	// Saturation is the keyword count at which a tool reaches full confidence.
	Saturation int `mapstructure:"saturation"`
}

// DefaultOptions returns the defaults.
func DefaultOptions() Options {
	return Options{
		CacheTTL:       10 * time.Minute,
		KeyPrefix:      "augment:mcp:",
		MaxSuggestions: 5,
		Saturation:     3,
	}
}

// Source implements detection.MCPWorkflowSource.
type Source struct {
	mu      sync.RWMutex
	catalog *Catalog

	cache  Cache
	opts   Options
	logger *zap.Logger
}

// NewSource creates a source. cache may be nil to disable caching.
func NewSource(catalog *Catalog, cache Cache, opts Options, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	if catalog == nil {
		catalog, _ = NewCatalog(nil, nil)
	}
	def := DefaultOptions()
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = def.CacheTTL
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = def.KeyPrefix
	}
	if opts.MaxSuggestions <= 0 {
		opts.MaxSuggestions = def.MaxSuggestions
	}
	if opts.Saturation <= 0 {
		opts.Saturation = def.Saturation
	}
	return &Source{catalog: catalog, cache: cache, opts: opts, logger: logger}
}

// Catalog returns the active catalog.
func (s *Source) Catalog() *Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog
}

// Reload swaps in the catalog at path. The previous catalog stays active on error.
func (s *Source) Reload(path string) error {
	c, err := LoadCatalog(path)
	if err != nil {
		metrics.RegistryReloads.WithLabelValues("tools", "error").Inc()
		return err
	}
	s.mu.Lock()
	s.catalog = c
	s.mu.Unlock()

	metrics.RegistryReloads.WithLabelValues("tools", "success").Inc()
	s.logger.Info("Tool catalog reloaded", zap.String("path", path), zap.Int("tools", c.Len()))
	return nil
}

// MCPWorkflowSuggestions returns the tools whose keywords occur in text.
// Cache failures are logged and fall through to scoring.
func (s *Source) MCPWorkflowSuggestions(ctx context.Context, text string) ([]detection.Suggestion, error) {
	ctx, span := tracing.StartSpan(ctx, "toolcatalog.suggest")
	defer span.End()

	catalog := s.Catalog()
	key := s.cacheKey(catalog, text)

	if cached, ok := s.lookup(ctx, key); ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return cached, nil
	}

	out := Score(catalog, text, s.opts.Saturation, s.opts.MaxSuggestions)
	s.store(ctx, key, out)

	span.SetAttributes(
		attribute.Bool("cache_hit", false),
		attribute.Int("suggestions", len(out)),
	)
	return out, nil
}

func (s *Source) cacheKey(c *Catalog, text string) string {
	sum := sha256.Sum256([]byte(text))
	version := c.Checksum()
	if len(version) > 12 {
		version = version[:12]
	}
	return s.opts.KeyPrefix + version + ":" + hex.EncodeToString(sum[:])
}

func (s *Source) lookup(ctx context.Context, key string) ([]detection.Suggestion, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("Suggestion cache read failed", zap.String("key", key), zap.Error(err))
		}
		metrics.CacheMisses.WithLabelValues(cacheName).Inc()
		return nil, false
	}

	var out []detection.Suggestion
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		s.logger.Warn("Discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		metrics.CacheMisses.WithLabelValues(cacheName).Inc()
		return nil, false
	}
	metrics.CacheHits.WithLabelValues(cacheName).Inc()
	return out, true
}

func (s *Source) store(ctx context.Context, key string, out []detection.Suggestion) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(out)
	if err != nil {
		s.logger.Warn("Failed to encode suggestions for cache", zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, key, data, s.opts.CacheTTL); err != nil {
		s.logger.Warn("Suggestion cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Score ranks catalog tools against text. A tool qualifies when at least one
// keyword occurs as a whole-word phrase. Confidence is matched keywords over
// min(saturation, keyword count), capped at 1; score adds the Jaccard
// similarity of text and the tool description to the match count.
func Score(c *Catalog, text string, saturation, limit int) []detection.Suggestion {
	tokens := textsim.Tokenize(text)
	out := make([]detection.Suggestion, 0)
	if len(tokens) == 0 {
		return out
	}

	for _, tool := range c.tools {
		matched := make([]string, 0, len(tool.Keywords))
		for _, kw := range tool.Keywords {
			if textsim.ContainsPhrase(tokens, kw) {
				matched = append(matched, kw)
			}
		}
		if len(matched) == 0 {
			continue
		}

		denom := saturation
		if len(tool.Keywords) < denom {
			denom = len(tool.Keywords)
		}
		confidence := float64(len(matched)) / float64(denom)
		if confidence > 1 {
			confidence = 1
		}
		sim := textsim.Similarity(text, tool.Title+" "+tool.Description)

		title := tool.Title
		if title == "" {
			title = tool.Name
		}
		out = append(out, detection.Suggestion{
			Type:            detection.SuggestionMCPWorkflow,
			ID:              tool.Name,
			Title:           title,
			Category:        tool.Category,
			Description:     tool.Description,
			Score:           float64(len(matched)) + sim,
			Confidence:      confidence,
			MatchedKeywords: matched,
			Reason:          fmt.Sprintf("MCP tool matched %d keywords", len(matched)),
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
