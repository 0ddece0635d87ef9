package toolcatalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/PadsterH2012/archon-plus-sub002/internal/circuitbreaker"
	"github.com/PadsterH2012/archon-plus-sub002/internal/detection"
)

const toolsYAML = `
tools:
  - name: github_pr_review
    title: Review a GitHub pull request
    description: Fetch a pull request and post review comments
    category: code_review
    keywords: [pull request, review, github]
  - name: deploy_service
    title: Deploy service
    description: Roll out a service to an environment
    category: deployment
    keywords: [deploy, rollout]
`

func mustCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := DecodeCatalog(strings.NewReader(toolsYAML))
	require.NoError(t, err)
	return c
}

func TestDecodeCatalog(t *testing.T) {
	c := mustCatalog(t)
	assert.Equal(t, 2, c.Len())
	assert.Len(t, c.Checksum(), 64)
	assert.Equal(t, []string{"pull request", "review", "github"}, c.Tools()[0].Keywords)

	_, err := DecodeCatalog(strings.NewReader("tools:\n  - name: a\n    keywords: [x]\n  - name: a\n    keywords: [y]\n"))
	assert.ErrorContains(t, err, "duplicate tool")

	_, err = DecodeCatalog(strings.NewReader("tools:\n  - name: a\n"))
	assert.ErrorContains(t, err, "at least one keyword")

	_, err = DecodeCatalog(strings.NewReader("tools:\n  - name: a\n    keywords: [x]\n    extra: 1\n"))
	assert.Error(t, err)
}

func TestScore(t *testing.T) {
	c := mustCatalog(t)

	got := Score(c, "Please review the pull request on GitHub", 3, 5)
	require.Len(t, got, 1)
	s := got[0]
	assert.Equal(t, detection.SuggestionMCPWorkflow, s.Type)
	assert.Equal(t, "github_pr_review", s.ID)
	assert.Equal(t, []string{"pull request", "review", "github"}, s.MatchedKeywords)
	assert.Equal(t, 1.0, s.Confidence)
	assert.Greater(t, s.Score, 3.0)

	got = Score(c, "deploy it", 3, 5)
	require.Len(t, got, 1)
	assert.Equal(t, 0.5, got[0].Confidence)

	assert.Empty(t, Score(c, "write some docs", 3, 5))
	assert.Empty(t, Score(c, "", 3, 5))
}

func TestSourceCachesSuggestions(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	logger := zaptest.NewLogger(t)
	cache := circuitbreaker.NewRedisWrapper(client, "test-toolcatalog", circuitbreaker.Settings{}, logger)
	src := NewSource(mustCatalog(t), cache, Options{CacheTTL: time.Minute}, logger)
	ctx := context.Background()

	first, err := src.MCPWorkflowSuggestions(ctx, "deploy the api")
	require.NoError(t, err)
	require.Len(t, first, 1)

	keys := s.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "augment:mcp:"))
	assert.Equal(t, time.Minute, s.TTL(keys[0]))

	// Served from the cache once the stored entry is rewritten.
	s.Set(keys[0], `[{"type":"mcp_workflow","workflow_name":"cached_tool","score":9,"confidence":0.9,"matched_keywords":[],"suggestion_reason":"cached"}]`)
	second, err := src.MCPWorkflowSuggestions(ctx, "deploy the api")
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "cached_tool", second[0].ID)
}

type failingCache struct{ gets, sets int }

func (f *failingCache) Get(context.Context, string) (string, error) {
	f.gets++
	return "", errors.New("redis down")
}

func (f *failingCache) Set(context.Context, string, interface{}, time.Duration) error {
	f.sets++
	return errors.New("redis down")
}

func TestSourceIgnoresCacheFailures(t *testing.T) {
	cache := &failingCache{}
	src := NewSource(mustCatalog(t), cache, Options{}, zaptest.NewLogger(t))

	got, err := src.MCPWorkflowSuggestions(context.Background(), "rollout to prod")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "deploy_service", got[0].ID)
	assert.Equal(t, 1, cache.gets)
	assert.Equal(t, 1, cache.sets)
}

func TestSourceReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(toolsYAML), 0644))

	src := NewSource(nil, nil, Options{}, zaptest.NewLogger(t))
	assert.Equal(t, 0, src.Catalog().Len())

	require.NoError(t, src.Reload(path))
	assert.Equal(t, 2, src.Catalog().Len())

	require.NoError(t, os.WriteFile(path, []byte("tools: [{name: x}]"), 0644))
	assert.Error(t, src.Reload(path))
	assert.Equal(t, 2, src.Catalog().Len(), "failed reload keeps the previous catalog")
}

func TestSourceFeedsDetector(t *testing.T) {
	src := NewSource(mustCatalog(t), nil, Options{}, zaptest.NewLogger(t))
	d := detection.NewDetector(detection.WithMCPSource(src))

	res := d.Detect(context.Background(), detection.DetectionRequest{
		Title:       "Review pull request",
		Description: "Review the GitHub pull request for the payment service",
	})
	require.False(t, res.Degraded(), res.Error)
	require.NotEmpty(t, res.WorkflowSuggestions)
	assert.Equal(t, 1, res.DetectionMetadata["mcp_matches"])
}
