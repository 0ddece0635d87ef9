package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/PadsterH2012/archon-plus-sub002/internal/config"
	"github.com/PadsterH2012/archon-plus-sub002/internal/detection"
	"github.com/PadsterH2012/archon-plus-sub002/internal/health"
	"github.com/PadsterH2012/archon-plus-sub002/internal/templates"
)

const (
	bugfixTemplate = `name: bugfix
title: Bug fix
template_type: task
template_content: |-
  {{group::read_code}}
  {{USER_TASK}}
  {{group::run_tests}}
`
	readCode = `---
name: read_code
category: analysis
estimated_duration_minutes: 5
---

Read the code.
`
	runTests = `---
name: run_tests
category: quality
estimated_duration_minutes: 10
---

Run the tests.
`
	toolCatalog = `tools:
  - name: deploy_service
    title: Deploy service
    category: deployment
    keywords: [deploy, rollout]
`
)

type fixture struct {
	cfg          *config.Config
	templatesDir string
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	tplDir := filepath.Join(root, "templates")
	compDir := filepath.Join(root, "components")
	writeFile(t, filepath.Join(tplDir, "bugfix.yaml"), bugfixTemplate)
	writeFile(t, filepath.Join(compDir, "read_code.md"), readCode)
	writeFile(t, filepath.Join(compDir, "run_tests.md"), runTests)
	writeFile(t, filepath.Join(root, "tools.yaml"), toolCatalog)

	cfg, err := config.LoadFile("")
	require.NoError(t, err)
	cfg.Templates.Dir = tplDir
	cfg.Components.Dirs = []string{compDir}
	cfg.Tools.CatalogPath = filepath.Join(root, "tools.yaml")
	cfg.Watch.Enabled = false
	return fixture{cfg: cfg, templatesDir: tplDir}
}

func TestNewWiresCore(t *testing.T) {
	f := newFixture(t)
	a, err := New(context.Background(), f.cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, 1, a.Templates.Len())
	assert.Equal(t, 2, a.Components.Count())
	assert.Equal(t, 1, a.Tools.Catalog().Len())
	assert.Nil(t, a.Store)

	res, err := a.Expander.Expand(context.Background(), templates.ExpansionRequest{
		TemplateName:        "bugfix",
		OriginalDescription: "Fix the crash",
	})
	require.NoError(t, err)
	assert.Equal(t, "Read the code.\nFix the crash\nRun the tests.", res.ExpandedInstructions)

	det := a.Detector.Detect(context.Background(), detection.DetectionRequest{Title: "Deploy the billing service"})
	require.Empty(t, det.Error)
	assert.Equal(t, 1, det.DetectionMetadata["mcp_matches"])

	assert.True(t, a.Health.IsReady(context.Background()))
}

func TestNewWithRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	f := newFixture(t)
	f.cfg.Redis.Enabled = true
	f.cfg.Redis.Addr = mr.Addr()

	a, err := New(context.Background(), f.cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	det := a.Detector.Detect(context.Background(), detection.DetectionRequest{Title: "Roll out: deploy v2"})
	require.Empty(t, det.Error)
	assert.NotEmpty(t, mr.Keys(), "suggestions should be cached")

	report := a.Health.Run(context.Background())
	assert.Contains(t, report.Components, "redis")
}

func TestNewFailsOnUnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	f := newFixture(t)
	f.cfg.Redis.Enabled = true
	f.cfg.Redis.Addr = addr

	_, err := New(context.Background(), f.cfg, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "connect redis")
}

func TestNewToleratesMissingOptionalFiles(t *testing.T) {
	f := newFixture(t)
	f.cfg.Templates.Dir = filepath.Join(t.TempDir(), "absent")
	f.cfg.Tools.CatalogPath = filepath.Join(t.TempDir(), "absent.yaml")

	a, err := New(context.Background(), f.cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, 0, a.Templates.Len())
	assert.Equal(t, 0, a.Tools.Catalog().Len())
}

func TestStartWatchingReloadsTemplates(t *testing.T) {
	f := newFixture(t)
	f.cfg.Watch.Enabled = true
	f.cfg.Watch.Debounce = 20 * time.Millisecond

	a, err := New(context.Background(), f.cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.StartWatching())

	writeFile(t, filepath.Join(f.templatesDir, "review.yaml"), `name: review
title: Review
template_content: "{{USER_TASK}}\n{{group::run_tests}}"
`)

	assert.Eventually(t, func() bool { return a.Templates.Len() == 2 }, 3*time.Second, 20*time.Millisecond)
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = NewLogger(config.LoggingConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)
}

func TestShippedConfig(t *testing.T) {
	root := filepath.Join("..", "..")
	cfg, err := config.LoadFile(filepath.Join(root, "config", "augment.yaml"))
	require.NoError(t, err)
	cfg.Templates.Dir = filepath.Join(root, "config", "templates")
	cfg.Components.Dirs = []string{filepath.Join(root, "config", "components")}
	cfg.Tools.CatalogPath = filepath.Join(root, "config", "tools.yaml")
	cfg.Detection.CatalogPath = filepath.Join(root, "config", "catalog.yaml")
	cfg.Watch.Enabled = false

	a, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	for _, tpl := range a.Templates.List() {
		assert.NoError(t, a.Expander.ValidateTemplate(context.Background(), tpl.Name), tpl.Name)
	}

	det := a.Detector.Detect(context.Background(), detection.DetectionRequest{
		Title:       "Fix login crash",
		Description: "The login page crashes after the oauth redirect; add a regression test",
	})
	require.Empty(t, det.Error)
	require.NotEmpty(t, det.WorkflowSuggestions)
	assert.Equal(t, "bug_fix", det.WorkflowSuggestions[0].ID)
}

func TestRegisterCheckerLogsRejection(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	logger := zap.New(core)
	a := &App{Logger: logger, Health: health.NewManager(logger)}

	count := func() int { return 1 }
	a.registerChecker(health.NewRegistryChecker("templates", count))
	a.registerChecker(health.NewRegistryChecker("templates", count))

	entries := logs.FilterMessage("Health checker not registered").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "templates", entries[0].ContextMap()["checker"])
	assert.Len(t, a.Health.Run(context.Background()).Components, 1)
}
