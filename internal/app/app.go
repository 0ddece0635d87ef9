// Package app wires configuration into the detection and expansion core and
// its optional Redis, Postgres and file-watch collaborators. Both the HTTP
// service and the MCP server start from here.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/PadsterH2012/archon-plus-sub002/internal/circuitbreaker"
	"github.com/PadsterH2012/archon-plus-sub002/internal/components"
	"github.com/PadsterH2012/archon-plus-sub002/internal/config"
	"github.com/PadsterH2012/archon-plus-sub002/internal/db"
	"github.com/PadsterH2012/archon-plus-sub002/internal/detection"
	"github.com/PadsterH2012/archon-plus-sub002/internal/health"
	"github.com/PadsterH2012/archon-plus-sub002/internal/templates"
	"github.com/PadsterH2012/archon-plus-sub002/internal/toolcatalog"
	"github.com/PadsterH2012/archon-plus-sub002/internal/workflowstore"
)

// App holds the assembled core and everything that must be closed with it.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Templates  *templates.Registry
	Components *components.Registry
	Tools      *toolcatalog.Source
	Detector   *detection.Detector
	Expander   *templates.Expander
	Health     *health.Manager
	Store      *workflowstore.Store

	componentDirs []string
	watcher       *config.DirWatcher
	closers       []func() error
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid logging.level %q: %w", cfg.Level, err)
	}
	zc := zap.NewProductionConfig()
	if strings.EqualFold(cfg.Format, "console") {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// New loads the registries and catalogs, connects the optional backends and
// registers health checkers. Backends that are enabled but unreachable are
// fatal; missing optional files are logged and skipped.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Config:     cfg,
		Logger:     logger,
		Templates:  templates.NewRegistry(),
		Components: components.NewRegistry(),
		Health:     health.NewManager(logger),
	}

	if err := a.Templates.LoadDirectory(cfg.Templates.Dir); err != nil {
		switch {
		case templates.IsLoadError(err):
			// Individual bad files are skipped; the rest stay usable.
			logger.Warn("Some templates failed to load", zap.Error(err))
		case errors.Is(err, fs.ErrNotExist):
			logger.Warn("Template directory not found", zap.String("dir", cfg.Templates.Dir))
		default:
			return nil, fmt.Errorf("load templates: %w", err)
		}
	}
	logger.Info("Templates loaded", zap.String("dir", cfg.Templates.Dir), zap.Int("count", a.Templates.Len()))

	a.componentDirs = components.ResolveDirs(cfg.Components.Dirs)
	if err := a.Components.LoadDirectories(a.componentDirs); err != nil {
		return nil, fmt.Errorf("load components: %w", err)
	}
	logger.Info("Components loaded", zap.Strings("dirs", a.componentDirs), zap.Int("count", a.Components.Count()))

	detectorOpts := []detection.Option{
		detection.WithLogger(logger),
		detection.WithThresholds(detection.Thresholds{
			AutoExecute: cfg.Detection.Thresholds.AutoExecute,
			Preview:     cfg.Detection.Thresholds.Preview,
		}),
	}
	if path := cfg.Detection.CatalogPath; path != "" {
		catalog, err := detection.LoadCatalog(path)
		if err != nil {
			return nil, fmt.Errorf("load keyword catalog: %w", err)
		}
		detectorOpts = append(detectorOpts, detection.WithCatalog(catalog))
	}

	cache, err := a.connectRedis(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	toolCatalog, err := loadToolCatalog(cfg.Tools.CatalogPath, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Tools = toolcatalog.NewSource(toolCatalog, cache, cfg.Tools.Options, logger)
	detectorOpts = append(detectorOpts, detection.WithMCPSource(a.Tools))

	if err := a.connectDatabase(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if a.Store != nil {
		detectorOpts = append(detectorOpts, detection.WithExistingSource(a.Store))
	}

	a.Detector = detection.NewDetector(detectorOpts...)
	a.Expander = templates.NewExpander(a.Templates, a.Components, logger)

	a.registerChecker(health.NewRegistryChecker("templates", a.Templates.Len))
	a.registerChecker(health.NewRegistryChecker("components", a.Components.Count))
	a.registerChecker(health.NewRegistryChecker("tool_catalog", func() int { return a.Tools.Catalog().Len() }))
	return a, nil
}

// registerChecker adds c to readiness. A rejected checker is logged and the
// service starts without it.
func (a *App) registerChecker(c health.Checker) {
	if err := a.Health.RegisterChecker(c); err != nil {
		a.Logger.Warn("Health checker not registered",
			zap.String("checker", c.Name()),
			zap.Error(err),
		)
	}
}

func (a *App) connectRedis(ctx context.Context) (toolcatalog.Cache, error) {
	rc := a.Config.Redis
	if !rc.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	wrapper := circuitbreaker.NewRedisWrapper(client, "suggestion-cache", rc.CircuitBreaker, a.Logger)
	a.closers = append(a.closers, wrapper.Close)

	if err := wrapper.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", rc.Addr, err)
	}
	// The cache is an optimisation, so a tripped breaker degrades readiness
	// without failing it.
	a.registerChecker(health.NewDependencyChecker("redis", false, wrapper.Ping, wrapper.IsCircuitBreakerOpen))
	a.Logger.Info("Redis suggestion cache enabled", zap.String("addr", rc.Addr))
	return wrapper, nil
}

func (a *App) connectDatabase(ctx context.Context) error {
	if !a.Config.Database.Enabled {
		return nil
	}
	client, err := db.NewClient(ctx, a.Config.Database, a.Logger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	a.closers = append(a.closers, client.Close)

	store := workflowstore.New(client.Wrapper(), a.Config.WorkflowStore.Options, a.Logger)
	if a.Config.WorkflowStore.Migrate {
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate workflow store: %w", err)
		}
	}
	a.Store = store
	a.registerChecker(health.NewDependencyChecker("postgres", true, client.Ping, client.Wrapper().IsCircuitBreakerOpen))
	return nil
}

// loadToolCatalog tolerates a missing file so the service can run without
// MCP suggestions.
func loadToolCatalog(path string, logger *zap.Logger) (*toolcatalog.Catalog, error) {
	if path == "" {
		return nil, nil
	}
	c, err := toolcatalog.LoadCatalog(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("Tool catalog not found, MCP suggestions disabled", zap.String("path", path))
			return nil, nil
		}
		return nil, fmt.Errorf("load tool catalog: %w", err)
	}
	logger.Info("Tool catalog loaded", zap.String("path", path), zap.Int("tools", c.Len()))
	return c, nil
}

// StartWatching reloads templates, components and catalogs when their files
// change. Paths that do not exist are not watched.
func (a *App) StartWatching() error {
	if !a.Config.Watch.Enabled {
		return nil
	}
	w, err := config.NewDirWatcher(a.Config.Watch.Debounce, a.Logger)
	if err != nil {
		return err
	}

	type target struct {
		name   string
		path   string
		reload config.ReloadFunc
	}
	targets := []target{{
		name:   "templates",
		path:   a.Config.Templates.Dir,
		reload: func() error { return a.Templates.Reload(a.Config.Templates.Dir) },
	}}
	for _, dir := range a.componentDirs {
		targets = append(targets, target{
			name:   "components",
			path:   dir,
			reload: func() error { return a.Components.Reload(a.componentDirs) },
		})
	}
	if path := a.Config.Tools.CatalogPath; path != "" {
		targets = append(targets, target{name: "tool_catalog", path: path, reload: func() error { return a.Tools.Reload(path) }})
	}
	if path := a.Config.Detection.CatalogPath; path != "" {
		targets = append(targets, target{name: "keyword_catalog", path: path, reload: func() error { return a.Detector.ReloadCatalog(path) }})
	}

	for _, t := range targets {
		if _, err := os.Stat(t.path); err != nil {
			a.Logger.Debug("Not watching missing path", zap.String("name", t.name), zap.String("path", t.path))
			continue
		}
		if err := w.Watch(t.name, t.path, t.reload); err != nil {
			_ = w.Stop()
			return err
		}
	}
	w.Start()
	a.watcher = w
	return nil
}

// Close stops the watcher and releases backend connections.
func (a *App) Close() error {
	var errs []error
	if a.watcher != nil {
		errs = append(errs, a.watcher.Stop())
		a.watcher = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
