// Command augment-mcp serves workflow detection and template expansion as MCP
// tools over stdio. Logs go to stderr so stdout stays a clean protocol stream.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/PadsterH2012/archon-plus-sub002/internal/app"
	"github.com/PadsterH2012/archon-plus-sub002/internal/config"
	"github.com/PadsterH2012/archon-plus-sub002/internal/mcpserver"
	"github.com/PadsterH2012/archon-plus-sub002/internal/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config (default $CONFIG_PATH or "+config.DefaultPath+")")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := app.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	shutdownTracing, err := tracing.Initialize(cfg.Tracing, logger)
	if err != nil {
		logger.Warn("Tracing initialization failed, continuing without export", zap.Error(err))
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize service", zap.Error(err))
	}
	defer a.Close()
	if err := a.StartWatching(); err != nil {
		logger.Warn("File watching disabled", zap.Error(err))
	}

	srv := mcpserver.NewServer(a.Detector, a.Expander, a.Templates, a.Components, logger)
	logger.Info("MCP server listening on stdio", zap.String("version", mcpserver.Version))
	if err := srv.ServeStdio(); err != nil {
		logger.Error("MCP server stopped", zap.Error(err))
		_ = a.Close()
		os.Exit(1)
	}

	if shutdownTracing != nil {
		_ = shutdownTracing(ctx)
	}
}
