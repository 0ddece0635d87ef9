package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/PadsterH2012/archon-plus-sub002/internal/app"
	"github.com/PadsterH2012/archon-plus-sub002/internal/config"
	"github.com/PadsterH2012/archon-plus-sub002/internal/health"
	"github.com/PadsterH2012/archon-plus-sub002/internal/httpapi"
	"github.com/PadsterH2012/archon-plus-sub002/internal/tracing"
)

func main() {
	cfg, err := config.Load()
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize service", zap.Error(err))
	}
	if err := a.StartWatching(); err != nil {
		logger.Warn("File watching disabled", zap.Error(err))
	}

	mux := http.NewServeMux()
	health.NewHTTPHandler(a.Health, logger).RegisterRoutes(mux)
	httpapi.NewAugmentHandler(a.Detector, a.Expander, a.Templates, a.Components, logger).RegisterRoutes(mux)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	limiter := httpapi.NewRateLimiter(cfg.Server.RateLimit.RequestsPerSecond, cfg.Server.RateLimit.Burst, logger)
	handler := httpapi.Chain(mux,
		httpapi.RequestID,
		func(next http.Handler) http.Handler { return httpapi.Instrument(logger, next) },
		limiter.Middleware,
	)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			zap.String("address", server.Addr),
			zap.String("environment", cfg.Environment),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down task augmentation service")
	case err := <-errCh:
		logger.Error("HTTP server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if err := a.Close(); err != nil {
		logger.Error("Failed to release resources", zap.Error(err))
	}
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("Tracing shutdown failed", zap.Error(err))
		}
	}
}
