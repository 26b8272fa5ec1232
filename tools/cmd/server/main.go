package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/patrickwarner/dcoserve/internal/api"
	"github.com/patrickwarner/dcoserve/internal/config"
	"github.com/patrickwarner/dcoserve/internal/db"
	"github.com/patrickwarner/dcoserve/internal/geoip"
	"github.com/patrickwarner/dcoserve/internal/macros"
	"github.com/patrickwarner/dcoserve/internal/middleware"
	"github.com/patrickwarner/dcoserve/internal/observability"
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, observability.TracingOptions{
			ServiceName: cfg.ServiceName,
			Endpoint:    cfg.TempoEndpoint,
			Environment: cfg.Environment,
			SampleRate:  cfg.TracingSampleRate,
		})
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	metricsRegistry := observability.NewPrometheusRegistry()

	store, closeStore, err := db.Open(cfg, metricsRegistry, logger)
	defer closeStore()
	if err != nil {
		return err
	}

	// The geo database is optional; without it events carry no country.
	var geoSvc *geoip.GeoIP
	if cfg.GeoIPDB != "" {
		geoSvc, err = geoip.Init(cfg.GeoIPDB)
		if err != nil {
			logger.Warn("geoip disabled", zap.String("path", cfg.GeoIPDB), zap.Error(err))
			geoSvc = nil
		} else {
			defer func() { _ = geoSvc.Close() }()
		}
	}

	macroService := macros.NewService(logger)
	srvDeps := api.NewServer(logger, store, geoSvc, metricsRegistry, macroService, cfg)

	r := api.NewRouter(srvDeps)
	r.Handle("/metrics", promhttp.Handler())

	handler := otelhttp.NewHandler(middleware.WithTraceLogger(logger)(r), "dcoserve")

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("DCO server running",
		zap.String("addr", addr),
		zap.String("storage_backend", cfg.StorageBackend),
		zap.Bool("cache_enabled", cfg.CacheEnabled))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
