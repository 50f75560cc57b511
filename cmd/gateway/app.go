package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/vyrodovalexey/mcpgw/internal/cache"
	"github.com/vyrodovalexey/mcpgw/internal/circuitbreaker"
	"github.com/vyrodovalexey/mcpgw/internal/config"
	"github.com/vyrodovalexey/mcpgw/internal/forwarder"
	"github.com/vyrodovalexey/mcpgw/internal/gateway"
	"github.com/vyrodovalexey/mcpgw/internal/observability"
	"github.com/vyrodovalexey/mcpgw/internal/scheduler"
)

// run wires the application together and blocks until shutdown.
func run(cfg *config.Config, configPath string, logger observability.Logger) error {
	metrics := observability.NewMetrics(cfg.Observability.MetricsNamespace)

	// Subsystem metrics use promauto's global registry; bridge them
	// onto the registry served at /metrics.
	cache.MustRegister(metrics.Registry())
	circuitbreaker.MustRegister(metrics.Registry())
	scheduler.MustRegister(metrics.Registry())
	forwarder.MustRegister(metrics.Registry())

	tracer := initTracer(cfg, logger)

	orchestrator, err := gateway.New(cfg, logger, gateway.WithMetrics(metrics))
	if err != nil {
		return err
	}

	server := gateway.NewServer(&cfg.Server, orchestrator, logger, metrics)

	watcher := startConfigWatcher(configPath, orchestrator, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutdown signal received",
			observability.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
	}

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", observability.Error(err))
	}

	if err := orchestrator.Cleanup(); err != nil {
		logger.Error("orchestrator cleanup failed", observability.Error(err))
	}

	if tracer != nil {
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Error("tracer shutdown failed", observability.Error(err))
		}
	}

	logger.Info("gateway stopped")
	return nil
}

// initTracer sets up OTLP tracing when enabled.
func initTracer(cfg *config.Config, logger observability.Logger) *observability.Tracer {
	if !cfg.Observability.TracingEnabled {
		return nil
	}

	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  "mcpgw",
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
		SamplingRate: cfg.Observability.SamplingRate,
		Enabled:      true,
	})
	if err != nil {
		logger.Error("failed to initialize tracing, continuing without it",
			observability.Error(err))
		return nil
	}

	logger.Info("tracing initialized",
		observability.String("endpoint", cfg.Observability.OTLPEndpoint))
	return tracer
}

// startConfigWatcher watches the config file and applies reloadable
// settings (the method TTL and priority tables) to the running
// orchestrator. Structural settings still require a restart, which the
// callback makes visible in logs.
func startConfigWatcher(
	configPath string,
	orchestrator *gateway.Orchestrator,
	logger observability.Logger,
) *config.Watcher {
	if configPath == "" {
		return nil
	}
	if _, err := os.Stat(configPath); err != nil {
		return nil
	}

	watcher, err := config.NewWatcher(configPath, func(cfg *config.Config) {
		orchestrator.Reload(cfg)
		logger.Warn("configuration reloaded; settings outside the method tables need a restart to apply")
	}, config.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(context.Background()); err != nil {
		logger.Error("failed to start config watcher", observability.Error(err))
		return nil
	}

	return watcher
}
