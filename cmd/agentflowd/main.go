// Command agentflowd runs the execution engine behind the HTTP API: it
// wires the entity store, the LLM providers, the tool registry, and the
// scheduler into a single process and serves /api/v1/executions* plus a
// Prometheus /metrics endpoint.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/agentflow-run/agentflow/agent"
	"github.com/agentflow-run/agentflow/api"
	"github.com/agentflow-run/agentflow/compiler"
	"github.com/agentflow-run/agentflow/emit"
	"github.com/agentflow-run/agentflow/engine"
	"github.com/agentflow-run/agentflow/llm"
	"github.com/agentflow-run/agentflow/metrics"
	"github.com/agentflow-run/agentflow/store"
	"github.com/agentflow-run/agentflow/toolkit"
)

func main() {
	_ = godotenv.Load()

	cfg := loadConfig()

	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	if cfg.APIKey == "" {
		logger.Error("API_KEY is required")
		os.Exit(1)
	}

	st, err := buildStore(cfg)
	if err != nil {
		logger.Error("failed to open entity store", "error", err)
		os.Exit(1)
	}
	if closer, ok := st.(interface{ Close() error }); ok {
		defer func() { _ = closer.Close() }()
	}

	if cfg.CheckpointDBURL != "" && cfg.CheckpointDBURL != cfg.DatabaseURL {
		logger.Warn("CHECKPOINT_DB_URL differs from DATABASE_URL; ignoring it, entities and checkpoints share one store", "checkpoint_db_url", cfg.CheckpointDBURL, "database_url", cfg.DatabaseURL)
	}

	providers, err := buildProviders(cfg)
	if err != nil {
		logger.Error("failed to configure LLM providers", "error", err)
		os.Exit(1)
	}
	logger.Info("LLM providers configured", "providers", providerNames(providers))

	tracerProvider := trace.NewTracerProvider()
	defer func() { _ = tracerProvider.Shutdown(context.Background()) }()

	sse := emit.NewSSEEmitter()
	emitter := emit.Multi(
		emit.NewLogEmitter(os.Stdout, !cfg.Debug),
		sse,
		emit.NewOTelEmitter(tracerProvider.Tracer("agentflowd")),
	)

	eng := engine.New(st, emitter)
	eng.Metrics = metrics.New(prometheus.DefaultRegisterer)

	deps := compiler.CompileDeps{
		Entities:  st,
		Providers: providers,
		Tools:     toolkit.NewRegistry(),
		RunAgent:  agent.Run,
		RunPlan:   eng.RunPlan,
	}

	apiServer := api.NewServer(eng, st, sse, deps, cfg.APIKey, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", apiServer)

	httpServer := &http.Server{
		Addr:         cfg.Host + ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE streams hold the connection open indefinitely
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
			_ = httpServer.Close()
		}
		if err := emitter.Flush(ctx); err != nil {
			logger.Warn("emitter flush failed", "error", err)
		}
		logger.Info("server stopped")
	}
}

// buildStore dispatches on DatabaseURL: empty means in-memory, a
// "mysql://"-prefixed DSN means MySQL, anything else is treated as a
// SQLite file path.
func buildStore(cfg Config) (store.Store, error) {
	switch {
	case cfg.DatabaseURL == "":
		return store.NewMemory(), nil
	case strings.HasPrefix(cfg.DatabaseURL, "mysql://"):
		return store.NewMySQLStore(strings.TrimPrefix(cfg.DatabaseURL, "mysql://"))
	default:
		return store.NewSQLiteStore(cfg.DatabaseURL)
	}
}

func providerNames(providers map[string]llm.Provider) []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	return names
}
