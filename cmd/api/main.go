package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/nexuslabs/nexus-rag/internal/adapters/http"
	"github.com/nexuslabs/nexus-rag/internal/bootstrap"
	"github.com/nexuslabs/nexus-rag/internal/config"
	"github.com/nexuslabs/nexus-rag/internal/observability/logging"
	"github.com/nexuslabs/nexus-rag/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logging.Setup("api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	apiMetrics := metrics.NewAPIMetrics("api")
	app.ObserveWorkflow(metrics.NewWorkflowRecorder(apiMetrics, "api"))
	router := httpadapter.NewRouter(
		app.Workflow,
		app.Ingestor,
		app.Reader,
		app.Remover,
		apiMetrics,
		httpadapter.RouterConfig{
			Service:          "api",
			RateLimitRPS:     cfg.RateLimitRPS,
			RateLimitBurst:   cfg.RateLimitBurst,
			MaxInFlight:      cfg.MaxInFlight,
			BackpressureWait: time.Duration(cfg.BackpressureWaitMS) * time.Millisecond,
		},
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", apiMetrics.Handler())
	mux.Handle("/", router.Handler())

	server := &http.Server{
		Addr:        ":" + cfg.APIPort,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// WriteTimeout stays zero: event streams hold the connection open
		// for the whole workflow turn.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		slog.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("api_shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_failed", "error", err)
	}
}
