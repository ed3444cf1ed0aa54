package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

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
	logging.Setup("worker", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", workerMetrics.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsServer := &http.Server{
		Addr:        ":" + cfg.WorkerMetricsPort,
		Handler:     metricsMux,
		ReadTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()

	handler := func(ctx context.Context, documentID string) error {
		workerMetrics.StartDocument()
		start := time.Now()

		// Queue lag: time the document spent waiting between upload and
		// this worker picking it up.
		if doc, readErr := app.Reader.GetByID(ctx, documentID); readErr == nil {
			workerMetrics.ObserveQueueLag("worker", start.Sub(doc.CreatedAt))
		}

		err := app.Indexer.IndexByID(ctx, documentID)
		workerMetrics.FinishDocument("worker", time.Since(start), err)
		if err != nil {
			slog.Error("index_document_failed", "document_id", documentID, "error", err)
			return err
		}

		if doc, readErr := app.Reader.GetByID(ctx, documentID); readErr == nil {
			workerMetrics.RecordChunks("worker", doc.ParentCount, doc.ChildCount)
		}
		slog.Info("index_document_done", "document_id", documentID, "duration_ms", time.Since(start).Milliseconds())
		return nil
	}

	slog.Info("worker_started", "subject", cfg.NATSSubject)
	if err := app.Queue.SubscribeDocumentUploaded(ctx, handler); err != nil {
		slog.Error("worker_subscribe_failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	slog.Info("worker_stopped")
}
