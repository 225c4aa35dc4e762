package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dunamismax/pixedit/internal/bgremove"
	"github.com/dunamismax/pixedit/internal/config"
	"github.com/dunamismax/pixedit/internal/pipeline"
	"github.com/dunamismax/pixedit/internal/storage"
	"github.com/dunamismax/pixedit/internal/store"
	"github.com/dunamismax/pixedit/internal/telemetry"
	"github.com/dunamismax/pixedit/internal/webhook"
	"github.com/dunamismax/pixedit/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:    "pixedit-worker",
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Exporter:       cfg.Tracing.Exporter,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		OTLPInsecure:   cfg.Tracing.OTLPInsecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	jobStore, closeStore, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatalf("job store init failed: %v", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Printf("job store close error: %v", err)
		}
	}()

	deps := worker.Dependencies{
		Webhook: webhook.NewClient(webhook.Config{
			SigningSecret:  cfg.Webhook.SigningSecret,
			Timeout:        cfg.Webhook.Timeout,
			MaxAttempts:    cfg.Webhook.MaxAttempts,
			InitialBackoff: cfg.Webhook.InitialBackoff,
			MaxBackoff:     cfg.Webhook.MaxBackoff,
		}),
		JobStore:       jobStore,
		UsageStore:     jobStore,
		DownloadExpiry: cfg.Storage.PresignExpiry,
		EditorOptions: []pipeline.EditorOption{
			pipeline.WithRemover(bgremove.New(bgremove.Config{
				Endpoint: cfg.BackgroundRemoval.Endpoint,
				APIKey:   cfg.BackgroundRemoval.APIKey,
				Timeout:  cfg.BackgroundRemoval.Timeout,
			})),
			pipeline.WithMaxSourcePixels(int64(cfg.Render.MaxSourcePixels)),
		},
	}

	if cfg.Storage.Enabled() {
		objectStore, err := storage.NewClient(storage.Config{
			Endpoint:       cfg.Storage.Endpoint,
			Access:         cfg.Storage.AccessKey,
			Secret:         cfg.Storage.SecretKey,
			Bucket:         cfg.Storage.Bucket,
			UseSSL:         cfg.Storage.UseSSL,
			MaxObjectBytes: cfg.Storage.MaxObjectBytes,
		})
		if err != nil {
			logger.Fatalf("storage init failed: %v", err)
		}
		if err := objectStore.EnsureBucket(ctx); err != nil {
			logger.Fatalf("ensure bucket failed: %v", err)
		}
		logger.Printf("object storage endpoint=%s bucket=%s", cfg.Storage.Endpoint, objectStore.Bucket())
		deps.Storage = objectStore
	}

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, deps)
	if err != nil {
		logger.Fatalf("worker init failed: %v", err)
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s storage=%t",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		deps.Storage != nil,
	)

	// Run blocks until SIGTERM or SIGINT.
	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("metrics shutdown failed: %v", err)
	}
}
