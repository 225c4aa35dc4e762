package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pixedit/internal/api"
	"github.com/dunamismax/pixedit/internal/bgremove"
	"github.com/dunamismax/pixedit/internal/codec"
	"github.com/dunamismax/pixedit/internal/config"
	"github.com/dunamismax/pixedit/internal/fallback"
	"github.com/dunamismax/pixedit/internal/pipeline"
	"github.com/dunamismax/pixedit/internal/queue"
	"github.com/dunamismax/pixedit/internal/ratelimit"
	"github.com/dunamismax/pixedit/internal/storage"
	"github.com/dunamismax/pixedit/internal/store"
	"github.com/dunamismax/pixedit/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, tracingConfig(cfg.Tracing, "pixedit-api"), logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	if err := fallback.Startup(); err != nil {
		logger.Fatalf("fallback runtime startup failed: %v", err)
	}
	defer fallback.Shutdown()

	transformer, err := fallback.New(fallback.WithMaxPixels(int64(cfg.Render.MaxSourcePixels)))
	if err != nil {
		logger.Fatalf("fallback transformer init failed: %v", err)
	}
	logger.Printf("webp export enabled=%t", codec.SupportsWebP())

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
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

	remover := bgremove.New(bgremove.Config{
		Endpoint: cfg.BackgroundRemoval.Endpoint,
		APIKey:   cfg.BackgroundRemoval.APIKey,
		Timeout:  cfg.BackgroundRemoval.Timeout,
	})
	editor := pipeline.NewEditor(
		pipeline.WithRemover(remover),
		pipeline.WithMaxSourcePixels(int64(cfg.Render.MaxSourcePixels)),
	)

	opts := []api.Option{
		api.WithEditor(editor),
		api.WithRemover(remover),
		api.WithFallback(transformer),
		api.WithMaxUploadBytes(cfg.API.MaxUploadBytes),
		api.WithPresignTTL(cfg.Storage.PresignExpiry),
		api.WithQueueName(cfg.Queue.Name),
		api.WithTracer(otel.Tracer("pixedit/api")),
	}

	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, ratelimit.Config{
			Capacity:  cfg.RateLimit.Capacity,
			Window:    cfg.RateLimit.Window,
			KeyPrefix: cfg.RateLimit.KeyPrefix,
		})
		if err != nil {
			logger.Fatalf("rate limiter init failed: %v", err)
		}
		opts = append(opts, api.WithRateLimiter(limiter, cfg.RateLimit.UserIDHeader))
	}

	var objectStore *storage.Client
	if cfg.Storage.Enabled() {
		objectStore, err = storage.NewClient(storage.Config{
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
	}

	var app *api.Server
	if objectStore != nil {
		app = api.NewServer(logger, queueClient, jobStore, objectStore, opts...)
	} else {
		app = api.NewServer(logger, queueClient, jobStore, nil, opts...)
	}

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s storage=%t rate_limit=%t", cfg.API.Addr, objectStore != nil, cfg.RateLimit.Enabled)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func tracingConfig(cfg config.TracingConfig, service string) telemetry.TraceConfig {
	name := cfg.ServiceName
	if name == "" || name == "pixedit" {
		name = service
	}
	return telemetry.TraceConfig{
		ServiceName:    name,
		ServiceVersion: cfg.ServiceVersion,
		Exporter:       cfg.Exporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		OTLPInsecure:   cfg.OTLPInsecure,
		SampleRatio:    cfg.SampleRatio,
	}
}
