package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/dunamismax/pixedit/internal/bgremove"
	"github.com/dunamismax/pixedit/internal/config"
	"github.com/dunamismax/pixedit/internal/domain"
	"github.com/dunamismax/pixedit/internal/pipeline"
	"github.com/dunamismax/pixedit/internal/queue"
	"github.com/dunamismax/pixedit/internal/render"
	"github.com/dunamismax/pixedit/internal/store"
	"github.com/dunamismax/pixedit/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger          *log.Logger
	downloads       downloadSigner
	downloadExpiry  time.Duration
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  *pipeline.Processor
	objectProcessor *pipeline.Processor
	webhookClient   webhookSender
	jobStore        store.JobStore
	usageStore      store.UsageStore
	metrics         *metrics
	tracer          trace.Tracer
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type downloadSigner interface {
	PresignedDownloadURL(ctx context.Context, objectKey, filename string, expiry time.Duration) (string, error)
}

// ObjectStorage is what the worker needs from the object store.
type ObjectStorage interface {
	pipeline.ObjectReader
	pipeline.ObjectWriter
	downloadSigner
}

// Dependencies are the collaborators shared by every job. Storage may be
// nil, in which case only local_file jobs can run.
type Dependencies struct {
	Storage       ObjectStorage
	Webhook       webhookSender
	JobStore      store.JobStore
	UsageStore    store.UsageStore
	EditorOptions []pipeline.EditorOption
	// DownloadExpiry is the lifetime of output links in webhooks.
	DownloadExpiry time.Duration
}

func NewServer(logger *log.Logger, queueCfg config.QueueConfig, workerCfg config.WorkerConfig, deps Dependencies) (*Server, error) {
	localProcessor, err := pipeline.NewLocalProcessor(workerCfg.LocalOutputDir, deps.EditorOptions...)
	if err != nil {
		return nil, fmt.Errorf("initialize local processor: %w", err)
	}

	var objectProcessor *pipeline.Processor
	if deps.Storage != nil {
		objectProcessor, err = pipeline.NewObjectStoreProcessor(
			pipeline.ObjectStoreFetcher{Storage: deps.Storage},
			pipeline.ObjectStoreEmitter{Storage: deps.Storage, OutputPrefix: workerCfg.OutputPrefix},
			deps.EditorOptions...,
		)
		if err != nil {
			return nil, fmt.Errorf("initialize object-store processor: %w", err)
		}
	}

	usageStore := deps.UsageStore
	if usageStore == nil {
		if jobAndUsageStore, ok := deps.JobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	s := &Server{
		logger:         logger,
		downloadExpiry: deps.DownloadExpiry,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:             make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		localProcessor:  localProcessor,
		objectProcessor: objectProcessor,
		webhookClient:   deps.Webhook,
		jobStore:        deps.JobStore,
		usageStore:      usageStore,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("pixedit/worker"),
	}
	if deps.Storage != nil {
		s.downloads = deps.Storage
	}
	if s.downloadExpiry <= 0 {
		s.downloadExpiry = time.Hour
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeRenderImage, s.handleRenderImage)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleRenderImage(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseRenderImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	return s.runJob(ctx, payload)
}

func (s *Server) runJob(ctx context.Context, payload queue.RenderImagePayload) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	ctx, span := s.tracer.Start(ctx, "worker.render_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.Int("job.edits", len(payload.Edits)),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"rendering job_id=%s source_type=%s edits=%d object_key=%s",
		payload.JobID,
		payload.SourceType,
		len(payload.Edits),
		payload.ObjectKey,
	)

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	result, err := s.process(ctx, payload)
	if err != nil {
		kind := failureKind(err)
		s.metrics.failuresTotal.WithLabelValues(kind).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "render failed")

		if kind == "input" {
			err = fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		if !finalAttempt(ctx, err) {
			s.logger.Printf("render attempt failed job_id=%s kind=%s err=%v", payload.JobID, kind, err)
			s.updateJobStatus(ctx, payload.JobID, domain.JobStatusQueued)
			return fmt.Errorf("render job: %w", err)
		}

		s.updateJobStatus(ctx, payload.JobID, domain.JobStatusFailed)
		_ = s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, map[string]any{
			"job_id":       payload.JobID,
			"status":       domain.JobStatusFailed,
			"source_type":  payload.SourceType,
			"object_key":   payload.ObjectKey,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"error_kind":   kind,
			"error":        err.Error(),
		})
		return fmt.Errorf("render job: %w", err)
	}

	s.logger.Printf("rendered job_id=%s outputs=%d", payload.JobID, len(result.Outputs))
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusSucceeded)
	s.metrics.outputsTotal.Add(float64(len(result.Outputs)))
	s.recordUsage(ctx, payload, result, time.Since(startedAt))
	s.signDownloads(ctx, payload, result.Outputs)

	if err := s.dispatchWebhook(ctx, payload, webhook.EventJobCompleted, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"source_type":  payload.SourceType,
		"object_key":   payload.ObjectKey,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"outputs":      result.Outputs,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "rendered")
	return nil
}

func (s *Server) process(ctx context.Context, payload queue.RenderImagePayload) (pipeline.Result, error) {
	request := pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		ObjectKey:  payload.ObjectKey,
		Edits:      payload.Edits,
	}

	switch payload.SourceType {
	case domain.SourceTypeLocalFile:
		return s.localProcessor.Process(ctx, request)
	default:
		if s.objectProcessor == nil {
			return pipeline.Result{}, fmt.Errorf("%w: object storage is not configured", pipeline.ErrUnsupportedSourceType)
		}
		return s.objectProcessor.Process(ctx, request)
	}
}

// failureKind buckets an error the way the HTTP surface does: input errors
// cannot succeed on retry, upstream errors come from the background
// removal model, anything else is a resource error.
func failureKind(err error) string {
	switch {
	case render.IsInputError(err),
		errors.Is(err, pipeline.ErrUnsupportedSourceType),
		errors.Is(err, bgremove.ErrDisabled):
		return "input"
	case errors.Is(err, bgremove.ErrUpstream):
		return "upstream"
	default:
		return "resource"
	}
}

// finalAttempt reports whether asynq will give up on the task after err.
// Outside a task context every attempt is final.
func finalAttempt(ctx context.Context, err error) bool {
	if errors.Is(err, asynq.SkipRetry) {
		return true
	}
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

// signDownloads attaches presigned links to object store outputs. A
// signing failure leaves the link empty; the output itself is written.
func (s *Server) signDownloads(ctx context.Context, payload queue.RenderImagePayload, outputs []pipeline.Output) {
	if s.downloads == nil || payload.SourceType == domain.SourceTypeLocalFile {
		return
	}
	for i := range outputs {
		url, err := s.downloads.PresignedDownloadURL(ctx, outputs[i].Path, path.Base(outputs[i].Path), s.downloadExpiry)
		if err != nil {
			s.logger.Printf("presign download failed job_id=%s key=%s err=%v", payload.JobID, outputs[i].Path, err)
			continue
		}
		outputs[i].DownloadURL = url
	}
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.RenderImagePayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func (s *Server) recordUsage(ctx context.Context, payload queue.RenderImagePayload, result pipeline.Result, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := strings.TrimSpace(payload.UserID)
	if userID == "" && s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, payload.JobID)
		if err != nil {
			s.logger.Printf("usage lookup failed job_id=%s err=%v", payload.JobID, err)
		} else if ok {
			userID = strings.TrimSpace(job.UserID)
		}
	}
	if userID == "" {
		userID = "anonymous"
	}

	var (
		pixelsProcessed  int64
		totalOutputBytes int
	)
	for _, output := range result.Outputs {
		pixelsProcessed += int64(output.Width * output.Height)
		totalOutputBytes += output.Bytes
	}

	bytesSaved := max(0, int64(result.SourceBytes-totalOutputBytes))
	computeTimeMS := max(1, computeDuration.Milliseconds())

	usage := domain.UsageLog{
		UserID:          userID,
		JobID:           payload.JobID,
		PixelsProcessed: pixelsProcessed,
		BytesSaved:      bytesSaved,
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed job_id=%s err=%v", payload.JobID, err)
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(pixelsProcessed))
	s.metrics.bytesSavedTotal.Add(float64(bytesSaved))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}
