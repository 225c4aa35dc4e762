package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dunamismax/pixedit/internal/bgremove"
	"github.com/dunamismax/pixedit/internal/domain"
	"github.com/dunamismax/pixedit/internal/fallback"
	"github.com/dunamismax/pixedit/internal/id"
	"github.com/dunamismax/pixedit/internal/pipeline"
	"github.com/dunamismax/pixedit/internal/queue"
	"github.com/dunamismax/pixedit/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
)

const defaultMaxUploadBytes = 32 << 20

type Server struct {
	logger                *log.Logger
	queueClient           queueEnqueuer
	queueName             string
	jobStore              store.JobStore
	storage               objectStorage
	presignTTL            time.Duration
	editor                *pipeline.Editor
	remover               bgremove.Remover
	fallback              fallback.Transformer
	maxUploadBytes        int64
	metrics               *metrics
	tracer                trace.Tracer
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	mux                   *http.ServeMux
}

type queueEnqueuer interface {
	EnqueueRenderImage(ctx context.Context, payload queue.RenderImagePayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

type Option func(*Server)

func WithPresignTTL(ttl time.Duration) Option {
	return func(s *Server) {
		if ttl > 0 {
			s.presignTTL = ttl
		}
	}
}

// WithEditor sets the editor behind /v1/render. Its remover should match
// the one given to WithRemover.
func WithEditor(editor *pipeline.Editor) Option {
	return func(s *Server) {
		if editor != nil {
			s.editor = editor
		}
	}
}

func WithRemover(remover bgremove.Remover) Option {
	return func(s *Server) {
		if remover != nil {
			s.remover = remover
		}
	}
}

func WithFallback(t fallback.Transformer) Option {
	return func(s *Server) {
		s.fallback = t
	}
}

func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

func WithQueueName(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.queueName = name
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Server) {
		s.tracer = tracer
	}
}

// WithRateLimiter limits mutating routes per value of userIDHeader.
func WithRateLimiter(limiter RateLimiter, userIDHeader string) Option {
	return func(s *Server) {
		s.rateLimiter = limiter
		if strings.TrimSpace(userIDHeader) != "" {
			s.rateLimitUserIDHeader = userIDHeader
		}
	}
}

func NewServer(logger *log.Logger, queueClient queueEnqueuer, jobStore store.JobStore, storage objectStorage, opts ...Option) *Server {
	if storage == nil {
		storage = unavailableObjectStorage{}
	}

	s := &Server{
		logger:                logger,
		queueClient:           queueClient,
		queueName:             "default",
		jobStore:              jobStore,
		storage:               storage,
		presignTTL:            15 * time.Minute,
		editor:                pipeline.NewEditor(),
		remover:               bgremove.New(bgremove.Config{}),
		maxUploadBytes:        defaultMaxUploadBytes,
		metrics:               newMetrics(),
		rateLimitUserIDHeader: "X-User-ID",
		mux:                   http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.withRateLimit(h)
	h = s.withTracing(h)
	h = s.metrics.withHTTPMetrics(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())

	s.mux.HandleFunc("POST /v1/render", s.handleRender)
	s.mux.HandleFunc("POST /v1/remove-background", s.handleRemoveBackground)
	s.mux.HandleFunc("POST /process", s.handleProcess)

	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("POST /v1/jobs/{id}/start", s.handleStartJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "PixEdit API v1.0 - Active")
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	jobID := id.New()
	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))
	objectKey := strings.TrimSpace(req.ObjectKey)
	uploadState := "not_required"
	presignedPutURL := ""

	if sourceType == domain.SourceTypeS3Presigned {
		objectKey = fmt.Sprintf("uploads/%s/source", jobID)
		url, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
		if err != nil {
			s.logger.Printf("generate presigned url failed job_id=%s err=%v", jobID, err)
			writeError(w, http.StatusInternalServerError, "failed to generate upload URL")
			return
		}
		presignedPutURL = url
		uploadState = "ready"
	}

	job := domain.Job{
		ID:         jobID,
		UserID:     strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader)),
		Status:     domain.JobStatusCreated,
		SourceType: sourceType,
		WebhookURL: req.WebhookURL,
		Edits:      req.Edits,
		ObjectKey:  objectKey,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed job_id=%s err=%v", job.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
		"edits":  len(job.Edits),
		"upload": map[string]string{
			"object_key":          job.ObjectKey,
			"presigned_put_url":   presignedPutURL,
			"presigned_url_state": uploadState,
		},
		"start_url": fmt.Sprintf("/v1/jobs/%s/start", job.ID),
	})
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.PathValue("id"))
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "expected path format /v1/jobs/{id}/start")
		return
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed job_id=%s err=%v", jobID, err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status != domain.JobStatusCreated {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is already %s", job.Status))
		return
	}

	if err := s.verifySourceExists(r.Context(), job); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	payload := queue.RenderImagePayload{
		JobID:       job.ID,
		UserID:      job.UserID,
		SourceType:  job.SourceType,
		WebhookURL:  job.WebhookURL,
		ObjectKey:   job.ObjectKey,
		Edits:       job.Edits,
		RequestedAt: time.Now().UTC(),
	}

	taskInfo, err := s.queueClient.EnqueueRenderImage(r.Context(), payload)
	if err != nil {
		s.logger.Printf("enqueue failed job_id=%s err=%v", job.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Printf("update status failed job_id=%s err=%v", job.ID, err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.PathValue("id"))

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed job_id=%s err=%v", jobID, err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":      job.ID,
		"status":      job.Status,
		"source_type": job.SourceType,
		"object_key":  job.ObjectKey,
		"edits":       job.Edits,
		"created_at":  job.CreatedAt,
		"updated_at":  job.UpdatedAt,
	})
}

func (s *Server) verifySourceExists(ctx context.Context, job domain.Job) error {
	switch job.SourceType {
	case domain.SourceTypeLocalFile:
		if _, err := os.Stat(job.ObjectKey); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("source object is missing: %s", job.ObjectKey)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		return nil
	default:
		exists, err := s.storage.ObjectExists(ctx, job.ObjectKey)
		if err != nil {
			return fmt.Errorf("source object check failed: %w", err)
		}
		if !exists {
			return fmt.Errorf("source object is missing: %s", job.ObjectKey)
		}
		return nil
	}
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	return decodeStrict(io.LimitReader(r.Body, maxBodyBytes), into)
}

func decodeStrict(body io.Reader, into any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
