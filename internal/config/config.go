package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
)

type Config struct {
	API               APIConfig
	Queue             QueueConfig
	Worker            WorkerConfig
	Storage           StorageConfig
	Database          DatabaseConfig
	Render            RenderConfig
	BackgroundRemoval BackgroundRemovalConfig
	Webhook           WebhookConfig
	RateLimit         RateLimitConfig
	Tracing           TracingConfig
}

type APIConfig struct {
	Addr           string
	MaxUploadBytes int64
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency    int
	MaxActiveJobs  int
	LocalOutputDir string
	MetricsAddr    string
	// OutputPrefix is the object key prefix for rendered outputs.
	OutputPrefix string
}

type StorageConfig struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Bucket         string
	UseSSL         bool
	PresignExpiry  time.Duration
	MaxObjectBytes int64
}

// Enabled reports whether an object store is configured. An empty
// endpoint keeps the api and worker on local files.
func (s StorageConfig) Enabled() bool {
	return strings.TrimSpace(s.Endpoint) != ""
}

type DatabaseConfig struct {
	DSN string
}

type RenderConfig struct {
	MaxSourcePixels int
	DefaultQuality  float64
}

type BackgroundRemovalConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type RateLimitConfig struct {
	Enabled      bool
	Capacity     int
	Window       time.Duration
	KeyPrefix    string
	UserIDHeader string
}

type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Exporter       string
	OTLPEndpoint   string
	OTLPInsecure   bool
	SampleRatio    float64
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	return Config{
		API: APIConfig{
			Addr:           env("PIXEDIT_API_ADDR", ":8080"),
			MaxUploadBytes: envInt64("PIXEDIT_MAX_UPLOAD_BYTES", 32<<20),
			ReadTimeout:    envDuration("PIXEDIT_API_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:   envDuration("PIXEDIT_API_WRITE_TIMEOUT", 60*time.Second),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:    envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs:  envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			LocalOutputDir: env("WORKER_LOCAL_OUTPUT_DIR", "./.pixedit-output"),
			MetricsAddr:    env("WORKER_METRICS_ADDR", ":9091"),
			OutputPrefix:   env("WORKER_OUTPUT_PREFIX", "outputs"),
		},
		Storage: StorageConfig{
			Endpoint:       env("MINIO_ENDPOINT", ""),
			AccessKey:      env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey:      env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:         env("MINIO_BUCKET", "pixedit-jobs"),
			UseSSL:         envBool("MINIO_USE_SSL", false),
			PresignExpiry:  envDuration("MINIO_PRESIGN_EXPIRY", 15*time.Minute),
			MaxObjectBytes: envInt64("MINIO_MAX_OBJECT_BYTES", 64<<20),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Render: RenderConfig{
			MaxSourcePixels: envInt("PIXEDIT_MAX_SOURCE_PIXELS", 64_000_000),
			DefaultQuality:  envFloat("PIXEDIT_DEFAULT_QUALITY", 0.92),
		},
		BackgroundRemoval: BackgroundRemovalConfig{
			Endpoint: env("BGREMOVE_URL", ""),
			APIKey:   env("BGREMOVE_API_KEY", ""),
			Timeout:  envDuration("BGREMOVE_TIMEOUT", 60*time.Second),
		},
		Webhook: WebhookConfig{
			SigningSecret:  env("WEBHOOK_SIGNING_SECRET", ""),
			Timeout:        envDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:    envInt("WEBHOOK_MAX_ATTEMPTS", 3),
			InitialBackoff: envDuration("WEBHOOK_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     envDuration("WEBHOOK_MAX_BACKOFF", 10*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:      envBool("RATE_LIMIT_ENABLED", false),
			Capacity:     envInt("RATE_LIMIT_CAPACITY", 60),
			Window:       envDuration("RATE_LIMIT_WINDOW", time.Minute),
			KeyPrefix:    env("RATE_LIMIT_KEY_PREFIX", "pixedit:ratelimit"),
			UserIDHeader: env("RATE_LIMIT_USER_ID_HEADER", "X-User-ID"),
		},
		Tracing: TracingConfig{
			ServiceName:    env("OTEL_SERVICE_NAME", "pixedit"),
			ServiceVersion: env("PIXEDIT_VERSION", "dev"),
			Exporter:       env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint:   env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure:   envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:    envFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt64(key string, fallback int64) int64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
