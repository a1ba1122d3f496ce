package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backends accepted by STORAGE_BACKEND.
const (
	StorageBackendFilesystem = "filesystem"
	StorageBackendSupabase   = "supabase"
	StorageBackendGCS        = "gcs"
)

// Config represents application configuration loaded from environment variables.
// It is built once at startup and passed by pointer into every component.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	JWTSecret   string

	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIVideoModel string

	StorageBackend         string
	StoragePath            string
	StorageBaseURL         string
	StorageBucket          string
	SupabaseURL            string
	SupabaseServiceRoleKey string
	GCSCredentialsFile     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	FFmpegPath         string
	WatermarkText      string
	WatermarkImagePath string
	ScratchDir         string

	UpstreamTimeout    time.Duration
	TransformTimeout   time.Duration
	StorageTimeout     time.Duration
	MaterializeLockTTL time.Duration
	ReconcileInterval  time.Duration
	ReconcileBatchSize int

	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
	CORSAllowedOrigins []string

	// TrustProxyHeaders takes the client address from X-Forwarded-For or
	// X-Real-IP. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        port,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		OpenAIAPIKey:     strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIVideoModel: getEnv("OPENAI_VIDEO_MODEL", "sora-2"),

		StorageBackend:         strings.ToLower(getEnv("STORAGE_BACKEND", StorageBackendFilesystem)),
		StoragePath:            getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:         getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),
		StorageBucket:          getEnv("STORAGE_BUCKET", "continuity-videos"),
		SupabaseURL:            strings.TrimRight(os.Getenv("SUPABASE_URL"), "/"),
		SupabaseServiceRoleKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		GCSCredentialsFile:     os.Getenv("GCS_CREDENTIALS_FILE"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		FFmpegPath:         getEnv("FFMPEG_PATH", "ffmpeg"),
		WatermarkText:      getEnv("WATERMARK_TEXT", "Continuity Studio"),
		WatermarkImagePath: os.Getenv("WATERMARK_IMAGE_PATH"),
		ScratchDir:         getEnv("SCRATCH_DIR", os.TempDir()),

		UpstreamTimeout:    time.Second * time.Duration(getEnvInt("UPSTREAM_TIMEOUT_SECONDS", 60)),
		TransformTimeout:   time.Second * time.Duration(getEnvInt("TRANSFORM_TIMEOUT_SECONDS", 300)),
		StorageTimeout:     time.Second * time.Duration(getEnvInt("STORAGE_TIMEOUT_SECONDS", 120)),
		MaterializeLockTTL: time.Second * time.Duration(getEnvInt("MATERIALIZE_LOCK_SECONDS", 600)),
		ReconcileInterval:  time.Second * time.Duration(getEnvInt("RECONCILE_INTERVAL_SECONDS", 15)),
		ReconcileBatchSize: getEnvInt("RECONCILE_BATCH_SIZE", 20),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 600)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		TrustProxyHeaders:  getEnvBool("TRUST_PROXY_HEADERS", false),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	switch cfg.StorageBackend {
	case StorageBackendFilesystem:
	case StorageBackendSupabase:
		if cfg.SupabaseURL == "" || cfg.SupabaseServiceRoleKey == "" {
			return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY are required for the supabase backend")
		}
	case StorageBackendGCS:
	default:
		return nil, fmt.Errorf("unsupported STORAGE_BACKEND %q", cfg.StorageBackend)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
