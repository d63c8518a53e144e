// Package config loads the service configuration from a .env file, flags,
// and the environment, in that precedence order (environment wins).
package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string
	Env  string

	Model   ModelConfig
	Cache   CacheConfig
	Store   StoreConfig
	Archive ArchiveConfig
	Trace   TraceConfig
	Alert   AlertConfig
}

type ModelConfig struct {
	GeminiAPIKey  string
	GroqAPIKey    string
	GroqModel     string
	PrimaryModel  string
	FallbackModel string
	MaxRetries    int
	RetryBase     time.Duration
	AbortOnError  bool
	RPS           float64
	Burst         int
}

type CacheConfig struct {
	// Dir enables the disk cache when set; otherwise the memory cache is used.
	Dir        string
	MaxEntries int
	TTL        time.Duration
}

type StoreConfig struct {
	// PostgresDSN enables the Postgres plan store when set.
	PostgresDSN string
}

type ArchiveConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type TraceConfig struct {
	MaxRuns   int
	MaxEvents int
	TTL       time.Duration
}

type AlertConfig struct {
	Window       time.Duration
	MaxPerWindow int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port := flag.String("port", ":8080", "server port")
	flag.Parse()

	if envPort := os.Getenv("PORT"); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	return &Config{
		Port:    *port,
		Env:     env,
		Model:   loadModelConfig(),
		Cache:   loadCacheConfig(),
		Store:   StoreConfig{PostgresDSN: strings.TrimSpace(os.Getenv("PLAN_STORE_PG_DSN"))},
		Archive: loadArchiveConfig(env),
		Trace:   loadTraceConfig(),
		Alert:   loadAlertConfig(),
	}, nil
}

func loadModelConfig() ModelConfig {
	return ModelConfig{
		GeminiAPIKey:  strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GroqAPIKey:    strings.TrimSpace(os.Getenv("GROQ_API_KEY")),
		GroqModel:     firstNonEmpty(strings.TrimSpace(os.Getenv("GROQ_MODEL")), "llama-3.3-70b-versatile"),
		PrimaryModel:  firstNonEmpty(strings.TrimSpace(os.Getenv("PRIMARY_MODEL")), "gemini-2.5-flash"),
		FallbackModel: firstNonEmpty(strings.TrimSpace(os.Getenv("FALLBACK_MODEL")), "gemini-2.5-flash-lite"),
		MaxRetries:    envInt("MODEL_MAX_RETRIES", 3),
		RetryBase:     envDuration("MODEL_RETRY_BASE", 500*time.Millisecond),
		AbortOnError:  envBool("ABORT_ON_DAY_ERROR", false),
		RPS:           envFloat("MODEL_RPS", 2),
		Burst:         envInt("MODEL_BURST", 4),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Dir:        strings.TrimSpace(os.Getenv("CACHE_DIR")),
		MaxEntries: envInt("CACHE_MAX_ENTRIES", 2048),
		TTL:        envDuration("CACHE_TTL", 24*time.Hour),
	}
}

func loadArchiveConfig(env string) ArchiveConfig {
	endpoint := resolveArchiveEndpoint(env)
	return ArchiveConfig{
		Enabled:   endpoint != "",
		Endpoint:  endpoint,
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARCHIVE_S3_REGION")), "us-east-1"),
		AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARCHIVE_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
		SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARCHIVE_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
		Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARCHIVE_S3_BUCKET")), "cheffy-plans"),
		UseSSL:    resolveArchiveUseSSL(env),
	}
}

func resolveArchiveEndpoint(env string) string {
	if strings.EqualFold(env, "local") {
		return strings.TrimSpace(os.Getenv("ARCHIVE_MINIO_ENDPOINT"))
	}
	return strings.TrimSpace(os.Getenv("ARCHIVE_S3_ENDPOINT"))
}

func resolveArchiveUseSSL(env string) bool {
	if strings.EqualFold(env, "local") {
		return false
	}
	raw := strings.TrimSpace(os.Getenv("ARCHIVE_S3_USE_SSL"))
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func loadTraceConfig() TraceConfig {
	return TraceConfig{
		MaxRuns:   envInt("TRACE_MAX_RUNS", 200),
		MaxEvents: envInt("TRACE_MAX_EVENTS", 500),
		TTL:       envDuration("TRACE_TTL", time.Hour),
	}
}

func loadAlertConfig() AlertConfig {
	return AlertConfig{
		Window:       envDuration("ALERT_WINDOW", time.Minute),
		MaxPerWindow: envInt("ALERT_MAX_PER_WINDOW", 5),
	}
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func envFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
