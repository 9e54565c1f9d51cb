package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	Port     int
	LogLevel string

	// Hazard store
	DatabaseDriver string // "pgx", "postgres" or "sqlite3"
	DatabaseUrl    string

	// Static documents loaded at start
	SceneRulesPath string
	CamerasPath    string

	// Scene state storage
	StateStorageProvider string // "local" or "r2"
	LocalStoragePath     string
	SceneStateKey        string
	SceneHistorySize     int

	// R2 Storage (production)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2Endpoint        string // Optional, for S3-compatible stores other than R2

	// AI Provider Configuration
	AIProvider       string // "anthropic", "openai" or "mock"
	AnthropicAPIKey  string
	AnthropicModel   string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIModel      string
	AIMaxRetries     int
	AIRetryBaseDelay time.Duration
	AIRequestTimeout time.Duration

	// Frame handling
	FrameMaxDimension int
	FrameJPEGQuality  int
	MaxUploadSize     int64

	// Frames accepted per camera (or scene) per window; 0 disables the limit
	FrameRateLimit  int
	FrameRateWindow time.Duration

	// Hazard lifecycle
	AllowReopenResolved bool

	// Persistence retries for hazard and scene state writes
	PersistMaxRetries     int
	PersistRetryBaseDelay time.Duration

	// Locks
	LockProvider  string // "memory" or "redis"
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration

	// Alert publishing. MQTT is disabled when the broker URL is empty.
	MQTTBrokerURL   string
	MQTTClientID    string
	MQTTTopicPrefix string
	MQTTUsername    string
	MQTTPassword    string

	// Origins allowed to open the alert WebSocket; empty means same-origin only
	AlertAllowedOrigins []string

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		DatabaseDriver: getEnv("DATABASE_DRIVER", DriverPgx),

		SceneRulesPath: getEnv("SCENE_RULES_PATH", "./config/scene_rules.yaml"),
		CamerasPath:    getEnv("CAMERAS_PATH", "./config/cameras.yaml"),

		// Scene state defaults to local filesystem for development
		StateStorageProvider: getEnv("STATE_STORAGE_PROVIDER", "local"),
		LocalStoragePath:     getEnv("LOCAL_STORAGE_PATH", "./storage"),
		SceneStateKey:        getEnv("SCENE_STATE_KEY", "scene_states.json"),
		SceneHistorySize:     getEnvInt("SCENE_HISTORY_SIZE", 15),

		// R2 configuration (production only)
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2Endpoint:        getEnv("R2_ENDPOINT", ""),

		// AI provider defaults
		AIProvider:       getEnv("AI_PROVIDER", "mock"),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:   getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.stepfun.com/v1"),
		OpenAIModel:      getEnv("OPENAI_MODEL", "step-1v-8k"),
		AIMaxRetries:     getEnvInt("AI_MAX_RETRIES", 3),
		AIRetryBaseDelay: getEnvDuration("AI_RETRY_BASE_DELAY", 1*time.Second),
		AIRequestTimeout: getEnvDuration("AI_REQUEST_TIMEOUT", 60*time.Second),

		FrameMaxDimension: getEnvInt("FRAME_MAX_DIMENSION", 1024),
		FrameJPEGQuality:  getEnvInt("FRAME_JPEG_QUALITY", 85),
		MaxUploadSize:     int64(getEnvInt("MAX_UPLOAD_SIZE", 10<<20)),

		FrameRateLimit:  getEnvInt("FRAME_RATE_LIMIT", 30),
		FrameRateWindow: getEnvDuration("FRAME_RATE_WINDOW", time.Minute),

		AllowReopenResolved: getEnvBool("ALLOW_REOPEN_RESOLVED", false),

		PersistMaxRetries:     getEnvInt("PERSIST_MAX_RETRIES", 3),
		PersistRetryBaseDelay: getEnvDuration("PERSIST_RETRY_BASE_DELAY", 100*time.Millisecond),

		LockProvider:  getEnv("LOCK_PROVIDER", "memory"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		LockTTL:       getEnvDuration("LOCK_TTL", 2*time.Minute),

		MQTTBrokerURL:   getEnv("MQTT_BROKER_URL", ""),
		MQTTClientID:    getEnv("MQTT_CLIENT_ID", "sitewatch"),
		MQTTTopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "sitewatch"),
		MQTTUsername:    getEnv("MQTT_USERNAME", ""),
		MQTTPassword:    getEnv("MQTT_PASSWORD", ""),

		AlertAllowedOrigins: getEnvList("ALERT_ALLOWED_ORIGINS"),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	switch cfg.DatabaseDriver {
	case DriverPgx, DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("DATABASE_DRIVER must be one of 'pgx', 'postgres' or 'sqlite3', got: %s", cfg.DatabaseDriver)
	}

	// Validate storage configuration
	if cfg.StateStorageProvider == "r2" {
		if cfg.R2AccountID == "" && cfg.R2Endpoint == "" {
			return nil, fmt.Errorf("R2_ACCOUNT_ID or R2_ENDPOINT is required when STATE_STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2AccessKeyID == "" {
			return nil, fmt.Errorf("R2_ACCESS_KEY_ID is required when STATE_STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2SecretAccessKey == "" {
			return nil, fmt.Errorf("R2_SECRET_ACCESS_KEY is required when STATE_STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2BucketName == "" {
			return nil, fmt.Errorf("R2_BUCKET_NAME is required when STATE_STORAGE_PROVIDER is 'r2'")
		}
	} else if cfg.StateStorageProvider != "local" {
		return nil, fmt.Errorf("STATE_STORAGE_PROVIDER must be either 'local' or 'r2', got: %s", cfg.StateStorageProvider)
	}

	// Validate AI provider configuration
	switch cfg.AIProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is 'anthropic'")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is 'openai'")
		}
	case "mock":
	default:
		return nil, fmt.Errorf("AI_PROVIDER must be one of 'anthropic', 'openai' or 'mock', got: %s", cfg.AIProvider)
	}

	if cfg.LockProvider != "memory" && cfg.LockProvider != "redis" {
		return nil, fmt.Errorf("LOCK_PROVIDER must be either 'memory' or 'redis', got: %s", cfg.LockProvider)
	}
	if cfg.LockProvider == "redis" && cfg.LockTTL <= cfg.AIRequestTimeout {
		return nil, fmt.Errorf("LOCK_TTL (%s) must exceed AI_REQUEST_TIMEOUT (%s)", cfg.LockTTL, cfg.AIRequestTimeout)
	}

	if cfg.SceneHistorySize <= 0 {
		return nil, fmt.Errorf("SCENE_HISTORY_SIZE must be positive, got: %d", cfg.SceneHistorySize)
	}
	if cfg.FrameJPEGQuality < 1 || cfg.FrameJPEGQuality > 100 {
		return nil, fmt.Errorf("FRAME_JPEG_QUALITY must be between 1 and 100, got: %d", cfg.FrameJPEGQuality)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvList splits a comma-separated variable, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
