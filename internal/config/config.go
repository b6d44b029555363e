// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port               string
	FrontendURL        string
	DBPath             string
	SessionRetention   time.Duration
	RetentionInterval  time.Duration
	MaxRequestBodySize int64
	ClampProfilePath   string
	Model              ModelConfig
	DocService         DocServiceConfig
	Workflow           WorkflowConfig
	ReferenceFetch     ReferenceFetchConfig
	RateLimit          RateLimitConfig
	ConversationLog    ConversationLogConfig
}

// ModelConfig configures the generative model.
type ModelConfig struct {
	APIKey         string
	Name           string
	Temperature    float32
	RequestTimeout time.Duration
}

// DocServiceConfig configures the document extraction and rendering service.
type DocServiceConfig struct {
	Addr           string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	MaxPages       int
}

// WorkflowConfig tunes the orchestration loop.
type WorkflowConfig struct {
	MaxIterations    int
	AutoAdvanceTurns int
	StrictReadiness  bool
	SnapshotMaxBytes int
	HeaderMaxLines   int
	HeaderMaxChars   int
}

// ReferenceFetchConfig bounds job-posting downloads.
type ReferenceFetchConfig struct {
	Timeout  time.Duration
	MaxBytes int64
	MaxChars int
}

// RateLimitConfig holds per-client chat rate limiting.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		DBPath:             getEnv("DB_PATH", "./data/cvstudio.db"),
		SessionRetention:   getEnvDuration("SESSION_RETENTION", 7*24*time.Hour),
		RetentionInterval:  getEnvDuration("SESSION_RETENTION_INTERVAL", 15*time.Minute),
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 10<<20)),
		ClampProfilePath:   getEnv("CLAMP_PROFILE_PATH", ""),
		Model: ModelConfig{
			APIKey:         getEnv("GEMINI_API_KEY", ""),
			Name:           getEnv("MODEL_NAME", "gemini-2.5-flash"),
			Temperature:    getEnvFloat32("MODEL_TEMPERATURE", 0.2),
			RequestTimeout: getEnvDuration("MODEL_REQUEST_TIMEOUT", 60*time.Second),
		},
		DocService: DocServiceConfig{
			Addr:           getEnv("DOCSVC_ADDR", "localhost:50051"),
			ConnectTimeout: getEnvDuration("DOCSVC_CONNECT_TIMEOUT", 5*time.Second),
			RequestTimeout: getEnvDuration("DOCSVC_REQUEST_TIMEOUT", 30*time.Second),
			MaxPages:       getEnvInt("DOCSVC_MAX_PAGES", 2),
		},
		Workflow: WorkflowConfig{
			MaxIterations:    getEnvInt("AGENT_MAX_ITERATIONS", 10),
			AutoAdvanceTurns: getEnvInt("REVIEW_AUTO_ADVANCE_TURNS", 3),
			StrictReadiness:  getEnvBool("STRICT_READINESS", false),
			SnapshotMaxBytes: getEnvInt("SNAPSHOT_MAX_BYTES", 16<<10),
			HeaderMaxLines:   getEnvInt("INTENT_HEADER_MAX_LINES", 3),
			HeaderMaxChars:   getEnvInt("INTENT_HEADER_MAX_CHARS", 300),
		},
		ReferenceFetch: ReferenceFetchConfig{
			Timeout:  getEnvDuration("REFERENCE_FETCH_TIMEOUT", 15*time.Second),
			MaxBytes: int64(getEnvInt("REFERENCE_FETCH_MAX_BYTES", 2<<20)),
			MaxChars: getEnvInt("REFERENCE_MAX_CHARS", 20000),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	if c.DocService.MaxPages <= 0 {
		return fmt.Errorf("DOCSVC_MAX_PAGES must be > 0")
	}
	if c.Workflow.MaxIterations <= 0 {
		return fmt.Errorf("AGENT_MAX_ITERATIONS must be > 0")
	}
	if c.Workflow.AutoAdvanceTurns <= 0 {
		return fmt.Errorf("REVIEW_AUTO_ADVANCE_TURNS must be > 0")
	}
	if c.Workflow.SnapshotMaxBytes < 1024 {
		return fmt.Errorf("SNAPSHOT_MAX_BYTES must be >= 1024")
	}
	if c.Workflow.HeaderMaxLines <= 0 || c.Workflow.HeaderMaxChars <= 0 {
		return fmt.Errorf("intent header limits must be > 0")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("MODEL_TEMPERATURE must be between 0 and 2")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat32(key string, fallback float32) float32 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 32)
	if err != nil {
		return fallback
	}
	return float32(f)
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
