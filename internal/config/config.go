// Package config provides configuration management for the workflow engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Logging  LoggingConfig
	Observer ObserverConfig
	Engine   EngineConfig
	Trigger  TriggerConfig
	Tracing  TracingConfig
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port               int
	Host               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	CORS               bool
	CORSAllowedOrigins []string
	APIKeys            []string
}

// RedisConfig holds Redis-related configuration used for the webhook
// replay guard (§6). Redis is optional: an empty URL disables it and
// webhooks run without replay protection. The condition cache is an
// in-process LRU and does not use Redis.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level  string
	Format string // "json" or "text"
}

// ObserverConfig holds observer-related configuration (SPEC_FULL.md's
// observer supplement: logger/websocket/HTTP-callback fan-out).
type ObserverConfig struct {
	// HTTP callback observer
	EnableHTTP      bool
	HTTPCallbackURL string
	HTTPMethod      string
	HTTPTimeout     time.Duration
	HTTPMaxRetries  int
	HTTPRetryDelay  time.Duration
	HTTPHeaders     map[string]string

	// Logger observer
	EnableLogger bool

	// WebSocket observer
	EnableWebSocket     bool
	WebSocketBufferSize int

	// General settings
	BufferSize int
}

// EngineConfig holds the scheduler limits and defaults applied to every
// Execute call that doesn't override them via models.ExecuteOptions
// (§4.3 MAX_LAYERS, §4.5 maxConcurrency, §6 execution deadline).
type EngineConfig struct {
	MaxLayers      int
	MaxConcurrency int
	Deadline       time.Duration

	ConditionCacheCapacity int
	ConditionCacheTTL      time.Duration

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
}

// TriggerConfig holds settings for the webhook dispatcher and the cron
// scheduled trigger (§6, SUPPLEMENTED FEATURES).
type TriggerConfig struct {
	RunTimeout time.Duration

	WebhookReplayWindow time.Duration

	CronEnabled      bool
	CronPollInterval time.Duration
}

// TracingConfig holds settings for the OpenTelemetry exporter
// (internal/infrastructure/tracing). Disabled by default; the engine
// and HTTP layer run without a configured collector otherwise.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	Insecure    bool
	SampleRate  float64
}

// Load loads the configuration from environment variables, falling back
// to a .env file in the working directory if present.
func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnvAsInt("FLOWRUNNER_PORT", 8585),
			Host:               getEnv("FLOWRUNNER_HOST", "0.0.0.0"),
			ReadTimeout:        getEnvAsDuration("FLOWRUNNER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:       getEnvAsDuration("FLOWRUNNER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout:    getEnvAsDuration("FLOWRUNNER_SHUTDOWN_TIMEOUT", 30*time.Second),
			CORS:               getEnvAsBool("FLOWRUNNER_CORS_ENABLED", true),
			CORSAllowedOrigins: getEnvAsSlice("FLOWRUNNER_CORS_ALLOWED_ORIGINS", []string{}),
			APIKeys:            getEnvAsSlice("FLOWRUNNER_API_KEYS", []string{}),
		},
		Redis: RedisConfig{
			URL:      getEnv("FLOWRUNNER_REDIS_URL", ""),
			Password: getEnv("FLOWRUNNER_REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("FLOWRUNNER_REDIS_DB", 0),
			PoolSize: getEnvAsInt("FLOWRUNNER_REDIS_POOL_SIZE", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("FLOWRUNNER_LOG_LEVEL", "info"),
			Format: getEnv("FLOWRUNNER_LOG_FORMAT", "json"),
		},
		Observer: ObserverConfig{
			EnableHTTP:          getEnvAsBool("FLOWRUNNER_OBSERVER_HTTP_ENABLED", false),
			HTTPCallbackURL:     getEnv("FLOWRUNNER_OBSERVER_HTTP_URL", ""),
			HTTPMethod:          getEnv("FLOWRUNNER_OBSERVER_HTTP_METHOD", "POST"),
			HTTPTimeout:         getEnvAsDuration("FLOWRUNNER_OBSERVER_HTTP_TIMEOUT", 10*time.Second),
			HTTPMaxRetries:      getEnvAsInt("FLOWRUNNER_OBSERVER_HTTP_MAX_RETRIES", 3),
			HTTPRetryDelay:      getEnvAsDuration("FLOWRUNNER_OBSERVER_HTTP_RETRY_DELAY", 1*time.Second),
			HTTPHeaders:         parseHTTPHeaders(getEnv("FLOWRUNNER_OBSERVER_HTTP_HEADERS", "")),
			EnableLogger:        getEnvAsBool("FLOWRUNNER_OBSERVER_LOGGER_ENABLED", true),
			EnableWebSocket:     getEnvAsBool("FLOWRUNNER_OBSERVER_WEBSOCKET_ENABLED", true),
			WebSocketBufferSize: getEnvAsInt("FLOWRUNNER_OBSERVER_WEBSOCKET_BUFFER_SIZE", 256),
			BufferSize:          getEnvAsInt("FLOWRUNNER_OBSERVER_BUFFER_SIZE", 100),
		},
		Engine: EngineConfig{
			MaxLayers:              getEnvAsInt("FLOWRUNNER_ENGINE_MAX_LAYERS", 10000),
			MaxConcurrency:         getEnvAsInt("FLOWRUNNER_ENGINE_MAX_CONCURRENCY", 16),
			Deadline:               getEnvAsDuration("FLOWRUNNER_ENGINE_DEADLINE", 5*time.Minute),
			ConditionCacheCapacity: getEnvAsInt("FLOWRUNNER_ENGINE_CONDITION_CACHE_CAPACITY", 256),
			ConditionCacheTTL:      getEnvAsDuration("FLOWRUNNER_ENGINE_CONDITION_CACHE_TTL", 10*time.Minute),
			RetryMaxAttempts:       getEnvAsInt("FLOWRUNNER_ENGINE_RETRY_MAX_ATTEMPTS", 0),
			RetryBaseDelay:         getEnvAsDuration("FLOWRUNNER_ENGINE_RETRY_BASE_DELAY", 500*time.Millisecond),
		},
		Trigger: TriggerConfig{
			RunTimeout:          getEnvAsDuration("FLOWRUNNER_TRIGGER_RUN_TIMEOUT", 5*time.Minute),
			WebhookReplayWindow: getEnvAsDuration("FLOWRUNNER_TRIGGER_WEBHOOK_REPLAY_WINDOW", 10*time.Minute),
			CronEnabled:         getEnvAsBool("FLOWRUNNER_TRIGGER_CRON_ENABLED", true),
			CronPollInterval:    getEnvAsDuration("FLOWRUNNER_TRIGGER_CRON_POLL_INTERVAL", 30*time.Second),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvAsBool("FLOWRUNNER_OTEL_ENABLED", false),
			ServiceName: getEnv("FLOWRUNNER_OTEL_SERVICE_NAME", "flowrunner"),
			Endpoint:    getEnv("FLOWRUNNER_OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			Insecure:    getEnvAsBool("FLOWRUNNER_OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRate:  getEnvAsFloat("FLOWRUNNER_OTEL_SAMPLE_RATE", 1.0),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Engine.MaxLayers < 1 {
		return fmt.Errorf("engine max layers must be at least 1")
	}

	if c.Engine.MaxConcurrency < 1 {
		return fmt.Errorf("engine max concurrency must be at least 1")
	}

	return nil
}

// Helper functions for environment variables

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var result []string
	current := ""
	for _, ch := range valueStr {
		if ch == ',' {
			if current != "" {
				result = append(result, current)
				current = ""
			}
		} else {
			current += string(ch)
		}
	}

	if current != "" {
		result = append(result, current)
	}

	return result
}

// parseHTTPHeaders parses HTTP headers from an environment variable.
// Format: "Key1:Value1,Key2:Value2"
func parseHTTPHeaders(headersStr string) map[string]string {
	headers := make(map[string]string)
	if headersStr == "" {
		return headers
	}

	pairs := strings.Split(headersStr, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) == 2 {
			headers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}

	return headers
}
