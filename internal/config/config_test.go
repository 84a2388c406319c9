package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==================== Config.Load() Tests ====================

func TestConfig_Load_DefaultValues(t *testing.T) {
	clearEnv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, 8585, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.True(t, cfg.Server.CORS)
	assert.Empty(t, cfg.Server.APIKeys)

	assert.Equal(t, "", cfg.Redis.URL)
	assert.Equal(t, "", cfg.Redis.Password)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, 10, cfg.Redis.PoolSize)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.False(t, cfg.Observer.EnableHTTP)
	assert.True(t, cfg.Observer.EnableLogger)
	assert.True(t, cfg.Observer.EnableWebSocket)
	assert.Equal(t, 256, cfg.Observer.WebSocketBufferSize)
	assert.Equal(t, 100, cfg.Observer.BufferSize)

	assert.Equal(t, 10000, cfg.Engine.MaxLayers)
	assert.Equal(t, 16, cfg.Engine.MaxConcurrency)
	assert.Equal(t, 5*time.Minute, cfg.Engine.Deadline)
	assert.Equal(t, 256, cfg.Engine.ConditionCacheCapacity)
	assert.Equal(t, 10*time.Minute, cfg.Engine.ConditionCacheTTL)

	assert.Equal(t, 5*time.Minute, cfg.Trigger.RunTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Trigger.WebhookReplayWindow)
	assert.True(t, cfg.Trigger.CronEnabled)
	assert.Equal(t, 30*time.Second, cfg.Trigger.CronPollInterval)

	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, "flowrunner", cfg.Tracing.ServiceName)
	assert.Equal(t, "localhost:4318", cfg.Tracing.Endpoint)
	assert.True(t, cfg.Tracing.Insecure)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRate)
}

func TestConfig_Load_CustomValues(t *testing.T) {
	clearEnv()
	defer clearEnv()

	os.Setenv("FLOWRUNNER_PORT", "9090")
	os.Setenv("FLOWRUNNER_HOST", "127.0.0.1")
	os.Setenv("FLOWRUNNER_REDIS_URL", "redis://localhost:6380")
	os.Setenv("FLOWRUNNER_LOG_LEVEL", "debug")
	os.Setenv("FLOWRUNNER_LOG_FORMAT", "text")
	os.Setenv("FLOWRUNNER_ENGINE_MAX_LAYERS", "500")
	os.Setenv("FLOWRUNNER_ENGINE_MAX_CONCURRENCY", "4")
	os.Setenv("FLOWRUNNER_TRIGGER_CRON_ENABLED", "false")
	os.Setenv("FLOWRUNNER_OTEL_ENABLED", "true")
	os.Setenv("FLOWRUNNER_OTEL_SAMPLE_RATE", "0.25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "redis://localhost:6380", cfg.Redis.URL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 500, cfg.Engine.MaxLayers)
	assert.Equal(t, 4, cfg.Engine.MaxConcurrency)
	assert.False(t, cfg.Trigger.CronEnabled)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, 0.25, cfg.Tracing.SampleRate)
}

func TestConfig_Load_InvalidValuesUseDefaults(t *testing.T) {
	clearEnv()
	defer clearEnv()

	os.Setenv("FLOWRUNNER_PORT", "not-a-number")
	os.Setenv("FLOWRUNNER_ENGINE_MAX_LAYERS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8585, cfg.Server.Port)
	assert.Equal(t, 10000, cfg.Engine.MaxLayers)
}

// ==================== Config.Validate() Tests ====================

func validConfig() *Config {
	return &Config{
		Server:  ServerConfig{Port: 8585},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Engine:  EngineConfig{MaxLayers: 10000, MaxConcurrency: 16},
	}
}

func TestConfig_Validate_Success(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_InvalidPort(t *testing.T) {
	for _, port := range []int{0, -1, 65536, 100000} {
		cfg := validConfig()
		cfg.Server.Port = port
		assert.Error(t, cfg.Validate(), "port %d should be invalid", port)
	}
}

func TestConfig_Validate_ValidPorts(t *testing.T) {
	for _, port := range []int{1, 80, 8080, 8585, 65535} {
		cfg := validConfig()
		cfg.Server.Port = port
		assert.NoError(t, cfg.Validate(), "port %d should be valid", port)
	}
}

func TestConfig_Validate_InvalidLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_ValidLogLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		cfg := validConfig()
		cfg.Logging.Level = level
		assert.NoError(t, cfg.Validate())
	}
}

func TestConfig_Validate_InvalidLogFormat(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Format = "xml"
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_ValidLogFormats(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		cfg := validConfig()
		cfg.Logging.Format = format
		assert.NoError(t, cfg.Validate())
	}
}

func TestConfig_Validate_InvalidMaxLayers(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.MaxLayers = 0
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_InvalidMaxConcurrency(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.MaxConcurrency = 0
	assert.Error(t, cfg.Validate())
}

// ==================== Environment Variable Helpers ====================

func TestGetEnv_WithValue(t *testing.T) {
	os.Setenv("FLOWRUNNER_TEST_VAR", "custom")
	defer os.Unsetenv("FLOWRUNNER_TEST_VAR")
	assert.Equal(t, "custom", getEnv("FLOWRUNNER_TEST_VAR", "default"))
}

func TestGetEnv_WithoutValue(t *testing.T) {
	os.Unsetenv("FLOWRUNNER_TEST_VAR")
	assert.Equal(t, "default", getEnv("FLOWRUNNER_TEST_VAR", "default"))
}

func TestGetEnvAsInt_ValidInteger(t *testing.T) {
	os.Setenv("FLOWRUNNER_TEST_INT", "42")
	defer os.Unsetenv("FLOWRUNNER_TEST_INT")
	assert.Equal(t, 42, getEnvAsInt("FLOWRUNNER_TEST_INT", 0))
}

func TestGetEnvAsInt_InvalidInteger(t *testing.T) {
	os.Setenv("FLOWRUNNER_TEST_INT", "not-a-number")
	defer os.Unsetenv("FLOWRUNNER_TEST_INT")
	assert.Equal(t, 7, getEnvAsInt("FLOWRUNNER_TEST_INT", 7))
}

func TestGetEnvAsInt_EmptyString(t *testing.T) {
	os.Unsetenv("FLOWRUNNER_TEST_INT")
	assert.Equal(t, 7, getEnvAsInt("FLOWRUNNER_TEST_INT", 7))
}

func TestGetEnvAsBool_True(t *testing.T) {
	os.Setenv("FLOWRUNNER_TEST_BOOL", "true")
	defer os.Unsetenv("FLOWRUNNER_TEST_BOOL")
	assert.True(t, getEnvAsBool("FLOWRUNNER_TEST_BOOL", false))
}

func TestGetEnvAsBool_False(t *testing.T) {
	os.Setenv("FLOWRUNNER_TEST_BOOL", "false")
	defer os.Unsetenv("FLOWRUNNER_TEST_BOOL")
	assert.False(t, getEnvAsBool("FLOWRUNNER_TEST_BOOL", true))
}

func TestGetEnvAsBool_Invalid(t *testing.T) {
	os.Setenv("FLOWRUNNER_TEST_BOOL", "not-a-bool")
	defer os.Unsetenv("FLOWRUNNER_TEST_BOOL")
	assert.True(t, getEnvAsBool("FLOWRUNNER_TEST_BOOL", true))
}

func TestGetEnvAsDuration_Valid(t *testing.T) {
	os.Setenv("FLOWRUNNER_TEST_DURATION", "45s")
	defer os.Unsetenv("FLOWRUNNER_TEST_DURATION")
	assert.Equal(t, 45*time.Second, getEnvAsDuration("FLOWRUNNER_TEST_DURATION", time.Second))
}

func TestGetEnvAsDuration_Invalid(t *testing.T) {
	os.Setenv("FLOWRUNNER_TEST_DURATION", "not-a-duration")
	defer os.Unsetenv("FLOWRUNNER_TEST_DURATION")
	assert.Equal(t, time.Minute, getEnvAsDuration("FLOWRUNNER_TEST_DURATION", time.Minute))
}

func TestGetEnvAsFloat_Valid(t *testing.T) {
	os.Setenv("FLOWRUNNER_TEST_FLOAT", "0.5")
	defer os.Unsetenv("FLOWRUNNER_TEST_FLOAT")
	assert.Equal(t, 0.5, getEnvAsFloat("FLOWRUNNER_TEST_FLOAT", 1.0))
}

func TestGetEnvAsFloat_Invalid(t *testing.T) {
	os.Setenv("FLOWRUNNER_TEST_FLOAT", "not-a-float")
	defer os.Unsetenv("FLOWRUNNER_TEST_FLOAT")
	assert.Equal(t, 1.0, getEnvAsFloat("FLOWRUNNER_TEST_FLOAT", 1.0))
}

func TestGetEnvAsSlice_CommaSeparated(t *testing.T) {
	os.Setenv("FLOWRUNNER_TEST_SLICE", "a,b,c")
	defer os.Unsetenv("FLOWRUNNER_TEST_SLICE")
	assert.Equal(t, []string{"a", "b", "c"}, getEnvAsSlice("FLOWRUNNER_TEST_SLICE", nil))
}

func TestGetEnvAsSlice_Empty(t *testing.T) {
	os.Unsetenv("FLOWRUNNER_TEST_SLICE")
	assert.Equal(t, []string{"x"}, getEnvAsSlice("FLOWRUNNER_TEST_SLICE", []string{"x"}))
}

func TestParseHTTPHeaders_Valid(t *testing.T) {
	result := parseHTTPHeaders("Authorization:Bearer token,X-Custom:value")
	assert.Equal(t, "Bearer token", result["Authorization"])
	assert.Equal(t, "value", result["X-Custom"])
}

func TestParseHTTPHeaders_Empty(t *testing.T) {
	result := parseHTTPHeaders("")
	assert.Empty(t, result)
}

func TestParseHTTPHeaders_InvalidFormat(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"no colon", "Authorization Bearer token"},
		{"only key", "Authorization"},
		{"only commas", ",,,"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseHTTPHeaders(tt.input)
			assert.NotNil(t, result)
		})
	}
}

// ==================== Helper Functions ====================

func clearEnv() {
	envVars := []string{
		"FLOWRUNNER_PORT", "FLOWRUNNER_HOST", "FLOWRUNNER_READ_TIMEOUT", "FLOWRUNNER_WRITE_TIMEOUT",
		"FLOWRUNNER_SHUTDOWN_TIMEOUT", "FLOWRUNNER_CORS_ENABLED", "FLOWRUNNER_CORS_ALLOWED_ORIGINS", "FLOWRUNNER_API_KEYS",
		"FLOWRUNNER_REDIS_URL", "FLOWRUNNER_REDIS_PASSWORD", "FLOWRUNNER_REDIS_DB", "FLOWRUNNER_REDIS_POOL_SIZE",
		"FLOWRUNNER_LOG_LEVEL", "FLOWRUNNER_LOG_FORMAT",
		"FLOWRUNNER_OBSERVER_HTTP_ENABLED", "FLOWRUNNER_OBSERVER_HTTP_URL", "FLOWRUNNER_OBSERVER_HTTP_METHOD",
		"FLOWRUNNER_OBSERVER_HTTP_TIMEOUT", "FLOWRUNNER_OBSERVER_HTTP_MAX_RETRIES", "FLOWRUNNER_OBSERVER_HTTP_RETRY_DELAY",
		"FLOWRUNNER_OBSERVER_HTTP_HEADERS", "FLOWRUNNER_OBSERVER_LOGGER_ENABLED", "FLOWRUNNER_OBSERVER_WEBSOCKET_ENABLED",
		"FLOWRUNNER_OBSERVER_WEBSOCKET_BUFFER_SIZE", "FLOWRUNNER_OBSERVER_BUFFER_SIZE",
		"FLOWRUNNER_ENGINE_MAX_LAYERS", "FLOWRUNNER_ENGINE_MAX_CONCURRENCY", "FLOWRUNNER_ENGINE_DEADLINE",
		"FLOWRUNNER_ENGINE_CONDITION_CACHE_CAPACITY", "FLOWRUNNER_ENGINE_CONDITION_CACHE_TTL",
		"FLOWRUNNER_ENGINE_RETRY_MAX_ATTEMPTS", "FLOWRUNNER_ENGINE_RETRY_BASE_DELAY",
		"FLOWRUNNER_TRIGGER_RUN_TIMEOUT", "FLOWRUNNER_TRIGGER_WEBHOOK_REPLAY_WINDOW",
		"FLOWRUNNER_TRIGGER_CRON_ENABLED", "FLOWRUNNER_TRIGGER_CRON_POLL_INTERVAL",
		"FLOWRUNNER_OTEL_ENABLED", "FLOWRUNNER_OTEL_SERVICE_NAME", "FLOWRUNNER_OTEL_EXPORTER_OTLP_ENDPOINT",
		"FLOWRUNNER_OTEL_EXPORTER_OTLP_INSECURE", "FLOWRUNNER_OTEL_SAMPLE_RATE",
	}

	for _, key := range envVars {
		os.Unsetenv(key)
	}
}
