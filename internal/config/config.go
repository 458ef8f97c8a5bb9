// Package config loads service configuration from environment variables and
// an optional .env file using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Registry sources.
const (
	SourceFile     = "file"
	SourcePostgres = "postgres"
	SourceMemory   = "memory"
)

// Telemetry sinks.
const (
	SinkLog   = "log"
	SinkHTTP  = "http"
	SinkRedis = "redis"
)

// Config holds all service configuration.
// Priority: environment variables > .env file > defaults.
type Config struct {
	AppEnv      string // dev, staging, prod
	HTTPAddr    string
	MetricsAddr string
	LogLevel    string
	LogFormat   string // json or console

	RegistrySource string // file, postgres or memory
	RegistryPath   string
	DatabaseDSN    string

	HashSalt        string // appended to every hash input when set
	InternalSegment string
	OverrideParam   string // query parameter carrying debug overrides

	TelemetrySink          string
	TelemetryURL           string
	TelemetrySecret        string
	RedisURL               string
	TelemetryStream        string
	TelemetryStreamMaxLen  int64
	TelemetryQueueSize     int
	TelemetryBatchSize     int
	TelemetryFlushInterval time.Duration
	TelemetryMaxAttempts   int
	TelemetryFlushTimeout  time.Duration

	RateLimitPerIP int // requests per minute on event endpoints

	OTLPEndpoint string // empty disables tracing export
}

// Load reads configuration. It does not validate; call Validate.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	_ = v.ReadInConfig() // .env is optional
	v.AutomaticEnv()

	setDefaults(v)

	appEnv := v.GetString("APP_ENV")
	format := v.GetString("LOG_FORMAT")
	if format == "" {
		format = "json"
		if appEnv == "dev" {
			format = "console"
		}
	}

	return &Config{
		AppEnv:      appEnv,
		HTTPAddr:    v.GetString("APP_HTTP_ADDR"),
		MetricsAddr: v.GetString("METRICS_ADDR"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		LogFormat:   format,

		RegistrySource: strings.ToLower(v.GetString("REGISTRY_SOURCE")),
		RegistryPath:   v.GetString("REGISTRY_PATH"),
		DatabaseDSN:    v.GetString("DB_DSN"),

		HashSalt:        v.GetString("HASH_SALT"),
		InternalSegment: v.GetString("INTERNAL_SEGMENT"),
		OverrideParam:   v.GetString("OVERRIDE_PARAM"),

		TelemetrySink:          strings.ToLower(v.GetString("TELEMETRY_SINK")),
		TelemetryURL:           v.GetString("TELEMETRY_URL"),
		TelemetrySecret:        v.GetString("TELEMETRY_SECRET"),
		RedisURL:               v.GetString("REDIS_URL"),
		TelemetryStream:        v.GetString("TELEMETRY_STREAM"),
		TelemetryStreamMaxLen:  v.GetInt64("TELEMETRY_STREAM_MAXLEN"),
		TelemetryQueueSize:     v.GetInt("TELEMETRY_QUEUE_SIZE"),
		TelemetryBatchSize:     v.GetInt("TELEMETRY_BATCH_SIZE"),
		TelemetryFlushInterval: v.GetDuration("TELEMETRY_FLUSH_INTERVAL"),
		TelemetryMaxAttempts:   v.GetInt("TELEMETRY_MAX_ATTEMPTS"),
		TelemetryFlushTimeout:  v.GetDuration("TELEMETRY_FLUSH_TIMEOUT"),

		RateLimitPerIP: v.GetInt("RATE_LIMIT_PER_IP"),

		OTLPEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("APP_HTTP_ADDR", ":8080")
	v.SetDefault("METRICS_ADDR", ":9090")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REGISTRY_SOURCE", SourceFile)
	v.SetDefault("REGISTRY_PATH", "registry.yaml")
	v.SetDefault("DB_DSN", "")
	v.SetDefault("HASH_SALT", "")
	v.SetDefault("INTERNAL_SEGMENT", "internal")
	v.SetDefault("OVERRIDE_PARAM", "ff")
	v.SetDefault("TELEMETRY_SINK", SinkLog)
	v.SetDefault("TELEMETRY_STREAM", "assign:events")
	v.SetDefault("TELEMETRY_STREAM_MAXLEN", 100000)
	v.SetDefault("TELEMETRY_QUEUE_SIZE", 1000)
	v.SetDefault("TELEMETRY_BATCH_SIZE", 50)
	v.SetDefault("TELEMETRY_FLUSH_INTERVAL", "2s")
	v.SetDefault("TELEMETRY_MAX_ATTEMPTS", 4)
	v.SetDefault("TELEMETRY_FLUSH_TIMEOUT", "2s")
	v.SetDefault("RATE_LIMIT_PER_IP", 600)
}

// ValidationError describes the first configuration problem found.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed [%s]: %s", e.Field, e.Message)
}

// Validate checks the configuration and returns a ValidationError for the
// first failure.
//
// Rules:
//  1. REGISTRY_SOURCE is file, postgres or memory; file needs REGISTRY_PATH,
//     postgres needs DB_DSN
//  2. APP_HTTP_ADDR and METRICS_ADDR are non-empty
//  3. LOG_FORMAT is json or console
//  4. TELEMETRY_SINK is log, http or redis; http needs TELEMETRY_URL, redis
//     needs REDIS_URL and TELEMETRY_STREAM
//  5. Queue size, batch size, max attempts, flush interval and flush timeout
//     are positive
//  6. In prod, an http sink must be signed (TELEMETRY_SECRET)
func (c *Config) Validate() error {
	switch c.RegistrySource {
	case SourceFile:
		if c.RegistryPath == "" {
			return ValidationError{Field: "REGISTRY_PATH", Message: "registry path is required when REGISTRY_SOURCE=file"}
		}
	case SourcePostgres:
		if c.DatabaseDSN == "" {
			return ValidationError{Field: "DB_DSN", Message: "database DSN is required when REGISTRY_SOURCE=postgres"}
		}
	case SourceMemory:
	default:
		return ValidationError{
			Field:   "REGISTRY_SOURCE",
			Message: fmt.Sprintf("must be 'file', 'postgres' or 'memory', got '%s'", c.RegistrySource),
		}
	}

	if c.HTTPAddr == "" {
		return ValidationError{Field: "APP_HTTP_ADDR", Message: "HTTP server address cannot be empty"}
	}
	if c.MetricsAddr == "" {
		return ValidationError{Field: "METRICS_ADDR", Message: "metrics server address cannot be empty"}
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return ValidationError{Field: "LOG_FORMAT", Message: fmt.Sprintf("must be 'json' or 'console', got '%s'", c.LogFormat)}
	}

	switch c.TelemetrySink {
	case SinkLog:
	case SinkHTTP:
		if c.TelemetryURL == "" {
			return ValidationError{Field: "TELEMETRY_URL", Message: "telemetry URL is required when TELEMETRY_SINK=http"}
		}
	case SinkRedis:
		if c.RedisURL == "" {
			return ValidationError{Field: "REDIS_URL", Message: "redis URL is required when TELEMETRY_SINK=redis"}
		}
		if c.TelemetryStream == "" {
			return ValidationError{Field: "TELEMETRY_STREAM", Message: "stream name cannot be empty"}
		}
	default:
		return ValidationError{
			Field:   "TELEMETRY_SINK",
			Message: fmt.Sprintf("must be 'log', 'http' or 'redis', got '%s'", c.TelemetrySink),
		}
	}

	positive := []struct {
		field string
		ok    bool
	}{
		{"TELEMETRY_QUEUE_SIZE", c.TelemetryQueueSize > 0},
		{"TELEMETRY_BATCH_SIZE", c.TelemetryBatchSize > 0},
		{"TELEMETRY_MAX_ATTEMPTS", c.TelemetryMaxAttempts > 0},
		{"TELEMETRY_FLUSH_INTERVAL", c.TelemetryFlushInterval > 0},
		{"TELEMETRY_FLUSH_TIMEOUT", c.TelemetryFlushTimeout > 0},
	}
	for _, p := range positive {
		if !p.ok {
			return ValidationError{Field: p.field, Message: "must be positive"}
		}
	}

	if c.IsProd() && c.TelemetrySink == SinkHTTP && c.TelemetrySecret == "" {
		return ValidationError{Field: "TELEMETRY_SECRET", Message: "telemetry deliveries must be signed in production"}
	}
	return nil
}

// IsProd reports whether AppEnv names a production environment.
func (c *Config) IsProd() bool {
	return c.AppEnv == "prod" || c.AppEnv == "production"
}
