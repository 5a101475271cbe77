package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/memberhq/memberhq/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration
	Redis RedisConfig

	// Stripe configuration
	Stripe StripeConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// Maximum accepted request body size in bytes
	MaxBodyBytes int64
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// AutoMigrate applies pending schema migrations at startup
	AutoMigrate bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// StripeConfig holds billing provider configuration
type StripeConfig struct {
	SecretKey       string
	WebhookSecret   string
	PortalReturnURL string

	// Path to the YAML plan catalog; empty disables the catalog
	PlanCatalogPath string

	// Reconciliation sweep schedule (cron expression); empty disables it
	ReconcileSchedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Stripe:        loadStripeConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("MEMBERHQ_HOST", "0.0.0.0"),
		Port:            getEnv("MEMBERHQ_PORT", "8080"),
		ReadTimeout:     getEnvDuration("MEMBERHQ_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("MEMBERHQ_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("MEMBERHQ_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("MEMBERHQ_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("MEMBERHQ_HEALTH_PORT", "9090"),
		MaxBodyBytes:    getEnvInt64("MEMBERHQ_MAX_BODY_BYTES", 64*1024),
	}
}

// loadDatabaseConfig loads database configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("MEMBERHQ_POSTGRES_URL", ""),
		MaxOpenConns:    getEnvInt("MEMBERHQ_POSTGRES_MAX_CONNS", 25),
		MaxIdleConns:    getEnvInt("MEMBERHQ_POSTGRES_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("MEMBERHQ_POSTGRES_CONN_LIFETIME", 5*time.Minute),
		AutoMigrate:     getEnvBool("MEMBERHQ_AUTO_MIGRATE", true),
	}
}

// loadRedisConfig loads Redis configuration from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("MEMBERHQ_REDIS_URL", ""),
		Password:   getEnv("MEMBERHQ_REDIS_PASSWORD", ""),
		DB:         getEnvInt("MEMBERHQ_REDIS_DB", 0),
		MaxRetries: getEnvInt("MEMBERHQ_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("MEMBERHQ_REDIS_POOL_SIZE", 10),
	}
}

// loadStripeConfig loads billing provider configuration from environment
func loadStripeConfig() StripeConfig {
	return StripeConfig{
		SecretKey:         getEnv("MEMBERHQ_STRIPE_SECRET_KEY", ""),
		WebhookSecret:     getEnv("MEMBERHQ_STRIPE_WEBHOOK_SECRET", ""),
		PortalReturnURL:   getEnv("MEMBERHQ_STRIPE_PORTAL_RETURN_URL", ""),
		PlanCatalogPath:   getEnv("MEMBERHQ_PLAN_CATALOG_PATH", ""),
		ReconcileSchedule: getEnv("MEMBERHQ_RECONCILE_SCHEDULE", "@every 6h"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("MEMBERHQ_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("MEMBERHQ_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("MEMBERHQ_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("MEMBERHQ_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("MEMBERHQ_OTEL_SERVICE_NAME", "memberhq"),
		OTelServiceVersion: getEnv("MEMBERHQ_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("MEMBERHQ_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Stripe.WebhookSecret == "" {
		return fmt.Errorf("stripe webhook secret is required")
	}
	if c.Stripe.SecretKey == "" {
		return fmt.Errorf("stripe secret key is required")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
