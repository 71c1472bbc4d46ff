// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/opsdesk/guichet/pkg/audit"
	"github.com/opsdesk/guichet/pkg/observability"
	"github.com/opsdesk/guichet/pkg/storage/postgres"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database postgres.ConnectionConfig

	// Audit configuration
	Audit AuditConfig

	// Notify configuration
	Notify NotifyConfig

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
}

// AuditConfig holds audit log retention settings
type AuditConfig struct {
	RetentionDays int
	PurgeSchedule string
}

// Policy converts the audit settings into a retention policy.
func (c AuditConfig) Policy() audit.RetentionPolicy {
	return audit.RetentionPolicy{
		RetentionDays: c.RetentionDays,
		Schedule:      c.PurgeSchedule,
	}
}

// NotifyConfig holds webhook notification settings. Notifications are
// disabled when WebhookURL is empty.
type NotifyConfig struct {
	WebhookURL    string
	WebhookSecret string
}

// Enabled reports whether a webhook sink is configured.
func (c NotifyConfig) Enabled() bool {
	return c.WebhookURL != ""
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Audit:         loadAuditConfig(),
		Notify:        loadNotifyConfig(),
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
		Host:            getEnv("GUICHET_HOST", "0.0.0.0"),
		Port:            getEnv("GUICHET_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GUICHET_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GUICHET_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GUICHET_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GUICHET_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("GUICHET_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads connection pool configuration from environment
func loadDatabaseConfig() postgres.ConnectionConfig {
	cfg := postgres.DefaultConnectionConfig(getEnv("GUICHET_POSTGRES_URL", ""))

	if maxConns := getEnvInt("GUICHET_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxOpenConns = maxConns
	}
	if idleConns := getEnvInt("GUICHET_POSTGRES_IDLE_CONNS", 0); idleConns > 0 {
		cfg.MaxIdleConns = idleConns
	}
	if timeout := getEnvDuration("GUICHET_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.ConnTimeout = timeout
	}

	return cfg
}

// loadAuditConfig loads audit retention configuration from environment
func loadAuditConfig() AuditConfig {
	defaults := audit.DefaultRetentionPolicy()
	return AuditConfig{
		RetentionDays: getEnvInt("GUICHET_AUDIT_RETENTION_DAYS", defaults.RetentionDays),
		PurgeSchedule: getEnv("GUICHET_AUDIT_PURGE_SCHEDULE", defaults.Schedule),
	}
}

// loadNotifyConfig loads webhook configuration from environment
func loadNotifyConfig() NotifyConfig {
	return NotifyConfig{
		WebhookURL:    getEnv("GUICHET_WEBHOOK_URL", ""),
		WebhookSecret: getEnv("GUICHET_WEBHOOK_SECRET", ""),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       observability.ParseLogLevel(getEnv("GUICHET_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("GUICHET_METRICS_ENABLED", true),
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

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Audit.RetentionDays <= 0 {
		return fmt.Errorf("audit retention days must be positive")
	}
	if c.Audit.PurgeSchedule == "" {
		return fmt.Errorf("audit purge schedule is required")
	}

	if c.Notify.WebhookSecret != "" && c.Notify.WebhookURL == "" {
		return fmt.Errorf("webhook secret is set but webhook URL is empty")
	}

	return nil
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
