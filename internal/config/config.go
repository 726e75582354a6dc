// Package config loads application configuration from environment
// variables, optionally via a .env file. Secrets (api_key,
// webhook_secret) are bootstrap-only here: once the database holds a
// persisted provider_config row, that row wins at runtime.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the service's runtime configuration.
type Config struct {
	DatabaseURL   string
	FinnhubAPIKey string
	WebhookSecret string
	Port          int
	LogLevel      string
	LogPretty     bool

	// Archive (optional, env-gated; empty bucket disables the component).
	ArchiveS3Bucket   string
	ArchiveS3Region   string
	TickRetentionDays int

	// Scheduler cron expressions (robfig/cron/v3 syntax).
	StressTestCron       string
	RetentionCleanupCron string

	// Risk engine defaults, used when a caller doesn't override them.
	RiskConfidenceLevel float64
	RiskTimeHorizonDays int
	RiskNumSimulations  int
}

// Load reads configuration from the environment, loading an optional
// .env file first (godotenv.Load() silently no-ops if none exists).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:   getEnv("DATABASE_URL", "file:data/valuation.db"),
		FinnhubAPIKey: getEnv("FINNHUB_API_KEY", ""),
		WebhookSecret: getEnv("WEBHOOK_SECRET", ""),
		Port:          getEnvAsInt("PORT", 8080),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogPretty:     getEnvAsBool("LOG_PRETTY", false),

		ArchiveS3Bucket:   getEnv("ARCHIVE_S3_BUCKET", ""),
		ArchiveS3Region:   getEnv("ARCHIVE_S3_REGION", "us-east-1"),
		TickRetentionDays: getEnvAsInt("TICK_RETENTION_DAYS", 90),

		StressTestCron:       getEnv("STRESS_TEST_CRON", "0 */6 * * *"),
		RetentionCleanupCron: getEnv("RETENTION_CLEANUP_CRON", "0 3 * * *"),

		RiskConfidenceLevel: getEnvAsFloat("RISK_CONFIDENCE_LEVEL", 0.95),
		RiskTimeHorizonDays: getEnvAsInt("RISK_TIME_HORIZON_DAYS", 10),
		RiskNumSimulations:  getEnvAsInt("RISK_NUM_SIMULATIONS", 10000),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ProviderConfigOverride carries the persisted provider_config row.
// ApplyOverride lets a loaded Config be refreshed once the database has
// been opened — the persisted values win over whatever was bootstrapped
// from the environment.
type ProviderConfigOverride struct {
	APIKey        *string
	WebhookSecret *string
}

// ApplyOverride applies persisted settings on top of environment
// defaults. A nil or empty override field leaves the existing value in
// place, so an empty settings DB row never clobbers a bootstrapped env
// value.
func (c *Config) ApplyOverride(o ProviderConfigOverride) {
	if o.APIKey != nil && *o.APIKey != "" {
		c.FinnhubAPIKey = *o.APIKey
	}
	if o.WebhookSecret != nil && *o.WebhookSecret != "" {
		c.WebhookSecret = *o.WebhookSecret
	}
}

// Validate checks configuration invariants that would otherwise surface
// as a confusing failure much later (e.g. inside database.New).
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
