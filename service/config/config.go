package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// API configuration
	JWTSecret       string // empty disables bearer auth
	RateLimitRPS    float64
	RateLimitBurst  int
	SummaryCacheTTL time.Duration
	MaxBulkItems    int

	// Import configuration
	ImportDir string
	Timezone  *time.Location
}

// Load reads configuration from environment variables and validates all required fields.
// A .env file in the working directory is applied first when present.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9090")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "pesalog-import")

	// API configuration
	cfg.JWTSecret = os.Getenv("JWT_SECRET")

	rps, err := parseFloat("RATE_LIMIT_RPS", 10)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RateLimitRPS = rps
	}

	burst, err := parseInt("RATE_LIMIT_BURST", 20)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RateLimitBurst = burst
	}

	ttl, err := parseDuration("SUMMARY_CACHE_TTL", "5m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SummaryCacheTTL = ttl
	}

	maxBulk, err := parseInt("MAX_BULK_ITEMS", 1000)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MaxBulkItems = maxBulk
	}

	// Import configuration
	cfg.ImportDir = getEnvOrDefault("IMPORT_DIR", ".")

	tzName := getEnvOrDefault("TIMEZONE", "Africa/Nairobi")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE: unknown location %q: %w", tzName, err))
	} else {
		cfg.Timezone = loc
	}

	if cfg.RateLimitRPS <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS must be positive"))
	}
	if cfg.MaxBulkItems < 1 {
		errs = append(errs, fmt.Errorf("MAX_BULK_ITEMS must be at least 1"))
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.RateLimitRPS <= 0 {
		errs = append(errs, fmt.Errorf("RateLimitRPS must be positive"))
	}

	if c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("RateLimitBurst must be at least 1"))
	}

	if c.MaxBulkItems < 1 {
		errs = append(errs, fmt.Errorf("MaxBulkItems must be at least 1"))
	}

	if c.Timezone == nil {
		errs = append(errs, fmt.Errorf("Timezone is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}
