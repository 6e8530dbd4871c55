package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	Port        string
	Environment string

	// Storage
	SQLitePath string

	// Engine limits
	MaxUploadBytes int64
	TempTTL        time.Duration
	VariantWorkers int
	SweepInterval  time.Duration
}

func Load() (*Config, error) {
	maxUploadBytes, err := getEnvInt64("MAX_UPLOAD_BYTES", 5<<20)
	if err != nil {
		return nil, err
	}

	tempTTL, err := getEnvDuration("TEMP_UPLOAD_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	variantWorkers, err := getEnvInt("VARIANT_WORKERS", 4)
	if err != nil {
		return nil, err
	}

	sweepInterval, err := getEnvDuration("SWEEP_INTERVAL", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		SQLitePath: getEnv("SQLITE_DB_PATH", "./imagevault.db"),

		MaxUploadBytes: maxUploadBytes,
		TempTTL:        tempTTL,
		VariantWorkers: variantWorkers,
		SweepInterval:  sweepInterval,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.TempTTL <= 0 {
		return fmt.Errorf("TEMP_UPLOAD_TTL must be positive")
	}
	if c.VariantWorkers <= 0 {
		return fmt.Errorf("VARIANT_WORKERS must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return parsed, nil
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return parsed, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 24h or 10m: %w", key, err)
	}
	return parsed, nil
}
