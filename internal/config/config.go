package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	DatabaseDriver  string // "pgx" or "sqlite"
	DatabaseDSN     string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// BatchSize bounds warehouse chunk inserts per transaction.
	BatchSize int

	// Upstream API configuration.
	SoilGridsURL string
	OpenMeteoURL string
	APITimeout   time.Duration
	APIRetries   int
	APIRateLimit float64 // requests per second, shared shape across adapters

	// Scraper politeness delay between page fetches.
	ScrapeDelay time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	apiTimeout, err := parseDuration("API_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	scrapeDelay, err := parseDuration("SCRAPE_DELAY", "1s")
	if err != nil {
		return nil, err
	}
	batchSize, err := parsePositiveInt("ETL_BATCH_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	retries, err := parsePositiveInt("API_RETRIES", 3)
	if err != nil {
		return nil, err
	}
	rateLimit, err := parseRateLimit()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabaseDriver:  envOrDefault("DATABASE_DRIVER", "pgx"),
		DatabaseDSN:     os.Getenv("DATABASE_DSN"),
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		BatchSize:       batchSize,

		SoilGridsURL: envOrDefault("SOILGRIDS_URL", "https://rest.isric.org/soilgrids/v2.0"),
		OpenMeteoURL: envOrDefault("OPENMETEO_URL", "https://archive-api.open-meteo.com/v1"),
		APITimeout:   apiTimeout,
		APIRetries:   retries,
		APIRateLimit: rateLimit,
		ScrapeDelay:  scrapeDelay,
	}

	if cfg.DatabaseDriver != "pgx" && cfg.DatabaseDriver != "sqlite" {
		return nil, fmt.Errorf("DATABASE_DRIVER must be pgx or sqlite, got %q", cfg.DatabaseDriver)
	}
	if cfg.DatabaseDSN == "" {
		return nil, errors.New("DATABASE_DSN is required")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parseRateLimit() (float64, error) {
	s := os.Getenv("API_RATE_LIMIT")
	if s == "" {
		return 2.0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0, errors.New("invalid API_RATE_LIMIT")
	}
	return f, nil
}
