// Package config provides application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	// Repository layout
	RepoRoot  string // defaults to the current working directory
	ChartsDir string // local chart directory relative to RepoRoot

	// Manifest and chart-cache storage (optional; S3-compatible)
	StoreEndpoint  string
	StoreBucket    string
	StorePrefix    string
	StoreAccessKey string
	StoreSecretKey string
	StoreSecure    bool

	// Default chart registry for ApplicationSet expansion
	ChartRepo string

	// Expansion limits
	Workers  int
	MaxDepth int

	LogLevel string

	// OpenTelemetry (optional)
	OTelEnabled bool // OTEL_ENABLED feature flag
}

// Load reads configuration from environment variables and applies defaults:
// ChartsDir ("charts"), Workers (4), MaxDepth (5), LogLevel ("info").
// Storage is optional; when STORE_BUCKET is unset the diff and push
// workflows are unavailable but rendering still works.
func Load() (Config, error) {
	cfg := Config{
		ChartsDir: "charts",
		Workers:   4,
		MaxDepth:  5,
		LogLevel:  "info",
	}

	if err := loadCoreConfig(&cfg); err != nil {
		return Config{}, err
	}

	loadStoreConfig(&cfg)

	cfg.OTelEnabled = os.Getenv("OTEL_ENABLED") == "true"

	return cfg, nil
}

// HasStore reports whether an object store is configured.
func (c Config) HasStore() bool {
	return c.StoreBucket != ""
}

func loadCoreConfig(cfg *Config) error {
	cfg.RepoRoot = os.Getenv("REPO_ROOT")
	if cfg.RepoRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("determining working directory: %w", err)
		}
		cfg.RepoRoot = wd
	}

	cfg.ChartsDir = getEnvOrDefault("CHARTS_DIR", cfg.ChartsDir)
	cfg.ChartRepo = os.Getenv("CHART_REPO")

	var err error
	cfg.Workers, err = parseIntOrDefault("RENDER_WORKERS", cfg.Workers)
	if err != nil {
		return err
	}
	cfg.MaxDepth, err = parseIntOrDefault("MAX_RECURSION_DEPTH", cfg.MaxDepth)
	if err != nil {
		return err
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return nil
}

func loadStoreConfig(cfg *Config) {
	cfg.StoreBucket = os.Getenv("STORE_BUCKET")
	if cfg.StoreBucket == "" {
		return
	}

	cfg.StoreEndpoint = getEnvOrDefault("STORE_ENDPOINT", "s3.amazonaws.com")
	cfg.StorePrefix = os.Getenv("STORE_PREFIX")
	cfg.StoreAccessKey = os.Getenv("STORE_ACCESS_KEY")
	cfg.StoreSecretKey = os.Getenv("STORE_SECRET_KEY")
	cfg.StoreSecure = os.Getenv("STORE_INSECURE") != "true"
}

func parseIntOrDefault(envKey string, defaultValue int) (int, error) {
	v := os.Getenv(envKey)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envKey, v, err)
	}
	return n, nil
}

func getEnvOrDefault(envKey, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return defaultValue
}
