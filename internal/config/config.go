// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string

	// CacheDir holds the persistent combined state cache. Empty keeps the
	// cache in memory.
	CacheDir        string
	CacheMaxEntries int64
	CacheTTL        time.Duration

	RetryMaxAttempts     int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration

	MaxSchemeCheckers int

	GitHubToken string
}

// HasGitHubCredentials returns true when a GitHub token is configured. Used
// by the composition root to decide between the commit status notifier and
// the log-only notifier.
func (c *Config) HasGitHubCredentials() bool {
	return c.GitHubToken != ""
}

// Load reads configuration from environment variables and returns a validated
// Config. A .env file in the working directory is read first when present;
// variables already set in the environment take precedence over it.
//
// Optional variables with defaults: CHECKGATE_LISTEN_ADDR (127.0.0.1:8080),
// CHECKGATE_DB_PATH (checkgate.db), CHECKGATE_CACHE_DIR (checkgate-cache),
// CHECKGATE_CACHE_MAX_ENTRIES (10000), CHECKGATE_CACHE_TTL (720h),
// CHECKGATE_RETRY_MAX_ATTEMPTS (5), CHECKGATE_RETRY_INITIAL_INTERVAL (20ms),
// CHECKGATE_RETRY_MAX_INTERVAL (500ms), CHECKGATE_MAX_SCHEME_CHECKERS (10).
// CHECKGATE_GITHUB_TOKEN enables commit status notifications.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		ListenAddr:           stringEnv("CHECKGATE_LISTEN_ADDR", "127.0.0.1:8080"),
		DBPath:               stringEnv("CHECKGATE_DB_PATH", "checkgate.db"),
		CacheDir:             stringEnv("CHECKGATE_CACHE_DIR", "checkgate-cache"),
		CacheMaxEntries:      10000,
		CacheTTL:             30 * 24 * time.Hour,
		RetryMaxAttempts:     5,
		RetryInitialInterval: 20 * time.Millisecond,
		RetryMaxInterval:     500 * time.Millisecond,
		MaxSchemeCheckers:    10,
		GitHubToken:          os.Getenv("CHECKGATE_GITHUB_TOKEN"),
	}

	entries, err := intEnv("CHECKGATE_CACHE_MAX_ENTRIES", int(cfg.CacheMaxEntries), 1)
	if err != nil {
		return nil, err
	}
	cfg.CacheMaxEntries = int64(entries)

	if cfg.CacheTTL, err = durationEnv("CHECKGATE_CACHE_TTL", cfg.CacheTTL); err != nil {
		return nil, err
	}
	if cfg.RetryMaxAttempts, err = intEnv("CHECKGATE_RETRY_MAX_ATTEMPTS", cfg.RetryMaxAttempts, 0); err != nil {
		return nil, err
	}
	if cfg.RetryInitialInterval, err = durationEnv("CHECKGATE_RETRY_INITIAL_INTERVAL", cfg.RetryInitialInterval); err != nil {
		return nil, err
	}
	if cfg.RetryMaxInterval, err = durationEnv("CHECKGATE_RETRY_MAX_INTERVAL", cfg.RetryMaxInterval); err != nil {
		return nil, err
	}
	if cfg.RetryMaxInterval < cfg.RetryInitialInterval {
		return nil, fmt.Errorf("CHECKGATE_RETRY_MAX_INTERVAL (%s) is shorter than CHECKGATE_RETRY_INITIAL_INTERVAL (%s)",
			cfg.RetryMaxInterval, cfg.RetryInitialInterval)
	}
	if cfg.MaxSchemeCheckers, err = intEnv("CHECKGATE_MAX_SCHEME_CHECKERS", cfg.MaxSchemeCheckers, 1); err != nil {
		return nil, err
	}

	return cfg, nil
}

func stringEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func intEnv(key string, def, minimum int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid integer %q: %w", key, v, err)
	}
	if n < minimum {
		return 0, fmt.Errorf("%s must be at least %d, got %d", key, minimum, n)
	}
	return n, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %s", key, d)
	}
	return d, nil
}
