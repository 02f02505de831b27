package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allConfigKeys lists every CHECKGATE_ env var that Load() reads.
var allConfigKeys = []string{
	"CHECKGATE_LISTEN_ADDR",
	"CHECKGATE_DB_PATH",
	"CHECKGATE_CACHE_DIR",
	"CHECKGATE_CACHE_MAX_ENTRIES",
	"CHECKGATE_CACHE_TTL",
	"CHECKGATE_RETRY_MAX_ATTEMPTS",
	"CHECKGATE_RETRY_INITIAL_INTERVAL",
	"CHECKGATE_RETRY_MAX_INTERVAL",
	"CHECKGATE_MAX_SCHEME_CHECKERS",
	"CHECKGATE_GITHUB_TOKEN",
}

// isolateConfigEnv saves and unsets all CHECKGATE_ env vars so tests don't
// inherit values from the host environment (e.g. a running dev server).
// t.Cleanup restores original values after the test.
func isolateConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range allConfigKeys {
		if orig, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, orig) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func TestLoad_Success(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("CHECKGATE_LISTEN_ADDR", "0.0.0.0:9090")
	t.Setenv("CHECKGATE_DB_PATH", "/tmp/test.db")
	t.Setenv("CHECKGATE_CACHE_DIR", "")
	t.Setenv("CHECKGATE_CACHE_MAX_ENTRIES", "500")
	t.Setenv("CHECKGATE_CACHE_TTL", "24h")
	t.Setenv("CHECKGATE_RETRY_MAX_ATTEMPTS", "3")
	t.Setenv("CHECKGATE_RETRY_INITIAL_INTERVAL", "10ms")
	t.Setenv("CHECKGATE_RETRY_MAX_INTERVAL", "1s")
	t.Setenv("CHECKGATE_MAX_SCHEME_CHECKERS", "25")
	t.Setenv("CHECKGATE_GITHUB_TOKEN", "ghp_test123")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr)
	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.Empty(t, cfg.CacheDir)
	assert.Equal(t, int64(500), cfg.CacheMaxEntries)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.RetryInitialInterval)
	assert.Equal(t, time.Second, cfg.RetryMaxInterval)
	assert.Equal(t, 25, cfg.MaxSchemeCheckers)
	assert.True(t, cfg.HasGitHubCredentials())
}

func TestLoad_Defaults(t *testing.T) {
	isolateConfigEnv(t)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.Equal(t, "checkgate.db", cfg.DBPath)
	assert.Equal(t, "checkgate-cache", cfg.CacheDir)
	assert.Equal(t, int64(10000), cfg.CacheMaxEntries)
	assert.Equal(t, 30*24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 5, cfg.RetryMaxAttempts)
	assert.Equal(t, 20*time.Millisecond, cfg.RetryInitialInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryMaxInterval)
	assert.Equal(t, 10, cfg.MaxSchemeCheckers)
	assert.False(t, cfg.HasGitHubCredentials())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantKey string
	}{
		{
			name:    "cache entries not a number",
			env:     map[string]string{"CHECKGATE_CACHE_MAX_ENTRIES": "lots"},
			wantKey: "CHECKGATE_CACHE_MAX_ENTRIES",
		},
		{
			name:    "cache entries zero",
			env:     map[string]string{"CHECKGATE_CACHE_MAX_ENTRIES": "0"},
			wantKey: "CHECKGATE_CACHE_MAX_ENTRIES",
		},
		{
			name:    "ttl not a duration",
			env:     map[string]string{"CHECKGATE_CACHE_TTL": "a month"},
			wantKey: "CHECKGATE_CACHE_TTL",
		},
		{
			name:    "negative retries",
			env:     map[string]string{"CHECKGATE_RETRY_MAX_ATTEMPTS": "-1"},
			wantKey: "CHECKGATE_RETRY_MAX_ATTEMPTS",
		},
		{
			name:    "negative interval",
			env:     map[string]string{"CHECKGATE_RETRY_INITIAL_INTERVAL": "-5ms"},
			wantKey: "CHECKGATE_RETRY_INITIAL_INTERVAL",
		},
		{
			name: "max interval below initial",
			env: map[string]string{
				"CHECKGATE_RETRY_INITIAL_INTERVAL": "1s",
				"CHECKGATE_RETRY_MAX_INTERVAL":     "10ms",
			},
			wantKey: "CHECKGATE_RETRY_MAX_INTERVAL",
		},
		{
			name:    "scheme cap zero",
			env:     map[string]string{"CHECKGATE_MAX_SCHEME_CHECKERS": "0"},
			wantKey: "CHECKGATE_MAX_SCHEME_CHECKERS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateConfigEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()

			assert.Nil(t, cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantKey)
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	isolateConfigEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("CHECKGATE_DB_PATH=/data/from-dotenv.db\nCHECKGATE_LISTEN_ADDR=127.0.0.1:1111\n"), 0o600))
	t.Chdir(dir)
	// Variables from the environment win over .env entries.
	t.Setenv("CHECKGATE_LISTEN_ADDR", "127.0.0.1:2222")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "/data/from-dotenv.db", cfg.DBPath)
	assert.Equal(t, "127.0.0.1:2222", cfg.ListenAddr)
}
