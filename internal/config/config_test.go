package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	reqpipe "github.com/AnandSundar/go-reqpipe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, reqpipe.DefaultMaxAttempts, cfg.MaxAttempts)
	// Redirects fire before a command exits
	assert.Equal(t, time.Duration(0), cfg.RedirectDelay)
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
base_url = "https://api.example.com"
timeout = "5s"
max_attempts = 1
retry_delay = "250ms"
locale = "de-DE"
coalesce = true
rate_limit = 20.0
rate_burst = 5

[redis]
addr = "localhost:6379"
db = 2

[session]
db = "/tmp/sessions.db"
profile = "work"

[log]
level = "debug"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", cfg.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 1, cfg.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
	assert.Equal(t, "de-DE", cfg.Locale)
	assert.True(t, cfg.Coalesce)
	assert.Equal(t, 20.0, cfg.RateLimit)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, "/tmp/sessions.db", cfg.SessionDB)
	assert.Equal(t, "work", cfg.Profile)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Unset keys keep their defaults
	assert.Equal(t, reqpipe.DefaultLoginPath, cfg.LoginPath)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
base_url: http://localhost:9000
redirect_delay: 1500ms
notify_duplicates: true
login_path: /signin
session:
  profile: ci
log:
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", cfg.BaseURL)
	assert.Equal(t, 1500*time.Millisecond, cfg.RedirectDelay)
	assert.True(t, cfg.NotifyDuplicates)
	assert.Equal(t, "/signin", cfg.LoginPath)
	assert.Equal(t, "ci", cfg.Profile)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad.toml":      `timeout = `,
		"duration.toml": `timeout = "soon"`,
		"negative.toml": `retry_delay = "-1s"`,
		"attempts.yaml": `max_attempts: 0`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, name, content))
			assert.Error(t, err)
		})
	}
}

func TestOptions(t *testing.T) {
	cfg := Default()
	assert.Len(t, cfg.Options(), 3)

	cfg.Locale = "en-GB"
	cfg.Coalesce = true
	cfg.RateLimit = 10
	cfg.NotifyDuplicates = true
	opts := cfg.Options()
	assert.Len(t, opts, 7)

	var applied reqpipe.Config
	for _, opt := range opts {
		opt(&applied)
	}
	assert.Equal(t, "en-GB", applied.Locale())
	assert.True(t, applied.Coalesce)
	assert.True(t, applied.NotifyDuplicates)
	assert.Equal(t, time.Duration(0), applied.RedirectDelay)
	assert.NotNil(t, applied.RateLimit)
	assert.Equal(t, "cli", applied.Platform)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := expandPath("~/x/config.toml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "x", "config.toml"), got)

	_, err = expandPath("   ")
	assert.Error(t, err)
}
