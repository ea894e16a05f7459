package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	reqpipe "github.com/AnandSundar/go-reqpipe"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the resolved CLI configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration

	MaxAttempts int
	RetryDelay  time.Duration

	LoginPath     string
	ForbiddenPath string
	RedirectDelay time.Duration

	ClientVersion string
	Platform      string
	Locale        string

	Coalesce         bool
	NotifyDuplicates bool
	RateLimit        float64
	RateBurst        int

	CacheSweep time.Duration

	RedisAddr     string
	RedisDB       int
	RedisPassword string

	// SessionDB is a sqlite file holding the session; empty keeps it in memory.
	SessionDB string
	Profile   string

	LogLevel  string
	LogFormat string
}

const (
	defaultConfigPath = "~/.config/reqpipe/config.toml"
	defaultBaseURL    = "http://127.0.0.1:8080"
	defaultProfile    = "default"
	defaultLogLevel   = "info"
	defaultLogFormat  = "text"
)

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		BaseURL:       defaultBaseURL,
		Timeout:       reqpipe.DefaultTimeout,
		MaxAttempts:   reqpipe.DefaultMaxAttempts,
		RetryDelay:    reqpipe.DefaultRetryDelay,
		LoginPath:     reqpipe.DefaultLoginPath,
		ForbiddenPath: reqpipe.DefaultForbiddenPath,
		// A one-shot command exits before a delayed redirect could fire.
		RedirectDelay: 0,
		ClientVersion: reqpipe.DefaultClientVersion,
		Platform:      "cli",
		CacheSweep:    time.Minute,
		Profile:       defaultProfile,
		LogLevel:      defaultLogLevel,
		LogFormat:     defaultLogFormat,
	}
}

// raw mirrors the file layout. Durations are strings such as "1.5s".
type raw struct {
	BaseURL       string  `toml:"base_url" yaml:"base_url"`
	Timeout       string  `toml:"timeout" yaml:"timeout"`
	MaxAttempts   *int    `toml:"max_attempts" yaml:"max_attempts"`
	RetryDelay    string  `toml:"retry_delay" yaml:"retry_delay"`
	LoginPath     string  `toml:"login_path" yaml:"login_path"`
	ForbiddenPath string  `toml:"forbidden_path" yaml:"forbidden_path"`
	RedirectDelay string  `toml:"redirect_delay" yaml:"redirect_delay"`
	ClientVersion string  `toml:"client_version" yaml:"client_version"`
	Platform      string  `toml:"platform" yaml:"platform"`
	Locale        string  `toml:"locale" yaml:"locale"`
	Coalesce      bool    `toml:"coalesce" yaml:"coalesce"`
	NotifyDups    bool    `toml:"notify_duplicates" yaml:"notify_duplicates"`
	RateLimit     float64 `toml:"rate_limit" yaml:"rate_limit"`
	RateBurst     int     `toml:"rate_burst" yaml:"rate_burst"`
	CacheSweep    string  `toml:"cache_sweep" yaml:"cache_sweep"`

	Redis struct {
		Addr     string `toml:"addr" yaml:"addr"`
		DB       int    `toml:"db" yaml:"db"`
		Password string `toml:"password" yaml:"password"`
	} `toml:"redis" yaml:"redis"`

	Session struct {
		DB      string `toml:"db" yaml:"db"`
		Profile string `toml:"profile" yaml:"profile"`
	} `toml:"session" yaml:"session"`

	Log struct {
		Level  string `toml:"level" yaml:"level"`
		Format string `toml:"format" yaml:"format"`
	} `toml:"log" yaml:"log"`
}

// Load locates and parses the config, falling back to defaults when missing.
// Files ending in .yaml or .yml are read as YAML, everything else as TOML.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var r raw
	switch strings.ToLower(filepath.Ext(resolved)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &r)
	default:
		err = toml.Unmarshal(data, &r)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.apply(r); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) apply(r raw) error {
	setString(&c.BaseURL, r.BaseURL)
	setString(&c.LoginPath, r.LoginPath)
	setString(&c.ForbiddenPath, r.ForbiddenPath)
	setString(&c.ClientVersion, r.ClientVersion)
	setString(&c.Platform, r.Platform)
	setString(&c.Locale, r.Locale)
	setString(&c.RedisAddr, r.Redis.Addr)
	setString(&c.RedisPassword, r.Redis.Password)
	setString(&c.Profile, r.Session.Profile)
	setString(&c.LogLevel, r.Log.Level)
	setString(&c.LogFormat, r.Log.Format)

	if db := strings.TrimSpace(r.Session.DB); db != "" {
		c.SessionDB = mustExpand(db)
	}
	if r.MaxAttempts != nil {
		if *r.MaxAttempts < 1 {
			return fmt.Errorf("max_attempts must be at least 1, got %d", *r.MaxAttempts)
		}
		c.MaxAttempts = *r.MaxAttempts
	}

	c.Coalesce = r.Coalesce
	c.NotifyDuplicates = r.NotifyDups
	c.RateLimit = r.RateLimit
	c.RateBurst = r.RateBurst
	c.RedisDB = r.Redis.DB

	for _, d := range []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"timeout", r.Timeout, &c.Timeout},
		{"retry_delay", r.RetryDelay, &c.RetryDelay},
		{"redirect_delay", r.RedirectDelay, &c.RedirectDelay},
		{"cache_sweep", r.CacheSweep, &c.CacheSweep},
	} {
		if strings.TrimSpace(d.value) == "" {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.value))
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.name, err)
		}
		if parsed < 0 {
			return fmt.Errorf("%s must not be negative", d.name)
		}
		*d.dst = parsed
	}
	return nil
}

// Options returns the client options the configuration implies. Storage
// backends are wired by the caller.
func (c Config) Options() []reqpipe.Option {
	opts := []reqpipe.Option{
		reqpipe.WithRetryPolicy(reqpipe.RetryPolicy{MaxAttempts: c.MaxAttempts, Delay: c.RetryDelay}),
		reqpipe.WithRedirects(c.LoginPath, c.ForbiddenPath, c.RedirectDelay),
		reqpipe.WithClientInfo(c.ClientVersion, c.Platform),
	}
	if c.Locale != "" {
		locale := c.Locale
		opts = append(opts, reqpipe.WithLocale(func() string { return locale }))
	}
	if c.Coalesce {
		opts = append(opts, reqpipe.WithCoalescing())
	}
	if c.NotifyDuplicates {
		opts = append(opts, reqpipe.WithDuplicateNotice())
	}
	if c.RateLimit > 0 {
		opts = append(opts, reqpipe.WithRateLimit(c.RateLimit, c.RateBurst))
	}
	return opts
}

func setString(dst *string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		*dst = v
	}
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
