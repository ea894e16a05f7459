package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	reqpipe "github.com/AnandSundar/go-reqpipe"
	"github.com/AnandSundar/go-reqpipe/internal/config"
	"github.com/AnandSundar/go-reqpipe/notify"
	"github.com/AnandSundar/go-reqpipe/store"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// app is a configured client plus the resources it holds.
type app struct {
	cfg     config.Config
	client  *reqpipe.Client
	router  *notify.Router
	logger  *slog.Logger
	out     io.Writer
	color   bool
	closers []func() error
}

func newApp(ctx context.Context, root *Options) (*app, error) {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return nil, err
	}
	if root.BaseURL != "" {
		cfg.BaseURL = root.BaseURL
	}
	if root.Verbose {
		cfg.LogLevel = "debug"
	}

	a := &app{
		cfg:    cfg,
		logger: newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat),
		out:    os.Stdout,
		color:  !root.NoColor,
	}

	transport, err := reqpipe.NewHTTPTransport(cfg.BaseURL, nil)
	if err != nil {
		return nil, err
	}

	console := notify.NewConsole(os.Stderr, notify.DefaultPalette)
	a.router = notify.NewRouter(console, "")
	opts := append(cfg.Options(),
		reqpipe.WithLogger(a.logger),
		reqpipe.WithNotifier(console),
		reqpipe.WithNavigator(a.router),
		reqpipe.WithReporter(console),
	)

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			DB:       cfg.RedisDB,
			Password: cfg.RedisPassword,
		})
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		opts = append(opts,
			reqpipe.WithCache(store.NewRedisCache(rdb)),
			reqpipe.WithInFlight(store.NewRedisInFlight(rdb, 0)),
		)
	} else {
		cache := store.NewMemoryCache(cfg.CacheSweep)
		a.closers = append(a.closers, cache.Close)
		opts = append(opts, reqpipe.WithCache(cache))
	}

	backend, err := a.sessionBackend(ctx, rdb)
	if err != nil {
		a.Close()
		return nil, err
	}
	opts = append(opts, reqpipe.WithSessions(reqpipe.NewSessionStore(backend)))

	client, err := reqpipe.New(transport, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.client = client
	return a, nil
}

// sessionBackend prefers the sqlite file, then Redis. Without either the
// session lives for a single command only.
func (a *app) sessionBackend(ctx context.Context, rdb *redis.Client) (reqpipe.SessionBackend, error) {
	switch {
	case a.cfg.SessionDB != "":
		db, err := gorm.Open(sqlite.Open(a.cfg.SessionDB), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("open session db: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}
		sessions, err := store.NewGormSessions(db, a.cfg.Profile)
		if err != nil {
			return nil, err
		}
		if removed, err := sessions.DeleteExpired(ctx); err != nil {
			a.logger.Warn("expired session cleanup failed", "error", err)
		} else if removed > 0 {
			a.logger.Debug("removed expired sessions", "count", removed)
		}
		return sessions, nil
	case rdb != nil:
		return store.NewRedisSessions(rdb, a.cfg.Profile), nil
	default:
		a.logger.Debug("no session storage configured, sessions are not persisted")
		return nil, nil
	}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

// newLogger builds the CLI logger. Credentials never reach the output.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: redact,
	}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func redact(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	if key == "token" || key == "authorization" || strings.Contains(key, "password") {
		return slog.String(a.Key, "[REDACTED]")
	}
	return a
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
