package reqpipe

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultLoginPath is where a 401 sends the user
	DefaultLoginPath = "/login"
	// DefaultForbiddenPath is where a 403 sends the user
	DefaultForbiddenPath = "/403"
	// DefaultRedirectDelay lets the session-expired notice show before leaving the page
	DefaultRedirectDelay = 1500 * time.Millisecond
	// DefaultClientVersion is sent as X-Client-Version
	DefaultClientVersion = "1.0.0"
	// DefaultPlatform is sent as X-Client-Platform
	DefaultPlatform = "web"
)

// Config holds client configuration
type Config struct {
	Cache     Cache
	InFlight  InFlight
	Sessions  *SessionStore
	Notifier  Notifier
	Navigator Navigator
	Reporter  Reporter
	Logger    *slog.Logger
	Retry     RetryPolicy

	LoginPath     string
	ForbiddenPath string
	RedirectDelay time.Duration

	ClientVersion string
	Platform      string
	Locale        func() string
	Offline       func() bool

	// Report enables the error sink for server failures; production builds only.
	Report    bool
	Coalesce  bool
	RateLimit *rate.Limiter

	// NotifyDuplicates turns dedup rejections into a warning notice.
	NotifyDuplicates bool
}

// Option is a functional option for configuring the client
type Option func(*Config)

// WithCache enables the application response cache for requests that opt in
func WithCache(cache Cache) Option {
	return func(c *Config) {
		c.Cache = cache
	}
}

// WithInFlight replaces the process-local in-flight set, e.g. with a Redis one
func WithInFlight(inflight InFlight) Option {
	return func(c *Config) {
		c.InFlight = inflight
	}
}

// WithSessions sets the session store consulted for the Authorization header
func WithSessions(store *SessionStore) Option {
	return func(c *Config) {
		c.Sessions = store
	}
}

// WithNotifier sets the sink for user notices
func WithNotifier(n Notifier) Option {
	return func(c *Config) {
		c.Notifier = n
	}
}

// WithNavigator sets the navigation sink used by 401/403 redirects
func WithNavigator(n Navigator) Option {
	return func(c *Config) {
		c.Navigator = n
	}
}

// WithReporter sets the error sink and enables reporting of server failures
func WithReporter(r Reporter) Option {
	return func(c *Config) {
		c.Reporter = r
		c.Report = r != nil
	}
}

// WithLogger sets the structured logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithRetryPolicy replaces the default retry policy
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Config) {
		c.Retry = p
	}
}

// WithRedirects sets the login and forbidden paths and the delay before redirecting
func WithRedirects(loginPath, forbiddenPath string, delay time.Duration) Option {
	return func(c *Config) {
		if loginPath != "" {
			c.LoginPath = loginPath
		}
		if forbiddenPath != "" {
			c.ForbiddenPath = forbiddenPath
		}
		if delay >= 0 {
			c.RedirectDelay = delay
		}
	}
}

// WithClientInfo sets the version and platform trace tags
func WithClientInfo(version, platform string) Option {
	return func(c *Config) {
		c.ClientVersion = version
		c.Platform = platform
	}
}

// WithLocale sets the source of the Accept-Language header
func WithLocale(fn func() string) Option {
	return func(c *Config) {
		c.Locale = fn
	}
}

// WithOfflineProbe sets the check used to word network failures as offline
func WithOfflineProbe(fn func() bool) Option {
	return func(c *Config) {
		c.Offline = fn
	}
}

// WithDuplicateNotice reports requests rejected at the dedup gate with a
// warning notice. By default they fail silently.
func WithDuplicateNotice() Option {
	return func(c *Config) {
		c.NotifyDuplicates = true
	}
}

// WithCoalescing makes concurrent duplicates share the first caller's outcome
// instead of failing with a DuplicateRequest error
func WithCoalescing() Option {
	return func(c *Config) {
		c.Coalesce = true
	}
}

// WithRateLimit caps outbound attempts at rps with the given burst
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Config) {
		if rps <= 0 {
			c.RateLimit = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.RateLimit = rate.NewLimiter(rate.Limit(rps), burst)
	}
}
