// Package reqpipe is the policy layer between application code and an HTTP
// transport. Every call goes through the same steps: a response cache lookup
// for opted-in GETs, a dedup gate that rejects identical in-flight requests,
// decoration (auth, locale, trace ids, cache busting, payload sanitizing,
// default timeout), the transport with a retry policy, classification of
// the result, and a recovery handler for the final failure.
package reqpipe

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Client sends requests through the pipeline. It is safe for concurrent use.
type Client struct {
	transport Transport
	config    Config
	registry  *Registry
	recoverer *recoverer
	flight    singleflight.Group
	process   string
	seq       atomic.Uint64
	logger    *slog.Logger
}

// New creates a client on top of transport.
func New(transport Transport, opts ...Option) (*Client, error) {
	if transport == nil {
		return nil, ErrNilTransport
	}

	config := Config{
		Retry:         DefaultRetryPolicy(),
		LoginPath:     DefaultLoginPath,
		ForbiddenPath: DefaultForbiddenPath,
		RedirectDelay: DefaultRedirectDelay,
		ClientVersion: DefaultClientVersion,
		Platform:      DefaultPlatform,
	}
	for _, opt := range opts {
		opt(&config)
	}

	if config.Sessions == nil {
		config.Sessions = NewSessionStore(nil)
	}
	if config.Notifier == nil {
		config.Notifier = nopNotifier{}
	}
	if config.Navigator == nil {
		config.Navigator = nopNavigator{}
	}
	if config.Reporter == nil {
		config.Reporter = nopReporter{}
		config.Report = false
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	config.Retry = config.Retry.normalized()

	logger := config.Logger.With(slog.String("component", "reqpipe"))
	config.Sessions.setLogger(logger)
	c := &Client{
		transport: transport,
		config:    config,
		registry:  NewRegistry(config.InFlight),
		process:   uuid.NewString(),
		logger:    logger,
	}
	c.recoverer = &recoverer{
		sessions:  config.Sessions,
		notifier:  config.Notifier,
		reporter:  config.Reporter,
		report:    config.Report,
		guard:     newRedirectGuard(config.Navigator, config.RedirectDelay),
		login:     config.LoginPath,
		forbidden: config.ForbiddenPath,
		client:    fmt.Sprintf("%s/%s", config.Platform, config.ClientVersion),
		logger:    logger,

		notifyDuplicates: config.NotifyDuplicates,
	}
	return c, nil
}

// Send dispatches req and returns a channel that yields exactly one Outcome.
// req is copied before Send returns. A panic in a configured callback, such
// as the locale func, is delivered as a KindInternal failure.
func (c *Client) Send(ctx context.Context, req *Request) <-chan Outcome {
	own := req.clone()
	ch := make(chan Outcome, 1)
	go func() {
		defer close(ch)
		defer func() {
			if p := recover(); p != nil {
				ch <- c.panicked(own, p)
			}
		}()
		ch <- c.execute(ctx, own)
	}()
	return ch
}

func (c *Client) panicked(req *Request, p any) Outcome {
	e := &Error{Kind: KindInternal, Message: "something went wrong, please try again", Cause: fmt.Errorf("panic: %v", p)}
	c.logger.Error("request panicked", "method", req.Method, "url", req.URL, "panic", p, "stack", string(debug.Stack()))
	if !req.SkipErrorHandler {
		func() {
			defer func() { _ = recover() }()
			c.config.Notifier.Notify(Notice{Severity: SeverityError, Title: "Error", Body: e.Message})
		}()
	}
	return Outcome{Err: e}
}

// Do dispatches req and waits for it. The error, when non-nil, is a *Error.
// Unlike Send, Do lets callback panics propagate to the caller.
func (c *Client) Do(ctx context.Context, req *Request) (any, error) {
	out := c.execute(ctx, req.clone())
	return out.Data, out.Err
}

// Sessions returns the session store used for authentication.
func (c *Client) Sessions() *SessionStore {
	return c.config.Sessions
}

// Logout destroys the session and sends the user to the login path.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.config.Sessions.Destroy(ctx); err != nil {
		return err
	}
	c.recoverer.guard.redirect(c.config.LoginPath)
	return nil
}

// ClearDedupRegistry forgets every in-flight fingerprint, e.g. on app teardown.
func (c *Client) ClearDedupRegistry() {
	c.registry.Clear()
}

// InFlight returns the number of requests currently past the dedup gate.
func (c *Client) InFlight() int {
	return c.registry.Len()
}

// CacheStats reports the response cache contents. Without a cache it is empty.
func (c *Client) CacheStats(ctx context.Context) (CacheStats, error) {
	if c.config.Cache == nil {
		return CacheStats{Keys: []string{}}, nil
	}
	return c.config.Cache.Stats(ctx)
}

func (c *Client) execute(ctx context.Context, req *Request) Outcome {
	key := Fingerprint(req)

	if req.cacheable() && c.config.Cache != nil {
		value, found, err := c.config.Cache.Get(ctx, key)
		if err != nil {
			c.logger.Warn("cache read failed", "url", req.URL, "error", err)
		} else if found {
			c.logger.Debug("cache hit", "url", req.URL)
			return Outcome{Data: value, Cached: true}
		}
	}

	if !c.config.Coalesce {
		return c.dispatch(ctx, req, key)
	}
	v, _, shared := c.flight.Do(key, func() (any, error) {
		return c.dispatch(ctx, req, key), nil
	})
	out := v.(Outcome)
	if shared {
		out.Data = CloneValue(out.Data)
	}
	return out
}

func (c *Client) dispatch(ctx context.Context, req *Request, key string) Outcome {
	release, ok := c.registry.TryAcquire(req)
	if !ok {
		c.logger.Debug("duplicate request rejected", "method", req.Method, "url", req.URL)
		dup := &Error{Kind: KindDuplicateRequest, Message: ErrDuplicateRequest.Error()}
		return Outcome{Err: c.recoverer.handle(ctx, req, dup)}
	}
	defer release()

	c.prepare(ctx, req)

	policy := c.config.Retry
	var out Outcome
	attempt := 1
	for ; ; attempt++ {
		out = c.attempt(ctx, req)
		if out.Err == nil || ctx.Err() != nil || !policy.ShouldRetry(attempt, out.Err) {
			break
		}
		delay := policy.DelayFor(attempt)
		c.logger.Warn("retrying request",
			"method", req.Method, "url", req.URL, "attempt", attempt, "delay", delay, "error", out.Err)
		if err := sleep(ctx, delay); err != nil {
			out = Outcome{Err: transportFailure(err, false)}
			break
		}
	}
	out.Attempts = attempt

	if out.Err != nil {
		e, _ := AsError(out.Err)
		out.Err = c.recoverer.handle(ctx, req, e)
		return out
	}

	if req.cacheable() && c.config.Cache != nil {
		if err := c.config.Cache.Set(context.WithoutCancel(ctx), key, out.Data, req.cacheTTL()); err != nil {
			c.logger.Warn("cache write failed", "url", req.URL, "error", err)
		}
	}
	if req.ShowSuccessNotice {
		body := req.SuccessMessage
		if body == "" {
			body = out.Message
		}
		if body == "" {
			body = "operation succeeded"
		}
		c.config.Notifier.Notify(Notice{Severity: SeveritySuccess, Title: "Success", Body: body})
	}
	return out
}

func (c *Client) attempt(ctx context.Context, req *Request) Outcome {
	if c.config.RateLimit != nil {
		if err := c.config.RateLimit.Wait(ctx); err != nil {
			return Outcome{Err: transportFailure(err, c.offline())}
		}
	}

	actx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.transport.Execute(actx, req)
	out := Classify(resp, err, err != nil && c.offline())
	status := 0
	if resp != nil {
		status = resp.Status
	}
	c.logger.Debug("attempt settled",
		"method", req.Method, "url", req.URL, "status", status, "duration", time.Since(start), "ok", out.OK())
	return out
}

func (c *Client) offline() bool {
	return c.config.Offline != nil && c.config.Offline()
}

// prepare decorates req in place. req is the pipeline's private copy.
func (c *Client) prepare(ctx context.Context, req *Request) {
	if !req.SkipAuth {
		if token := c.config.Sessions.Token(ctx); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	if c.config.Locale != nil {
		if locale := c.config.Locale(); locale != "" {
			req.Header.Set("Accept-Language", locale)
		}
	}

	seq := c.seq.Add(1)
	req.Header.Set("X-Request-Id", fmt.Sprintf("%s-%d", c.process, seq))
	req.Header.Set("X-Client-Version", c.config.ClientVersion)
	req.Header.Set("X-Client-Platform", c.config.Platform)

	if req.Method == http.MethodGet {
		if !req.NoCache {
			if req.Params == nil {
				req.Params = make(map[string]any, 1)
			}
			req.Params["_t"] = fmt.Sprintf("%d-%d", time.Now().UnixMilli(), seq)
		}
	} else if req.Body != nil {
		req.Body = Sanitize(req.Body)
	}

	if req.Timeout <= 0 {
		req.Timeout = DefaultTimeout
	}
}
