package reqpipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// recoverer applies the side effects for a final failure. It is the only
// part of the pipeline that touches the session, navigation or error sink.
type recoverer struct {
	sessions  *SessionStore
	notifier  Notifier
	reporter  Reporter
	report    bool
	guard     *redirectGuard
	login     string
	forbidden string
	client    string
	logger    *slog.Logger

	notifyDuplicates bool
}

// handle runs the handler for e and returns the failure to hand back to the
// caller. Every handler returns a failure; none swallow it.
func (r *recoverer) handle(ctx context.Context, req *Request, e *Error) *Error {
	notify := !req.SkipErrorHandler

	switch e.Kind {
	case KindDuplicateRequest:
		if notify && r.notifyDuplicates {
			r.notify(Notice{Severity: SeverityWarning, Title: "Please wait", Body: "this request is already in progress"})
		}
		return e
	case KindNetwork, KindTimeout:
		// A caller that cancelled already knows.
		if notify && !errors.Is(e.Cause, context.Canceled) {
			r.notify(Notice{Severity: SeverityError, Title: "Network error", Body: e.Message})
		}
		return e
	}

	switch code := e.Status; {
	case code == http.StatusUnauthorized:
		if err := r.sessions.Destroy(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("session teardown failed", "error", err)
		}
		if notify {
			r.notify(Notice{Severity: SeverityWarning, Title: "Session expired", Body: e.Message})
		}
		r.guard.redirect(r.login)
	case code == http.StatusForbidden:
		if notify {
			r.notify(Notice{Severity: SeverityError, Title: "Access denied", Body: e.Message})
		}
		r.guard.redirect(r.forbidden)
	case code == http.StatusNotFound:
		if notify {
			r.notify(Notice{Severity: SeverityWarning, Title: "Not found", Body: e.Message})
		}
	case code == http.StatusTooManyRequests:
		if notify {
			r.notify(Notice{Severity: SeverityWarning, Title: "Rate limited", Body: e.Message, Persistent: true})
		}
	case isServerError(code):
		r.logger.Error("server failure", "kind", e.Kind.String(), "status", code, "url", req.URL, "detail", e.Detail)
		if r.report {
			r.reporter.Report(Report{
				Kind:      e.Kind.String(),
				Status:    code,
				Message:   e.Message,
				URL:       req.URL,
				Method:    req.Method,
				Client:    r.client,
				Timestamp: time.Now(),
			})
		}
		if notify {
			r.notify(Notice{Severity: SeverityError, Title: "Server error", Body: e.Message, Persistent: true})
		}
	default:
		if notify {
			title := "Request failed"
			if e.Kind == KindBusiness {
				title = fmt.Sprintf("Request failed (code %d)", code)
			}
			r.notify(Notice{Severity: SeverityError, Title: title, Body: e.Message})
		}
	}
	return e
}

func (r *recoverer) notify(n Notice) {
	r.notifier.Notify(n)
}

// redirectGuard makes redirects idempotent: while a redirect to a path is
// pending, or the user is already on it, further requests for it are dropped.
type redirectGuard struct {
	nav     Navigator
	delay   time.Duration
	mu      sync.Mutex
	pending map[string]bool
}

func newRedirectGuard(nav Navigator, delay time.Duration) *redirectGuard {
	return &redirectGuard{nav: nav, delay: delay, pending: make(map[string]bool)}
}

// redirect schedules a redirect to path and reports whether it did.
func (g *redirectGuard) redirect(path string) bool {
	if path == "" {
		return false
	}

	g.mu.Lock()
	if g.pending[path] || g.nav.CurrentPath() == path {
		g.mu.Unlock()
		return false
	}
	g.pending[path] = true
	g.mu.Unlock()

	fire := func() {
		if g.nav.CurrentPath() != path {
			g.nav.Redirect(path)
		}
		g.mu.Lock()
		delete(g.pending, path)
		g.mu.Unlock()
	}
	if g.delay <= 0 {
		fire()
	} else {
		time.AfterFunc(g.delay, fire)
	}
	return true
}
