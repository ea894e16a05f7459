package reqpipe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultSessionTTL bounds a session whose token carries no expiry
	DefaultSessionTTL = 24 * time.Hour
	// RememberSessionTTL replaces DefaultSessionTTL when "remember me" is set
	RememberSessionTTL = 7 * 24 * time.Hour
)

// Session is the signed-in state attached to outgoing requests.
type Session struct {
	Token       string         `json:"token"`
	IssuedAt    time.Time      `json:"issuedAt"`
	ExpiresAt   time.Time      `json:"expiresAt,omitempty"`
	Remember    bool           `json:"remember,omitempty"`
	Identity    map[string]any `json:"identity,omitempty"`
	Permissions []string       `json:"permissions,omitempty"`
}

// Expired reports whether the session is past its expiry. A zero ExpiresAt
// never expires.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

func (s *Session) clone() *Session {
	c := *s
	if s.Identity != nil {
		c.Identity = CloneValue(s.Identity).(map[string]any)
	}
	if s.Permissions != nil {
		c.Permissions = append([]string(nil), s.Permissions...)
	}
	return &c
}

// Credentials are the inputs to SessionStore.Login.
type Credentials struct {
	Token       string
	Remember    bool
	Identity    map[string]any
	Permissions []string
}

// SessionStore holds the current session. It is safe for concurrent use.
type SessionStore struct {
	mu        sync.RWMutex
	backend   SessionBackend
	current   *Session
	loaded    bool
	now       func() time.Time
	observers map[int]func(*Session)
	nextID    int
	logger    *slog.Logger
}

// NewSessionStore creates a store persisting through backend. A nil backend
// keeps the session in memory only.
func NewSessionStore(backend SessionBackend) *SessionStore {
	return &SessionStore{
		backend:   backend,
		now:       time.Now,
		observers: make(map[int]func(*Session)),
		logger:    slog.Default(),
	}
}

func (s *SessionStore) setLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// Login creates and persists a session for the given credentials. When the
// token is a JWT its exp and iat claims take precedence over the local TTLs.
func (s *SessionStore) Login(ctx context.Context, creds Credentials) (*Session, error) {
	if creds.Token == "" {
		return nil, fmt.Errorf("login: token is empty")
	}

	now := s.now()
	sess := &Session{
		Token:       creds.Token,
		IssuedAt:    now,
		Remember:    creds.Remember,
		Identity:    creds.Identity,
		Permissions: creds.Permissions,
	}
	sess = sess.clone()
	ttl := DefaultSessionTTL
	if creds.Remember {
		ttl = RememberSessionTTL
	}
	sess.ExpiresAt = now.Add(ttl)
	if issued, expires, ok := tokenTimes(creds.Token); ok {
		if !issued.IsZero() {
			sess.IssuedAt = issued
		}
		if !expires.IsZero() {
			sess.ExpiresAt = expires
		}
	}

	s.mu.Lock()
	if s.backend != nil {
		if err := s.backend.Write(ctx, sess); err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("persist session: %w", err)
		}
	}
	s.current = sess
	s.loaded = true
	observers := s.snapshotObservers()
	s.mu.Unlock()

	for _, fn := range observers {
		fn(sess.clone())
	}
	return sess.clone(), nil
}

// Current returns a copy of the session, or nil when there is none or it has
// expired. An expired session is left in place until Destroy is called.
func (s *SessionStore) Current(ctx context.Context) *Session {
	s.mu.RLock()
	if s.loaded {
		cur := s.current
		s.mu.RUnlock()
		return s.usable(cur)
	}
	s.mu.RUnlock()

	// A failed read leaves the store unloaded so the next call retries it.
	s.mu.Lock()
	if !s.loaded {
		if s.backend == nil {
			s.loaded = true
		} else if sess, found, err := s.backend.Read(ctx); err != nil {
			s.logger.Warn("session read failed", "error", err)
		} else {
			s.loaded = true
			if found {
				s.current = sess
			}
		}
	}
	cur := s.current
	s.mu.Unlock()
	return s.usable(cur)
}

func (s *SessionStore) usable(sess *Session) *Session {
	if sess == nil || sess.Token == "" || sess.Expired(s.now()) {
		return nil
	}
	return sess.clone()
}

// Token returns the bearer token of a usable session, or "".
func (s *SessionStore) Token(ctx context.Context) string {
	if sess := s.Current(ctx); sess != nil {
		return sess.Token
	}
	return ""
}

// Destroy drops the token, identity and permissions, in memory and in the
// backend.
func (s *SessionStore) Destroy(ctx context.Context) error {
	s.mu.Lock()
	had := s.current != nil
	s.current = nil
	s.loaded = true
	var err error
	if s.backend != nil {
		err = s.backend.Clear(ctx)
	}
	observers := s.snapshotObservers()
	s.mu.Unlock()

	if had {
		for _, fn := range observers {
			fn(nil)
		}
	}
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Subscribe registers fn to run after every login and after a session is
// destroyed (with nil). The returned func unregisters it.
func (s *SessionStore) Subscribe(fn func(*Session)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

func (s *SessionStore) snapshotObservers() []func(*Session) {
	fns := make([]func(*Session), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	return fns
}

// tokenTimes reads iat/exp from a JWT without verifying it; the server is the
// authority, the client only needs to know when to stop sending it.
func tokenTimes(token string) (issued, expires time.Time, ok bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, time.Time{}, false
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		issued = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expires = exp.Time
	}
	return issued, expires, true
}
