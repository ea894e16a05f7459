package reqpipe

import (
	"context"
	"time"
)

// InFlight tracks the fingerprints of dispatched, unsettled requests.
type InFlight interface {
	// TryAcquire atomically inserts key and reports whether it was absent.
	TryAcquire(key string) bool

	// Release removes key. Releasing an absent key is a no-op.
	Release(key string)

	// Clear drops every entry
	Clear()

	// Len returns the number of keys currently held
	Len() int
}

// Cache stores successful GET payloads for a bounded time.
type Cache interface {
	// Get returns the value for key. A stale entry is deleted and reported as a miss.
	Get(ctx context.Context, key string) (value any, found bool, err error)

	// Set stores value under key for ttl
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Stats returns the number of live entries and their keys
	Stats(ctx context.Context) (CacheStats, error)

	// Clear drops every entry
	Clear(ctx context.Context) error
}

// CacheStats is the diagnostic view of a Cache.
type CacheStats struct {
	Size int      `json:"size"`
	Keys []string `json:"keys"`
}

// SessionBackend persists the session outside the process, the way a browser
// keeps it in a cookie or local storage.
type SessionBackend interface {
	// Read returns the stored session, or found=false when none is stored
	Read(ctx context.Context) (session *Session, found bool, err error)

	// Write replaces the stored session
	Write(ctx context.Context, session *Session) error

	// Clear removes the stored session. Clearing an empty backend is not an error.
	Clear(ctx context.Context) error
}
