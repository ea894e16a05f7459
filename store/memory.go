package store

import (
	"context"
	"sort"
	"sync"
	"time"

	reqpipe "github.com/AnandSundar/go-reqpipe"
)

// DefaultSweepInterval is how often MemoryCache evicts expired entries
const DefaultSweepInterval = time.Minute

// MemoryCache is an in-memory implementation of reqpipe.Cache
type MemoryCache struct {
	mu   sync.RWMutex
	data map[string]*entry
	now  func() time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type entry struct {
	value     any
	createdAt time.Time
	ttl       time.Duration
}

func (e *entry) stale(now time.Time) bool {
	return now.Sub(e.createdAt) > e.ttl
}

var _ reqpipe.Cache = (*MemoryCache)(nil)

// NewMemoryCache creates a cache whose sweep runs every interval until Close.
// A non-positive interval uses DefaultSweepInterval.
func NewMemoryCache(interval time.Duration) *MemoryCache {
	return newMemoryCache(interval, time.Now)
}

func newMemoryCache(interval time.Duration, now func() time.Time) *MemoryCache {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s := &MemoryCache{
		data: make(map[string]*entry),
		now:  now,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	// Start cleanup goroutine
	go s.cleanup(interval)

	return s
}

// Get retrieves a cached value, deleting it when stale
func (s *MemoryCache) Get(_ context.Context, key string) (any, bool, error) {
	s.mu.RLock()
	e, exists := s.data[key]
	s.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}
	if !e.stale(s.now()) {
		return reqpipe.CloneValue(e.value), true, nil
	}

	s.mu.Lock()
	// Only delete the entry we saw; a concurrent Set may have replaced it.
	if cur, ok := s.data[key]; ok && cur == e {
		delete(s.data, key)
	}
	s.mu.Unlock()
	return nil, false, nil
}

// Set stores a copy of value with TTL. Callers may keep mutating what they
// passed in or got back without touching the cached entry.
func (s *MemoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = &entry{
		value:     reqpipe.CloneValue(value),
		createdAt: s.now(),
		ttl:       ttl,
	}

	return nil
}

// Stats returns the stored keys, sorted
func (s *MemoryCache) Stats(_ context.Context) (reqpipe.CacheStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return reqpipe.CacheStats{Size: len(keys), Keys: keys}, nil
}

// Clear drops every entry
func (s *MemoryCache) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string]*entry)
	return nil
}

// Sweep removes every expired entry and returns how many it removed
func (s *MemoryCache) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, e := range s.data {
		if e.stale(now) {
			delete(s.data, key)
			removed++
		}
	}
	return removed
}

// Close stops the sweep goroutine
func (s *MemoryCache) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
	return nil
}

// cleanup periodically removes expired entries
func (s *MemoryCache) cleanup(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stop:
			return
		}
	}
}
