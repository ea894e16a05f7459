package reqpipe

import (
	"sync"
)

// Registry is the dedup gate: it admits at most one in-flight request per
// fingerprint.
type Registry struct {
	inflight InFlight
}

// NewRegistry wraps an InFlight set. A nil set gets a process-local one.
func NewRegistry(inflight InFlight) *Registry {
	if inflight == nil {
		inflight = newLocalInFlight()
	}
	return &Registry{inflight: inflight}
}

// TryAcquire admits req when no identical request is in flight. The returned
// release func must be called once the attempt settles; calling it more than
// once is safe.
func (g *Registry) TryAcquire(req *Request) (release func(), ok bool) {
	key := Fingerprint(req)
	if !g.inflight.TryAcquire(key) {
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { g.inflight.Release(key) })
	}, true
}

// Clear empties the in-flight set.
func (g *Registry) Clear() {
	g.inflight.Clear()
}

// Len returns the number of requests currently in flight.
func (g *Registry) Len() int {
	return g.inflight.Len()
}

// localInFlight is the default InFlight used when none is configured.
type localInFlight struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newLocalInFlight() *localInFlight {
	return &localInFlight{keys: make(map[string]struct{})}
}

func (s *localInFlight) TryAcquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keys[key]; exists {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

func (s *localInFlight) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
}

func (s *localInFlight) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = make(map[string]struct{})
}

func (s *localInFlight) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
