package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	reqpipe "github.com/AnandSundar/go-reqpipe"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultKeyPrefix namespaces every key written by the Redis stores
	DefaultKeyPrefix = "reqpipe:"

	// DefaultLockTTL bounds how long a dedup key outlives a crashed holder.
	// Live holders refresh it.
	DefaultLockTTL = 30 * time.Second

	scanBatch = 100
)

// RedisInFlight is a Redis-backed reqpipe.InFlight shared by every process
// pointing at the same server.
//
// Each acquisition writes a random token. While the request is in flight the
// key's TTL is refreshed every ttl/3, so the lock outlives any number of
// retries and only lapses when the holding process dies. Release deletes the
// key only if it still carries the holder's token.
type RedisInFlight struct {
	client *redis.Client
	ctx    context.Context
	prefix string
	ttl    time.Duration

	mu   sync.Mutex
	held map[string]*lease
}

type lease struct {
	token string
	stop  chan struct{}
}

var _ reqpipe.InFlight = (*RedisInFlight)(nil)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// NewRedisInFlight creates a dedup registry. A non-positive ttl uses DefaultLockTTL.
func NewRedisInFlight(client *redis.Client, ttl time.Duration) *RedisInFlight {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisInFlight{
		client: client,
		ctx:    context.Background(),
		prefix: DefaultKeyPrefix + "inflight:",
		ttl:    ttl,
		held:   make(map[string]*lease),
	}
}

// TryAcquire acquires a distributed lock on key. When Redis is unreachable
// the request is admitted.
func (s *RedisInFlight) TryAcquire(key string) bool {
	l := &lease{token: uuid.NewString(), stop: make(chan struct{})}
	acquired, err := s.client.SetNX(s.ctx, s.prefix+key, l.token, s.ttl).Result()
	if err != nil {
		return true
	}
	if !acquired {
		return false
	}

	s.mu.Lock()
	if old, ok := s.held[key]; ok {
		close(old.stop)
	}
	s.held[key] = l
	s.mu.Unlock()

	go s.keepAlive(key, l)
	return true
}

// Release drops the lock on key if this process still holds it
func (s *RedisInFlight) Release(key string) {
	s.mu.Lock()
	l, ok := s.held[key]
	if ok {
		delete(s.held, key)
		close(l.stop)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	releaseScript.Run(s.ctx, s.client, []string{s.prefix + key}, l.token)
}

// Clear drops every lock under the prefix, including other processes' locks
func (s *RedisInFlight) Clear() {
	s.mu.Lock()
	for key, l := range s.held {
		close(l.stop)
		delete(s.held, key)
	}
	s.mu.Unlock()

	_ = deleteMatching(s.ctx, s.client, s.prefix)
}

// Len counts the locks under the prefix
func (s *RedisInFlight) Len() int {
	keys, err := scanKeys(s.ctx, s.client, s.prefix)
	if err != nil {
		return 0
	}
	return len(keys)
}

// keepAlive extends the lock until it is released or another holder owns it.
func (s *RedisInFlight) keepAlive(key string, l *lease) {
	interval := s.ttl / 3
	if interval <= 0 {
		interval = s.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := refreshScript.Run(s.ctx, s.client, []string{s.prefix + key}, l.token, s.ttl.Milliseconds()).Int()
			if err == nil && n == 0 {
				return
			}
		case <-l.stop:
			return
		}
	}
}

// RedisCache is a Redis-backed reqpipe.Cache. Values are stored as JSON and
// expire through Redis key TTLs, so no sweep is needed.
type RedisCache struct {
	client *redis.Client
	prefix string
}

var _ reqpipe.Cache = (*RedisCache)(nil)

// NewRedisCache creates a new Redis cache
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: DefaultKeyPrefix + "cache:",
	}
}

// Get retrieves a cached payload from Redis
func (s *RedisCache) Get(ctx context.Context, key string) (any, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, false, fmt.Errorf("decode cached value: %w", err)
	}
	return value, true, nil
}

// Set stores a payload in Redis with TTL
func (s *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cached value: %w", err)
	}
	return s.client.Set(ctx, s.prefix+key, data, ttl).Err()
}

// Stats lists the live keys with the prefix stripped
func (s *RedisCache) Stats(ctx context.Context) (reqpipe.CacheStats, error) {
	keys, err := scanKeys(ctx, s.client, s.prefix)
	if err != nil {
		return reqpipe.CacheStats{}, err
	}
	for i, key := range keys {
		keys[i] = key[len(s.prefix):]
	}
	sort.Strings(keys)
	return reqpipe.CacheStats{Size: len(keys), Keys: keys}, nil
}

// Clear drops every cached payload
func (s *RedisCache) Clear(ctx context.Context) error {
	return deleteMatching(ctx, s.client, s.prefix)
}

// RedisSessions persists a session under a single Redis key. The key expires
// with the session.
type RedisSessions struct {
	client *redis.Client
	key    string
}

var _ reqpipe.SessionBackend = (*RedisSessions)(nil)

// NewRedisSessions stores the session of the named profile
func NewRedisSessions(client *redis.Client, profile string) *RedisSessions {
	return &RedisSessions{
		client: client,
		key:    DefaultKeyPrefix + "session:" + profile,
	}
}

func (s *RedisSessions) Read(ctx context.Context) (*reqpipe.Session, bool, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var sess reqpipe.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, false, fmt.Errorf("decode session: %w", err)
	}
	return &sess, true, nil
}

func (s *RedisSessions) Write(ctx context.Context, sess *reqpipe.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	var ttl time.Duration
	if !sess.ExpiresAt.IsZero() {
		ttl = time.Until(sess.ExpiresAt)
		if ttl <= 0 {
			return s.Clear(ctx)
		}
	}
	return s.client.Set(ctx, s.key, data, ttl).Err()
}

func (s *RedisSessions) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

func scanKeys(ctx context.Context, client *redis.Client, prefix string) ([]string, error) {
	var cursor uint64
	keys := []string{}
	// SCAN may return a key more than once.
	seen := make(map[string]struct{})
	for {
		batch, next, err := client.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range batch {
			if _, dup := seen[key]; !dup {
				seen[key] = struct{}{}
				keys = append(keys, key)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func deleteMatching(ctx context.Context, client *redis.Client, prefix string) error {
	keys, err := scanKeys(ctx, client, prefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return client.Del(ctx, keys...).Err()
}
