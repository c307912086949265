package invalidate

import (
	"context"
	"path"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Cache removes keys matching a glob pattern and reports how many were
// removed.
type Cache interface {
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

// Compile-time interface checks.
var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*RedisCache)(nil)
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is a process-local key/value cache. Patterns follow
// path.Match syntax.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

// Set stores value under key. A zero ttl never expires.
func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

// Get returns the value for key if present and unexpired.
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || (!e.expiresAt.IsZero() && !c.now().Before(e.expiresAt)) {
		return nil, false
	}
	return append([]byte(nil), e.value...), true
}

// Delete removes key.
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// DeletePattern removes every key matching pattern. A malformed pattern
// returns path.ErrBadPattern.
func (c *MemoryCache) DeletePattern(_ context.Context, pattern string) (int, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key := range c.entries {
		if ok, _ := path.Match(pattern, key); ok {
			delete(c.entries, key)
			n++
		}
	}
	return n, nil
}

// RedisCache deletes matching keys from a Redis keyspace using SCAN so
// large keyspaces are never blocked by KEYS.
type RedisCache struct {
	client goredis.UniversalClient
	batch  int64
}

// NewRedisCache creates a RedisCache. batch is the SCAN COUNT hint; values
// <= 0 use 100.
func NewRedisCache(client goredis.UniversalClient, batch int64) *RedisCache {
	if batch <= 0 {
		batch = 100
	}
	return &RedisCache{client: client, batch: batch}
}

// DeletePattern scans for keys matching pattern and deletes them.
func (c *RedisCache) DeletePattern(ctx context.Context, pattern string) (int, error) {
	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, c.batch).Result()
		if err != nil {
			return total, err
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return total, err
			}
			total += int(n)
		}
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}
