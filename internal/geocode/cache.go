package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"calmmap/internal/geo"
	"calmmap/internal/postcode"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultCacheTTL bounds how long a resolved postcode is reused.
const DefaultCacheTTL = time.Hour

// Cache stores resolved postcodes keyed by their normalized form.
type Cache interface {
	Get(ctx context.Context, key string) (geo.Point, bool)
	Set(ctx context.Context, key string, p geo.Point)
}

// Cached decorates a Geocoder with a Cache. Only successful lookups are
// cached, so a failing service is retried on the next call.
type Cached struct {
	next   Geocoder
	cache  Cache
	logger *zap.SugaredLogger
}

func NewCached(next Geocoder, cache Cache, logger *zap.SugaredLogger) *Cached {
	return &Cached{next: next, cache: cache, logger: logger}
}

func (c *Cached) Resolve(ctx context.Context, code string) (geo.Point, bool) {
	key := postcode.Normalize(code)
	if key == "" {
		return geo.Point{}, false
	}

	if p, ok := c.cache.Get(ctx, key); ok {
		return p, true
	}

	p, ok := c.next.Resolve(ctx, key)
	if !ok {
		return geo.Point{}, false
	}

	c.cache.Set(ctx, key, p)
	return p, true
}

type memoryEntry struct {
	point    geo.Point
	storedAt time.Time
}

// MemoryCache is a process-wide map with lazy expiry: stale entries are
// dropped when they are read, never by a background sweeper.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (m *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	m.now = now
	return m
}

func (m *MemoryCache) Get(_ context.Context, key string) (geo.Point, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return geo.Point{}, false
	}

	if m.now().Sub(e.storedAt) >= m.ttl {
		m.mu.Lock()
		// Only evict if nobody refreshed the entry in between.
		if cur, still := m.entries[key]; still && cur.storedAt.Equal(e.storedAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return geo.Point{}, false
	}
	return e.point, true
}

func (m *MemoryCache) Set(_ context.Context, key string, p geo.Point) {
	m.mu.Lock()
	m.entries[key] = memoryEntry{point: p, storedAt: m.now()}
	m.mu.Unlock()
}

// Len reports the number of entries, including ones that have expired but
// not yet been read.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// RedisCache shares resolved postcodes between API instances. Redis errors
// are logged and treated as cache misses.
type RedisCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	logger *zap.SugaredLogger
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration, prefix string, logger *zap.SugaredLogger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if prefix == "" {
		prefix = "geocode"
	}
	return &RedisCache{rdb: rdb, ttl: ttl, prefix: prefix, logger: logger}
}

func (r *RedisCache) key(k string) string { return r.prefix + ":" + k }

func (r *RedisCache) Get(ctx context.Context, key string) (geo.Point, bool) {
	bs, err := r.rdb.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warnw("geocode cache read failed", "postcode", key, "error", err)
		}
		return geo.Point{}, false
	}

	var p geo.Point
	if err := json.Unmarshal(bs, &p); err != nil {
		r.logger.Warnw("geocode cache entry corrupt", "postcode", key, "error", err)
		return geo.Point{}, false
	}
	return p, true
}

func (r *RedisCache) Set(ctx context.Context, key string, p geo.Point) {
	bs, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := r.rdb.SetEx(ctx, r.key(key), bs, r.ttl).Err(); err != nil {
		r.logger.Warnw("geocode cache write failed", "postcode", key, "error", err)
	}
}

// Tiered reads the first cache, falls back to the second, and back-fills the
// first on a second-tier hit. Writes go to both.
type Tiered struct {
	Near Cache
	Far  Cache
}

func (t Tiered) Get(ctx context.Context, key string) (geo.Point, bool) {
	if p, ok := t.Near.Get(ctx, key); ok {
		return p, true
	}
	p, ok := t.Far.Get(ctx, key)
	if ok {
		t.Near.Set(ctx, key, p)
	}
	return p, ok
}

func (t Tiered) Set(ctx context.Context, key string, p geo.Point) {
	t.Near.Set(ctx, key, p)
	t.Far.Set(ctx, key, p)
}
