package cache

import (
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

// DefaultTTL is the time-to-live applied by Set.
const DefaultTTL = 24 * time.Hour

// Mode selects how Fetch treats a failed refresh.
type Mode int

const (
	// ModeStrict treats a failed refresh as a failure.
	ModeStrict Mode = iota
	// ModeFallback serves the last stored value, even if expired, when a refresh fails.
	ModeFallback
)

// TTLConfig holds configuration for TTLCache.
type TTLConfig struct {
	// TTL is the default time-to-live. Zero means DefaultTTL.
	TTL time.Duration
	// MaxEntries bounds the cache; the least recently used entry is evicted
	// when the bound is exceeded. Zero means unbounded.
	MaxEntries int
}

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is an in-memory expiring key/value store safe for concurrent use.
// Expired entries are evicted lazily when read through Get.
type TTLCache[V any] struct {
	mu      sync.Mutex
	entries *lru.Cache
	ttl     time.Duration
	now     func() time.Time
}

// NewTTLCache creates a TTLCache.
func NewTTLCache[V any](cfg TTLConfig) *TTLCache[V] {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TTLCache[V]{
		entries: lru.New(cfg.MaxEntries),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the value for key. An expired entry is evicted and reported as a miss.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.lookup(key)
	if !ok {
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		c.entries.Remove(key)
		return zero, false
	}
	return e.value, true
}

// Has reports whether key holds an unexpired value. It does not evict.
func (c *TTLCache[V]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookup(key)
	return ok && c.now().Before(e.expiresAt)
}

// GetStale returns the stored value for key regardless of expiry.
// The second result reports whether the value is still fresh.
func (c *TTLCache[V]) GetStale(key string) (value V, fresh bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.lookup(key)
	if !found {
		return value, false, false
	}
	return e.value, c.now().Before(e.expiresAt), true
}

// Set stores value under key with the default TTL, replacing any existing entry.
func (c *TTLCache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key with the given TTL, replacing any existing entry and its TTL.
func (c *TTLCache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Add(key, &ttlEntry[V]{
		value:     value,
		expiresAt: c.now().Add(ttl),
	})
}

// Delete removes key.
func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Remove(key)
}

// Len returns the number of stored entries, expired ones included.
func (c *TTLCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.entries.Len()
}

// Fetch returns the fresh value for key, or calls fetch and stores its result.
// In ModeFallback a fetch error is masked by the last stored value when one exists.
//
// Fetch does not hold the lock while fetch runs, so concurrent callers for the
// same key may each call fetch. Callers that need coalescing should wrap it in
// a singleflight group.
func (c *TTLCache[V]) Fetch(key string, mode Mode, fetch func() (V, error)) (V, error) {
	if v, fresh, ok := c.GetStale(key); ok && fresh {
		return v, nil
	}

	v, err := fetch()
	if err == nil {
		c.Set(key, v)
		return v, nil
	}

	if mode == ModeFallback {
		if stale, _, ok := c.GetStale(key); ok {
			return stale, nil
		}
	}
	var zero V
	return zero, err
}

func (c *TTLCache[V]) lookup(key string) (*ttlEntry[V], bool) {
	raw, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	e, ok := raw.(*ttlEntry[V])
	return e, ok
}
