package cache

import (
	"context"
	"time"

	"github.com/hszk-dev/torrentstream/internal/domain/model"
	"github.com/hszk-dev/torrentstream/internal/infrastructure/metrics"
)

// CatalogCache defines the interface for caching built catalogs by identifier key.
// Implementations should handle serialization/deserialization transparently.
type CatalogCache interface {
	// Get retrieves a catalog by key.
	// The second result is false on a cache miss.
	Get(ctx context.Context, key string) (model.Catalog, bool, error)

	// Set stores a catalog with the specified TTL, replacing any existing entry.
	Set(ctx context.Context, key string, catalog model.Catalog, ttl time.Duration) error

	// Delete removes a catalog by key.
	// Returns nil if the key was not cached.
	Delete(ctx context.Context, key string) error
}

// MemoryCatalogCache implements CatalogCache on top of an in-process TTLCache.
type MemoryCatalogCache struct {
	store *TTLCache[model.Catalog]
}

// Compile-time verification that MemoryCatalogCache implements CatalogCache.
var _ CatalogCache = (*MemoryCatalogCache)(nil)

// NewMemoryCatalogCache creates an in-memory catalog cache.
func NewMemoryCatalogCache(cfg TTLConfig) *MemoryCatalogCache {
	return &MemoryCatalogCache{store: NewTTLCache[model.Catalog](cfg)}
}

func (c *MemoryCatalogCache) Get(_ context.Context, key string) (model.Catalog, bool, error) {
	catalog, ok := c.store.Get(key)
	if !ok {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusMiss, metrics.CacheTypeMemory).Inc()
		return nil, false, nil
	}
	metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusHit, metrics.CacheTypeMemory).Inc()
	return catalog, true, nil
}

func (c *MemoryCatalogCache) Set(_ context.Context, key string, catalog model.Catalog, ttl time.Duration) error {
	c.store.SetWithTTL(key, catalog, ttl)
	metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpSet, metrics.CacheStatusSuccess, metrics.CacheTypeMemory).Inc()
	return nil
}

func (c *MemoryCatalogCache) Delete(_ context.Context, key string) error {
	c.store.Delete(key)
	metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpDelete, metrics.CacheStatusSuccess, metrics.CacheTypeMemory).Inc()
	return nil
}
