package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/torrentstream/internal/domain/model"
	"github.com/hszk-dev/torrentstream/internal/infrastructure/metrics"
)

const (
	// catalogCacheKeyPrefix is the prefix for catalog cache keys in Redis.
	catalogCacheKeyPrefix = "catalog:"
)

// entryJSON is the JSON representation of a catalog Entry for caching.
// Using explicit struct avoids coupling to the domain model.
type entryJSON struct {
	Name   string `json:"name"`
	Length uint64 `json:"length"`
	Path   string `json:"path"`
	Type   string `json:"type"`
}

// RedisCatalogCache implements CatalogCache using Redis as the backing store.
// It lets several API replicas share catalogs built for the same identifier.
type RedisCatalogCache struct {
	client *redis.Client
}

// Compile-time verification that RedisCatalogCache implements CatalogCache.
var _ CatalogCache = (*RedisCatalogCache)(nil)

// NewRedisCatalogCache creates a new Redis-backed catalog cache.
func NewRedisCatalogCache(client *redis.Client) *RedisCatalogCache {
	return &RedisCatalogCache{
		client: client,
	}
}

// Get retrieves a catalog from Redis cache.
func (c *RedisCatalogCache) Get(ctx context.Context, key string) (model.Catalog, bool, error) {
	data, err := c.client.Get(ctx, c.buildKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusMiss, metrics.CacheTypeRedis).Inc()
			return nil, false, nil
		}
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusError, metrics.CacheTypeRedis).Inc()
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	catalog, err := c.deserialize(data)
	if err != nil {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusError, metrics.CacheTypeRedis).Inc()
		return nil, false, fmt.Errorf("deserialize catalog: %w", err)
	}

	metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusHit, metrics.CacheTypeRedis).Inc()
	return catalog, true, nil
}

// Set stores a catalog in Redis cache with the specified TTL.
func (c *RedisCatalogCache) Set(ctx context.Context, key string, catalog model.Catalog, ttl time.Duration) error {
	data, err := c.serialize(catalog)
	if err != nil {
		return fmt.Errorf("serialize catalog: %w", err)
	}

	if err := c.client.Set(ctx, c.buildKey(key), data, ttl).Err(); err != nil {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpSet, metrics.CacheStatusError, metrics.CacheTypeRedis).Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpSet, metrics.CacheStatusSuccess, metrics.CacheTypeRedis).Inc()
	return nil
}

// Delete removes a catalog from Redis cache.
func (c *RedisCatalogCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.buildKey(key)).Err(); err != nil {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpDelete, metrics.CacheStatusError, metrics.CacheTypeRedis).Inc()
		return fmt.Errorf("redis del: %w", err)
	}

	metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpDelete, metrics.CacheStatusSuccess, metrics.CacheTypeRedis).Inc()
	return nil
}

// buildKey constructs the Redis key for an identifier key.
func (c *RedisCatalogCache) buildKey(key string) string {
	return catalogCacheKeyPrefix + key
}

// serialize converts a Catalog to JSON bytes.
func (c *RedisCatalogCache) serialize(catalog model.Catalog) ([]byte, error) {
	entries := make([]entryJSON, 0, len(catalog))
	for _, e := range catalog {
		entries = append(entries, entryJSON{
			Name:   e.Name,
			Length: e.Length,
			Path:   e.Path,
			Type:   e.Type.String(),
		})
	}
	return json.Marshal(entries)
}

// deserialize converts JSON bytes to a Catalog.
func (c *RedisCatalogCache) deserialize(data []byte) (model.Catalog, error) {
	var entries []entryJSON
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	catalog := make(model.Catalog, 0, len(entries))
	for _, e := range entries {
		catalog = append(catalog, model.Entry{
			Name:   e.Name,
			Length: e.Length,
			Path:   e.Path,
			Type:   model.EntryType(e.Type),
		})
	}
	return catalog, nil
}
