package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hszk-dev/torrentstream/internal/archive"
	"github.com/hszk-dev/torrentstream/internal/infrastructure/cache"
	"github.com/hszk-dev/torrentstream/internal/infrastructure/metrics"
)

// ArchiveCacheConfig holds configuration for ArchiveCache.
type ArchiveCacheConfig struct {
	// TTL is how long an unused buffered archive is kept. Each hit extends it.
	TTL time.Duration
	// MaxEntries bounds how many archives are held in memory at once.
	MaxEntries int
}

// DefaultArchiveCacheConfig returns the default configuration.
func DefaultArchiveCacheConfig() ArchiveCacheConfig {
	return ArchiveCacheConfig{
		TTL:        5 * time.Minute,
		MaxEntries: 2,
	}
}

// ArchiveCache keeps recently buffered archives so successive range windows
// of one member do not re-read and re-buffer the whole archive.
type ArchiveCache struct {
	flattener ArchiveFlattener
	archives  *cache.TTLCache[*archive.Archive]
	sfGroup   singleflight.Group
}

// NewArchiveCache creates a new ArchiveCache that loads archives through flattener.
func NewArchiveCache(flattener ArchiveFlattener, cfg ArchiveCacheConfig) *ArchiveCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultArchiveCacheConfig().TTL
	}
	return &ArchiveCache{
		flattener: flattener,
		archives: cache.NewTTLCache[*archive.Archive](cache.TTLConfig{
			TTL:        cfg.TTL,
			MaxEntries: cfg.MaxEntries,
		}),
	}
}

// Get returns the buffered archive for key, reading it through open on a miss.
// Concurrent misses for one key share a single load, which is not tied to any
// one caller's ctx.
func (c *ArchiveCache) Get(
	ctx context.Context,
	key string,
	open func(ctx context.Context) (io.ReadCloser, error),
) (*archive.Archive, error) {
	if a, ok := c.archives.Get(key); ok {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusHit, metrics.CacheTypeArchive).Inc()
		c.archives.Set(key, a)
		return a, nil
	}
	metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusMiss, metrics.CacheTypeArchive).Inc()

	loadCtx := context.WithoutCancel(ctx)
	ch := c.sfGroup.DoChan(key, func() (any, error) {
		if a, ok := c.archives.Get(key); ok {
			return a, nil
		}

		r, err := open(loadCtx)
		if err != nil {
			return nil, err
		}
		defer r.Close()

		a, err := c.flattener.Load(loadCtx, r)
		if err != nil {
			return nil, fmt.Errorf("failed to load archive %s: %w", key, err)
		}
		c.archives.Set(key, a)
		slog.Debug("archive buffered", "key", key, "bytes", a.Size())
		return a, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}

	if res.Shared {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightGroupArchive, metrics.SingleflightShared).Inc()
	} else {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightGroupArchive, metrics.SingleflightInitiated).Inc()
	}

	if res.Err != nil {
		return nil, res.Err
	}
	return res.Val.(*archive.Archive), nil
}
