package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hszk-dev/torrentstream/internal/domain/model"
	"github.com/hszk-dev/torrentstream/internal/domain/repository"
	"github.com/hszk-dev/torrentstream/internal/infrastructure/cache"
	"github.com/hszk-dev/torrentstream/internal/infrastructure/metrics"
)

// CatalogService builds and caches the file catalogs of content sources.
type CatalogService interface {
	// ListFiles resolves id and returns its catalog, building it on a cache miss.
	ListFiles(ctx context.Context, id model.Identifier) (model.Catalog, error)

	// Catalog returns the catalog of an already resolved handle.
	Catalog(ctx context.Context, h *Handle) (model.Catalog, error)
}

// CatalogServiceConfig holds configuration for CatalogService.
type CatalogServiceConfig struct {
	// CacheTTL is the TTL for cached catalogs.
	CacheTTL time.Duration
}

// DefaultCatalogServiceConfig returns the default configuration.
func DefaultCatalogServiceConfig() CatalogServiceConfig {
	return CatalogServiceConfig{
		CacheTTL: cache.DefaultTTL,
	}
}

type catalogService struct {
	gateway   SourceGateway
	flattener ArchiveFlattener
	cache     cache.CatalogCache
	sfGroup   singleflight.Group

	cacheTTL time.Duration
}

// NewCatalogService creates a new CatalogService.
func NewCatalogService(
	gateway SourceGateway,
	flattener ArchiveFlattener,
	catalogCache cache.CatalogCache,
	cfg CatalogServiceConfig,
) CatalogService {
	return &catalogService{
		gateway:   gateway,
		flattener: flattener,
		cache:     catalogCache,
		cacheTTL:  cfg.CacheTTL,
	}
}

func (s *catalogService) ListFiles(ctx context.Context, id model.Identifier) (model.Catalog, error) {
	return s.cached(ctx, id.Key(), func(ctx context.Context) (*Handle, error) {
		return s.gateway.Resolve(ctx, id)
	})
}

func (s *catalogService) Catalog(ctx context.Context, h *Handle) (model.Catalog, error) {
	return s.cached(ctx, h.Key(), func(ctx context.Context) (*Handle, error) {
		return h, h.WaitReady(ctx)
	})
}

// cached implements the cache-aside pattern. Concurrent misses for the same
// key share a single build, which runs detached from any one caller so a
// disconnecting client does not fail the others. Each caller still returns
// as soon as its own ctx is done.
func (s *catalogService) cached(
	ctx context.Context,
	key string,
	resolve func(ctx context.Context) (*Handle, error),
) (model.Catalog, error) {
	if catalog, found := s.fromCache(ctx, key); found {
		return catalog, nil
	}

	buildCtx := context.WithoutCancel(ctx)
	ch := s.sfGroup.DoChan(key, func() (any, error) {
		// Another caller may have populated the cache since the first check.
		if catalog, found := s.fromCache(buildCtx, key); found {
			return catalog, nil
		}

		h, err := resolve(buildCtx)
		if err != nil {
			return nil, err
		}

		catalog, err := s.build(buildCtx, h)
		if err != nil {
			metrics.CatalogBuildsTotal.WithLabelValues(metrics.StatusError).Inc()
			return nil, err
		}
		metrics.CatalogBuildsTotal.WithLabelValues(metrics.StatusSuccess).Inc()

		slog.Info("catalog built",
			"key", key,
			"name", h.Name(),
			"info_hash", h.InfoHash(),
			"entries", len(catalog),
		)

		if err := s.cache.Set(buildCtx, key, catalog, s.cacheTTL); err != nil {
			slog.Warn("failed to cache catalog",
				"key", key,
				"error", err,
			)
		}
		return catalog, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}

	if res.Shared {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightGroupCatalog, metrics.SingleflightShared).Inc()
	} else {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightGroupCatalog, metrics.SingleflightInitiated).Inc()
	}

	if res.Err != nil {
		return nil, res.Err
	}
	return res.Val.(model.Catalog), nil
}

func (s *catalogService) fromCache(ctx context.Context, key string) (model.Catalog, bool) {
	catalog, found, err := s.cache.Get(ctx, key)
	if err != nil {
		// Log cache error but continue to build
		slog.Warn("catalog cache get failed, rebuilding",
			"key", key,
			"error", err,
		)
		return nil, false
	}
	return catalog, found
}

// build enumerates the handle's files in order, replacing each archive by
// its streamable members. An archive that cannot be flattened is skipped.
func (s *catalogService) build(ctx context.Context, h *Handle) (model.Catalog, error) {
	files := h.Files()
	catalog := make(model.Catalog, 0, len(files))

	for _, f := range files {
		entryType := model.Classify(f.Path)
		if entryType != model.EntryTypeArchive {
			catalog = append(catalog, model.Entry{
				Name:   path.Base(f.Path),
				Length: uint64(max(f.Length, 0)),
				Path:   f.Path,
				Type:   entryType,
			})
			continue
		}

		members, err := s.flatten(ctx, h, f)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			metrics.ArchiveFlattensTotal.WithLabelValues(metrics.StatusSkipped).Inc()
			slog.Warn("skipping archive that could not be flattened",
				"key", h.Key(),
				"path", f.Path,
				"error", err,
			)
			continue
		}
		metrics.ArchiveFlattensTotal.WithLabelValues(metrics.StatusSuccess).Inc()
		catalog = append(catalog, members...)
	}

	return catalog, nil
}

func (s *catalogService) flatten(ctx context.Context, h *Handle, f repository.SourceFile) ([]model.Entry, error) {
	r, err := h.session.Open(ctx, f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	return s.flattener.Flatten(ctx, r, f.Path)
}
