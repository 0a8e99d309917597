package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/torrentstream/internal/api/handler"
	"github.com/hszk-dev/torrentstream/internal/api/middleware"
	"github.com/hszk-dev/torrentstream/internal/archive"
	"github.com/hszk-dev/torrentstream/internal/config"
	"github.com/hszk-dev/torrentstream/internal/infrastructure/cache"
	"github.com/hszk-dev/torrentstream/internal/infrastructure/fetch"
	"github.com/hszk-dev/torrentstream/internal/infrastructure/storage"
	"github.com/hszk-dev/torrentstream/internal/infrastructure/torrent"
	"github.com/hszk-dev/torrentstream/internal/streamer"
	"github.com/hszk-dev/torrentstream/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Torrent.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// Initialize infrastructure clients
	var deps []handler.Dependency

	fetcher, storageClient, err := newDescriptorFetcher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if storageClient != nil {
		deps = append(deps, handler.Dependency{Name: "minio", Ping: storageClient.Ping})
	}

	catalogCache, redisClient, err := newCatalogCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		deps = append(deps, handler.Dependency{
			Name: "redis",
			Ping: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	flattener := archive.NewFlattener(archive.Config{MaxBytes: cfg.Catalog.ArchiveMaxBytes})

	engine, err := torrent.NewClient(torrent.ClientConfig{
		DataDir:    cfg.Torrent.DataDir,
		ListenPort: cfg.Torrent.ListenPort,
		NoUpload:   cfg.Torrent.NoUpload,
		Seed:       cfg.Torrent.Seed,
		Readahead:  cfg.Torrent.Readahead,
	})
	if err != nil {
		return fmt.Errorf("failed to start torrent client: %w", err)
	}
	logger.Info("torrent client started", slog.Int("listen_port", cfg.Torrent.ListenPort))

	// Initialize use cases; the gateway owns the engine from here on
	gateway := usecase.NewSourceGateway(engine, fetcher, flattener, usecase.SourceGatewayConfig{
		FetchTimeout:        cfg.Fetch.Timeout,
		MetadataTimeout:     cfg.Torrent.MetadataTimeout,
		DescriptorTTL:       cfg.Fetch.DescriptorTTL,
		DescriptorCacheSize: cfg.Fetch.DescriptorCacheSize,
		Archives: usecase.ArchiveCacheConfig{
			TTL:        cfg.Catalog.ArchiveCacheTTL,
			MaxEntries: cfg.Catalog.ArchiveCacheMaxEntries,
		},
	})
	defer func() {
		if err := gateway.Close(); err != nil {
			logger.Error("failed to close source gateway", slog.String("error", err.Error()))
		}
	}()

	catalogService := usecase.NewCatalogService(gateway, flattener, catalogCache, usecase.CatalogServiceConfig{
		CacheTTL: cfg.Catalog.CacheTTL,
	})

	s := streamer.New(streamer.Config{
		ChunkSize:    cfg.Stream.ChunkSize,
		MaxEntrySize: cfg.Stream.MaxEntrySize,
	})

	// Initialize handlers
	catalogHandler := handler.NewCatalogHandler(catalogService)
	streamHandler := handler.NewStreamHandler(gateway, catalogService, s)

	r := setupRouter(logger, gateway, deps, catalogHandler, streamHandler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", slog.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// newDescriptorFetcher routes http(s) descriptors to the retrying HTTP
// fetcher and, when MinIO is configured, s3 descriptors to object storage.
// The storage client is nil when MinIO is disabled.
func newDescriptorFetcher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*fetch.Router, *storage.Client, error) {
	httpFetcher := fetch.NewHTTPFetcher(fetch.HTTPConfig{
		MaxRetries:  cfg.Fetch.MaxRetries,
		MinWait:     fetch.DefaultMinWait,
		MaxWait:     fetch.DefaultMaxWait,
		DialTimeout: fetch.DefaultDialTimeout,
		MaxBytes:    cfg.Fetch.MaxBytes,
	})

	router := fetch.NewRouter().
		Register("http", httpFetcher).
		Register("https", httpFetcher)

	if !cfg.MinIO.Enabled() {
		return router, nil, nil
	}

	storageClient, err := storage.NewClient(ctx, storage.ClientConfig{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		UseSSL:    cfg.MinIO.UseSSL,
		Bucket:    cfg.MinIO.Bucket,
		MaxBytes:  cfg.Fetch.MaxBytes,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MinIO: %w", err)
	}
	logger.Info("connected to MinIO", slog.String("endpoint", cfg.MinIO.Endpoint))

	return router.Register("s3", storageClient), storageClient, nil
}

// newCatalogCache returns the configured catalog cache. The Redis client is
// nil for the in-memory backend; the caller closes it otherwise.
func newCatalogCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (cache.CatalogCache, *redis.Client, error) {
	if cfg.Catalog.CacheBackend != config.CacheBackendRedis {
		return cache.NewMemoryCatalogCache(cache.TTLConfig{
			TTL:        cfg.Catalog.CacheTTL,
			MaxEntries: cfg.Catalog.CacheMaxEntries,
		}), nil, nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("connected to Redis", slog.String("addr", cfg.Redis.Addr()))

	return cache.NewRedisCatalogCache(redisClient), redisClient, nil
}

func setupRouter(
	logger *slog.Logger,
	sessions handler.SessionCounter,
	deps []handler.Dependency,
	catalogHandler *handler.CatalogHandler,
	streamHandler *handler.StreamHandler,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))

	r.Get("/health-check", handler.Health(sessions, deps...))
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/list-files/{identifier}", catalogHandler.ListFiles)
	r.Get("/stream/{identifier}/*", streamHandler.Stream)
	r.Get("/download/{identifier}/*", streamHandler.Download)

	return r
}
