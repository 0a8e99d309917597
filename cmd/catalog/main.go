// Command catalog resolves one identifier and prints its catalog as JSON.
//
// It runs the same gateway and catalog pipeline as the API server, without
// the HTTP surface, and exits once the catalog is printed.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/hszk-dev/torrentstream/internal/api/handler"
	"github.com/hszk-dev/torrentstream/internal/archive"
	"github.com/hszk-dev/torrentstream/internal/config"
	"github.com/hszk-dev/torrentstream/internal/domain/model"
	"github.com/hszk-dev/torrentstream/internal/infrastructure/cache"
	"github.com/hszk-dev/torrentstream/internal/infrastructure/fetch"
	"github.com/hszk-dev/torrentstream/internal/infrastructure/torrent"
	"github.com/hszk-dev/torrentstream/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		timeout time.Duration
		pretty  bool
		verbose bool
	)

	flagSet := pflag.NewFlagSet("catalog", pflag.ContinueOnError)
	flagSet.DurationVar(&timeout, "timeout", 3*time.Minute, "give up if the catalog is not ready within this duration")
	flagSet.BoolVar(&pretty, "pretty", false, "indent JSON output")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: catalog [flags] <identifier>\n\nFlags:\n%s", flagSet.FlagUsages())
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flagSet.NArg() != 1 {
		flagSet.Usage()
		return errors.New("expected exactly one identifier")
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	id, err := model.ParseIdentifier(flagSet.Arg(0))
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := os.MkdirAll(cfg.Torrent.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	httpFetcher := fetch.NewHTTPFetcher(fetch.HTTPConfig{
		MaxRetries:  cfg.Fetch.MaxRetries,
		MinWait:     fetch.DefaultMinWait,
		MaxWait:     fetch.DefaultMaxWait,
		DialTimeout: fetch.DefaultDialTimeout,
		MaxBytes:    cfg.Fetch.MaxBytes,
	})
	fetcher := fetch.NewRouter().
		Register("http", httpFetcher).
		Register("https", httpFetcher)

	// Use an ephemeral peer port so the CLI can run next to the server.
	engine, err := torrent.NewClient(torrent.ClientConfig{
		DataDir:   cfg.Torrent.DataDir,
		NoUpload:  true,
		Readahead: cfg.Torrent.Readahead,
	})
	if err != nil {
		return fmt.Errorf("failed to start torrent client: %w", err)
	}

	flattener := archive.NewFlattener(archive.Config{MaxBytes: cfg.Catalog.ArchiveMaxBytes})

	gwCfg := usecase.DefaultSourceGatewayConfig()
	gwCfg.FetchTimeout = cfg.Fetch.Timeout
	gwCfg.MetadataTimeout = 0
	gateway := usecase.NewSourceGateway(engine, fetcher, flattener, gwCfg)
	defer gateway.Close()

	svc := usecase.NewCatalogService(gateway, flattener,
		cache.NewMemoryCatalogCache(cache.TTLConfig{TTL: cfg.Catalog.CacheTTL}),
		usecase.DefaultCatalogServiceConfig(),
	)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	catalog, err := svc.ListFiles(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to list files: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(handler.EntryResponses(catalog))
}
