package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hszk-dev/torrentstream/internal/domain/repository"
	"github.com/hszk-dev/torrentstream/internal/infrastructure/metrics"
)

// Router dispatches descriptor fetches to a fetcher registered for the URL scheme.
type Router struct {
	fetchers map[string]repository.DescriptorFetcher
}

// Compile-time verification that Router implements repository.DescriptorFetcher.
var _ repository.DescriptorFetcher = (*Router)(nil)

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{fetchers: make(map[string]repository.DescriptorFetcher)}
}

// Register routes URLs with the given scheme to f. Must not be called
// concurrently with Fetch.
func (r *Router) Register(scheme string, f repository.DescriptorFetcher) *Router {
	r.fetchers[strings.ToLower(scheme)] = f
	return r
}

// Fetch downloads the descriptor at rawURL using the fetcher for its scheme.
func (r *Router) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid descriptor url: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	f, ok := r.fetchers[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", repository.ErrUnsupportedScheme, u.Scheme)
	}

	data, err := f.Fetch(ctx, rawURL)
	if err != nil {
		metrics.DescriptorFetchesTotal.WithLabelValues(scheme, metrics.StatusError).Inc()
		return nil, err
	}
	metrics.DescriptorFetchesTotal.WithLabelValues(scheme, metrics.StatusSuccess).Inc()
	return data, nil
}
