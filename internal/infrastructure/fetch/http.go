// Package fetch retrieves descriptor (.torrent) files from remote locations.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	rhttp "github.com/hashicorp/go-retryablehttp"

	"github.com/hszk-dev/torrentstream/internal/domain/repository"
)

const (
	// DefaultMaxRetries is the default number of retries per descriptor request.
	DefaultMaxRetries = 3
	// DefaultMinWait is the default minimum wait between attempts.
	DefaultMinWait = 100 * time.Millisecond
	// DefaultMaxWait is the default maximum wait between attempts.
	DefaultMaxWait = 2 * time.Second
	// DefaultDialTimeout bounds establishing a connection to the remote host.
	DefaultDialTimeout = 3 * time.Second
	// DefaultMaxBytes caps the size of a fetched descriptor.
	DefaultMaxBytes = 10 << 20
)

// ErrUnexpectedStatus is returned when the remote host answers with a non-200 status.
var ErrUnexpectedStatus = errors.New("unexpected response status")

// HTTPConfig holds configuration for the HTTP descriptor fetcher.
type HTTPConfig struct {
	MaxRetries  int
	MinWait     time.Duration
	MaxWait     time.Duration
	DialTimeout time.Duration
	MaxBytes    int64
}

// DefaultHTTPConfig returns an HTTPConfig with sensible defaults.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		MaxRetries:  DefaultMaxRetries,
		MinWait:     DefaultMinWait,
		MaxWait:     DefaultMaxWait,
		DialTimeout: DefaultDialTimeout,
		MaxBytes:    DefaultMaxBytes,
	}
}

// HTTPFetcher downloads descriptors over http and https, retrying transient failures.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

// Compile-time verification that HTTPFetcher implements repository.DescriptorFetcher.
var _ repository.DescriptorFetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a new HTTPFetcher.
func NewHTTPFetcher(cfg HTTPConfig) *HTTPFetcher {
	return &HTTPFetcher{
		client:   newRetryableClient(cfg),
		maxBytes: cfg.MaxBytes,
	}
}

// newRetryableClient creates an http.Client that retries connection errors,
// 429 and 5xx responses with exponential backoff.
func newRetryableClient(cfg HTTPConfig) *http.Client {
	rc := rhttp.NewClient()
	// Retries are logged by retryPolicy; per-request logging is too noisy.
	rc.Logger = nil

	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = cfg.MinWait
	rc.RetryWaitMax = cfg.MaxWait
	rc.CheckRetry = retryPolicy

	if t, ok := rc.HTTPClient.Transport.(*http.Transport); ok && cfg.DialTimeout > 0 {
		t.DialContext = (&net.Dialer{Timeout: cfg.DialTimeout}).DialContext
	}

	return rc.StandardClient()
}

// retryPolicy extends retryablehttp's DefaultRetryPolicy with a debug log per retry.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	retry, policyErr := rhttp.DefaultRetryPolicy(ctx, resp, err)
	if retry {
		attrs := []any{"error", err}
		if resp != nil {
			attrs = append(attrs, "status", resp.StatusCode)
			if resp.Request != nil {
				attrs = append(attrs, "url", resp.Request.URL.Redacted())
			}
		}
		slog.Debug("retrying descriptor request", attrs...)
	}
	return retry, policyErr
}

// Fetch downloads the descriptor at rawURL.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch descriptor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", repository.ErrDescriptorTooLarge, resp.ContentLength)
	}

	body := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor: %w", err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", repository.ErrDescriptorTooLarge, f.maxBytes)
	}
	return data, nil
}
