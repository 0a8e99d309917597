package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hszk-dev/torrentstream/internal/archive"
	"github.com/hszk-dev/torrentstream/internal/domain/model"
	"github.com/hszk-dev/torrentstream/internal/domain/repository"
	"github.com/hszk-dev/torrentstream/internal/infrastructure/cache"
	"github.com/hszk-dev/torrentstream/internal/infrastructure/metrics"
)

var (
	// ErrMetadataTimeout is returned when a session does not report its file
	// list within the metadata timeout. It wraps repository.ErrSourceFetchFailure.
	ErrMetadataTimeout = fmt.Errorf("%w: metadata timeout", repository.ErrSourceFetchFailure)

	// ErrGatewayClosed is returned by Resolve after Close.
	ErrGatewayClosed = errors.New("source gateway closed")
)

// ArchiveFlattener expands archive containers into catalog entries and
// buffers them for member reads.
type ArchiveFlattener interface {
	Flatten(ctx context.Context, r io.Reader, archivePath string) ([]model.Entry, error)
	Load(ctx context.Context, r io.Reader) (*archive.Archive, error)
}

// SourceGateway resolves identifiers to live content-source handles.
// At most one handle exists per identifier key for the gateway's lifetime.
type SourceGateway interface {
	// Resolve returns the handle for id, registering a new session when none
	// exists, and waits until the session's metadata is available.
	Resolve(ctx context.Context, id model.Identifier) (*Handle, error)

	// Lookup returns the existing handle for id without registering a session.
	// Returns repository.ErrSourceNotFound when no session exists.
	Lookup(id model.Identifier) (*Handle, error)

	// ActiveSessions returns the number of registered handles.
	ActiveSessions() int

	// Close shuts down the transfer engine and every session.
	Close() error
}

// SourceGatewayConfig holds configuration for SourceGateway.
type SourceGatewayConfig struct {
	// FetchTimeout bounds a remote descriptor fetch.
	FetchTimeout time.Duration
	// MetadataTimeout bounds the wait for a session's file list. Zero waits
	// for the caller's context only.
	MetadataTimeout time.Duration
	// DescriptorTTL is how long fetched descriptors are reused.
	DescriptorTTL time.Duration
	// DescriptorCacheSize bounds the number of cached descriptors.
	DescriptorCacheSize int
	// Archives configures the buffered archives kept for member streaming.
	Archives ArchiveCacheConfig
}

// DefaultSourceGatewayConfig returns the default configuration.
func DefaultSourceGatewayConfig() SourceGatewayConfig {
	return SourceGatewayConfig{
		FetchTimeout:        10 * time.Second,
		MetadataTimeout:     2 * time.Minute,
		DescriptorTTL:       cache.DefaultTTL,
		DescriptorCacheSize: 1024,
		Archives:            DefaultArchiveCacheConfig(),
	}
}

type sourceGateway struct {
	engine   repository.TransferEngine
	fetcher  repository.DescriptorFetcher
	archives *ArchiveCache

	descriptors *cache.TTLCache[[]byte]
	sfGroup     singleflight.Group

	mu      sync.RWMutex
	handles map[string]*Handle
	closed  bool

	fetchTimeout    time.Duration
	metadataTimeout time.Duration
}

// NewSourceGateway creates a new SourceGateway. It owns engine and closes it on Close.
func NewSourceGateway(
	engine repository.TransferEngine,
	fetcher repository.DescriptorFetcher,
	flattener ArchiveFlattener,
	cfg SourceGatewayConfig,
) SourceGateway {
	return &sourceGateway{
		engine:   engine,
		fetcher:  fetcher,
		archives: NewArchiveCache(flattener, cfg.Archives),
		descriptors: cache.NewTTLCache[[]byte](cache.TTLConfig{
			TTL:        cfg.DescriptorTTL,
			MaxEntries: cfg.DescriptorCacheSize,
		}),
		handles:         make(map[string]*Handle),
		fetchTimeout:    cfg.FetchTimeout,
		metadataTimeout: cfg.MetadataTimeout,
	}
}

func (g *sourceGateway) Resolve(ctx context.Context, id model.Identifier) (*Handle, error) {
	key := id.Key()
	if h, ok := g.lookup(key); ok {
		return h, h.WaitReady(ctx)
	}

	// Registration is detached from ctx so one caller giving up does not
	// fail the others sharing the call.
	ch := g.sfGroup.DoChan(key, func() (any, error) {
		if h, ok := g.lookup(key); ok {
			return h, nil
		}
		return g.register(context.WithoutCancel(ctx), id)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}

	if res.Shared {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightGroupRegistration, metrics.SingleflightShared).Inc()
	} else {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightGroupRegistration, metrics.SingleflightInitiated).Inc()
	}

	if res.Err != nil {
		return nil, res.Err
	}

	h := res.Val.(*Handle)
	return h, h.WaitReady(ctx)
}

func (g *sourceGateway) Lookup(id model.Identifier) (*Handle, error) {
	if h, ok := g.lookup(id.Key()); ok {
		return h, nil
	}
	return nil, fmt.Errorf("%w: %s", repository.ErrSourceNotFound, id.Key())
}

func (g *sourceGateway) ActiveSessions() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.handles)
}

func (g *sourceGateway) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.handles = make(map[string]*Handle)
	g.mu.Unlock()

	metrics.ActiveSessions.Set(0)
	return g.engine.Close()
}

func (g *sourceGateway) lookup(key string) (*Handle, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	h, ok := g.handles[key]
	return h, ok
}

// register starts a session for id and records its handle.
func (g *sourceGateway) register(ctx context.Context, id model.Identifier) (*Handle, error) {
	g.mu.RLock()
	closed := g.closed
	g.mu.RUnlock()
	if closed {
		return nil, ErrGatewayClosed
	}

	var (
		sess repository.Session
		err  error
	)

	switch id.Kind {
	case model.KindContentAddressed:
		sess, err = g.engine.AddMagnet(id.Raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", repository.ErrSourceFetchFailure, err)
		}
	case model.KindRemoteFetch:
		data, err := g.descriptor(ctx, id.Token)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", repository.ErrSourceFetchFailure, err)
		}
		sess, err = g.engine.AddDescriptor(data)
		if err != nil {
			// Drop bytes the engine cannot use so the next attempt refetches.
			g.descriptors.Delete(id.Token)
			return nil, fmt.Errorf("%w: %w", repository.ErrSourceFetchFailure, err)
		}
	default:
		return nil, model.ErrInvalidIdentifier
	}

	h := NewHandle(id, sess, g.archives, g.metadataTimeout)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, ErrGatewayClosed
	}
	g.handles[id.Key()] = h
	metrics.ActiveSessions.Inc()

	slog.Info("content source registered",
		"handle_id", h.ID,
		"kind", id.Kind.String(),
		"key", id.Key(),
		"info_hash", sess.InfoHash(),
	)
	return h, nil
}

// descriptor returns the descriptor bytes at url, reusing a cached copy.
// A failed refetch falls back to an expired copy when one is still held.
func (g *sourceGateway) descriptor(ctx context.Context, url string) ([]byte, error) {
	return g.descriptors.Fetch(url, cache.ModeFallback, func() ([]byte, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, g.fetchTimeout)
		defer cancel()
		return g.fetcher.Fetch(fetchCtx, url)
	})
}

// Handle binds an identifier to a live transfer session.
type Handle struct {
	ID         uuid.UUID
	Identifier model.Identifier

	session         repository.Session
	archives        *ArchiveCache
	metadataTimeout time.Duration
}

// NewHandle binds id to a live session. Entries inside archives are read
// from archives, which may be shared between handles.
func NewHandle(id model.Identifier, sess repository.Session, archives *ArchiveCache, metadataTimeout time.Duration) *Handle {
	return &Handle{
		ID:              uuid.New(),
		Identifier:      id,
		session:         sess,
		archives:        archives,
		metadataTimeout: metadataTimeout,
	}
}

// Key returns the identifier key the handle is registered under.
func (h *Handle) Key() string {
	return h.Identifier.Key()
}

// Name returns the content's display name, or "" before metadata arrives.
func (h *Handle) Name() string {
	return h.session.Name()
}

// InfoHash returns the session's content address.
func (h *Handle) InfoHash() string {
	return h.session.InfoHash()
}

// WaitReady blocks until the session's file list is available.
func (h *Handle) WaitReady(ctx context.Context) error {
	select {
	case <-h.session.GotInfo():
		return nil
	default:
	}

	var timeout <-chan time.Time
	if h.metadataTimeout > 0 {
		t := time.NewTimer(h.metadataTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-h.session.GotInfo():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return fmt.Errorf("%w: %s after %v", ErrMetadataTimeout, h.Key(), h.metadataTimeout)
	}
}

// Files lists the session's files, or nil before metadata arrives.
func (h *Handle) Files() []repository.SourceFile {
	return h.session.Files()
}

// Open returns a reader positioned at offset within the entry at entryPath.
// Entries inside an archive are addressed as "<archivePath>/<member>".
// The reader is released when ctx is done; the caller must still Close it.
func (h *Handle) Open(ctx context.Context, entryPath string, offset uint64) (io.ReadCloser, error) {
	files := h.Files()
	for _, f := range files {
		if f.Path == entryPath {
			return h.openFile(ctx, f.Path, offset)
		}
	}

	for _, f := range files {
		if model.Classify(f.Path) != model.EntryTypeArchive {
			continue
		}
		if member, ok := strings.CutPrefix(entryPath, f.Path+"/"); ok && member != "" {
			return h.openMember(ctx, f.Path, member, offset)
		}
	}

	return nil, fmt.Errorf("%w: %s", repository.ErrFileNotFound, entryPath)
}

func (h *Handle) openFile(ctx context.Context, filePath string, offset uint64) (io.ReadCloser, error) {
	rs, err := h.session.Open(ctx, filePath)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		if _, err := rs.Seek(int64(offset), io.SeekStart); err != nil {
			_ = rs.Close()
			return nil, fmt.Errorf("failed to seek %s to %d: %w", filePath, offset, err)
		}
	}
	return rs, nil
}

// openMember opens member inside the buffered archive and discards bytes up
// to offset. The buffered archive is reused across calls.
func (h *Handle) openMember(ctx context.Context, archivePath, member string, offset uint64) (io.ReadCloser, error) {
	a, err := h.archives.Get(ctx, h.Key()+"::"+archivePath, func(ctx context.Context) (io.ReadCloser, error) {
		return h.session.Open(ctx, archivePath)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s: %w", repository.ErrFileNotFound, archivePath, err)
	}

	rc, err := a.Open(member)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %w", repository.ErrFileNotFound, archivePath, member, err)
	}

	if offset > 0 {
		if _, err := io.CopyN(io.Discard, rc, int64(offset)); err != nil {
			_ = rc.Close()
			return nil, fmt.Errorf("failed to skip to %d in %s/%s: %w", offset, archivePath, member, err)
		}
	}
	return rc, nil
}

// Compile-time verification that sourceGateway implements SourceGateway.
var _ SourceGateway = (*sourceGateway)(nil)
