package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hszk-dev/torrentstream/internal/domain/model"
	"github.com/hszk-dev/torrentstream/internal/domain/repository"
)

const testInfoHash = "c9e15763f722f23e98a29decdfae341b98d53056"

const testMagnet = "magnet:?xt=urn:btih:" + testInfoHash + "&dn=Pack"

// fakeSession implements repository.Session over in-memory files.
type fakeSession struct {
	infoHash string
	name     string
	paths    []string
	data     map[string][]byte
	gotInfo  chan struct{}

	openFn func(ctx context.Context, path string) (io.ReadSeekCloser, error)
	opens  atomic.Int32
}

func newFakeSession(name string) *fakeSession {
	s := &fakeSession{
		infoHash: testInfoHash,
		name:     name,
		data:     make(map[string][]byte),
		gotInfo:  make(chan struct{}),
	}
	close(s.gotInfo)
	return s
}

// newPendingSession returns a session whose metadata never arrives.
func newPendingSession() *fakeSession {
	return &fakeSession{
		infoHash: testInfoHash,
		data:     make(map[string][]byte),
		gotInfo:  make(chan struct{}),
	}
}

func (s *fakeSession) addFile(path string, data []byte) *fakeSession {
	s.paths = append(s.paths, path)
	s.data[path] = data
	return s
}

func (s *fakeSession) InfoHash() string { return s.infoHash }

func (s *fakeSession) Name() string { return s.name }

func (s *fakeSession) GotInfo() <-chan struct{} { return s.gotInfo }

func (s *fakeSession) Files() []repository.SourceFile {
	select {
	case <-s.gotInfo:
	default:
		return nil
	}
	files := make([]repository.SourceFile, 0, len(s.paths))
	for _, p := range s.paths {
		files = append(files, repository.SourceFile{Path: p, Length: int64(len(s.data[p]))})
	}
	return files
}

func (s *fakeSession) Open(ctx context.Context, path string) (io.ReadSeekCloser, error) {
	s.opens.Add(1)
	if s.openFn != nil {
		return s.openFn(ctx, path)
	}
	data, ok := s.data[path]
	if !ok {
		return nil, repository.ErrFileNotFound
	}
	return &nopReadSeekCloser{Reader: bytes.NewReader(data)}, nil
}

type nopReadSeekCloser struct {
	*bytes.Reader
	closed atomic.Bool
}

func (r *nopReadSeekCloser) Close() error {
	r.closed.Store(true)
	return nil
}

// mockEngine provides a configurable mock for TransferEngine.
type mockEngine struct {
	addMagnetFn     func(uri string) (repository.Session, error)
	addDescriptorFn func(data []byte) (repository.Session, error)

	magnetCalls     atomic.Int32
	descriptorCalls atomic.Int32
	closeCalls      atomic.Int32
}

func (m *mockEngine) AddMagnet(uri string) (repository.Session, error) {
	m.magnetCalls.Add(1)
	if m.addMagnetFn != nil {
		return m.addMagnetFn(uri)
	}
	return newFakeSession("Pack"), nil
}

func (m *mockEngine) AddDescriptor(data []byte) (repository.Session, error) {
	m.descriptorCalls.Add(1)
	if m.addDescriptorFn != nil {
		return m.addDescriptorFn(data)
	}
	return newFakeSession("Pack"), nil
}

func (m *mockEngine) Close() error {
	m.closeCalls.Add(1)
	return nil
}

// mockFetcher provides a configurable mock for DescriptorFetcher.
type mockFetcher struct {
	fetchFn func(ctx context.Context, rawURL string) ([]byte, error)
	calls   atomic.Int32
}

func (m *mockFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	m.calls.Add(1)
	if m.fetchFn != nil {
		return m.fetchFn(ctx, rawURL)
	}
	return []byte("d4:infoe"), nil
}

// mockGateway provides a configurable mock for SourceGateway.
type mockGateway struct {
	resolveFn func(ctx context.Context, id model.Identifier) (*Handle, error)
	calls     atomic.Int32
}

func (m *mockGateway) Resolve(ctx context.Context, id model.Identifier) (*Handle, error) {
	m.calls.Add(1)
	if m.resolveFn != nil {
		return m.resolveFn(ctx, id)
	}
	return nil, repository.ErrSourceNotFound
}

func (m *mockGateway) Lookup(id model.Identifier) (*Handle, error) {
	return nil, repository.ErrSourceNotFound
}

func (m *mockGateway) ActiveSessions() int { return 0 }

func (m *mockGateway) Close() error { return nil }

// mockCatalogCache provides a configurable mock for CatalogCache.
type mockCatalogCache struct {
	mu      sync.Mutex
	getFn   func(ctx context.Context, key string) (model.Catalog, bool, error)
	setFn   func(ctx context.Context, key string, catalog model.Catalog, ttl time.Duration) error
	entries map[string]model.Catalog
	sets    int
}

func newMockCatalogCache() *mockCatalogCache {
	return &mockCatalogCache{entries: make(map[string]model.Catalog)}
}

func (m *mockCatalogCache) Get(ctx context.Context, key string) (model.Catalog, bool, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.entries[key]
	return c, ok, nil
}

func (m *mockCatalogCache) Set(ctx context.Context, key string, catalog model.Catalog, ttl time.Duration) error {
	if m.setFn != nil {
		return m.setFn(ctx, key, catalog, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = catalog
	m.sets++
	return nil
}

func (m *mockCatalogCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *mockCatalogCache) setCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}

var errUpstream = errors.New("upstream unavailable")

func mustParse(raw string) model.Identifier {
	id, err := model.ParseIdentifier(raw)
	if err != nil {
		panic(err)
	}
	return id
}
