package handler

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hszk-dev/torrentstream/internal/archive"
	"github.com/hszk-dev/torrentstream/internal/domain/model"
	"github.com/hszk-dev/torrentstream/internal/domain/repository"
	"github.com/hszk-dev/torrentstream/internal/streamer"
	"github.com/hszk-dev/torrentstream/internal/usecase"
)

const testMagnet = "magnet:?xt=urn:btih:c9e15763f722f23e98a29decdfae341b98d53056&dn=Pack"

// Mock SourceGateway

type mockGateway struct {
	resolveFn func(ctx context.Context, id model.Identifier) (*usecase.Handle, error)
	lookupFn  func(id model.Identifier) (*usecase.Handle, error)
	sessions  int

	resolveCalls int
}

func (m *mockGateway) Resolve(ctx context.Context, id model.Identifier) (*usecase.Handle, error) {
	m.resolveCalls++
	if m.resolveFn != nil {
		return m.resolveFn(ctx, id)
	}
	return nil, repository.ErrSourceFetchFailure
}

func (m *mockGateway) Lookup(id model.Identifier) (*usecase.Handle, error) {
	if m.lookupFn != nil {
		return m.lookupFn(id)
	}
	return nil, repository.ErrSourceNotFound
}

func (m *mockGateway) ActiveSessions() int { return m.sessions }

func (m *mockGateway) Close() error { return nil }

// Mock CatalogService

type mockCatalogService struct {
	listFilesFn func(ctx context.Context, id model.Identifier) (model.Catalog, error)
	catalogFn   func(ctx context.Context, h *usecase.Handle) (model.Catalog, error)
}

func (m *mockCatalogService) ListFiles(ctx context.Context, id model.Identifier) (model.Catalog, error) {
	if m.listFilesFn != nil {
		return m.listFilesFn(ctx, id)
	}
	return model.Catalog{}, nil
}

func (m *mockCatalogService) Catalog(ctx context.Context, h *usecase.Handle) (model.Catalog, error) {
	if m.catalogFn != nil {
		return m.catalogFn(ctx, h)
	}
	return model.Catalog{}, nil
}

// memSession implements repository.Session over in-memory files.
type memSession struct {
	paths   []string
	data    map[string][]byte
	gotInfo chan struct{}
}

func newMemSession() *memSession {
	s := &memSession{data: make(map[string][]byte), gotInfo: make(chan struct{})}
	close(s.gotInfo)
	return s
}

func (s *memSession) add(path string, data []byte) *memSession {
	s.paths = append(s.paths, path)
	s.data[path] = data
	return s
}

func (s *memSession) InfoHash() string { return "c9e15763f722f23e98a29decdfae341b98d53056" }

func (s *memSession) Name() string { return "Pack" }

func (s *memSession) GotInfo() <-chan struct{} { return s.gotInfo }

func (s *memSession) Files() []repository.SourceFile {
	files := make([]repository.SourceFile, 0, len(s.paths))
	for _, p := range s.paths {
		files = append(files, repository.SourceFile{Path: p, Length: int64(len(s.data[p]))})
	}
	return files
}

func (s *memSession) Open(ctx context.Context, path string) (io.ReadSeekCloser, error) {
	data, ok := s.data[path]
	if !ok {
		return nil, repository.ErrFileNotFound
	}
	return nopSeekCloser{bytes.NewReader(data)}, nil
}

type nopSeekCloser struct {
	*bytes.Reader
}

func (nopSeekCloser) Close() error { return nil }

func newTestHandle(sess repository.Session) *usecase.Handle {
	id, _ := model.ParseIdentifier(testMagnet)
	archives := usecase.NewArchiveCache(archive.NewFlattener(archive.DefaultConfig()), usecase.DefaultArchiveCacheConfig())
	return usecase.NewHandle(id, sess, archives, time.Second)
}

func newTestRouter(gw *mockGateway, svc *mockCatalogService) http.Handler {
	sh := NewStreamHandler(gw, svc, streamer.New(streamer.DefaultConfig()))

	r := chi.NewRouter()
	r.Get("/health-check", Health(gw))
	r.Get("/list-files/{identifier}", NewCatalogHandler(svc).ListFiles)
	r.Get("/stream/{identifier}/*", sh.Stream)
	r.Get("/download/{identifier}/*", sh.Download)
	return r
}
