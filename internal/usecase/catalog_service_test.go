package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/hszk-dev/torrentstream/internal/archive"
	"github.com/hszk-dev/torrentstream/internal/domain/model"
	"github.com/hszk-dev/torrentstream/internal/domain/repository"
)

func newTestCatalogService(gateway SourceGateway, c *mockCatalogCache) *catalogService {
	return NewCatalogService(
		gateway,
		archive.NewFlattener(archive.DefaultConfig()),
		c,
		CatalogServiceConfig{CacheTTL: time.Hour},
	).(*catalogService)
}

// packSession is a multi-file source holding a video, an archive with one
// video and one text member, and a loose text file.
func packSession(t *testing.T) *fakeSession {
	t.Helper()
	zipped := buildTestZip(t, map[string][]byte{
		"clip.mp4":   bytes.Repeat([]byte("c"), 1234),
		"readme.txt": []byte("read me"),
	}, "clip.mp4", "readme.txt")

	return newFakeSession("Pack").
		addFile("Pack/video.mkv", bytes.Repeat([]byte("v"), 5000)).
		addFile("Pack/bonus.zip", zipped).
		addFile("Pack/Cover.PNG", []byte("png")).
		addFile("Pack/notes.txt", []byte("notes"))
}

func gatewayFor(h *Handle) *mockGateway {
	return &mockGateway{
		resolveFn: func(ctx context.Context, id model.Identifier) (*Handle, error) {
			return h, nil
		},
	}
}

func TestCatalogService_ListFiles(t *testing.T) {
	h := newTestHandle(packSession(t))
	svc := newTestCatalogService(gatewayFor(h), newMockCatalogCache())

	got, err := svc.ListFiles(context.Background(), mustParse(testMagnet))
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}

	want := model.Catalog{
		{Name: "video.mkv", Length: 5000, Path: "Pack/video.mkv", Type: model.EntryTypeVideo},
		{Name: "clip.mp4", Length: 1234, Path: "Pack/bonus.zip/clip.mp4", Type: model.EntryTypeVideo},
		{Name: "Cover.PNG", Length: 3, Path: "Pack/Cover.PNG", Type: model.EntryTypeImage},
		{Name: "notes.txt", Length: 5, Path: "Pack/notes.txt", Type: model.EntryTypeOther},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	for _, e := range got {
		if e.Type == model.EntryTypeArchive {
			t.Errorf("catalog contains flattened archive %q", e.Path)
		}
	}
}

func TestCatalogService_ListFiles_CorruptArchiveSkipped(t *testing.T) {
	sess := newFakeSession("Pack").
		addFile("Pack/video.mkv", []byte("video")).
		addFile("Pack/broken.zip", []byte("not a zip at all")).
		addFile("Pack/poster.jpg", []byte("jpg"))
	svc := newTestCatalogService(gatewayFor(newTestHandle(sess)), newMockCatalogCache())

	got, err := svc.ListFiles(context.Background(), mustParse(testMagnet))
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}

	wantPaths := []string{"Pack/video.mkv", "Pack/poster.jpg"}
	if len(got) != len(wantPaths) {
		t.Fatalf("got %d entries, want %d: %+v", len(got), len(wantPaths), got)
	}
	for i, p := range wantPaths {
		if got[i].Path != p {
			t.Errorf("entry %d path = %q, want %q", i, got[i].Path, p)
		}
	}
}

func TestCatalogService_ListFiles_UnreadableArchiveSkipped(t *testing.T) {
	sess := newFakeSession("Pack").
		addFile("Pack/video.mkv", []byte("video")).
		addFile("Pack/bonus.zip", []byte("irrelevant"))
	sess.openFn = func(ctx context.Context, path string) (io.ReadSeekCloser, error) {
		return nil, errUpstream
	}
	svc := newTestCatalogService(gatewayFor(newTestHandle(sess)), newMockCatalogCache())

	got, err := svc.ListFiles(context.Background(), mustParse(testMagnet))
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if len(got) != 1 || got[0].Path != "Pack/video.mkv" {
		t.Errorf("got %+v, want only Pack/video.mkv", got)
	}
}

func TestCatalogService_ListFiles_CachedCatalogNotRebuilt(t *testing.T) {
	sess := packSession(t)
	gw := gatewayFor(newTestHandle(sess))
	c := newMockCatalogCache()
	svc := newTestCatalogService(gw, c)
	id := mustParse(testMagnet)

	first, err := svc.ListFiles(context.Background(), id)
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	opens := sess.opens.Load()

	second, err := svc.ListFiles(context.Background(), id)
	if err != nil {
		t.Fatalf("second ListFiles failed: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("catalog changed between calls: %d vs %d entries", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("entry %d changed: %+v vs %+v", i, first[i], second[i])
		}
	}
	if n := gw.calls.Load(); n != 1 {
		t.Errorf("gateway Resolve called %d times, want 1", n)
	}
	if sess.opens.Load() != opens {
		t.Error("expected no archive reads on a cache hit")
	}
	if c.setCount() != 1 {
		t.Errorf("cache Set called %d times, want 1", c.setCount())
	}
}

func TestCatalogService_ListFiles_ConcurrentBuildsOnce(t *testing.T) {
	sess := packSession(t)
	release := make(chan struct{})
	gw := &mockGateway{
		resolveFn: func(ctx context.Context, id model.Identifier) (*Handle, error) {
			<-release
			return newTestHandle(sess), nil
		},
	}
	c := newMockCatalogCache()
	svc := newTestCatalogService(gw, c)
	id := mustParse(testMagnet)

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ListFiles(context.Background(), id)
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if n := gw.calls.Load(); n != 1 {
		t.Errorf("gateway Resolve called %d times, want 1", n)
	}
	if c.setCount() != 1 {
		t.Errorf("cache Set called %d times, want 1", c.setCount())
	}
}

func TestCatalogService_ListFiles_Errors(t *testing.T) {
	tests := []struct {
		name    string
		gateway *mockGateway
		wantErr error
	}{
		{
			name: "fetch failure",
			gateway: &mockGateway{
				resolveFn: func(ctx context.Context, id model.Identifier) (*Handle, error) {
					return nil, repository.ErrSourceFetchFailure
				},
			},
			wantErr: repository.ErrSourceFetchFailure,
		},
		{
			name: "metadata timeout",
			gateway: &mockGateway{
				resolveFn: func(ctx context.Context, id model.Identifier) (*Handle, error) {
					return nil, ErrMetadataTimeout
				},
			},
			wantErr: repository.ErrSourceFetchFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newMockCatalogCache()
			svc := newTestCatalogService(tt.gateway, c)

			_, err := svc.ListFiles(context.Background(), mustParse(testMagnet))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ListFiles() error = %v, want %v", err, tt.wantErr)
			}
			if c.setCount() != 0 {
				t.Error("failed builds must not be cached")
			}
		})
	}
}

func TestCatalogService_ListFiles_CacheErrorFallsBackToBuild(t *testing.T) {
	c := newMockCatalogCache()
	c.getFn = func(ctx context.Context, key string) (model.Catalog, bool, error) {
		return nil, false, errors.New("redis: connection refused")
	}
	c.setFn = func(ctx context.Context, key string, catalog model.Catalog, ttl time.Duration) error {
		return errors.New("redis: connection refused")
	}
	svc := newTestCatalogService(gatewayFor(newTestHandle(packSession(t))), c)

	got, err := svc.ListFiles(context.Background(), mustParse(testMagnet))
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("got %d entries, want 4", len(got))
	}
}

func TestCatalogService_ListFiles_CallerCancelled(t *testing.T) {
	sess := packSession(t)
	release := make(chan struct{})
	gw := &mockGateway{
		resolveFn: func(ctx context.Context, id model.Identifier) (*Handle, error) {
			<-release
			return newTestHandle(sess), nil
		},
	}
	c := newMockCatalogCache()
	svc := newTestCatalogService(gw, c)
	id := mustParse(testMagnet)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.ListFiles(ctx, id)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ListFiles() error = %v, want %v", err, context.Canceled)
	}

	// The build keeps running and later callers reuse it.
	close(release)
	got, err := svc.ListFiles(context.Background(), id)
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("got %d entries, want 4", len(got))
	}
	if n := gw.calls.Load(); n != 1 {
		t.Errorf("gateway Resolve called %d times, want 1", n)
	}
}

func TestCatalogService_ListFiles_FirstCallerLeavesSharedBuild(t *testing.T) {
	sess := packSession(t)
	release := make(chan struct{})
	gw := &mockGateway{
		resolveFn: func(ctx context.Context, id model.Identifier) (*Handle, error) {
			<-release
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return newTestHandle(sess), nil
		},
	}
	svc := newTestCatalogService(gw, newMockCatalogCache())
	id := mustParse(testMagnet)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.ListFiles(firstCtx, id)
		firstErr <- err
	}()

	// Let the first caller start the build before the second joins it.
	time.Sleep(50 * time.Millisecond)

	type result struct {
		catalog model.Catalog
		err     error
	}
	second := make(chan result, 1)
	go func() {
		c, err := svc.ListFiles(context.Background(), id)
		second <- result{c, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("first caller error = %v, want %v", err, context.Canceled)
	}

	close(release)
	got := <-second
	if got.err != nil {
		t.Fatalf("second caller failed: %v", got.err)
	}
	if len(got.catalog) != 4 {
		t.Errorf("got %d entries, want 4", len(got.catalog))
	}
	if n := gw.calls.Load(); n != 1 {
		t.Errorf("gateway Resolve called %d times, want 1", n)
	}
}

func TestCatalogService_Catalog(t *testing.T) {
	h := newTestHandle(packSession(t))
	gw := &mockGateway{}
	c := newMockCatalogCache()
	svc := newTestCatalogService(gw, c)

	got, err := svc.Catalog(context.Background(), h)
	if err != nil {
		t.Fatalf("Catalog failed: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("got %d entries, want 4", len(got))
	}
	if gw.calls.Load() != 0 {
		t.Error("Catalog must not resolve through the gateway")
	}

	// ListFiles for the same identifier is now served from the cache.
	if _, err := svc.ListFiles(context.Background(), h.Identifier); err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if gw.calls.Load() != 0 {
		t.Error("expected ListFiles to hit the cache")
	}
}

func TestCatalogService_EmptySource(t *testing.T) {
	svc := newTestCatalogService(gatewayFor(newTestHandle(newFakeSession("Empty"))), newMockCatalogCache())

	got, err := svc.ListFiles(context.Background(), mustParse(testMagnet))
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("ListFiles() = %#v, want empty non-nil catalog", got)
	}
}
