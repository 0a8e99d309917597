// Package torrent adapts the anacrolix BitTorrent client to repository.TransferEngine.
package torrent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"

	"github.com/hszk-dev/torrentstream/internal/domain/repository"
)

// ClientConfig holds configuration for the BitTorrent client.
type ClientConfig struct {
	DataDir    string // Directory where piece data is stored
	ListenPort int    // Peer listen port (0 picks a random port)
	NoUpload   bool   // Disable uploading to peers
	Seed       bool   // Keep seeding completed pieces
	Readahead  int64  // Bytes to prefetch ahead of each reader position
}

// DefaultClientConfig returns a ClientConfig with sensible defaults.
func DefaultClientConfig(dataDir string) ClientConfig {
	return ClientConfig{
		DataDir:    dataDir,
		ListenPort: 0,
		NoUpload:   false,
		Seed:       false,
		Readahead:  4 << 20,
	}
}

// torrentClient abstracts *torrent.Client for testability.
type torrentClient interface {
	AddMagnet(uri string) (*torrent.Torrent, error)
	AddTorrent(mi *metainfo.MetaInfo) (*torrent.Torrent, error)
	Close() error
}

// torrentClientAdapter wraps *torrent.Client to implement torrentClient.
// Shutdown errors from the underlying client are not surfaced.
type torrentClientAdapter struct {
	client *torrent.Client
}

func (a *torrentClientAdapter) AddMagnet(uri string) (*torrent.Torrent, error) {
	return a.client.AddMagnet(uri)
}

func (a *torrentClientAdapter) AddTorrent(mi *metainfo.MetaInfo) (*torrent.Torrent, error) {
	return a.client.AddTorrent(mi)
}

func (a *torrentClientAdapter) Close() error {
	a.client.Close()
	return nil
}

// Client implements repository.TransferEngine on top of anacrolix/torrent.
type Client struct {
	client    torrentClient
	readahead int64
}

// Compile-time verification that Client implements repository.TransferEngine.
var _ repository.TransferEngine = (*Client)(nil)

// NewClient creates a BitTorrent client listening for peers.
func NewClient(cfg ClientConfig) (*Client, error) {
	tcfg := torrent.NewDefaultClientConfig()
	tcfg.DataDir = cfg.DataDir
	tcfg.ListenPort = cfg.ListenPort
	tcfg.NoUpload = cfg.NoUpload
	tcfg.Seed = cfg.Seed

	cl, err := torrent.NewClient(tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create torrent client: %w", err)
	}

	return &Client{
		client:    &torrentClientAdapter{client: cl},
		readahead: cfg.Readahead,
	}, nil
}

// AddMagnet starts a session from a magnet URI.
func (c *Client) AddMagnet(uri string) (repository.Session, error) {
	t, err := c.client.AddMagnet(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to add magnet: %w", err)
	}
	return &session{t: t, readahead: c.readahead}, nil
}

// AddDescriptor starts a session from raw .torrent bytes.
func (c *Client) AddDescriptor(data []byte) (repository.Session, error) {
	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse torrent descriptor: %w", err)
	}

	t, err := c.client.AddTorrent(mi)
	if err != nil {
		return nil, fmt.Errorf("failed to add torrent: %w", err)
	}
	return &session{t: t, readahead: c.readahead}, nil
}

// Close stops every session and shuts the client down.
func (c *Client) Close() error {
	return c.client.Close()
}

// session implements repository.Session for a single torrent.
type session struct {
	t         *torrent.Torrent
	readahead int64
}

func (s *session) InfoHash() string {
	return s.t.InfoHash().HexString()
}

func (s *session) Name() string {
	select {
	case <-s.t.GotInfo():
		return s.t.Name()
	default:
		return ""
	}
}

func (s *session) GotInfo() <-chan struct{} {
	return s.t.GotInfo()
}

func (s *session) Files() []repository.SourceFile {
	select {
	case <-s.t.GotInfo():
	default:
		return nil
	}

	files := s.t.Files()
	out := make([]repository.SourceFile, 0, len(files))
	for _, f := range files {
		out = append(out, repository.SourceFile{
			Path:   f.Path(),
			Length: f.Length(),
		})
	}
	return out
}

// Open returns a responsive reader for the file at path. The reader is closed
// when ctx is cancelled so that blocked reads return promptly.
func (s *session) Open(ctx context.Context, path string) (io.ReadSeekCloser, error) {
	select {
	case <-s.t.GotInfo():
	default:
		return nil, fmt.Errorf("%w: metadata not available", repository.ErrFileNotFound)
	}

	for _, f := range s.t.Files() {
		if f.Path() != path {
			continue
		}
		r := f.NewReader()
		r.SetResponsive()
		if s.readahead > 0 {
			r.SetReadahead(s.readahead)
		}
		slog.Debug("opened torrent file reader",
			"info_hash", s.InfoHash(),
			"path", path,
		)
		cr := &contextReader{ReadSeekCloser: r}
		cr.stop = context.AfterFunc(ctx, func() { _ = cr.release() })
		return cr, nil
	}
	return nil, fmt.Errorf("%w: %s", repository.ErrFileNotFound, path)
}

// contextReader closes the underlying reader at most once, either on Close
// or when its context is done.
type contextReader struct {
	io.ReadSeekCloser
	stop func() bool
	once sync.Once
	err  error
}

func (r *contextReader) Close() error {
	r.stop()
	return r.release()
}

func (r *contextReader) release() error {
	r.once.Do(func() {
		r.err = r.ReadSeekCloser.Close()
	})
	return r.err
}
