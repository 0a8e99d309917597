package repository

import (
	"context"
	"io"
)

// SourceFile describes one file inside a transfer session.
type SourceFile struct {
	// Path is the file's path inside the session, including the session name
	// for multi-file content.
	Path   string
	Length int64
}

// Session is a live bulk-transfer session supplying file-like entries.
// Implementations should be provided by the infrastructure layer (e.g., BitTorrent).
type Session interface {
	// InfoHash returns the lowercase hex content address of the session.
	InfoHash() string

	// Name returns the display name of the content, or "" before metadata arrives.
	Name() string

	// GotInfo is closed once file metadata is available.
	GotInfo() <-chan struct{}

	// Files lists the session's files. It returns nil before GotInfo is closed.
	Files() []SourceFile

	// Open returns a seekable reader over a file identified by its Path.
	// Reads block until the requested pieces are available.
	// Caller is responsible for closing the returned reader.
	Open(ctx context.Context, path string) (io.ReadSeekCloser, error)
}

// TransferEngine registers new bulk-transfer sessions.
type TransferEngine interface {
	// AddMagnet starts a session from a magnet URI.
	AddMagnet(uri string) (Session, error)

	// AddDescriptor starts a session seeded with raw descriptor (.torrent) bytes.
	AddDescriptor(data []byte) (Session, error)

	// Close stops all sessions and releases engine resources.
	Close() error
}

// DescriptorFetcher retrieves descriptor bytes from a remote location.
type DescriptorFetcher interface {
	// Fetch downloads the descriptor at rawURL.
	// The caller bounds the operation through ctx.
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}
