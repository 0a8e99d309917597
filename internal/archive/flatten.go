// Package archive flattens zip containers into catalog entries.
//
// Zip keeps its central directory at the end of the file, so an archive is
// buffered in memory in full before its directory is walked. Config.MaxBytes
// caps the buffer.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/hszk-dev/torrentstream/internal/domain/model"
)

const (
	// DefaultMaxBytes is the default upper bound on a buffered archive.
	DefaultMaxBytes = 512 << 20

	// readChunkSize is how much is buffered between cancellation checks.
	readChunkSize = 256 << 10
)

var (
	// ErrArchiveCorrupt is returned when archive bytes cannot be parsed.
	ErrArchiveCorrupt = errors.New("archive corrupt")

	// ErrArchiveTooLarge is returned when an archive exceeds Config.MaxBytes.
	ErrArchiveTooLarge = errors.New("archive exceeds size limit")

	// ErrMemberNotFound is returned when a member is not present in the archive.
	ErrMemberNotFound = errors.New("archive member not found")
)

// Config holds configuration for the Flattener.
type Config struct {
	// MaxBytes bounds how many archive bytes are buffered. Zero means unbounded.
	MaxBytes int64
}

// DefaultConfig returns a Config with DefaultMaxBytes.
func DefaultConfig() Config {
	return Config{MaxBytes: DefaultMaxBytes}
}

// Flattener expands zip archives into their video and image members.
type Flattener struct {
	maxBytes int64
}

// NewFlattener creates a new Flattener.
func NewFlattener(cfg Config) *Flattener {
	return &Flattener{maxBytes: cfg.MaxBytes}
}

// Flatten reads the archive from r and returns its video and image members as
// catalog entries. Directory markers, nested archives and other member types
// are dropped. Each entry's Path is archivePath joined with the member name,
// and its Length is the member's uncompressed size.
func (f *Flattener) Flatten(ctx context.Context, r io.Reader, archivePath string) ([]model.Entry, error) {
	a, err := f.Load(ctx, r)
	if err != nil {
		return nil, err
	}

	entries := make([]model.Entry, 0, len(a.zr.File))
	for _, file := range a.zr.File {
		if isDirectory(file) {
			continue
		}
		entryType := model.Classify(file.Name)
		if !entryType.IsStreamable() {
			continue
		}
		entries = append(entries, model.Entry{
			Name:   file.Name,
			Length: file.UncompressedSize64,
			Path:   archivePath + "/" + file.Name,
			Type:   entryType,
		})
	}
	return entries, nil
}

// Load buffers the archive from r so its members can be opened repeatedly.
func (f *Flattener) Load(ctx context.Context, r io.Reader) (*Archive, error) {
	data, err := f.buffer(ctx, r)
	if err != nil {
		return nil, err
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArchiveCorrupt, err)
	}
	return &Archive{zr: zr, size: int64(len(data))}, nil
}

// Archive is a zip held in memory. Members may be opened concurrently.
type Archive struct {
	zr   *zip.Reader
	size int64
}

// Size returns the number of buffered archive bytes.
func (a *Archive) Size() int64 {
	return a.size
}

// Open opens the named member for reading.
// Caller is responsible for closing the returned ReadCloser.
func (a *Archive) Open(name string) (io.ReadCloser, error) {
	for _, file := range a.zr.File {
		if file.Name != name || isDirectory(file) {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open member %q: %w", ErrArchiveCorrupt, name, err)
		}
		return rc, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, name)
}

// buffer reads r to completion in chunks, checking ctx between chunks.
func (f *Flattener) buffer(ctx context.Context, r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	limit := f.maxBytes
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		chunk := int64(readChunkSize)
		if limit > 0 {
			// read one byte past the limit to detect oversize archives
			if remaining := limit + 1 - int64(buf.Len()); remaining < chunk {
				chunk = remaining
			}
		}

		n, err := io.CopyN(&buf, r, chunk)
		if limit > 0 && int64(buf.Len()) > limit {
			return nil, fmt.Errorf("%w: more than %d bytes", ErrArchiveTooLarge, limit)
		}
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, fmt.Errorf("read archive: %w", err)
		}
		if n == 0 {
			return buf.Bytes(), nil
		}
	}
}

func isDirectory(file *zip.File) bool {
	return strings.HasSuffix(file.Name, "/") || file.FileInfo().IsDir()
}
