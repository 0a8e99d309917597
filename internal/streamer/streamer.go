// Package streamer serves byte ranges of catalog entries over HTTP.
//
// A response moves through the states Unranged or Ranged (planning),
// Streaming (headers sent), and ends Complete, Aborted (client went away) or
// Error (upstream failed). Until Streaming nothing has been written, so
// errors can still be turned into a regular error response.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"sync"

	"github.com/hszk-dev/torrentstream/internal/domain/model"
	"github.com/hszk-dev/torrentstream/internal/infrastructure/metrics"
)

const (
	// DefaultChunkSize is the window served for open-ended ranges.
	DefaultChunkSize = 1_000_000
	// DefaultMaxEntrySize is the largest entry served whole in one body.
	DefaultMaxEntrySize = 50 << 20

	imageCacheControl = "public, max-age=86400"
)

// State is a step in serving a single response.
type State int

const (
	StateUnranged State = iota
	StateRanged
	StateStreaming
	StateComplete
	StateAborted
	StateError
)

func (s State) String() string {
	switch s {
	case StateUnranged:
		return "unranged"
	case StateRanged:
		return "ranged"
	case StateStreaming:
		return "streaming"
	case StateComplete:
		return metrics.StreamComplete
	case StateAborted:
		return metrics.StreamAborted
	case StateError:
		return metrics.StreamError
	default:
		return "unknown"
	}
}

// Config holds configuration for the Streamer.
type Config struct {
	// ChunkSize bounds the bytes served for an open-ended range.
	ChunkSize uint64
	// MaxEntrySize bounds the size of a whole-entry response.
	MaxEntrySize uint64
}

// DefaultConfig returns a Config with default sizes.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    DefaultChunkSize,
		MaxEntrySize: DefaultMaxEntrySize,
	}
}

// Opener returns a reader positioned at offset within the entry being served.
// The reader must stop blocking once ctx is done.
type Opener func(ctx context.Context, offset uint64) (io.ReadCloser, error)

// Options alter how an entry is served.
type Options struct {
	// Attachment serves the entry as a download: unranged requests return the
	// whole entry and Content-Disposition is set.
	Attachment bool
}

// Plan describes the response chosen for a request.
type Plan struct {
	State  State
	Status int
	Range  model.ByteRange
	// Length is the number of body bytes; zero for an empty entry.
	Length uint64
}

// Streamer serves entries with HTTP range semantics.
type Streamer struct {
	chunkSize    uint64
	maxEntrySize uint64
}

// New creates a Streamer.
func New(cfg Config) *Streamer {
	return &Streamer{
		chunkSize:    cfg.ChunkSize,
		maxEntrySize: cfg.MaxEntrySize,
	}
}

// Plan validates the request's Range header against entry.
func (s *Streamer) Plan(r *http.Request, entry model.Entry, opts Options) (Plan, error) {
	header := r.Header.Get("Range")

	// Images are always served whole.
	if entry.Type == model.EntryTypeImage || (header == "" && opts.Attachment) {
		if s.maxEntrySize > 0 && entry.Length > s.maxEntrySize {
			return Plan{}, fmt.Errorf("%w: %d bytes", model.ErrEntityTooLarge, entry.Length)
		}
		p := Plan{State: StateUnranged, Status: http.StatusOK, Length: entry.Length}
		if entry.Length > 0 {
			p.Range = model.FullRange(entry.Length)
		}
		return p, nil
	}

	if header == "" {
		return Plan{}, model.ErrRangeHeaderRequired
	}

	br, err := model.ParseRange(header, entry.Length, s.chunkSize)
	if err != nil {
		return Plan{}, err
	}
	return Plan{
		State:  StateRanged,
		Status: http.StatusPartialContent,
		Range:  br,
		Length: br.Length(),
	}, nil
}

// Serve writes entry to w according to the request's Range header.
//
// A returned error means nothing has been written and the caller should
// respond with an error; for model.ErrRangeNotSatisfiable the Content-Range
// header is already set. Once headers are sent, an upstream failure aborts
// the connection by panicking with http.ErrAbortHandler, and a client
// disconnect ends the response quietly.
func (s *Streamer) Serve(w http.ResponseWriter, r *http.Request, entry model.Entry, open Opener, opts Options) error {
	plan, err := s.Plan(r, entry, opts)
	if err != nil {
		if errors.Is(err, model.ErrRangeNotSatisfiable) {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", entry.Length))
		}
		return err
	}

	ctx := r.Context()

	var body io.ReadCloser = http.NoBody
	if plan.Length > 0 {
		body, err = open(ctx, plan.Range.Start)
		if err != nil {
			metrics.StreamsTotal.WithLabelValues(metrics.StreamError).Inc()
			return fmt.Errorf("failed to open %s: %w", entry.Path, err)
		}
	}

	// The upstream reader is released exactly once, whichever of client
	// disconnect, completion or failure comes first.
	var once sync.Once
	release := func() {
		once.Do(func() {
			if err := body.Close(); err != nil {
				slog.Debug("failed to close entry reader", "path", entry.Path, "error", err)
			}
		})
	}
	defer release()
	stop := context.AfterFunc(ctx, release)
	defer stop()

	writeHeaders(w.Header(), entry, plan, opts)
	w.WriteHeader(plan.Status)
	// Flush headers so players can start before the first piece arrives.
	_ = http.NewResponseController(w).Flush()

	cw := &countingWriter{w: w}
	_, copyErr := io.CopyN(cw, body, int64(plan.Length))

	var state State
	switch {
	case copyErr == nil:
		state = StateComplete
	case ctx.Err() != nil || cw.err != nil:
		state = StateAborted
	default:
		state = StateError
	}

	metrics.StreamsTotal.WithLabelValues(state.String()).Inc()
	metrics.StreamedBytesTotal.Add(float64(cw.n))

	switch state {
	case StateAborted:
		slog.Debug("stream aborted by client",
			"path", entry.Path,
			"range", plan.Range.ContentRange(entry.Length),
			"bytes_sent", cw.n,
		)
	case StateError:
		slog.Error("stream failed after headers were sent",
			"path", entry.Path,
			"range", plan.Range.ContentRange(entry.Length),
			"bytes_sent", cw.n,
			"error", copyErr,
		)
		release()
		panic(http.ErrAbortHandler)
	}
	return nil
}

func writeHeaders(h http.Header, entry model.Entry, plan Plan, opts Options) {
	h.Set("Content-Type", model.ContentType(entry.Name, entry.Type))
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Length", strconv.FormatUint(plan.Length, 10))

	if plan.Status == http.StatusPartialContent {
		h.Set("Content-Range", plan.Range.ContentRange(entry.Length))
	}
	if entry.Type == model.EntryTypeImage {
		h.Set("Cache-Control", imageCacheControl)
	}
	if opts.Attachment {
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
			"filename": path.Base(entry.Name),
		}))
	}
}

// countingWriter records bytes written and the first write error.
type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	if err != nil && c.err == nil {
		c.err = err
	}
	return n, err
}
