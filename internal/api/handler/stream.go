package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/hszk-dev/torrentstream/internal/domain/repository"
	"github.com/hszk-dev/torrentstream/internal/streamer"
	"github.com/hszk-dev/torrentstream/internal/usecase"
)

// StreamHandler serves entry bytes for playback and download.
type StreamHandler struct {
	gateway  usecase.SourceGateway
	catalogs usecase.CatalogService
	streamer *streamer.Streamer
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(gateway usecase.SourceGateway, catalogs usecase.CatalogService, s *streamer.Streamer) *StreamHandler {
	return &StreamHandler{
		gateway:  gateway,
		catalogs: catalogs,
		streamer: s,
	}
}

// Stream handles GET /stream/{identifier}/*
// The content source must already be active.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, false)
}

// Download handles GET /download/{identifier}/*
// A session is started when none exists.
func (h *StreamHandler) Download(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, true)
}

func (h *StreamHandler) serve(w http.ResponseWriter, r *http.Request, download bool) {
	id, err := identifierParam(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	filename, err := pathParam(r, "*")
	if err != nil || filename == "" {
		handleServiceError(w, r, repository.ErrFileNotFound)
		return
	}

	handle, err := h.gateway.Lookup(id)
	if download && errors.Is(err, repository.ErrSourceNotFound) {
		handle, err = h.gateway.Resolve(r.Context(), id)
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	catalog, err := h.catalogs.Catalog(r.Context(), handle)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	entry, ok := catalog.Find(filename)
	if !ok {
		handleServiceError(w, r, fmt.Errorf("%w: %s", repository.ErrFileNotFound, filename))
		return
	}

	open := func(ctx context.Context, offset uint64) (io.ReadCloser, error) {
		return handle.Open(ctx, entry.Path, offset)
	}
	if err := h.streamer.Serve(w, r, entry, open, streamer.Options{Attachment: download}); err != nil {
		handleServiceError(w, r, err)
	}
}
