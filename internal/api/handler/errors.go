package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/hszk-dev/torrentstream/internal/api/middleware"
	"github.com/hszk-dev/torrentstream/internal/domain/model"
	"github.com/hszk-dev/torrentstream/internal/domain/repository"
)

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidIdentifier):
		Error(w, r, http.StatusBadRequest, "invalid_identifier", "Identifier must be a magnet URI or a descriptor URL")
	case errors.Is(err, repository.ErrUnsupportedScheme):
		Error(w, r, http.StatusBadRequest, "invalid_identifier", "Descriptor URL scheme is not supported")
	case errors.Is(err, repository.ErrSourceNotFound):
		Error(w, r, http.StatusNotFound, "source_not_found", "No active session for identifier")
	case errors.Is(err, repository.ErrFileNotFound):
		Error(w, r, http.StatusNotFound, "file_not_found", "File not found")
	case errors.Is(err, model.ErrRangeHeaderRequired):
		Error(w, r, http.StatusBadRequest, "range_header_required", "Range header is required for media")
	case errors.Is(err, model.ErrEntityTooLarge):
		Error(w, r, http.StatusForbidden, "entity_too_large", "File is too large to be served whole")
	case errors.Is(err, model.ErrRangeNotSatisfiable):
		Error(w, r, http.StatusRequestedRangeNotSatisfiable, "range_not_satisfiable", "Requested range not satisfiable")
	case errors.Is(err, repository.ErrSourceFetchFailure):
		slog.Warn("content source fetch failed",
			"path", r.URL.Path,
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err,
		)
		Error(w, r, http.StatusInternalServerError, "source_fetch_failure", err.Error())
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		// Client went away; nobody reads the response.
		slog.Debug("request cancelled", "path", r.URL.Path)
	default:
		slog.Error("request failed",
			"path", r.URL.Path,
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err,
		)
		Error(w, r, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

// pathParam returns the percent-decoded value of a route parameter.
// chi matches against RawPath when the request path carries escapes.
func pathParam(r *http.Request, name string) (string, error) {
	v := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return v, nil
	}
	return url.PathUnescape(v)
}

func identifierParam(r *http.Request) (model.Identifier, error) {
	raw, err := pathParam(r, "identifier")
	if err != nil {
		return model.Identifier{}, model.ErrInvalidIdentifier
	}
	return model.ParseIdentifier(raw)
}
