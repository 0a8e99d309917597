package handler

import (
	"net/http"

	"github.com/hszk-dev/torrentstream/internal/domain/model"
	"github.com/hszk-dev/torrentstream/internal/usecase"
)

type EntryResponse struct {
	Name   string `json:"name"`
	Length uint64 `json:"length"`
	Path   string `json:"path"`
	Type   string `json:"type"`
}

// CatalogHandler handles catalog listing requests.
type CatalogHandler struct {
	svc usecase.CatalogService
}

// NewCatalogHandler creates a new CatalogHandler.
func NewCatalogHandler(svc usecase.CatalogService) *CatalogHandler {
	return &CatalogHandler{svc: svc}
}

// ListFiles handles GET /list-files/{identifier}
func (h *CatalogHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	id, err := identifierParam(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	catalog, err := h.svc.ListFiles(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	JSON(w, http.StatusOK, EntryResponses(catalog))
}

// EntryResponses converts a catalog to its JSON wire form.
func EntryResponses(c model.Catalog) []EntryResponse {
	out := make([]EntryResponse, 0, len(c))
	for _, e := range c {
		out = append(out, EntryResponse{
			Name:   e.Name,
			Length: e.Length,
			Path:   e.Path,
			Type:   e.Type.String(),
		})
	}
	return out
}
