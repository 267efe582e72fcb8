package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/finledger/finledger/internal/api/middleware"
	"github.com/finledger/finledger/internal/store"
)

// CategoriesHandler serves the live category catalog.
type CategoriesHandler struct {
	catalog store.CategoryCatalog
	log     zerolog.Logger
}

func NewCategoriesHandler(catalog store.CategoryCatalog, log zerolog.Logger) *CategoriesHandler {
	return &CategoriesHandler{catalog: catalog, log: log}
}

// ListCategories handles GET /api/categories.
func (h *CategoriesHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.catalog.ListActive(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("listing categories failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list categories", "")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"categories": categories,
		"count":      len(categories),
	})
}
