package api

import (
	"net/http"

	"github.com/okian/skumatch/internal/domain/model"
)

// handleGetCatalog handles GET /catalog requests.
func (s *Server) handleGetCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Catalog(r.Context()))
}

// handlePutCatalog replaces the catalog with the JSON array in the body.
func (s *Server) handlePutCatalog(w http.ResponseWriter, r *http.Request) {
	const op = "api.put_catalog"
	var products []model.CatalogProduct
	if err := decode(w, r, &products); err != nil {
		s.fail(w, r, op, err)
		return
	}
	info, err := s.deps.ReplaceCatalog(r.Context(), products)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
