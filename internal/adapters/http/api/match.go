package api

import (
	"net/http"

	"github.com/okian/skumatch/internal/domain/model"
)

// handleMatch handles POST /match requests.
func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	const op = "api.match"
	var req model.CompetitorProduct
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, op, err)
		return
	}
	res, err := s.deps.Match(r.Context(), req)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
