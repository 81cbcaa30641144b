package server

import (
	"net/http"

	"go.uber.org/zap"
)

const (
	maxQueryChars      = 2000
	defaultSearchLimit = 10
	maxSearchLimit     = 100
)

type searchRequest struct {
	Q     string `json:"q"`
	Limit int    `json:"limit"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error(), s.logger)
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultSearchLimit
	}
	if len(req.Q) < 1 || len(req.Q) > maxQueryChars {
		writeError(w, http.StatusUnprocessableEntity, "q must be between 1 and 2000 characters", s.logger)
		return
	}
	if req.Limit < 1 || req.Limit > maxSearchLimit {
		writeError(w, http.StatusUnprocessableEntity, "limit must be between 1 and 100", s.logger)
		return
	}

	resp, err := s.searcher.Search(r.Context(), req.Q, req.Limit)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, resp, s.logger)
}
