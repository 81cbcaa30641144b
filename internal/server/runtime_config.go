package server

import (
	"net/http"

	"go.uber.org/zap"
)

type weightUpdate struct {
	BM25Weight   float64 `json:"bm25_weight"`
	VectorWeight float64 `json:"vector_weight"`
}

// handleGetConfig returns every runtime config key.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.AllConfig(r.Context())
	if err != nil {
		s.logger.Error("config read failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "config read failed", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, cfg, s.logger)
}

// handleSetWeights updates the fusion weights. Values outside [0, 1]
// are rejected before anything is written.
func (s *Server) handleSetWeights(w http.ResponseWriter, r *http.Request) {
	var req weightUpdate
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error(), s.logger)
		return
	}
	if req.BM25Weight < 0 || req.BM25Weight > 1 || req.VectorWeight < 0 || req.VectorWeight > 1 {
		writeError(w, http.StatusUnprocessableEntity, "Weights must be between 0.0 and 1.0", s.logger)
		return
	}

	if err := s.store.SetSearchWeights(r.Context(), req.BM25Weight, req.VectorWeight); err != nil {
		s.logger.Error("weight update failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "config update failed", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, req, s.logger)
}
