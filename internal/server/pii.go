package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hsn0918/memex/internal/store"
)

const (
	defaultRedactBatch = 1000
	maxRedactBatch     = 10000
)

type piiPersonView struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	DocCount    int    `json:"doc_count"`
}

type piiChunkView struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	DocID string `json:"doc_id"`
}

// handlePIIReport lists flagged persons and chunks for manual review.
func (s *Server) handlePIIReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	persons, err := s.store.PIIPersons(ctx)
	if err != nil {
		s.logger.Error("pii person report failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "pii report failed", s.logger)
		return
	}
	chunks, err := s.store.PIIChunks(ctx)
	if err != nil {
		s.logger.Error("pii chunk report failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "pii report failed", s.logger)
		return
	}

	personViews := make([]piiPersonView, 0, len(persons))
	for _, p := range persons {
		personViews = append(personViews, piiPersonView{
			ID: p.ID, DisplayName: p.DisplayName, Email: p.Email, DocCount: p.DocCount,
		})
	}
	chunkViews := make([]piiChunkView, 0, len(chunks))
	for _, c := range chunks {
		chunkViews = append(chunkViews, piiChunkView{ID: c.ID, Text: c.Text, DocID: c.DocID})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"persons":    personViews,
		"pii_chunks": chunkViews,
	}, s.logger)
}

// handleMarkPublic clears the PII flag after review.
func (s *Server) handleMarkPublic(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.store.MarkPersonPublic(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Person not found", s.logger)
			return
		}
		s.logger.Error("mark public failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "mark public failed", s.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "pii": false}, s.logger)
}

type bulkRedactRequest struct {
	BatchSize int `json:"batch_size"`
}

// handleBulkRedact replaces flagged chunk text with a placeholder.
// The batch size is clamped, never rejected, and an absent body means
// the default.
func (s *Server) handleBulkRedact(w http.ResponseWriter, r *http.Request) {
	var req bulkRedactRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error(), s.logger)
			return
		}
	}
	if req.BatchSize == 0 {
		req.BatchSize = defaultRedactBatch
	}
	batch := min(max(req.BatchSize, 1), maxRedactBatch)

	total, err := s.store.BulkRedact(r.Context(), batch)
	if err != nil {
		s.logger.Error("bulk redact failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "bulk redact failed", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"redacted": total}, s.logger)
}
