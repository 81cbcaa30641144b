package server

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hsn0918/memex/internal/ingest"
)

type ingestTextRequest struct {
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata"`
}

// handleIngestText writes the submitted text into the drop zone, where
// the watcher picks it up like any other file.
func (s *Server) handleIngestText(w http.ResponseWriter, r *http.Request) {
	var req ingestTextRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error(), s.logger)
		return
	}
	if len(req.Text) < 1 || len(req.Text) > ingest.MaxTextDropChars {
		writeError(w, http.StatusUnprocessableEntity, "text must be between 1 and 500000 characters", s.logger)
		return
	}

	result, err := ingest.QueueText(s.dropZone, req.Text, req.Metadata, s.logger)
	if err != nil {
		if errors.Is(err, ingest.ErrDropZoneUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "Drop zone not available", s.logger)
			return
		}
		s.logger.Error("text drop failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to write to drop zone", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, result, s.logger)
}

// handleRetryDeadLetters re-runs recorded ingest failures. Files past
// their attempt budget stay put; the response counts recoveries.
func (s *Server) handleRetryDeadLetters(w http.ResponseWriter, r *http.Request) {
	recovered, err := s.retrier.RetryDeadLetters(r.Context())
	if err != nil {
		s.logger.Error("dead letter retry failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Dead letter retry failed", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"recovered": recovered}, s.logger)
}
