package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hsn0918/memex/internal/store"
)

func validEntityType(t string) bool { return t == "document" || t == "person" }

// handleSoftDelete stamps one entity invisible. The graph invalidation
// rides the same transaction as an outbox event.
func (s *Server) handleSoftDelete(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "type")
	id := chi.URLParam(r, "id")
	if !validEntityType(entityType) {
		writeError(w, http.StatusUnprocessableEntity, "entity type must be document or person", s.logger)
		return
	}

	deletedAt, err := s.retention.SoftDelete(r.Context(), entityType, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound,
				fmt.Sprintf("%s %s not found or already deleted", entityType, id), s.logger)
			return
		}
		s.logger.Error("soft delete failed",
			zap.String("entity_type", entityType), zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "delete failed", s.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":          id,
		"entity_type": entityType,
		"deleted_at":  deletedAt.Format(time.RFC3339),
	}, s.logger)
}

type updateEntityRequest struct {
	Diffs           map[string]interface{} `json:"diffs"`
	ClientUpdatedAt string                 `json:"client_updated_at"`
}

// handleUpdateEntity applies a client diff under the last-writer rule:
// a server row newer than client_updated_at wins and the response says
// so instead of erroring.
func (s *Server) handleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "type")
	id := chi.URLParam(r, "id")
	if !validEntityType(entityType) {
		writeError(w, http.StatusUnprocessableEntity, "entity type must be document or person", s.logger)
		return
	}

	var req updateEntityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error(), s.logger)
		return
	}
	if len(req.Diffs) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "diffs must not be empty", s.logger)
		return
	}
	clientUpdatedAt, err := time.Parse(time.RFC3339, req.ClientUpdatedAt)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "client_updated_at must be an RFC 3339 timestamp", s.logger)
		return
	}

	res, err := s.store.UpdateEntity(r.Context(), entityType, id, req.Diffs, clientUpdatedAt)
	if err != nil {
		var unknownField *store.UnknownFieldError
		var badValue *store.FieldValueError
		switch {
		case errors.As(err, &unknownField) || errors.As(err, &badValue):
			writeError(w, http.StatusUnprocessableEntity, err.Error(), s.logger)
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound,
				fmt.Sprintf("%s %s not found", entityType, id), s.logger)
		case errors.Is(err, store.ErrDuplicate):
			writeError(w, http.StatusConflict, "email already in use", s.logger)
		default:
			s.logger.Error("entity update failed",
				zap.String("entity_type", entityType), zap.String("id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "update failed", s.logger)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":                id,
		"entity_type":       entityType,
		"updated_fields":    res.UpdatedFields,
		"conflict_detected": res.ConflictDetected,
		"server_updated_at": res.ServerUpdatedAt.Format(time.RFC3339),
	}, s.logger)
}

// handleHardDelete purges everything past the retention cutoff. The
// confirm query parameter is a deliberate speed bump.
func (s *Server) handleHardDelete(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		writeError(w, http.StatusBadRequest,
			"Pass confirm=true to execute hard delete. This is irreversible.", s.logger)
		return
	}

	res, err := s.retention.HardDelete(r.Context())
	if err != nil {
		s.logger.Error("hard delete failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "hard delete failed", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, res, s.logger)
}

type mergeRequest struct {
	NameA string `json:"name_a"`
	NameB string `json:"name_b"`
}

// handleMerge folds person name_b into name_a by display name.
func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error(), s.logger)
		return
	}
	if req.NameA == "" || req.NameB == "" {
		writeError(w, http.StatusUnprocessableEntity, "name_a and name_b are required", s.logger)
		return
	}

	ctx := r.Context()
	winner, err := s.store.PersonByName(ctx, req.NameA)
	if err == nil {
		var loser store.Person
		loser, err = s.store.PersonByName(ctx, req.NameB)
		if err == nil {
			if winner.ID == loser.ID {
				writeError(w, http.StatusUnprocessableEntity, "cannot merge a person into itself", s.logger)
				return
			}
			if err = s.store.MergePersons(ctx, winner.ID, loser.ID); err == nil {
				writeJSON(w, http.StatusOK, map[string]string{
					"merged_from": loser.ID,
					"merged_into": winner.ID,
				}, s.logger)
				return
			}
		}
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "One or both persons not found", s.logger)
	case errors.Is(err, store.ErrAlreadyMerged):
		writeError(w, http.StatusConflict, "one of the persons is already merged", s.logger)
	default:
		s.logger.Error("merge failed",
			zap.String("name_a", req.NameA), zap.String("name_b", req.NameB), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "merge failed", s.logger)
	}
}

// handleMergeCandidates lists scored person pairs for operator review.
func (s *Server) handleMergeCandidates(w http.ResponseWriter, r *http.Request) {
	candidates, err := s.resolver.MergeCandidates(r.Context())
	if err != nil {
		s.logger.Error("merge candidate scan failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "merge candidate scan failed", s.logger)
		return
	}
	if candidates == nil {
		candidates = []store.MergeCandidate{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"candidates": candidates}, s.logger)
}
