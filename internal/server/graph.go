package server

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hsn0918/memex/internal/graph"
)

// handleGraphNodes looks up graph nodes by label plus optional
// filter_<prop>=<value> query parameters.
func (s *Server) handleGraphNodes(w http.ResponseWriter, r *http.Request) {
	label := r.URL.Query().Get("label")

	filters := map[string]string{}
	for key, vals := range r.URL.Query() {
		if !strings.HasPrefix(key, "filter_") || len(vals) == 0 {
			continue
		}
		if prop := strings.TrimPrefix(key, "filter_"); prop != "" {
			filters[prop] = vals[0]
		}
	}

	nodes, err := s.graph.BrowseNodes(r.Context(), label, filters)
	if err != nil {
		if errors.Is(err, graph.ErrUnknownLabel) {
			writeError(w, http.StatusBadRequest, err.Error(), s.logger)
			return
		}
		s.logger.Error("graph lookup failed", zap.String("label", label), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Graph query failed", s.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"nodes": nodes,
		"label": label,
		"count": len(nodes),
	}, s.logger)
}
