package api

import (
	"net/http"
	"strconv"

	"github.com/brightforge/forge3d-orchestrator/pkg/types"
)

// handleHistory serves GET /history with the projectId/status/type/limit
// query parameters spec.md section 6 names.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := types.HistoryFilter{
		ProjectID: q.Get("projectId"),
		Status:    types.Status(q.Get("status")),
		Kind:      types.Kind(q.Get("type")),
	}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Limit = n
		}
	}

	entries, err := s.store.ListHistory(filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
