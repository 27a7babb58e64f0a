package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleStatus serves GET /status/{id}: a live snapshot of a Session's
// stage and progress, or its terminal outcome.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := s.scheduler.Status(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleDownload serves GET /download/{id}: the bytes of a completed
// job's result, from the asset store or the in-memory retention cache.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := s.scheduler.Download(id)
	if err != nil {
		writeError(w, err)
		return
	}
	defer result.Reader.Close()

	w.Header().Set("Content-Type", result.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, result.Reader)
}

// handleSessions serves GET /sessions: the last 20 sessions, read from
// the API layer's own telemetry-fed ring rather than the store.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.recent(sessionRingCapacity))
}
