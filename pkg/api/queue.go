package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleQueueState(w http.ResponseWriter, r *http.Request) {
	qs, err := s.scheduler.QueueState()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, qs)
}

func (s *Server) handleQueuePause(w http.ResponseWriter, r *http.Request) {
	s.scheduler.Pause()
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleQueueResume(w http.ResponseWriter, r *http.Request) {
	s.scheduler.Resume()
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) handleQueueCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.scheduler.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "cancelled"})
}
