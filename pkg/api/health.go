package api

import (
	"net/http"
	"time"

	"github.com/brightforge/forge3d-orchestrator/pkg/bridge"
)

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// handleHealthz is a liveness check: 200 if the process can still
// answer HTTP at all, grounded on the teacher's own healthHandler.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Timestamp: time.Now()})
}

type readyResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Message string            `json:"message,omitempty"`
}

// handleReadyz generalizes the teacher's raft-leadership readiness
// check into: the store answers, and the bridge is not permanently
// broken.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	ready := true
	var message string

	if _, err := s.store.Stats(); err != nil {
		checks["store"] = "error: " + err.Error()
		ready = false
		message = "store not accessible"
	} else {
		checks["store"] = "ok"
	}

	switch s.bridge.State() {
	case bridge.StateBroken:
		checks["bridge"] = "broken"
		ready = false
		if message == "" {
			message = "bridge exhausted its restart budget"
		}
	default:
		checks["bridge"] = string(s.bridge.State())
	}

	status := http.StatusOK
	resp := readyResponse{Status: "ready", Checks: checks}
	if !ready {
		status = http.StatusServiceUnavailable
		resp.Status = "not ready"
		resp.Message = message
	}
	writeJSON(w, status, resp)
}
