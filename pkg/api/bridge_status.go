package api

import "net/http"

type bridgeStatusResponse struct {
	State         string `json:"state"`
	RestartCount  int    `json:"restart_count"`
}

// handleBridgeState serves GET /bridge: the InferenceBridge's
// lifecycle state plus how many restarts it has used from its
// trailing-window budget.
func (s *Server) handleBridgeState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, bridgeStatusResponse{
		State:        string(s.bridge.State()),
		RestartCount: s.bridge.RestartCount(),
	})
}
