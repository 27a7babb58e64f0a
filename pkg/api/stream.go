package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// handleMetricsStream serves GET /metrics/stream: a Server-Sent-Events
// telemetry firehose. It subscribes to every category, flushes each
// event as it arrives, and detaches cleanly when the client
// disconnects (spec.md section 4.7).
func (s *Server) handleMetricsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.hub.SubscribeAll()
	defer sub.Close()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Category, data)
			flusher.Flush()
		}
	}
}
