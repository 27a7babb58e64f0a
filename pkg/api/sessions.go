package api

import (
	"fmt"
	"sync"
	"time"
)

// sessionRingCapacity is the fixed size of the GET /sessions ring
// (spec.md section 6: "last 20 sessions").
const sessionRingCapacity = 20

// sessionSummary is one row of the GET /sessions response, built
// entirely from telemetry events rather than a HistoryEntry read
// (SPEC_FULL.md section 5: the sessions list "must not require a
// Store read").
type sessionSummary struct {
	JobID     string    `json:"id"`
	Kind      string    `json:"type,omitempty"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// sessionRing is a small fixed-capacity, most-recent-first list of
// sessions fed by a TelemetryHub subscription to the "scheduler"
// category, the API layer's own view of recent activity independent
// of the store.
type sessionRing struct {
	mu      sync.Mutex
	entries []sessionSummary
	index   map[string]int // job ID -> position in entries
}

func newSessionRing() *sessionRing {
	return &sessionRing{index: make(map[string]int)}
}

// eventStatus maps a scheduler telemetry event's "event" field to the
// session status it implies. Events with no status meaning of their
// own (e.g. "progress") are reported via Stage/Percent elsewhere and
// ignored here.
func eventStatus(event string) (string, bool) {
	switch event {
	case "queued":
		return "queued", true
	case "started":
		return "processing", true
	case "complete":
		return "complete", true
	case "failed", "cancelled":
		return "failed", true
	default:
		return "", false
	}
}

// observe records or refreshes a session from a "scheduler" telemetry
// event's data payload.
func (r *sessionRing) observe(data map[string]any) {
	jobID, _ := data["job_id"].(string)
	if jobID == "" {
		return
	}
	event, _ := data["event"].(string)
	status, ok := eventStatus(event)
	if !ok {
		return
	}

	summary := sessionSummary{JobID: jobID, Status: status, UpdatedAt: time.Now()}
	if kind, ok := data["kind"]; ok {
		summary.Kind = fmt.Sprintf("%v", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if idx, exists := r.index[jobID]; exists {
		if summary.Kind == "" {
			summary.Kind = r.entries[idx].Kind
		}
		r.entries = append(r.entries[:idx], r.entries[idx+1:]...)
		delete(r.index, jobID)
		for id, i := range r.index {
			if i > idx {
				r.index[id] = i - 1
			}
		}
	}

	r.entries = append([]sessionSummary{summary}, r.entries...)
	for id, i := range r.index {
		r.index[id] = i + 1
	}
	r.index[jobID] = 0

	if len(r.entries) > sessionRingCapacity {
		for _, dropped := range r.entries[sessionRingCapacity:] {
			delete(r.index, dropped.JobID)
		}
		r.entries = r.entries[:sessionRingCapacity]
	}
}

// recent returns up to limit sessions, newest first.
func (r *sessionRing) recent(limit int) []sessionSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.entries) {
		limit = len(r.entries)
	}
	out := make([]sessionSummary, limit)
	copy(out, r.entries[:limit])
	return out
}
