package scheduler

import (
	"time"

	"github.com/brightforge/forge3d-orchestrator/pkg/ferr"
	"github.com/brightforge/forge3d-orchestrator/pkg/types"
)

// Enqueue admits a new generation request: it persists a queued
// HistoryEntry row (the authoritative FIFO order is that row's
// created_at) and, for kinds that carry uploaded bytes, retains them
// in the in-memory payload map until dequeue.
func (s *Scheduler) Enqueue(req types.GenerateRequest) (*types.HistoryEntry, error) {
	if !req.Kind.Valid() {
		return nil, ferr.InvalidArgumentf("generate request kind %q is not one of mesh/image/full", req.Kind)
	}
	if req.Kind == types.KindMesh && len(req.ImageData) == 0 {
		return nil, ferr.InvalidArgument("mesh requests require image_data")
	}

	entry := &types.HistoryEntry{
		ID:        types.NewID(),
		ProjectID: req.ProjectID,
		Kind:      req.Kind,
		Prompt:    req.Prompt,
		Status:    types.StatusQueued,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateHistory(entry); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.payloads[entry.ID] = pendingJob{imageData: req.ImageData, options: req.Options}
	s.mu.Unlock()

	s.emit("scheduler", map[string]any{"event": "queued", "job_id": entry.ID, "kind": entry.Kind})
	return entry, nil
}

// Cancel applies the three cancellation semantics of spec section 4.5:
// atomic fail-while-queued, cooperative cancel-while-processing, and an
// idempotent no-op once the job is terminal.
func (s *Scheduler) Cancel(jobID string) error {
	entry, err := s.store.GetHistory(jobID)
	if err != nil {
		return err
	}

	switch entry.Status {
	case types.StatusQueued:
		s.mu.Lock()
		delete(s.payloads, jobID)
		s.mu.Unlock()

		now := time.Now()
		entry.Status = types.StatusFailed
		entry.ErrorMessage = "cancelled"
		entry.CompletedAt = &now
		if err := s.store.UpdateHistory(entry); err != nil {
			return err
		}
		s.emit("scheduler", map[string]any{"event": "cancelled", "job_id": jobID})
		return nil

	case types.StatusProcessing:
		s.mu.RLock()
		sess := s.currentSession
		current := s.currentEntryID
		s.mu.RUnlock()
		if current == jobID && sess != nil {
			sess.Cancel()
		}
		return nil

	default:
		// Terminal: idempotent success, per spec section 4.5.
		return nil
	}
}
