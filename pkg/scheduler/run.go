package scheduler

import (
	"context"
	"time"

	"github.com/brightforge/forge3d-orchestrator/pkg/bridge"
	"github.com/brightforge/forge3d-orchestrator/pkg/metrics"
	"github.com/brightforge/forge3d-orchestrator/pkg/session"
	"github.com/brightforge/forge3d-orchestrator/pkg/types"
)

// run is the ticker-driven dequeue loop (spec section 4.5), grounded on
// the teacher's own fixed-interval run()/schedule() split.
func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(dequeueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tryDequeue(ctx)
		}
	}
}

// tryDequeue admits at most one job per call: it is a no-op while
// paused, while a job is already processing, or while the bridge is
// not running (spec section 4.5's bridge-crash handling: "no jobs are
// started while the bridge is starting, crashed, or broken").
func (s *Scheduler) tryDequeue(ctx context.Context) {
	s.mu.RLock()
	paused := s.paused
	busy := s.currentEntryID != ""
	s.mu.RUnlock()
	if paused || busy || s.bridge.State() != bridge.StateRunning {
		return
	}

	queued, err := s.store.ListQueuedHistory()
	if err != nil {
		s.logger.Error().Err(err).Msg("listing queued history")
		return
	}
	if len(queued) == 0 {
		return
	}
	entry := queued[0]

	s.mu.Lock()
	payload, ok := s.payloads[entry.ID]
	delete(s.payloads, entry.ID)
	s.mu.Unlock()

	// A queued row survives a restart; its in-memory payload does not.
	// A mesh job with no payload cannot run — demote it rather than
	// call the bridge with an empty image (spec section 4.5).
	if entry.Kind == types.KindMesh && !ok {
		s.failEntry(entry, "host restart before execution")
		return
	}

	entry.Status = types.StatusProcessing
	if err := s.store.UpdateHistory(entry); err != nil {
		s.logger.Error().Err(err).Str("job_id", entry.ID).Msg("transitioning job to processing")
		return
	}

	req := types.GenerateRequest{
		Kind:      entry.Kind,
		Prompt:    entry.Prompt,
		ImageData: payload.imageData,
		ProjectID: entry.ProjectID,
		Options:   payload.options,
	}
	sess := session.New(req, func(ev session.ProgressEvent) {
		s.mu.Lock()
		s.currentStage = ev.Stage
		s.currentPercent = ev.Percent
		s.mu.Unlock()
		s.emit("scheduler", map[string]any{
			"event":   "progress",
			"job_id":  entry.ID,
			"stage":   string(ev.Stage),
			"percent": ev.Percent,
		})
	})

	s.mu.Lock()
	s.currentEntryID = entry.ID
	s.currentSession = sess
	s.currentStage = session.StageIdle
	s.currentPercent = 0
	s.mu.Unlock()

	s.emit("scheduler", map[string]any{"event": "started", "job_id": entry.ID, "kind": entry.Kind})
	go s.executeSession(ctx, entry, sess)
}

// executeSession runs sess to a terminal stage and records the outcome
// on the HistoryEntry row. A store write failure here is fatal (spec
// section 4.5: "the orchestrator cannot maintain its recovery
// invariant if it cannot record outcomes").
func (s *Scheduler) executeSession(ctx context.Context, entry *types.HistoryEntry, sess *session.Session) {
	defer func() {
		s.mu.Lock()
		s.currentEntryID = ""
		s.currentSession = nil
		if s.crashedEntryID == entry.ID {
			s.crashedEntryID = ""
		}
		s.mu.Unlock()
	}()

	timer := metrics.NewTimer()
	result := sess.Run(context.Background(), s.bridge, s.assets)

	s.mu.RLock()
	crashed := s.crashedEntryID == entry.ID
	s.mu.RUnlock()

	now := time.Now()
	entry.CompletedAt = &now
	genSeconds := timer.Duration().Seconds()
	entry.GenerationTimeSeconds = &genSeconds
	if vram, ok := vramFromMetadata(result.Metadata); ok {
		entry.VRAMUsageMB = &vram
	}

	outcome := "complete"
	if result.Stage == session.StageFailed {
		outcome = "failed"
		entry.Status = types.StatusFailed
		entry.ErrorMessage = result.Error
		if crashed {
			entry.ErrorMessage = "bridge crashed mid-generation"
		}
	} else {
		entry.Status = types.StatusComplete
		if entry.ProjectID != "" && result.AssetPath != "" {
			asset := &types.Asset{
				ID:        types.NewID(),
				ProjectID: entry.ProjectID,
				Name:      entry.ID,
				Kind:      entry.Kind,
				FilePath:  result.AssetPath,
				FileSize:  int64(len(result.ImageBytes) + len(result.MeshBytes)),
				Metadata:  result.Metadata,
				CreatedAt: now,
			}
			if err := s.store.CreateAsset(asset); err != nil {
				s.logger.Error().Err(err).Str("job_id", entry.ID).Msg("persisting completed asset")
			} else {
				entry.AssetID = asset.ID
			}
		} else {
			s.results.Put(entry.ID, result)
		}
	}

	metrics.JobsCompletedTotal.WithLabelValues(string(entry.Kind), outcome).Inc()
	timer.ObserveDurationVec(metrics.JobDuration, string(entry.Kind))

	if err := s.store.UpdateHistory(entry); err != nil {
		s.onFatal(err)
		return
	}
	s.emit("scheduler", map[string]any{"event": outcome, "job_id": entry.ID, "kind": entry.Kind})
}

// failEntry demotes a queued entry straight to failed without ever
// starting a Session.
func (s *Scheduler) failEntry(entry *types.HistoryEntry, reason string) {
	now := time.Now()
	entry.Status = types.StatusFailed
	entry.ErrorMessage = reason
	entry.CompletedAt = &now
	if err := s.store.UpdateHistory(entry); err != nil {
		s.onFatal(err)
		return
	}
	s.emit("scheduler", map[string]any{"event": "failed", "job_id": entry.ID, "reason": reason})
}

// watchCrashes fails the in-flight Session (if any) whenever the bridge
// reports a crash, and records which job it affected so
// executeSession can attribute the right error message (spec section
// 4.5's bridge-crash handling).
func (s *Scheduler) watchCrashes(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case ev, ok := <-s.bridge.CrashEvents():
			if !ok {
				return
			}
			s.mu.Lock()
			sess := s.currentSession
			if s.currentEntryID != "" {
				s.crashedEntryID = s.currentEntryID
			}
			s.mu.Unlock()
			if sess != nil {
				sess.Cancel()
			}
			s.emit("bridge", map[string]any{
				"event":       "crash",
				"at":          ev.At,
				"info":        ev.ExitInfo,
				"exit_code":   ev.ExitCode,
				"stderr_tail": ev.StderrTail,
			})
		}
	}
}

// janitor periodically evicts expired in-memory results from the
// retention cache.
func (s *Scheduler) janitor(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.results.Evict(time.Now())
		}
	}
}

func vramFromMetadata(meta map[string]any) (float64, bool) {
	v, ok := meta["vram_usage_mb"]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}
