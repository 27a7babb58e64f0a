package session

import (
	"context"
	"time"
)

// ProgressEvent is one {stage, percent} report (spec section 4.4).
// Seq totally orders events emitted by a single Session, per section
// 5's "emitted progress events are totally ordered by emission index".
type ProgressEvent struct {
	SessionID string
	Stage     Stage
	Percent   int
	Seq       int
}

// emit reports percent for the current stage, clamping it up to the
// highest percent already reported for that stage — percent is
// monotone non-decreasing within a stage, per spec section 4.4. The
// caller resets stagePercent to 0 (via resetStageProgress) whenever it
// transitions to a new stage.
func (s *Session) emit(stage Stage, percent int) {
	s.progressMu.Lock()
	if percent < s.stagePercent {
		percent = s.stagePercent
	}
	if percent > 100 {
		percent = 100
	}
	s.stagePercent = percent
	s.progressSeq++
	ev := ProgressEvent{SessionID: s.ID, Stage: stage, Percent: percent, Seq: s.progressSeq}
	cb := s.onProgress
	s.progressMu.Unlock()

	if cb != nil {
		cb(ev)
	}
}

func (s *Session) resetStageProgress() {
	s.progressMu.Lock()
	s.stagePercent = 0
	s.progressMu.Unlock()
}

// interpolate emits a coarse climbing percentage for stage while a
// bridge call is in flight, since the worker itself only reports
// completion, not intermediate progress (spec section 4.4: "free to
// interpolate between coarse-grained worker callbacks"). The returned
// func stops the interpolation; callers must call it before emitting
// the stage's final percent.
func (s *Session) interpolate(ctx context.Context, stage Stage, ceiling int, step time.Duration) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(step)
		defer ticker.Stop()
		pct := 0
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if pct >= ceiling {
					continue
				}
				pct += 10
				if pct > ceiling {
					pct = ceiling
				}
				s.emit(stage, pct)
			}
		}
	}()
	var once bool
	return func() {
		if once {
			return
		}
		once = true
		close(done)
	}
}
