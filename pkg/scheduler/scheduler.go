package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/brightforge/forge3d-orchestrator/pkg/bridge"
	"github.com/brightforge/forge3d-orchestrator/pkg/log"
	"github.com/brightforge/forge3d-orchestrator/pkg/metrics"
	"github.com/brightforge/forge3d-orchestrator/pkg/session"
	"github.com/brightforge/forge3d-orchestrator/pkg/store"
	"github.com/brightforge/forge3d-orchestrator/pkg/types"
	"github.com/rs/zerolog"
)

// dequeueInterval is the scheduler's polling cadence — the ticker-driven
// loop grounded on the teacher's own fixed-interval schedule() cycle.
const dequeueInterval = 250 * time.Millisecond

// janitorInterval governs how often expired in-memory results are
// evicted from the retention cache (spec section 4.4's retention
// window, sized by SPEC_FULL.md section 5 at 10 minutes).
const janitorInterval = 30 * time.Second

// retentionWindow is SPEC_FULL.md section 5's resolution of spec
// section 4.4's otherwise-unspecified download retention window.
const retentionWindow = 10 * time.Minute

// Bridge is the subset of *bridge.Bridge the scheduler drives — the
// session.Bridge RPC surface plus the lifecycle state and crash feed
// the admission and crash-handling logic need.
type Bridge interface {
	session.Bridge
	State() bridge.State
	CrashEvents() <-chan bridge.CrashEvent
}

// Event is published to an optional external subscriber (wired to the
// TelemetryHub by the host's composition root) whenever the scheduler
// observes something telemetry section 4.6 classifies as a scheduler
// or bridge event.
type Event struct {
	Category string
	Data     map[string]any
}

// Scheduler performs FIFO admission of queued HistoryEntry rows against
// the bridge's single execution slot (spec section 4.5).
type Scheduler struct {
	store      store.Store
	bridge     Bridge
	assets     session.AssetStore
	results    *session.ResultCache
	publish    func(Event)
	onFatal    func(error)
	logger     zerolog.Logger

	mu              sync.RWMutex
	paused          bool
	payloads        map[string]pendingJob
	currentEntryID  string
	currentSession  *session.Session
	crashedEntryID  string
	currentStage    session.Stage
	currentPercent  int

	stopCh chan struct{}
	doneCh chan struct{}
}

// pendingJob is the in-memory half of a queued job: the bytes and
// options a HistoryEntry row does not itself persist (spec section
// 4.5's "Data model").
type pendingJob struct {
	imageData []byte
	options   types.GenerateOptions
}

// Option configures optional Scheduler collaborators.
type Option func(*Scheduler)

// WithPublisher wires a telemetry sink for scheduler/bridge events.
func WithPublisher(publish func(Event)) Option {
	return func(s *Scheduler) { s.publish = publish }
}

// WithFatalHandler overrides what happens when the scheduler cannot
// record a terminal status (spec section 4.5: "treat as fatal"). The
// default logs at error level and does nothing further; a host's
// composition root should supply one that writes a crash report and
// exits.
func WithFatalHandler(onFatal func(error)) Option {
	return func(s *Scheduler) { s.onFatal = onFatal }
}

// New constructs a Scheduler. Call Start to run startup recovery and
// launch the dequeue loop.
func New(st store.Store, br Bridge, assetStore session.AssetStore, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    st,
		bridge:   br,
		assets:   assetStore,
		results:  session.NewResultCache(retentionWindow),
		logger:   log.WithComponent("scheduler"),
		payloads: make(map[string]pendingJob),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.onFatal == nil {
		s.onFatal = func(err error) {
			s.logger.Error().Err(err).Msg("scheduler: could not record a terminal status; recovery invariant is broken")
		}
	}
	return s
}

// Start runs the ordered startup recovery (spec section 4.5) and
// launches the background dequeue loop, crash watcher, and retention
// janitor.
func (s *Scheduler) Start(ctx context.Context) error {
	demoted, err := s.store.RecoverOrphans()
	if err != nil {
		return err
	}
	if demoted > 0 {
		s.logger.Warn().Int("count", demoted).Msg("demoted orphaned in-flight jobs from a prior run")
	}

	go s.run(ctx)
	go s.watchCrashes(ctx)
	go s.janitor(ctx)
	return nil
}

// Stop implements drain-stop (spec section 5): it pauses admission and
// blocks until the in-flight job (if any) reaches a terminal state or
// ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	s.Pause()
	close(s.stopCh)

	for {
		s.mu.RLock()
		busy := s.currentEntryID != ""
		s.mu.RUnlock()
		if !busy {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Pause blocks the dequeue step; work already processing always runs
// to terminal (spec section 4.5).
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	metrics.SchedulerPaused.Set(1)
}

// Resume re-enables the dequeue step.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	metrics.SchedulerPaused.Set(0)
}

// Result returns the in-memory retained result for a session-less
// download (spec section 4.4: "bytes live only in memory... within a
// retention window").
func (s *Scheduler) Result(sessionID string) (*session.Result, bool) {
	return s.results.Get(sessionID)
}

// QueueState reports the shape of GET /queue (spec.md section 6).
func (s *Scheduler) QueueState() (types.QueueState, error) {
	stats, err := s.store.Stats()
	if err != nil {
		return types.QueueState{}, err
	}
	s.mu.RLock()
	paused := s.paused
	s.mu.RUnlock()
	return types.QueueState{
		Paused:     paused,
		Queued:     stats.TotalByStatus[types.StatusQueued],
		Processing: stats.TotalByStatus[types.StatusProcessing],
		Completed:  stats.TotalByStatus[types.StatusComplete],
		Failed:     stats.TotalByStatus[types.StatusFailed],
	}, nil
}

func (s *Scheduler) emit(category string, data map[string]any) {
	if s.publish == nil {
		return
	}
	s.publish(Event{Category: category, Data: data})
}
