// Package session implements the per-request finite-state machine
// (spec section 4.4) that drives one generation — image, mesh, or the
// chained "full" pipeline — from idle to a terminal stage, emitting
// monotone progress along the way and handing its result off to the
// asset store or an in-memory retention cache.
//
// Grounded on pkg/manager/fsm.go's switch-dispatched state application
// (a single function owning every legal transition) and on the
// monotone-progress discipline of neurobridge-backend's
// OrchestratorState.LastProgress ("progress cannot move backwards
// across resumes") — generalized here to progress that cannot move
// backwards within a stage.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/brightforge/forge3d-orchestrator/pkg/bridge"
	"github.com/brightforge/forge3d-orchestrator/pkg/log"
	"github.com/brightforge/forge3d-orchestrator/pkg/types"
)

// interpolateStep and the per-stage ceilings are the cadence of the
// free-running progress interpolation described in spec section 4.4;
// they are not contractual and may be retuned without affecting any
// invariant.
const (
	interpolateStep    = 1 * time.Second
	interpolateCeiling = 90
)

// Bridge is the subset of *bridge.Bridge a Session calls. Declared
// locally so tests can supply a fake without standing up a real
// subprocess.
type Bridge interface {
	GenerateImage(ctx context.Context, prompt string, options map[string]any) (*bridge.GenerationResult, error)
	GenerateMesh(ctx context.Context, imageData []byte, options map[string]any) (*bridge.GenerationResult, error)
	GenerateFull(ctx context.Context, prompt string, options map[string]any) (*bridge.GenerationResult, error)
}

// AssetStore is the subset of *assets.Store a Session calls to persist
// a terminal result; Open is unused by Session itself but is part of
// the same interface so the scheduler's download path can share one
// collaborator type for both writing and reading asset bytes.
type AssetStore interface {
	Write(relPath string, data io.Reader) (int64, error)
	Open(relPath string) (*os.File, error)
}

// Result is the outcome of a Session's Run. Exactly one of
// {ImageBytes, MeshBytes} is non-nil for an image/mesh Session; both
// are set for a full Session. AssetPath is non-empty iff the request
// carried a project_id and the bytes were handed off to the AssetStore.
type Result struct {
	Stage      Stage
	ImageBytes []byte
	MeshBytes  []byte
	Metadata   map[string]any
	AssetPath  string
	Error      string
}

// Session executes one generation end-to-end. A Session is write-once:
// Run must be called exactly once.
type Session struct {
	ID        string
	Kind      types.Kind
	Prompt    string
	ImageData []byte
	ProjectID string
	Options   types.GenerateOptions

	mu     sync.Mutex
	stage  Stage
	cancel context.CancelFunc

	progressMu   sync.Mutex
	stagePercent int
	progressSeq  int
	onProgress   func(ProgressEvent)
}

// New constructs an idle Session for one generation request. onProgress
// may be nil; when set, it is called synchronously from whatever
// goroutine is driving the Session, so it must not block.
func New(req types.GenerateRequest, onProgress func(ProgressEvent)) *Session {
	return &Session{
		ID:         types.NewID(),
		Kind:       req.Kind,
		Prompt:     req.Prompt,
		ImageData:  req.ImageData,
		ProjectID:  req.ProjectID,
		Options:    req.Options,
		stage:      StageIdle,
		onProgress: onProgress,
	}
}

// Stage reports the Session's current stage.
func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// transition moves the Session to next, panicking if the move violates
// the FSM table — a violation here is a bug in Run's own call
// sequence, not a condition any caller can trigger, so it is not
// reported as a *ferr.Error.
func (s *Session) transition(next Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stage.CanTransitionTo(next) {
		panic(fmt.Sprintf("session: illegal transition %s -> %s", s.stage, next))
	}
	s.stage = next
}

// Cancel requests cooperative cancellation. If the Session is in a
// generating_* stage, its in-flight bridge call is aborted via context
// cancellation and Run will conclude with stage=failed,
// error="cancelled" (spec section 4.4). Cancel is a no-op once the
// Session has reached a terminal stage.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	terminal := s.stage.Terminal()
	s.mu.Unlock()
	if !terminal && cancel != nil {
		cancel()
	}
}

// Run drives the Session to a terminal stage against br, handing the
// result to store when ProjectID is set. Run must be called exactly
// once; subsequent calls panic via transition's write-once guard.
func (s *Session) Run(ctx context.Context, br Bridge, store AssetStore) *Result {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	logger := log.WithSessionID(s.ID)

	var result *Result
	switch s.Kind {
	case types.KindImage:
		s.transition(StageGeneratingImage)
		img, err := s.runImageStage(runCtx, br)
		if err != nil {
			result = s.fail(runCtx, err)
			break
		}
		result = s.succeed(store, &Result{ImageBytes: img.ImageBytes, Metadata: img.Metadata})

	case types.KindMesh:
		s.transition(StageGeneratingMesh)
		mesh, err := s.runMeshStage(runCtx, br, s.ImageData)
		if err != nil {
			result = s.fail(runCtx, err)
			break
		}
		result = s.succeed(store, &Result{MeshBytes: mesh.MeshBytes, Metadata: mesh.Metadata})

	case types.KindFull:
		// The worker runs both stages as one unit behind /generate/full
		// (bridge/client.go), so there is no intermediate "image result"
		// callback to transition on; the Session still surfaces both FSM
		// stages for progress/telemetry purposes, moving to
		// generating_mesh once the single call returns.
		s.transition(StageGeneratingImage)
		s.resetStageProgress()
		s.emit(StageGeneratingImage, 0)
		stop := s.interpolate(runCtx, StageGeneratingImage, interpolateCeiling, interpolateStep)
		full, err := br.GenerateFull(runCtx, s.Prompt, s.Options)
		stop()
		if err != nil {
			result = s.fail(runCtx, err)
			break
		}
		s.emit(StageGeneratingImage, 100)

		s.transition(StageGeneratingMesh)
		s.resetStageProgress()
		s.emit(StageGeneratingMesh, 100)
		result = s.succeed(store, &Result{ImageBytes: full.ImageBytes, MeshBytes: full.MeshBytes, Metadata: full.Metadata})

	default:
		// Kind is validated by the API layer (types.Kind.Valid()) before a
		// Session is ever constructed; reaching here means that guard was
		// bypassed, so the FSM never engaged and there is no stage to
		// transition out of.
		s.mu.Lock()
		s.stage = StageFailed
		s.mu.Unlock()
		result = &Result{Stage: StageFailed, Error: fmt.Sprintf("unrecognized kind %q", s.Kind)}
	}

	logger.Debug().Str("stage", string(result.Stage)).Msg("session run finished")
	return result
}

func (s *Session) runImageStage(ctx context.Context, br Bridge) (*bridge.GenerationResult, error) {
	s.resetStageProgress()
	s.emit(StageGeneratingImage, 0)
	stop := s.interpolate(ctx, StageGeneratingImage, interpolateCeiling, interpolateStep)
	res, err := br.GenerateImage(ctx, s.Prompt, s.Options)
	stop()
	if err != nil {
		return nil, err
	}
	s.emit(StageGeneratingImage, 100)
	return res, nil
}

func (s *Session) runMeshStage(ctx context.Context, br Bridge, imageData []byte) (*bridge.GenerationResult, error) {
	s.resetStageProgress()
	s.emit(StageGeneratingMesh, 0)
	stop := s.interpolate(ctx, StageGeneratingMesh, interpolateCeiling, interpolateStep)
	res, err := br.GenerateMesh(ctx, imageData, s.Options)
	stop()
	if err != nil {
		return nil, err
	}
	s.emit(StageGeneratingMesh, 100)
	return res, nil
}

// fail transitions to failed and labels the error "cancelled" when the
// run context was cancelled out from under an in-flight bridge call,
// distinguishing cooperative cancel from every other failure per spec
// section 4.4.
func (s *Session) fail(ctx context.Context, err error) *Result {
	s.transition(StageFailed)
	msg := err.Error()
	if errors.Is(ctx.Err(), context.Canceled) {
		msg = "cancelled"
	}
	return &Result{Stage: StageFailed, Error: msg}
}

// succeed transitions to complete and, when the request carried a
// project_id, hands the produced bytes to store before returning.
func (s *Session) succeed(store AssetStore, partial *Result) *Result {
	s.transition(StageComplete)
	partial.Stage = StageComplete

	if s.ProjectID == "" || store == nil {
		return partial
	}

	if len(partial.ImageBytes) > 0 {
		path := fmt.Sprintf("%s/%s-image.bin", s.ProjectID, s.ID)
		if _, err := store.Write(path, bytes.NewReader(partial.ImageBytes)); err == nil {
			partial.AssetPath = path
		}
	}
	if len(partial.MeshBytes) > 0 {
		path := fmt.Sprintf("%s/%s-mesh.bin", s.ProjectID, s.ID)
		if _, err := store.Write(path, bytes.NewReader(partial.MeshBytes)); err == nil {
			if partial.AssetPath == "" {
				partial.AssetPath = path
			}
		}
	}
	return partial
}
