package session

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/brightforge/forge3d-orchestrator/pkg/bridge"
	"github.com/brightforge/forge3d-orchestrator/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBridge struct {
	imageDelay time.Duration
	meshDelay  time.Duration
	imageErr   error
	meshErr    error
}

func (f *fakeBridge) GenerateImage(ctx context.Context, prompt string, options map[string]any) (*bridge.GenerationResult, error) {
	if f.imageDelay > 0 {
		select {
		case <-time.After(f.imageDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.imageErr != nil {
		return nil, f.imageErr
	}
	return &bridge.GenerationResult{ImageBytes: []byte("image-bytes"), Metadata: map[string]any{"vram_usage_mb": 512.0}}, nil
}

func (f *fakeBridge) GenerateMesh(ctx context.Context, imageData []byte, options map[string]any) (*bridge.GenerationResult, error) {
	if f.meshDelay > 0 {
		select {
		case <-time.After(f.meshDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.meshErr != nil {
		return nil, f.meshErr
	}
	return &bridge.GenerationResult{MeshBytes: []byte("mesh-bytes"), Metadata: map[string]any{"vram_usage_mb": 1024.0}}, nil
}

func (f *fakeBridge) GenerateFull(ctx context.Context, prompt string, options map[string]any) (*bridge.GenerationResult, error) {
	img, err := f.GenerateImage(ctx, prompt, options)
	if err != nil {
		return nil, err
	}
	return f.GenerateMesh(ctx, img.ImageBytes, options)
}

type fakeAssetStore struct {
	mu     sync.Mutex
	writes map[string][]byte
}

func newFakeAssetStore() *fakeAssetStore {
	return &fakeAssetStore{writes: make(map[string][]byte)}
}

func (f *fakeAssetStore) Write(relPath string, data io.Reader) (int64, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	f.writes[relPath] = b
	f.mu.Unlock()
	return int64(len(b)), nil
}

// Open is never exercised by Session itself (only by the scheduler's
// download path); it exists solely to satisfy the AssetStore interface.
func (f *fakeAssetStore) Open(relPath string) (*os.File, error) {
	return nil, errors.New("fakeAssetStore: Open is not supported")
}

func TestSession_ImageKindReachesComplete(t *testing.T) {
	s := New(types.GenerateRequest{Kind: types.KindImage, Prompt: "a cat"}, nil)
	result := s.Run(context.Background(), &fakeBridge{}, nil)

	assert.Equal(t, StageComplete, result.Stage)
	assert.Equal(t, []byte("image-bytes"), result.ImageBytes)
	assert.Equal(t, StageComplete, s.Stage())
}

func TestSession_MeshKindReachesComplete(t *testing.T) {
	s := New(types.GenerateRequest{Kind: types.KindMesh, ImageData: []byte("in")}, nil)
	result := s.Run(context.Background(), &fakeBridge{}, nil)

	assert.Equal(t, StageComplete, result.Stage)
	assert.Equal(t, []byte("mesh-bytes"), result.MeshBytes)
}

func TestSession_FullKindChainsImageThenMesh(t *testing.T) {
	var stages []Stage
	s := New(types.GenerateRequest{Kind: types.KindFull, Prompt: "a chair"}, func(ev ProgressEvent) {
		if len(stages) == 0 || stages[len(stages)-1] != ev.Stage {
			stages = append(stages, ev.Stage)
		}
	})
	result := s.Run(context.Background(), &fakeBridge{}, nil)

	require.Equal(t, StageComplete, result.Stage)
	assert.Equal(t, []byte("image-bytes"), result.ImageBytes)
	assert.Equal(t, []byte("mesh-bytes"), result.MeshBytes)
	assert.Equal(t, []Stage{StageGeneratingImage, StageGeneratingMesh}, stages)
}

func TestSession_BridgeErrorTransitionsToFailed(t *testing.T) {
	s := New(types.GenerateRequest{Kind: types.KindImage, Prompt: "x"}, nil)
	result := s.Run(context.Background(), &fakeBridge{imageErr: errors.New("worker exploded")}, nil)

	assert.Equal(t, StageFailed, result.Stage)
	assert.Equal(t, "worker exploded", result.Error)
}

func TestSession_CancelDuringGenerationFailsAsCancelled(t *testing.T) {
	s := New(types.GenerateRequest{Kind: types.KindImage, Prompt: "x"}, nil)
	br := &fakeBridge{imageDelay: 200 * time.Millisecond}

	var result *Result
	done := make(chan struct{})
	go func() {
		result = s.Run(context.Background(), br, nil)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	s.Cancel()
	<-done

	assert.Equal(t, StageFailed, result.Stage)
	assert.Equal(t, "cancelled", result.Error)
}

func TestSession_CancelAfterTerminalIsNoop(t *testing.T) {
	s := New(types.GenerateRequest{Kind: types.KindImage, Prompt: "x"}, nil)
	s.Run(context.Background(), &fakeBridge{}, nil)
	assert.NotPanics(t, func() { s.Cancel() })
}

func TestSession_CompleteWithProjectIDWritesToAssetStore(t *testing.T) {
	store := newFakeAssetStore()
	s := New(types.GenerateRequest{Kind: types.KindImage, Prompt: "x", ProjectID: "proj1"}, nil)
	result := s.Run(context.Background(), &fakeBridge{}, store)

	require.NotEmpty(t, result.AssetPath)
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, []byte("image-bytes"), store.writes[result.AssetPath])
}

func TestSession_CompleteWithoutProjectIDDoesNotTouchAssetStore(t *testing.T) {
	store := newFakeAssetStore()
	s := New(types.GenerateRequest{Kind: types.KindImage, Prompt: "x"}, nil)
	result := s.Run(context.Background(), &fakeBridge{}, store)

	assert.Empty(t, result.AssetPath)
	assert.Empty(t, store.writes)
}

func TestSession_ProgressIsMonotoneWithinAStage(t *testing.T) {
	var mu sync.Mutex
	var percents []int
	s := New(types.GenerateRequest{Kind: types.KindImage, Prompt: "x"}, func(ev ProgressEvent) {
		mu.Lock()
		percents = append(percents, ev.Percent)
		mu.Unlock()
	})
	s.Run(context.Background(), &fakeBridge{imageDelay: 30 * time.Millisecond}, nil)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(percents); i++ {
		assert.GreaterOrEqual(t, percents[i], percents[i-1])
	}
	assert.Equal(t, 100, percents[len(percents)-1])
}

func TestStage_CanTransitionTo(t *testing.T) {
	assert.True(t, StageIdle.CanTransitionTo(StageGeneratingImage))
	assert.True(t, StageIdle.CanTransitionTo(StageGeneratingMesh))
	assert.False(t, StageIdle.CanTransitionTo(StageComplete))
	assert.True(t, StageGeneratingImage.CanTransitionTo(StageGeneratingMesh))
	assert.True(t, StageGeneratingImage.CanTransitionTo(StageComplete))
	assert.True(t, StageGeneratingImage.CanTransitionTo(StageFailed))
	assert.True(t, StageGeneratingMesh.CanTransitionTo(StageComplete))
	assert.False(t, StageComplete.CanTransitionTo(StageFailed))
	assert.False(t, StageFailed.CanTransitionTo(StageComplete))
}
