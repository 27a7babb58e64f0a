package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	gbridge "github.com/brightforge/forge3d-orchestrator/pkg/bridge"
	"github.com/brightforge/forge3d-orchestrator/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory store.Store good enough to exercise the
// scheduler without standing up bbolt.
type fakeStore struct {
	mu      sync.Mutex
	history map[string]*types.HistoryEntry
	assets  map[string]*types.Asset
}

func newFakeStore() *fakeStore {
	return &fakeStore{history: map[string]*types.HistoryEntry{}, assets: map[string]*types.Asset{}}
}

func (f *fakeStore) CreateProject(*types.Project) error            { return nil }
func (f *fakeStore) GetProject(string) (*types.Project, error)     { return nil, nil }
func (f *fakeStore) ListProjects() ([]*types.Project, error)       { return nil, nil }
func (f *fakeStore) UpdateProject(*types.Project) error            { return nil }
func (f *fakeStore) DeleteProject(string) error                    { return nil }

func (f *fakeStore) CreateAsset(a *types.Asset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assets[a.ID] = a
	return nil
}
func (f *fakeStore) GetAsset(id string) (*types.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assets[id], nil
}
func (f *fakeStore) ListAssets(string) ([]*types.Asset, error) { return nil, nil }
func (f *fakeStore) DeleteAsset(string) error                  { return nil }

func (f *fakeStore) CreateHistory(e *types.HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *e
	f.history[e.ID] = &cp
	return nil
}

func (f *fakeStore) GetHistory(id string) (*types.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.history[id]
	if !ok {
		return nil, assertNotFound(id)
	}
	cp := *e
	return &cp, nil
}

func (f *fakeStore) UpdateHistory(e *types.HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *e
	f.history[e.ID] = &cp
	return nil
}

func (f *fakeStore) ListHistory(filter types.HistoryFilter) ([]*types.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.HistoryEntry
	for _, e := range f.history {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) ListQueuedHistory() ([]*types.HistoryEntry, error) {
	entries, err := f.ListHistory(types.HistoryFilter{Status: types.StatusQueued})
	if err != nil {
		return nil, err
	}
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].CreatedAt.Before(entries[i].CreatedAt) {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}
	return entries, nil
}

func (f *fakeStore) Stats() (*types.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &types.Stats{TotalByStatus: map[types.Status]int{}, TotalByKind: map[types.Kind]int{}}
	for _, e := range f.history {
		stats.TotalByStatus[e.Status]++
		stats.TotalByKind[e.Kind]++
	}
	return stats, nil
}

func (f *fakeStore) RecoverOrphans() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.history {
		if e.Status == types.StatusProcessing {
			e.Status = types.StatusFailed
			e.ErrorMessage = "orphaned by host restart"
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) Close() error { return nil }

type notFoundErr struct{ id string }

func (e notFoundErr) Error() string { return "not found: " + e.id }

func assertNotFound(id string) error { return notFoundErr{id: id} }

// fakeBridge is a scheduler.Bridge that always succeeds instantly.
type fakeBridge struct {
	mu     sync.Mutex
	state  gbridge.State
	crashCh chan gbridge.CrashEvent
	delay  time.Duration
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{state: gbridge.StateRunning, crashCh: make(chan gbridge.CrashEvent, 4)}
}

func (f *fakeBridge) State() gbridge.State { f.mu.Lock(); defer f.mu.Unlock(); return f.state }
func (f *fakeBridge) CrashEvents() <-chan gbridge.CrashEvent { return f.crashCh }

func (f *fakeBridge) GenerateImage(ctx context.Context, prompt string, options map[string]any) (*gbridge.GenerationResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &gbridge.GenerationResult{ImageBytes: []byte("img")}, nil
}

func (f *fakeBridge) GenerateMesh(ctx context.Context, imageData []byte, options map[string]any) (*gbridge.GenerationResult, error) {
	return &gbridge.GenerationResult{MeshBytes: []byte("mesh")}, nil
}

func (f *fakeBridge) GenerateFull(ctx context.Context, prompt string, options map[string]any) (*gbridge.GenerationResult, error) {
	return &gbridge.GenerationResult{ImageBytes: []byte("img"), MeshBytes: []byte("mesh")}, nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestScheduler_EnqueueAndDrainToComplete(t *testing.T) {
	st := newFakeStore()
	br := newFakeBridge()
	sched := New(st, br, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sched.Start(ctx))

	entry, err := sched.Enqueue(types.GenerateRequest{Kind: types.KindImage, Prompt: "a cat"})
	require.NoError(t, err)

	waitFor(t, 2*time.Second, func() bool {
		got, _ := st.GetHistory(entry.ID)
		return got != nil && got.Status == types.StatusComplete
	})
}

func TestScheduler_MeshWithoutPayloadAfterRestartFails(t *testing.T) {
	st := newFakeStore()
	br := newFakeBridge()
	sched := New(st, br, nil)

	entry := &types.HistoryEntry{ID: types.NewID(), Kind: types.KindMesh, Status: types.StatusQueued, CreatedAt: time.Now()}
	require.NoError(t, st.CreateHistory(entry))
	// Simulate a restart: the scheduler's in-memory payload map starts empty.

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sched.Start(ctx))

	waitFor(t, 2*time.Second, func() bool {
		got, _ := st.GetHistory(entry.ID)
		return got != nil && got.Status == types.StatusFailed
	})
	got, _ := st.GetHistory(entry.ID)
	assert.Equal(t, "host restart before execution", got.ErrorMessage)
}

func TestScheduler_CancelWhileQueuedFailsImmediately(t *testing.T) {
	st := newFakeStore()
	br := newFakeBridge()
	sched := New(st, br, nil)

	entry, err := sched.Enqueue(types.GenerateRequest{Kind: types.KindImage, Prompt: "x"})
	require.NoError(t, err)

	sched.Pause() // keep it queued so Cancel observes StatusQueued
	require.NoError(t, sched.Cancel(entry.ID))

	got, err := st.GetHistory(entry.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Equal(t, "cancelled", got.ErrorMessage)
}

func TestScheduler_CancelOnTerminalJobIsNoop(t *testing.T) {
	st := newFakeStore()
	br := newFakeBridge()
	sched := New(st, br, nil)

	entry := &types.HistoryEntry{ID: types.NewID(), Kind: types.KindImage, Status: types.StatusComplete, CreatedAt: time.Now()}
	now := time.Now()
	entry.CompletedAt = &now
	require.NoError(t, st.CreateHistory(entry))

	assert.NoError(t, sched.Cancel(entry.ID))
	got, _ := st.GetHistory(entry.ID)
	assert.Equal(t, types.StatusComplete, got.Status)
}

func TestScheduler_PauseBlocksDequeueButNotCompletion(t *testing.T) {
	st := newFakeStore()
	br := newFakeBridge()
	sched := New(st, br, nil)
	sched.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sched.Start(ctx))

	entry, err := sched.Enqueue(types.GenerateRequest{Kind: types.KindImage, Prompt: "x"})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	got, _ := st.GetHistory(entry.ID)
	assert.Equal(t, types.StatusQueued, got.Status)

	sched.Resume()
	waitFor(t, 2*time.Second, func() bool {
		got, _ := st.GetHistory(entry.ID)
		return got != nil && got.Status == types.StatusComplete
	})
}

func TestScheduler_BridgeCrashFailsInFlightSessionWithFixedMessage(t *testing.T) {
	st := newFakeStore()
	br := newFakeBridge()
	br.delay = 300 * time.Millisecond
	sched := New(st, br, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sched.Start(ctx))

	entry, err := sched.Enqueue(types.GenerateRequest{Kind: types.KindImage, Prompt: "x"})
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool {
		got, _ := st.GetHistory(entry.ID)
		return got != nil && got.Status == types.StatusProcessing
	})

	br.crashCh <- gbridge.CrashEvent{At: time.Now(), ExitInfo: "killed"}

	waitFor(t, 2*time.Second, func() bool {
		got, _ := st.GetHistory(entry.ID)
		return got != nil && got.Status == types.StatusFailed
	})
	got, _ := st.GetHistory(entry.ID)
	assert.Equal(t, "bridge crashed mid-generation", got.ErrorMessage)
}

func TestScheduler_QueueStateReportsCounts(t *testing.T) {
	st := newFakeStore()
	br := newFakeBridge()
	sched := New(st, br, nil)
	sched.Pause()

	_, err := sched.Enqueue(types.GenerateRequest{Kind: types.KindImage, Prompt: "x"})
	require.NoError(t, err)

	qs, err := sched.QueueState()
	require.NoError(t, err)
	assert.True(t, qs.Paused)
	assert.Equal(t, 1, qs.Queued)
}
