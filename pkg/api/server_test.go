package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/brightforge/forge3d-orchestrator/pkg/assets"
	gbridge "github.com/brightforge/forge3d-orchestrator/pkg/bridge"
	"github.com/brightforge/forge3d-orchestrator/pkg/config"
	"github.com/brightforge/forge3d-orchestrator/pkg/scheduler"
	"github.com/brightforge/forge3d-orchestrator/pkg/store"
	"github.com/brightforge/forge3d-orchestrator/pkg/telemetry"
	"github.com/brightforge/forge3d-orchestrator/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBridge struct {
	state gbridge.State
	crash chan gbridge.CrashEvent
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{state: gbridge.StateRunning, crash: make(chan gbridge.CrashEvent, 1)}
}

func (f *fakeBridge) State() gbridge.State                    { return f.state }
func (f *fakeBridge) CrashEvents() <-chan gbridge.CrashEvent   { return f.crash }
func (f *fakeBridge) GenerateImage(ctx context.Context, prompt string, options map[string]any) (*gbridge.GenerationResult, error) {
	return &gbridge.GenerationResult{ImageBytes: []byte("img")}, nil
}
func (f *fakeBridge) GenerateMesh(ctx context.Context, imageData []byte, options map[string]any) (*gbridge.GenerationResult, error) {
	return &gbridge.GenerationResult{MeshBytes: []byte("mesh")}, nil
}
func (f *fakeBridge) GenerateFull(ctx context.Context, prompt string, options map[string]any) (*gbridge.GenerationResult, error) {
	return &gbridge.GenerationResult{ImageBytes: []byte("img"), MeshBytes: []byte("mesh")}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	assetStore, err := assets.New(t.TempDir())
	require.NoError(t, err)

	br := newFakeBridge()
	hub := telemetry.New(100, 1000)
	sched := scheduler.New(st, br, assetStore, scheduler.WithPublisher(func(ev scheduler.Event) {
		hub.Publish(ev.Category, ev.Data)
	}))
	require.NoError(t, sched.Start(context.Background()))
	t.Cleanup(func() { sched.Stop(context.Background()) })

	// bridge.Bridge is a concrete type the readyz handler reads State()
	// from directly; the fake above only satisfies scheduler.Bridge, so
	// every test server gets a real, never-started Bridge from
	// realBridgeStub for the readyz/bridge-status handlers.
	return NewServer(sched, st, assetStore, realBridgeStub(), hub)
}

// realBridgeStub returns a *bridge.Bridge in its zero (stopped) state,
// enough for handlers that only read State()/RestartCount() without
// ever starting the subprocess.
func realBridgeStub() *gbridge.Bridge {
	return gbridge.New(config.Default().Bridge)
}

func TestServer_GenerateAndStatusRoundTrip(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"type": "image", "prompt": "a cat"})
	req := httptest.NewRequest(http.MethodPost, apiPrefix+"/generate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var entry types.HistoryEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, types.KindImage, entry.Kind)

	statusReq := httptest.NewRequest(http.MethodGet, apiPrefix+"/status/"+entry.ID, nil)
	statusRec := httptest.NewRecorder()
	s.ServeHTTP(statusRec, statusReq)
	assert.Equal(t, http.StatusOK, statusRec.Code)
}

func TestServer_GenerateRejectsInvalidKind(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"type": "bogus"})
	req := httptest.NewRequest(http.MethodPost, apiPrefix+"/generate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ProjectCRUD(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"name": "demo"})
	req := httptest.NewRequest(http.MethodPost, apiPrefix+"/projects", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var project types.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &project))

	getReq := httptest.NewRequest(http.MethodGet, apiPrefix+"/projects/"+project.ID, nil)
	getRec := httptest.NewRecorder()
	s.ServeHTTP(getRec, getReq)
	assert.Equal(t, http.StatusOK, getRec.Code)

	delReq := httptest.NewRequest(http.MethodDelete, apiPrefix+"/projects/"+project.ID, nil)
	delRec := httptest.NewRecorder()
	s.ServeHTTP(delRec, delReq)
	assert.Equal(t, http.StatusOK, delRec.Code)
}

func TestServer_QueuePauseResume(t *testing.T) {
	s := newTestServer(t)

	pauseReq := httptest.NewRequest(http.MethodPost, apiPrefix+"/queue/pause", nil)
	pauseRec := httptest.NewRecorder()
	s.ServeHTTP(pauseRec, pauseReq)
	assert.Equal(t, http.StatusOK, pauseRec.Code)

	stateReq := httptest.NewRequest(http.MethodGet, apiPrefix+"/queue", nil)
	stateRec := httptest.NewRecorder()
	s.ServeHTTP(stateRec, stateReq)
	var qs types.QueueState
	require.NoError(t, json.Unmarshal(stateRec.Body.Bytes(), &qs))
	assert.True(t, qs.Paused)
}

func TestServer_Healthz(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_GenerateOversizedImageBodyIsRejected(t *testing.T) {
	s := newTestServer(t)
	oversized := bytes.Repeat([]byte{0xFF}, maxImageBodyBytes+1)
	req := httptest.NewRequest(http.MethodPost, apiPrefix+"/generate", bytes.NewReader(oversized))
	req.Header.Set("Content-Type", "image/png")
	req.ContentLength = int64(len(oversized))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
