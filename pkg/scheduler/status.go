package scheduler

import (
	"bytes"
	"io"

	"github.com/brightforge/forge3d-orchestrator/pkg/ferr"
	"github.com/brightforge/forge3d-orchestrator/pkg/session"
	"github.com/brightforge/forge3d-orchestrator/pkg/types"
)

// SessionStatus is the shape of GET /status/{id}: a HistoryEntry row
// enriched with the live stage/percent of its Session while it is
// still processing (spec.md section 6).
type SessionStatus struct {
	JobID     string         `json:"id"`
	Kind      types.Kind     `json:"type"`
	Status    types.Status   `json:"status"`
	Stage     session.Stage  `json:"stage"`
	Percent   int            `json:"percent"`
	Error     string         `json:"error,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// Status reports a job's current status, live progress when it is the
// job currently processing, and its terminal error otherwise.
func (s *Scheduler) Status(jobID string) (*SessionStatus, error) {
	entry, err := s.store.GetHistory(jobID)
	if err != nil {
		return nil, err
	}

	status := &SessionStatus{
		JobID:     entry.ID,
		Kind:      entry.Kind,
		Status:    entry.Status,
		Error:     entry.ErrorMessage,
		CreatedAt: entry.CreatedAt.Format(rfc3339),
	}

	s.mu.RLock()
	isCurrent := s.currentEntryID == jobID
	stage, percent := s.currentStage, s.currentPercent
	s.mu.RUnlock()

	switch {
	case isCurrent:
		status.Stage = stage
		status.Percent = percent
	case entry.Status == types.StatusComplete:
		status.Stage = session.StageComplete
		status.Percent = 100
	case entry.Status == types.StatusFailed:
		status.Stage = session.StageFailed
	default:
		status.Stage = session.StageIdle
	}
	return status, nil
}

// DownloadResult is the bytes and content-type of a completed job's
// primary artifact, resolved either from the asset store (project-
// scoped jobs) or the in-memory retention cache (session-only jobs).
type DownloadResult struct {
	Reader      io.ReadCloser
	ContentType string
	Size        int64
}

// Download resolves a terminal job's output bytes for GET
// /download/{id} (spec.md section 4.4's result-handoff rule).
func (s *Scheduler) Download(jobID string) (*DownloadResult, error) {
	entry, err := s.store.GetHistory(jobID)
	if err != nil {
		return nil, err
	}
	if entry.Status != types.StatusComplete {
		return nil, ferr.NotFoundf("job %q has no completed result", jobID)
	}

	if entry.AssetID != "" {
		asset, err := s.store.GetAsset(entry.AssetID)
		if err != nil {
			return nil, err
		}
		if asset == nil {
			return nil, ferr.NotFoundf("asset for job %q not found", jobID)
		}
		f, err := s.assets.Open(asset.FilePath)
		if err != nil {
			return nil, err
		}
		return &DownloadResult{Reader: f, ContentType: contentTypeForKind(entry.Kind), Size: asset.FileSize}, nil
	}

	result, ok := s.results.Get(jobID)
	if !ok {
		return nil, ferr.NotFoundf("result for job %q is no longer retained", jobID)
	}
	data := result.ImageBytes
	if entry.Kind == types.KindMesh || (entry.Kind == types.KindFull && len(result.MeshBytes) > 0) {
		data = result.MeshBytes
	}
	return &DownloadResult{
		Reader:      io.NopCloser(bytes.NewReader(data)),
		ContentType: contentTypeForKind(entry.Kind),
		Size:        int64(len(data)),
	}, nil
}

func contentTypeForKind(k types.Kind) string {
	switch k {
	case types.KindMesh:
		return "model/gltf-binary"
	case types.KindImage:
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"
