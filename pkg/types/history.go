package types

import (
	"time"

	"github.com/brightforge/forge3d-orchestrator/pkg/ferr"
)

// Status is a HistoryEntry's position in the monotone status DAG
// (spec section 3, invariant A): queued -> processing -> {complete, failed}.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusComplete, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// CanTransitionTo enforces the allowed DAG: queued -> processing ->
// {complete, failed}. No transition out of a terminal state is legal.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusComplete || next == StatusFailed
	default:
		return false
	}
}

// MaxPromptBytes bounds HistoryEntry.Prompt per spec section 3.
const MaxPromptBytes = 8 * 1024

// HistoryEntry records one generation attempt, whether or not it ever
// produced an Asset.
type HistoryEntry struct {
	ID                     string    `json:"id"`
	AssetID                string    `json:"asset_id,omitempty"`
	ProjectID              string    `json:"project_id,omitempty"`
	Kind                   Kind      `json:"kind"`
	Prompt                 string    `json:"prompt,omitempty"`
	Status                 Status    `json:"status"`
	GenerationTimeSeconds  *float64  `json:"generation_time_seconds,omitempty"`
	VRAMUsageMB            *float64  `json:"vram_usage_mb,omitempty"`
	ErrorMessage           string    `json:"error_message,omitempty"`
	Metadata               map[string]any `json:"metadata,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
	CompletedAt            *time.Time `json:"completed_at,omitempty"`
}

// Validate checks the CHECK-constraint-equivalent invariants on a HistoryEntry.
func (h *HistoryEntry) Validate() error {
	if !h.Kind.Valid() {
		return ferr.InvalidArgumentf("history kind %q is not one of mesh/image/full", h.Kind)
	}
	if !h.Status.Valid() {
		return ferr.InvalidArgumentf("history status %q is not a recognized status", h.Status)
	}
	if len(h.Prompt) > MaxPromptBytes {
		return ferr.InvalidArgumentf("prompt exceeds %d bytes", MaxPromptBytes)
	}
	if h.GenerationTimeSeconds != nil && *h.GenerationTimeSeconds < 0 {
		return ferr.InvalidArgument("generation_time_seconds must be >= 0")
	}
	if h.VRAMUsageMB != nil && *h.VRAMUsageMB < 0 {
		return ferr.InvalidArgument("vram_usage_mb must be >= 0")
	}
	if h.Status.Terminal() != (h.CompletedAt != nil) {
		return ferr.InvalidArgument("completed_at must be set iff status is complete or failed")
	}
	return nil
}
