package types

import (
	"encoding/json"
	"time"

	"github.com/brightforge/forge3d-orchestrator/pkg/ferr"
)

// Kind identifies the shape of a generation output or request.
type Kind string

const (
	KindMesh  Kind = "mesh"
	KindImage Kind = "image"
	KindFull  Kind = "full"
)

// Valid reports whether k is one of the closed Kind values.
func (k Kind) Valid() bool {
	switch k {
	case KindMesh, KindImage, KindFull:
		return true
	default:
		return false
	}
}

// MaxAssetMetadataBytes bounds the opaque metadata blob per spec section 3.
const MaxAssetMetadataBytes = 64 * 1024

// Asset is a persisted generation output belonging to a Project.
type Asset struct {
	ID             string          `json:"id"`
	ProjectID      string          `json:"project_id"`
	Name           string          `json:"name"`
	Kind           Kind            `json:"kind"`
	FilePath       string          `json:"file_path"`
	ThumbnailPath  string          `json:"thumbnail_path,omitempty"`
	FileSize       int64           `json:"file_size"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Validate checks the CHECK-constraint-equivalent invariants on an Asset.
func (a *Asset) Validate() error {
	if a.ProjectID == "" {
		return ferr.InvalidArgument("asset requires a project_id")
	}
	if !a.Kind.Valid() {
		return ferr.InvalidArgumentf("asset kind %q is not one of mesh/image/full", a.Kind)
	}
	if a.FilePath == "" {
		return ferr.InvalidArgument("asset requires a file_path")
	}
	if a.FileSize < 0 {
		return ferr.InvalidArgument("asset file_size must be >= 0")
	}
	if len(a.Metadata) > 0 {
		data, err := json.Marshal(a.Metadata)
		if err != nil {
			return ferr.InvalidArgumentf("asset metadata is not encodable as JSON: %v", err)
		}
		if len(data) > MaxAssetMetadataBytes {
			return ferr.InvalidArgumentf("asset metadata exceeds %d bytes", MaxAssetMetadataBytes)
		}
	}
	return nil
}
