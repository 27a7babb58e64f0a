// Package store defines Forge3D's persistence interface: Projects,
// Assets, and generation HistoryEntry rows, durable across process
// restarts.
package store

import "github.com/brightforge/forge3d-orchestrator/pkg/types"

// Store is the persistence boundary every other component programs
// against; BoltStore is the only implementation, but callers take the
// interface so tests can swap in an in-memory fake.
type Store interface {
	// Projects
	CreateProject(project *types.Project) error
	GetProject(id string) (*types.Project, error)
	ListProjects() ([]*types.Project, error)
	UpdateProject(project *types.Project) error
	DeleteProject(id string) error

	// Assets
	CreateAsset(asset *types.Asset) error
	GetAsset(id string) (*types.Asset, error)
	ListAssets(projectID string) ([]*types.Asset, error)
	DeleteAsset(id string) error

	// History
	CreateHistory(entry *types.HistoryEntry) error
	GetHistory(id string) (*types.HistoryEntry, error)
	UpdateHistory(entry *types.HistoryEntry) error
	ListHistory(filter types.HistoryFilter) ([]*types.HistoryEntry, error)
	ListQueuedHistory() ([]*types.HistoryEntry, error)
	Stats() (*types.Stats, error)

	// RecoverOrphans demotes any history row left in "processing" by an
	// unclean shutdown to "failed", so the scheduler never mistakes a
	// pre-crash job for one still in flight. Returns the count demoted.
	RecoverOrphans() (int, error)

	Close() error
}
