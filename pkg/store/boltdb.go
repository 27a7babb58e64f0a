package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/brightforge/forge3d-orchestrator/pkg/ferr"
	"github.com/brightforge/forge3d-orchestrator/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketProjects      = []byte("projects")
	bucketAssets        = []byte("assets")
	bucketHistory       = []byte("history")
	bucketSchemaVersion = []byte("schema_version")
)

const currentSchemaVersion = "1"

// updateTimeout bounds a single Update transaction, matching the
// 5-second budget NewBoltStore already gives the file lock at open.
const updateTimeout = 5 * time.Second

// BoltStore implements Store on top of a single bbolt database file.
// bbolt serializes writers and allows concurrent readers from a single
// process, which is the durability model spec section 6 asks for
// without needing a separate database server.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the database at
// filepath.Join(dataDir, "store.db"). A 5-second open timeout turns a
// lock held by another process into a Busy error instead of hanging
// forever.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "store.db")

	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, ferr.Busy("another process holds the store lock", err)
		}
		return nil, fmt.Errorf("store: opening %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketProjects, bucketAssets, bucketHistory, bucketSchemaVersion} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("creating bucket %s: %w", b, err)
			}
		}
		sv := tx.Bucket(bucketSchemaVersion)
		if sv.Get([]byte("version")) == nil {
			if err := sv.Put([]byte("version"), []byte(currentSchemaVersion)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// update runs fn in a write transaction, bounded by updateTimeout so a
// wedged writer surfaces as ferr.Busy instead of hanging the caller
// forever — the same contract NewBoltStore's open timeout gives a
// lock held by another process, extended to every write this process
// issues itself.
func (s *BoltStore) update(fn func(tx *bolt.Tx) error) error {
	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(fn)
	}()

	select {
	case err := <-done:
		if errors.Is(err, bolt.ErrDatabaseNotOpen) {
			return ferr.Busy("store is not open", err)
		}
		return err
	case <-time.After(updateTimeout):
		return ferr.Busy(fmt.Sprintf("store update did not complete within %s", updateTimeout), nil)
	}
}

// --- Projects ---

func (s *BoltStore) CreateProject(project *types.Project) error {
	if err := project.Validate(); err != nil {
		return err
	}
	return s.update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(project)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketProjects).Put([]byte(project.ID), data)
	})
}

func (s *BoltStore) GetProject(id string) (*types.Project, error) {
	var project types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketProjects).Get([]byte(id))
		if data == nil {
			return ferr.NotFoundf("project %q not found", id)
		}
		return json.Unmarshal(data, &project)
	})
	if err != nil {
		return nil, err
	}
	return &project, nil
}

func (s *BoltStore) ListProjects() ([]*types.Project, error) {
	var projects []*types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProjects).ForEach(func(k, v []byte) error {
			var p types.Project
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			projects = append(projects, &p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].CreatedAt.After(projects[j].CreatedAt)
	})
	return projects, nil
}

func (s *BoltStore) UpdateProject(project *types.Project) error {
	if err := project.Validate(); err != nil {
		return err
	}
	return s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		if b.Get([]byte(project.ID)) == nil {
			return ferr.NotFoundf("project %q not found", project.ID)
		}
		project.Touch()
		data, err := json.Marshal(project)
		if err != nil {
			return err
		}
		return b.Put([]byte(project.ID), data)
	})
}

// DeleteProject removes the project and cascades to every Asset it
// owns; HistoryEntry rows referencing the project or a deleted asset
// are updated to drop the reference rather than deleted, per spec
// section 3's cascade-vs-null-out split.
func (s *BoltStore) DeleteProject(id string) error {
	return s.update(func(tx *bolt.Tx) error {
		projects := tx.Bucket(bucketProjects)
		if projects.Get([]byte(id)) == nil {
			return ferr.NotFoundf("project %q not found", id)
		}

		assets := tx.Bucket(bucketAssets)
		var assetIDs []string
		if err := assets.ForEach(func(k, v []byte) error {
			var a types.Asset
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if a.ProjectID == id {
				assetIDs = append(assetIDs, a.ID)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, aid := range assetIDs {
			if err := assets.Delete([]byte(aid)); err != nil {
				return err
			}
		}

		assetSet := make(map[string]bool, len(assetIDs))
		for _, aid := range assetIDs {
			assetSet[aid] = true
		}

		history := tx.Bucket(bucketHistory)
		if err := history.ForEach(func(k, v []byte) error {
			var h types.HistoryEntry
			if err := json.Unmarshal(v, &h); err != nil {
				return err
			}
			changed := false
			if h.ProjectID == id {
				h.ProjectID = ""
				changed = true
			}
			if assetSet[h.AssetID] {
				h.AssetID = ""
				changed = true
			}
			if !changed {
				return nil
			}
			data, err := json.Marshal(&h)
			if err != nil {
				return err
			}
			return history.Put(k, data)
		}); err != nil {
			return err
		}

		return projects.Delete([]byte(id))
	})
}

// --- Assets ---

func (s *BoltStore) CreateAsset(asset *types.Asset) error {
	if err := asset.Validate(); err != nil {
		return err
	}
	return s.update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketProjects).Get([]byte(asset.ProjectID)) == nil {
			return ferr.NotFoundf("project %q not found", asset.ProjectID)
		}
		data, err := json.Marshal(asset)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketAssets).Put([]byte(asset.ID), data)
	})
}

func (s *BoltStore) GetAsset(id string) (*types.Asset, error) {
	var asset types.Asset
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAssets).Get([]byte(id))
		if data == nil {
			return ferr.NotFoundf("asset %q not found", id)
		}
		return json.Unmarshal(data, &asset)
	})
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

func (s *BoltStore) ListAssets(projectID string) ([]*types.Asset, error) {
	var assets []*types.Asset
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAssets).ForEach(func(k, v []byte) error {
			var a types.Asset
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if projectID == "" || a.ProjectID == projectID {
				assets = append(assets, &a)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(assets, func(i, j int) bool {
		return assets[i].CreatedAt.After(assets[j].CreatedAt)
	})
	return assets, nil
}

func (s *BoltStore) DeleteAsset(id string) error {
	return s.update(func(tx *bolt.Tx) error {
		assets := tx.Bucket(bucketAssets)
		if assets.Get([]byte(id)) == nil {
			return ferr.NotFoundf("asset %q not found", id)
		}
		if err := assets.Delete([]byte(id)); err != nil {
			return err
		}

		history := tx.Bucket(bucketHistory)
		return history.ForEach(func(k, v []byte) error {
			var h types.HistoryEntry
			if err := json.Unmarshal(v, &h); err != nil {
				return err
			}
			if h.AssetID != id {
				return nil
			}
			h.AssetID = ""
			data, err := json.Marshal(&h)
			if err != nil {
				return err
			}
			return history.Put(k, data)
		})
	})
}

// --- History ---

func (s *BoltStore) CreateHistory(entry *types.HistoryEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	return s.update(func(tx *bolt.Tx) error {
		if entry.ProjectID != "" && tx.Bucket(bucketProjects).Get([]byte(entry.ProjectID)) == nil {
			return ferr.NotFoundf("project %q not found", entry.ProjectID)
		}
		if entry.AssetID != "" && tx.Bucket(bucketAssets).Get([]byte(entry.AssetID)) == nil {
			return ferr.NotFoundf("asset %q not found", entry.AssetID)
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketHistory).Put([]byte(entry.ID), data)
	})
}

func (s *BoltStore) GetHistory(id string) (*types.HistoryEntry, error) {
	var entry types.HistoryEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketHistory).Get([]byte(id))
		if data == nil {
			return ferr.NotFoundf("history entry %q not found", id)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// UpdateHistory overwrites an existing entry, enforcing the monotone
// status DAG (spec section 3, invariant A) against the row currently
// on disk.
func (s *BoltStore) UpdateHistory(entry *types.HistoryEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	return s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		existing := b.Get([]byte(entry.ID))
		if existing == nil {
			return ferr.NotFoundf("history entry %q not found", entry.ID)
		}
		var prev types.HistoryEntry
		if err := json.Unmarshal(existing, &prev); err != nil {
			return err
		}
		if prev.Status != entry.Status && !prev.Status.CanTransitionTo(entry.Status) {
			return ferr.Conflict(fmt.Sprintf("cannot transition history %q from %s to %s", entry.ID, prev.Status, entry.Status))
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put([]byte(entry.ID), data)
	})
}

func (s *BoltStore) ListHistory(filter types.HistoryFilter) ([]*types.HistoryEntry, error) {
	var entries []*types.HistoryEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHistory).ForEach(func(k, v []byte) error {
			var h types.HistoryEntry
			if err := json.Unmarshal(v, &h); err != nil {
				return err
			}
			if filter.ProjectID != "" && h.ProjectID != filter.ProjectID {
				return nil
			}
			if filter.Status != "" && h.Status != filter.Status {
				return nil
			}
			if filter.Kind != "" && h.Kind != filter.Kind {
				return nil
			}
			entries = append(entries, &h)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries, nil
}

// ListQueuedHistory returns every StatusQueued row in FIFO order
// (oldest CreatedAt first), the order the scheduler admits work in.
func (s *BoltStore) ListQueuedHistory() ([]*types.HistoryEntry, error) {
	entries, err := s.ListHistory(types.HistoryFilter{Status: types.StatusQueued})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

func (s *BoltStore) Stats() (*types.Stats, error) {
	stats := &types.Stats{
		TotalByStatus: make(map[types.Status]int),
		TotalByKind:   make(map[types.Kind]int),
	}
	var genSum, genCount, vramSum, vramCount float64

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHistory).ForEach(func(k, v []byte) error {
			var h types.HistoryEntry
			if err := json.Unmarshal(v, &h); err != nil {
				return err
			}
			stats.TotalByStatus[h.Status]++
			stats.TotalByKind[h.Kind]++
			if h.Status == types.StatusComplete && h.GenerationTimeSeconds != nil {
				genSum += *h.GenerationTimeSeconds
				genCount++
			}
			if h.Status == types.StatusComplete && h.VRAMUsageMB != nil {
				vramSum += *h.VRAMUsageMB
				vramCount++
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if genCount > 0 {
		stats.AverageGenerationSeconds = genSum / genCount
	}
	if vramCount > 0 {
		stats.AverageVRAMUsageMB = vramSum / vramCount
	}
	return stats, nil
}

// RecoverOrphans runs once at startup, before the scheduler admits any
// queued work: a history row still StatusProcessing means the process
// died mid-job, and the job's outcome was never observed, so it is
// demoted to StatusFailed.
func (s *BoltStore) RecoverOrphans() (int, error) {
	count := 0
	err := s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		var toFix []types.HistoryEntry
		if err := b.ForEach(func(k, v []byte) error {
			var h types.HistoryEntry
			if err := json.Unmarshal(v, &h); err != nil {
				return err
			}
			if h.Status == types.StatusProcessing {
				toFix = append(toFix, h)
			}
			return nil
		}); err != nil {
			return err
		}

		now := time.Now()
		for _, h := range toFix {
			h.Status = types.StatusFailed
			h.ErrorMessage = "orphaned by host restart"
			h.CompletedAt = &now
			data, err := json.Marshal(&h)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(h.ID), data); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}
