package store

import (
	"context"
	"fmt"

	"delta-sync/feature/deltasync/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SnapshotStore reads and advances the last synced state per natural key.
// Only the reconciler advances it, after a row reached SUCCESS.
type SnapshotStore struct {
	db *gorm.DB
}

// NewSnapshotStore creates a snapshot store on db.
func NewSnapshotStore(db *gorm.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// LoadIndex returns every snapshot keyed by natural key.
func (s *SnapshotStore) LoadIndex(ctx context.Context) (map[string]models.Snapshot, error) {
	var snaps []models.Snapshot
	if err := s.db.WithContext(ctx).Find(&snaps).Error; err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}

	index := make(map[string]models.Snapshot, len(snaps))
	for _, snap := range snaps {
		index[snap.NaturalKey] = snap
	}
	return index, nil
}

// Get returns the snapshot of one key.
func (s *SnapshotStore) Get(ctx context.Context, key string) (*models.Snapshot, error) {
	var snap models.Snapshot
	if err := s.db.WithContext(ctx).First(&snap, "natural_key = ?", key).Error; err != nil {
		return nil, notFound(err, "snapshot "+key)
	}
	return &snap, nil
}

// Advance upserts the given snapshots in one statement.
func (s *SnapshotStore) Advance(ctx context.Context, snaps []models.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "natural_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"fingerprint", "customer", "last_synced_at"}),
	}).Create(&snaps).Error
	if err != nil {
		return fmt.Errorf("failed to advance %d snapshots: %w", len(snaps), err)
	}
	return nil
}

