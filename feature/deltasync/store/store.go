package store

import (
	"errors"
	"fmt"
	"time"

	"delta-sync/feature/deltasync/models"

	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a batch, row or snapshot does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a status change would break the lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInFlight is returned when a key is already owned by a pending or processing row.
	ErrInFlight = errors.New("natural key already in flight")
	// ErrEmptyBatch is returned when persisting a batch without rows.
	ErrEmptyBatch = errors.New("batch has no rows")
)

// AbandonedReason is recorded on rows closed by AbandonBatch.
const AbandonedReason = "abandoned in flight"

// keyChunk bounds the size of IN clauses over natural keys.
const keyChunk = 500

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Migrate creates or updates the staging and snapshot tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Batch{}, &models.StagingRecord{}, &models.Snapshot{}); err != nil {
		return fmt.Errorf("failed to migrate sync tables: %w", err)
	}
	return nil
}

// Tables lists the tables owned by the sync engine.
func Tables() []string {
	return []string{
		models.Batch{}.TableName(),
		models.StagingRecord{}.TableName(),
		models.Snapshot{}.TableName(),
	}
}

// chunks splits keys into IN-clause sized groups.
func chunks(keys []string) [][]string {
	var out [][]string
	for start := 0; start < len(keys); start += keyChunk {
		out = append(out, keys[start:min(start+keyChunk, len(keys))])
	}
	return out
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}
