package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"delta-sync/feature/deltasync/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T, name string) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to open mock sql db: %v", err)
	}

	dialector := mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to open gorm db: %v", err)
	}

	return gormDB, mock
}

func newBatch(id, customer string, keys ...string) *models.Batch {
	b := &models.Batch{ID: id, Customer: customer}
	for _, k := range keys {
		b.Rows = append(b.Rows, models.StagingRecord{
			NaturalKey:     k,
			Customer:       customer,
			CustomerStatus: models.Approved,
			Fingerprint:    models.Fingerprint("fp-" + k),
			Fields:         map[string]any{"Country": "Cambodia"},
		})
	}
	return b
}

func strPtr(s string) *string { return &s }

func TestMigrateAndTables(t *testing.T) {
	db := setupTestDB(t, "store_migrate")
	for _, table := range Tables() {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
}

func TestChunks(t *testing.T) {
	keys := make([]string, keyChunk+1)
	got := chunks(keys)
	require.Len(t, got, 2)
	assert.Len(t, got[0], keyChunk)
	assert.Len(t, got[1], 1)
	assert.Empty(t, chunks(nil))
}

func TestSnapshotStore(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t, "store_snapshots")
	snaps := NewSnapshotStore(db)

	_, err := snaps.Get(ctx, "PO-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, snaps.Advance(ctx, []models.Snapshot{
		{NaturalKey: "PO-1", Fingerprint: "h1", Customer: "Acme", LastSyncedAt: fixedNow},
		{NaturalKey: "PO-2", Fingerprint: "h2", Customer: "Acme", LastSyncedAt: fixedNow},
	}))
	require.NoError(t, snaps.Advance(ctx, []models.Snapshot{
		{NaturalKey: "PO-1", Fingerprint: "h1b", Customer: "Acme Corp", LastSyncedAt: fixedNow.Add(time.Hour)},
	}))
	assert.NoError(t, snaps.Advance(ctx, nil))

	got, err := snaps.Get(ctx, "PO-1")
	require.NoError(t, err)
	assert.Equal(t, models.Fingerprint("h1b"), got.Fingerprint)
	assert.Equal(t, "Acme Corp", got.Customer)

	index, err := snaps.LoadIndex(ctx)
	require.NoError(t, err)
	assert.Len(t, index, 2)
	assert.Equal(t, models.Fingerprint("h2"), index["PO-2"].Fingerprint)
}

func TestStagingStore_PersistAndList(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t, "store_persist")
	s := NewStagingStore(db, WithClock(func() time.Time { return fixedNow }))

	assert.ErrorIs(t, s.Persist(ctx, &models.Batch{ID: "empty"}), ErrEmptyBatch)

	b := newBatch("b-1", "Acme", "PO-1", "PO-2", "PO-3")
	require.NoError(t, s.Persist(ctx, b))

	got, err := s.GetBatch(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, models.BatchPending, got.Status)
	require.Len(t, got.Rows, 3)
	assert.Equal(t, []string{"PO-1", "PO-2", "PO-3"}, got.Keys())
	for i, row := range got.Rows {
		assert.Equal(t, i, row.Position)
		assert.Equal(t, models.RowPending, row.Status)
		assert.Equal(t, "Cambodia", row.Fields["Country"])
	}

	pending, err := s.ListBatches(ctx, models.BatchPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	done, err := s.ListBatches(ctx, models.BatchSuccess)
	require.NoError(t, err)
	assert.Empty(t, done)

	_, err = s.GetBatch(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStagingStore_PersistRollsBack(t *testing.T) {
	db, mock := setupMockDB(t)
	s := NewStagingStore(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `sync_batches`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO `sync_staging_records`").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.Persist(context.Background(), newBatch("b-1", "Acme", "PO-1"))
	assert.ErrorContains(t, err, "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStagingStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t, "store_lifecycle")
	s := NewStagingStore(db)

	b := newBatch("b-1", "Acme", "PO-1", "PO-2", "PO-3")
	require.NoError(t, s.Persist(ctx, b))
	ids := []uint{b.Rows[0].ID, b.Rows[1].ID, b.Rows[2].ID}

	t.Run("Rows Cannot Skip Processing", func(t *testing.T) {
		err := s.UpdateRowStatus(ctx, ids[0], models.RowSuccess, strPtr("1"), nil)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("Mark Processing", func(t *testing.T) {
		require.NoError(t, s.MarkProcessing(ctx, "b-1", map[uint]map[string]any{
			ids[0]: {"name": "PO-1", "country": "KH"},
		}))
		assert.ErrorIs(t, s.MarkProcessing(ctx, "b-1", nil), ErrInvalidTransition)

		got, err := s.GetBatch(ctx, "b-1")
		require.NoError(t, err)
		assert.Equal(t, models.BatchProcessing, got.Status)
		assert.Equal(t, "KH", got.Rows[0].MappedFields["country"])
		for _, row := range got.Rows {
			assert.Equal(t, models.RowProcessing, row.Status)
		}
	})

	t.Run("Partial Outcomes Keep Batch Open", func(t *testing.T) {
		status, err := s.ApplyOutcomes(ctx, "b-1", []RowOutcome{
			{RowID: ids[0], Status: models.RowSuccess, ExternalID: strPtr("9702050042")},
		})
		require.NoError(t, err)
		assert.Equal(t, models.BatchProcessing, status)
	})

	t.Run("Final Outcomes Close Batch", func(t *testing.T) {
		status, err := s.ApplyOutcomes(ctx, "b-1", []RowOutcome{
			{RowID: ids[1], Status: models.RowSuccess, ExternalID: strPtr("9702050043")},
			{RowID: ids[2], Status: models.RowError, Error: strPtr("invalid column value")},
		})
		require.NoError(t, err)
		assert.Equal(t, models.BatchPartial, status)

		got, err := s.GetBatch(ctx, "b-1")
		require.NoError(t, err)
		assert.Equal(t, models.BatchPartial, got.Status)
		assert.Equal(t, "9702050042", *got.Rows[0].ExternalID)
		assert.Equal(t, 1, got.Rows[2].RetryCount)
		assert.Equal(t, "invalid column value", *got.Rows[2].LastError)
	})

	t.Run("Terminal Rows Are Final", func(t *testing.T) {
		_, err := s.ApplyOutcomes(ctx, "b-1", []RowOutcome{{RowID: ids[0], Status: models.RowError}})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("Unknown Row", func(t *testing.T) {
		err := s.UpdateRowStatus(ctx, 9999, models.RowProcessing, nil, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStagingStore_ApplyOutcomesIsAtomic(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t, "store_atomic")
	s := NewStagingStore(db)

	b := newBatch("b-1", "Acme", "PO-1", "PO-2")
	require.NoError(t, s.Persist(ctx, b))
	require.NoError(t, s.MarkProcessing(ctx, "b-1", nil))

	_, err := s.ApplyOutcomes(ctx, "b-1", []RowOutcome{
		{RowID: b.Rows[0].ID, Status: models.RowSuccess, ExternalID: strPtr("1")},
		{RowID: 9999, Status: models.RowSuccess},
	})
	require.Error(t, err)

	got, err := s.GetBatch(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, models.RowProcessing, got.Rows[0].Status)
}

func TestStagingStore_UpdateRowStatusFinalizes(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t, "store_update_row")
	s := NewStagingStore(db)

	b := newBatch("b-1", "Acme", "PO-1")
	require.NoError(t, s.Persist(ctx, b))
	require.NoError(t, s.MarkProcessing(ctx, "b-1", nil))
	require.NoError(t, s.UpdateRowStatus(ctx, b.Rows[0].ID, models.RowError, nil, strPtr("rejected")))

	got, err := s.GetBatch(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, models.BatchFailed, got.Status)
}

func TestStagingStore_InFlightAndHistory(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t, "store_inflight")
	s := NewStagingStore(db)

	first := newBatch("b-1", "Acme", "PO-1", "PO-2")
	require.NoError(t, s.Persist(ctx, first))

	owners, err := s.InFlightKeys(ctx, []string{"PO-1", "PO-2", "PO-3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"PO-1": "b-1", "PO-2": "b-1"}, owners)

	require.NoError(t, s.MarkProcessing(ctx, "b-1", nil))
	_, err = s.ApplyOutcomes(ctx, "b-1", []RowOutcome{
		{RowID: first.Rows[0].ID, Status: models.RowSuccess, ExternalID: strPtr("ext-1")},
		{RowID: first.Rows[1].ID, Status: models.RowError, Error: strPtr("timeout")},
	})
	require.NoError(t, err)

	owners, err = s.InFlightKeys(ctx, []string{"PO-1", "PO-2"})
	require.NoError(t, err)
	assert.Empty(t, owners)

	second := newBatch("b-2", "Acme", "PO-2")
	second.Rows[0].RetryCount = 1
	require.NoError(t, s.Persist(ctx, second))
	require.NoError(t, s.MarkProcessing(ctx, "b-2", nil))
	_, err = s.ApplyOutcomes(ctx, "b-2", []RowOutcome{
		{RowID: second.Rows[0].ID, Status: models.RowError, Error: strPtr("timeout again")},
	})
	require.NoError(t, err)

	history, err := s.KeyHistory(ctx, []string{"PO-1", "PO-2", "PO-9"})
	require.NoError(t, err)
	assert.Equal(t, 0, history["PO-1"].RetryCount)
	assert.Equal(t, "ext-1", *history["PO-1"].ExternalID)
	assert.Equal(t, 2, history["PO-2"].RetryCount)
	assert.Equal(t, "timeout again", history["PO-2"].LastError)
	assert.Nil(t, history["PO-2"].ExternalID)
	_, ok := history["PO-9"]
	assert.False(t, ok)
}

func TestStagingStore_ResetRow(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t, "store_reset")
	s := NewStagingStore(db)

	b := newBatch("b-1", "Acme", "PO-1", "PO-2")
	require.NoError(t, s.Persist(ctx, b))

	assert.ErrorIs(t, s.ResetRow(ctx, b.Rows[0].ID), ErrInvalidTransition)
	assert.ErrorIs(t, s.ResetRow(ctx, 9999), ErrNotFound)

	require.NoError(t, s.MarkProcessing(ctx, "b-1", nil))
	_, err := s.ApplyOutcomes(ctx, "b-1", []RowOutcome{
		{RowID: b.Rows[0].ID, Status: models.RowSuccess, ExternalID: strPtr("ext-1")},
		{RowID: b.Rows[1].ID, Status: models.RowError, Error: strPtr("rejected")},
	})
	require.NoError(t, err)

	require.NoError(t, s.ResetRow(ctx, b.Rows[1].ID))

	got, err := s.GetBatch(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, models.BatchPending, got.Status)
	assert.Equal(t, models.RowSuccess, got.Rows[0].Status)
	assert.Equal(t, models.RowPending, got.Rows[1].Status)
	assert.Equal(t, 0, got.Rows[1].RetryCount)
	assert.Nil(t, got.Rows[1].LastError)

	t.Run("Refuses Key Owned Elsewhere", func(t *testing.T) {
		other := newBatch("b-2", "Acme", "PO-7")
		require.NoError(t, s.Persist(ctx, other))
		require.NoError(t, s.MarkProcessing(ctx, "b-2", nil))
		_, err := s.ApplyOutcomes(ctx, "b-2", []RowOutcome{{RowID: other.Rows[0].ID, Status: models.RowError}})
		require.NoError(t, err)

		require.NoError(t, s.Persist(ctx, newBatch("b-3", "Acme", "PO-7")))
		assert.ErrorIs(t, s.ResetRow(ctx, other.Rows[0].ID), ErrInFlight)
	})

	t.Run("Refuses Superseded Row", func(t *testing.T) {
		failed := newBatch("b-4", "Acme", "PO-9")
		require.NoError(t, s.Persist(ctx, failed))
		require.NoError(t, s.MarkProcessing(ctx, "b-4", nil))
		_, err := s.ApplyOutcomes(ctx, "b-4", []RowOutcome{{RowID: failed.Rows[0].ID, Status: models.RowError}})
		require.NoError(t, err)

		later := newBatch("b-5", "Acme", "PO-9")
		require.NoError(t, s.Persist(ctx, later))
		require.NoError(t, s.MarkProcessing(ctx, "b-5", nil))
		_, err = s.ApplyOutcomes(ctx, "b-5", []RowOutcome{{RowID: later.Rows[0].ID, Status: models.RowSuccess, ExternalID: strPtr("ext-9")}})
		require.NoError(t, err)

		assert.ErrorIs(t, s.ResetRow(ctx, failed.Rows[0].ID), ErrInvalidTransition)

		got, err := s.GetBatch(ctx, "b-4")
		require.NoError(t, err)
		assert.Equal(t, models.RowError, got.Rows[0].Status)
	})
}

func TestStagingStore_AbandonBatch(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t, "store_abandon")
	s := NewStagingStore(db)

	b := newBatch("b-1", "Acme", "PO-1", "PO-2")
	require.NoError(t, s.Persist(ctx, b))

	_, err := s.AbandonBatch(ctx, "b-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, s.MarkProcessing(ctx, "b-1", nil))
	require.NoError(t, s.UpdateRowStatus(ctx, b.Rows[0].ID, models.RowSuccess, strPtr("ext-1"), nil))

	status, err := s.AbandonBatch(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, models.BatchPartial, status)

	got, err := s.GetBatch(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, models.RowError, got.Rows[1].Status)
	assert.Equal(t, AbandonedReason, *got.Rows[1].LastError)
	assert.Equal(t, 1, got.Rows[1].RetryCount)

	_, err = s.AbandonBatch(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
