package store

import (
	"context"
	"fmt"

	"delta-sync/feature/deltasync/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// rowTransitions lists the statuses a row may move to from each status.
// ERROR -> PENDING is only reachable through ResetRow.
var rowTransitions = map[models.RowStatus][]models.RowStatus{
	models.RowPending:    {models.RowProcessing},
	models.RowProcessing: {models.RowSuccess, models.RowError},
}

func allowedFrom(to models.RowStatus) []models.RowStatus {
	var from []models.RowStatus
	for f, tos := range rowTransitions {
		for _, t := range tos {
			if t == to {
				from = append(from, f)
			}
		}
	}
	return from
}

// RowOutcome is the terminal result for one staging row.
type RowOutcome struct {
	RowID      uint
	Status     models.RowStatus
	ExternalID *string
	Error      *string
}

// KeyHistory summarizes earlier staging attempts for one natural key.
type KeyHistory struct {
	// RetryCount is carried over by the next staging record of the key.
	RetryCount int
	LastError  string
	// ExternalID is the id returned by the latest successful sync, if any.
	ExternalID *string
}

// StagingStore persists batches and their rows.
type StagingStore struct {
	db   *gorm.DB
	opts options
}

// NewStagingStore creates a staging store on db.
func NewStagingStore(db *gorm.DB, opts ...Option) *StagingStore {
	return &StagingStore{db: db, opts: buildOptions(opts)}
}

// Persist writes the batch and all its rows as PENDING in one transaction.
func (s *StagingStore) Persist(ctx context.Context, batch *models.Batch) error {
	if len(batch.Rows) == 0 {
		return ErrEmptyBatch
	}

	now := s.opts.now()
	batch.Status = models.BatchPending
	batch.CreatedAt = now
	batch.UpdatedAt = now
	for i := range batch.Rows {
		row := &batch.Rows[i]
		row.BatchID = batch.ID
		row.Position = i
		row.Status = models.RowPending
		row.CreatedAt = now
		row.UpdatedAt = now
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Rows").Create(batch).Error; err != nil {
			return fmt.Errorf("failed to insert batch %s: %w", batch.ID, err)
		}
		if err := tx.Create(&batch.Rows).Error; err != nil {
			return fmt.Errorf("failed to insert rows of batch %s: %w", batch.ID, err)
		}
		return nil
	})
}

// UpdateRowStatus moves one row to status and finalizes its batch once every
// row is terminal.
func (s *StagingStore) UpdateRowStatus(ctx context.Context, rowID uint, status models.RowStatus, externalID, errMsg *string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := s.updateRow(tx, RowOutcome{RowID: rowID, Status: status, ExternalID: externalID, Error: errMsg})
		if err != nil {
			return err
		}
		_, err = s.finalize(tx, row.BatchID)
		return err
	})
}

func (s *StagingStore) updateRow(tx *gorm.DB, o RowOutcome) (*models.StagingRecord, error) {
	var row models.StagingRecord
	if err := tx.First(&row, o.RowID).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("row %d", o.RowID))
	}

	updates := map[string]any{
		"status":     o.Status,
		"updated_at": s.opts.now(),
	}
	switch o.Status {
	case models.RowSuccess:
		updates["external_id"] = o.ExternalID
		updates["last_error"] = nil
	case models.RowError:
		updates["retry_count"] = gorm.Expr("retry_count + ?", 1)
		updates["last_error"] = o.Error
	}

	res := tx.Model(&models.StagingRecord{}).
		Where("id = ? AND status IN ?", o.RowID, allowedFrom(o.Status)).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update row %d: %w", o.RowID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("row %d %s -> %s: %w", o.RowID, row.Status, o.Status, ErrInvalidTransition)
	}
	return &row, nil
}

// finalize closes the batch when no row is left non-terminal and returns the
// batch status after the check.
func (s *StagingStore) finalize(tx *gorm.DB, batchID string) (models.BatchStatus, error) {
	var counts []struct {
		Status models.RowStatus
		N      int64
	}
	if err := tx.Model(&models.StagingRecord{}).
		Select("status, count(*) as n").
		Where("batch_id = ?", batchID).
		Group("status").
		Scan(&counts).Error; err != nil {
		return "", fmt.Errorf("failed to count rows of batch %s: %w", batchID, err)
	}

	var succeeded, failed, open int64
	for _, c := range counts {
		switch c.Status {
		case models.RowSuccess:
			succeeded += c.N
		case models.RowError:
			failed += c.N
		default:
			open += c.N
		}
	}

	var batch models.Batch
	if err := tx.First(&batch, "id = ?", batchID).Error; err != nil {
		return "", notFound(err, "batch "+batchID)
	}
	if open > 0 {
		return batch.Status, nil
	}

	status := models.BatchPartial
	switch {
	case failed == 0:
		status = models.BatchSuccess
	case succeeded == 0:
		status = models.BatchFailed
	}

	if err := tx.Model(&models.Batch{}).Where("id = ?", batchID).
		Updates(map[string]any{"status": status, "updated_at": s.opts.now()}).Error; err != nil {
		return "", fmt.Errorf("failed to finalize batch %s: %w", batchID, err)
	}
	return status, nil
}

// ListBatches returns batches with their rows in position order, oldest first.
// No statuses means every batch.
func (s *StagingStore) ListBatches(ctx context.Context, statuses ...models.BatchStatus) ([]models.Batch, error) {
	q := s.db.WithContext(ctx).
		Preload("Rows", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Order("created_at ASC, id ASC")
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}

	var batches []models.Batch
	if err := q.Find(&batches).Error; err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	return batches, nil
}

// GetBatch loads one batch with its rows.
func (s *StagingStore) GetBatch(ctx context.Context, batchID string) (*models.Batch, error) {
	var batch models.Batch
	err := s.db.WithContext(ctx).
		Preload("Rows", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&batch, "id = ?", batchID).Error
	if err != nil {
		return nil, notFound(err, "batch "+batchID)
	}
	return &batch, nil
}

// MarkProcessing moves a PENDING batch and its PENDING rows to PROCESSING,
// storing each row's mapped fields.
func (s *StagingStore) MarkProcessing(ctx context.Context, batchID string, mapped map[uint]map[string]any) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.opts.now()
		res := tx.Model(&models.Batch{}).
			Where("id = ? AND status = ?", batchID, models.BatchPending).
			Updates(map[string]any{"status": models.BatchProcessing, "updated_at": now})
		if res.Error != nil {
			return fmt.Errorf("failed to mark batch %s processing: %w", batchID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("batch %s is not pending: %w", batchID, ErrInvalidTransition)
		}

		var rows []models.StagingRecord
		if err := tx.Where("batch_id = ? AND status = ?", batchID, models.RowPending).Find(&rows).Error; err != nil {
			return fmt.Errorf("failed to load rows of batch %s: %w", batchID, err)
		}
		for _, row := range rows {
			updates := map[string]any{"status": models.RowProcessing, "updated_at": now}
			if fields, ok := mapped[row.ID]; ok {
				updates["mapped_fields"] = datatypes.JSONMap(fields)
			}
			if err := tx.Model(&models.StagingRecord{}).Where("id = ?", row.ID).Updates(updates).Error; err != nil {
				return fmt.Errorf("failed to mark row %d processing: %w", row.ID, err)
			}
		}
		return nil
	})
}

// ApplyOutcomes records row outcomes in one transaction and finalizes the batch
// when every row is terminal. It returns the resulting batch status.
func (s *StagingStore) ApplyOutcomes(ctx context.Context, batchID string, outcomes []RowOutcome) (models.BatchStatus, error) {
	var status models.BatchStatus
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, o := range outcomes {
			row, err := s.updateRow(tx, o)
			if err != nil {
				return err
			}
			if row.BatchID != batchID {
				return fmt.Errorf("row %d belongs to batch %s, not %s: %w", o.RowID, row.BatchID, batchID, ErrInvalidTransition)
			}
		}
		var err error
		status, err = s.finalize(tx, batchID)
		return err
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

// InFlightKeys returns, for each of keys owned by a PENDING or PROCESSING row,
// the id of the batch holding it.
func (s *StagingStore) InFlightKeys(ctx context.Context, keys []string) (map[string]string, error) {
	owners := make(map[string]string)
	for _, chunk := range chunks(keys) {
		var rows []models.StagingRecord
		err := s.db.WithContext(ctx).
			Select("natural_key", "batch_id").
			Where("natural_key IN ? AND status IN ?", chunk, []models.RowStatus{models.RowPending, models.RowProcessing}).
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("failed to query in-flight keys: %w", err)
		}
		for _, r := range rows {
			owners[r.NaturalKey] = r.BatchID
		}
	}
	return owners, nil
}

// KeyHistory returns the carried-over retry state of keys. A SUCCESS row resets
// the count; the latest ERROR row after it sets the count and reason.
func (s *StagingStore) KeyHistory(ctx context.Context, keys []string) (map[string]KeyHistory, error) {
	history := make(map[string]KeyHistory)
	for _, chunk := range chunks(keys) {
		var rows []models.StagingRecord
		err := s.db.WithContext(ctx).
			Select("id", "natural_key", "status", "external_id", "retry_count", "last_error").
			Where("natural_key IN ? AND status IN ?", chunk, []models.RowStatus{models.RowSuccess, models.RowError}).
			Order("id ASC").
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("failed to query key history: %w", err)
		}

		for _, r := range rows {
			h := history[r.NaturalKey]
			switch r.Status {
			case models.RowSuccess:
				h.RetryCount = 0
				h.LastError = ""
				if r.ExternalID != nil {
					h.ExternalID = r.ExternalID
				}
			case models.RowError:
				h.RetryCount = r.RetryCount
				if r.LastError != nil {
					h.LastError = *r.LastError
				}
			}
			history[r.NaturalKey] = h
		}
	}
	return history, nil
}

// ResetRow returns an ERROR row to PENDING for replay and reopens its batch.
func (s *StagingStore) ResetRow(ctx context.Context, rowID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.StagingRecord
		if err := tx.First(&row, rowID).Error; err != nil {
			return notFound(err, fmt.Sprintf("row %d", rowID))
		}
		if row.Status != models.RowError {
			return fmt.Errorf("row %d is %s: %w", rowID, row.Status, ErrInvalidTransition)
		}

		var owner int64
		if err := tx.Model(&models.StagingRecord{}).
			Where("natural_key = ? AND status IN ?", row.NaturalKey, []models.RowStatus{models.RowPending, models.RowProcessing}).
			Count(&owner).Error; err != nil {
			return fmt.Errorf("failed to check key %s: %w", row.NaturalKey, err)
		}
		if owner > 0 {
			return fmt.Errorf("row %d key %s: %w", rowID, row.NaturalKey, ErrInFlight)
		}

		// A newer row carries fresher fields and, after a success, the external id;
		// replaying the older one would resend stale data as a create.
		var newer int64
		if err := tx.Model(&models.StagingRecord{}).
			Where("natural_key = ? AND id > ?", row.NaturalKey, row.ID).
			Count(&newer).Error; err != nil {
			return fmt.Errorf("failed to check key %s: %w", row.NaturalKey, err)
		}
		if newer > 0 {
			return fmt.Errorf("row %d key %s superseded by a later attempt: %w", rowID, row.NaturalKey, ErrInvalidTransition)
		}

		now := s.opts.now()
		if err := tx.Model(&models.StagingRecord{}).Where("id = ?", rowID).Updates(map[string]any{
			"status":      models.RowPending,
			"retry_count": 0,
			"last_error":  nil,
			"updated_at":  now,
		}).Error; err != nil {
			return fmt.Errorf("failed to reset row %d: %w", rowID, err)
		}
		if err := tx.Model(&models.Batch{}).Where("id = ?", row.BatchID).
			Updates(map[string]any{"status": models.BatchPending, "updated_at": now}).Error; err != nil {
			return fmt.Errorf("failed to reopen batch %s: %w", row.BatchID, err)
		}
		return nil
	})
}

// AbandonBatch closes a stale PROCESSING batch: its PROCESSING rows become ERROR
// and the batch is finalized.
func (s *StagingStore) AbandonBatch(ctx context.Context, batchID string) (models.BatchStatus, error) {
	var status models.BatchStatus
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch models.Batch
		if err := tx.First(&batch, "id = ?", batchID).Error; err != nil {
			return notFound(err, "batch "+batchID)
		}
		if batch.Status != models.BatchProcessing {
			return fmt.Errorf("batch %s is %s: %w", batchID, batch.Status, ErrInvalidTransition)
		}

		reason := AbandonedReason
		if err := tx.Model(&models.StagingRecord{}).
			Where("batch_id = ? AND status = ?", batchID, models.RowProcessing).
			Updates(map[string]any{
				"status":      models.RowError,
				"retry_count": gorm.Expr("retry_count + ?", 1),
				"last_error":  &reason,
				"updated_at":  s.opts.now(),
			}).Error; err != nil {
			return fmt.Errorf("failed to abandon rows of batch %s: %w", batchID, err)
		}

		var err error
		status, err = s.finalize(tx, batchID)
		return err
	})
	if err != nil {
		return "", err
	}
	return status, nil
}
