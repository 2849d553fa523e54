package deltasync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"delta-sync/core/configsrc"
	"delta-sync/core/logger"
	"delta-sync/core/storage"
	"delta-sync/feature/deltasync/client"
	"delta-sync/feature/deltasync/detect"
	"delta-sync/feature/deltasync/models"
	"delta-sync/feature/deltasync/store"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrRunInProgress is returned when a run is requested while another is active.
var ErrRunInProgress = errors.New("a sync run is already in progress")

// Service exposes sync runs and staging maintenance to the CLI and HTTP API.
type Service struct {
	db        *gorm.DB
	settings  Config
	fetcher   configsrc.Fetcher
	reports   storage.Client
	bucket    string
	staging   *store.StagingStore
	snapshots *store.SnapshotStore
	api       API
	logger    *zap.Logger

	running sync.Mutex
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithAPI replaces the Monday transport built from settings.
func WithAPI(api API) ServiceOption {
	return func(s *Service) { s.api = api }
}

// NewService creates the sync service. fetcher supplies the mapping and customer
// files; reports may be nil when archiving is disabled.
func NewService(db *gorm.DB, settings Config, fetcher configsrc.Fetcher, reports storage.Client, bucket string, l *zap.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		db:        db,
		settings:  settings,
		fetcher:   fetcher,
		reports:   reports,
		bucket:    bucket,
		staging:   store.NewStagingStore(db),
		snapshots: store.NewSnapshotStore(db),
		logger:    logger.OrNop(l),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Source returns the reader over the configured source table.
func (s *Service) Source() *detect.TableSource {
	src := s.settings.Source
	var columns []string
	if len(src.Fields) > 0 {
		columns = append(append(columns, src.Fields...), src.ExcludedFields...)
	}
	return detect.NewTableSource(s.db, src.Table, src.KeyColumn, src.CustomerColumn, columns, s.logger)
}

// Run loads a fresh run config and executes one run. Only one run is active at
// a time per service.
func (s *Service) Run(ctx context.Context, opts RunOptions) (*models.RunSummary, error) {
	if !s.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.running.Unlock()

	rc, err := LoadRunConfig(ctx, s.settings, configsrc.NewCache(s.fetcher))
	if err != nil {
		return nil, err
	}

	api := s.api
	if api == nil && !opts.DryRun {
		monday, err := client.NewMondayAPI(s.settings.API.Monday())
		if err != nil {
			return nil, fmt.Errorf("failed to create monday api: %w", err)
		}
		api = monday
	}

	engine, err := NewEngine(rc, Dependencies{
		Source:    s.Source(),
		Staging:   s.staging,
		Snapshots: s.snapshots,
		API:       api,
		Reports:   s.reports,
		Bucket:    s.bucket,
		Logger:    s.logger,
	})
	if err != nil {
		return nil, err
	}
	return engine.Run(ctx, opts)
}

// ListBatches returns batches, optionally filtered by status.
func (s *Service) ListBatches(ctx context.Context, statuses ...models.BatchStatus) ([]models.Batch, error) {
	return s.staging.ListBatches(ctx, statuses...)
}

// GetBatch returns one batch with its rows.
func (s *Service) GetBatch(ctx context.Context, id string) (*models.Batch, error) {
	return s.staging.GetBatch(ctx, id)
}

// GetSnapshot returns the last confirmed state of one natural key.
func (s *Service) GetSnapshot(ctx context.Context, key string) (*models.Snapshot, error) {
	return s.snapshots.Get(ctx, key)
}

// ResetRow queues an ERROR row for replay on the next run.
func (s *Service) ResetRow(ctx context.Context, rowID uint) error {
	if err := s.staging.ResetRow(ctx, rowID); err != nil {
		return err
	}
	s.logger.Info("Staging row reset for replay", zap.Uint("row_id", rowID))
	return nil
}

// AbandonBatch closes a batch stuck in PROCESSING.
func (s *Service) AbandonBatch(ctx context.Context, id string) (models.BatchStatus, error) {
	status, err := s.staging.AbandonBatch(ctx, id)
	if err != nil {
		return "", err
	}
	s.logger.Warn("Batch abandoned", zap.String("batch_id", id), zap.String("status", string(status)))
	return status, nil
}
