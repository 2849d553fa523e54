package integrity

import (
	"context"
	"fmt"

	"delta-sync/core/configsrc"
	"delta-sync/core/logger"
	"delta-sync/core/storage"
	"delta-sync/feature/deltasync"
	"delta-sync/feature/deltasync/mapping"
	"delta-sync/feature/integrity/checks"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service handles integrity checks.
type Service struct {
	client   storage.Client
	bucket   string
	logger   *zap.Logger
	db       *gorm.DB
	settings deltasync.Config
	fetcher  configsrc.Fetcher
}

// NewService creates a new integrity service. client may be nil when neither
// config objects nor reports live in object storage.
func NewService(client storage.Client, bucket string, l *zap.Logger, db *gorm.DB, settings deltasync.Config, fetcher configsrc.Fetcher) *Service {
	return &Service{
		client:   client,
		bucket:   bucket,
		logger:   logger.OrNop(l),
		db:       db,
		settings: settings,
		fetcher:  fetcher,
	}
}

// Folders returns the bucket folders the engine writes to.
func (s *Service) Folders() []string {
	if !s.settings.ArchiveReports || s.settings.ReportPrefix == "" {
		return nil
	}
	return []string{s.settings.ReportPrefix}
}

// CheckStructure returns a list of missing folders.
func (s *Service) CheckStructure(ctx context.Context) ([]string, error) {
	folders := s.Folders()
	if len(folders) == 0 {
		return nil, nil
	}
	if s.client == nil {
		return nil, fmt.Errorf("report archiving is enabled but no storage client is configured")
	}
	return checks.CheckStructure(ctx, s.client, s.bucket, folders)
}

// FixStructure creates the missing folders.
func (s *Service) FixStructure(ctx context.Context, missing []string) error {
	return checks.FixStructure(ctx, s.client, s.bucket, s.logger, missing)
}

// CheckConfig returns the config objects missing from the bucket. It checks
// nothing when config is read from local files.
func (s *Service) CheckConfig(ctx context.Context) ([]string, error) {
	if s.settings.ConfigSource != configsrc.KindStorage {
		return nil, nil
	}
	if s.client == nil {
		return nil, fmt.Errorf("config source is storage but no storage client is configured")
	}
	return checks.CheckConfigObjects(ctx, s.client, s.bucket, []string{s.settings.MappingFile, s.settings.CustomersFile})
}

// RequiredSourceColumns returns the key, customer and business columns plus
// every source field the mapping rules read.
func (s *Service) RequiredSourceColumns(ctx context.Context) ([]string, error) {
	src := s.settings.Source
	cols := []string{src.KeyColumn, src.CustomerColumn}
	cols = append(cols, src.Fields...)
	cols = append(cols, src.ExcludedFields...)

	if s.fetcher == nil {
		return cols, nil
	}
	mapper, err := mapping.Load(ctx, configsrc.NewCache(s.fetcher), s.settings.MappingFile)
	if err != nil {
		return cols, err
	}
	for _, r := range mapper.Rules() {
		cols = append(cols, r.Sources()...)
	}
	return cols, nil
}

// CheckSource verifies the source table columns.
func (s *Service) CheckSource(ctx context.Context) (*checks.SchemaReport, error) {
	cols, err := s.RequiredSourceColumns(ctx)
	report, cerr := checks.CheckSource(s.db, s.settings.Source.Table, cols)
	if cerr != nil {
		return nil, cerr
	}
	if err != nil {
		report.Matched = false
		report.Errors = append(report.Errors, err.Error())
	}
	return report, nil
}

// CheckSchema verifies the snapshot and staging tables.
func (s *Service) CheckSchema() (*checks.SchemaReport, error) {
	return checks.CheckStagingSchema(s.db)
}
