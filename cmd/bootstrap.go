package cmd

import (
	"fmt"

	"delta-sync/core/config"
	"delta-sync/core/configsrc"
	"delta-sync/core/database"
	"delta-sync/core/logger"
	"delta-sync/core/storage"
	"delta-sync/feature/deltasync"
	"delta-sync/feature/integrity"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// runtime is the wiring shared by every command.
type runtime struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *gorm.DB
	store   storage.Client
	fetcher configsrc.Fetcher
}

// needsStorage reports whether any sync setting reads or writes the bucket.
func needsStorage(cfg *config.Config) bool {
	return cfg.Sync.ConfigSource == configsrc.KindStorage || cfg.Sync.ArchiveReports
}

// bootstrap loads configuration, then builds the logger, database connection,
// storage client and config fetcher in that order.
func bootstrap() (*runtime, error) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logg, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database connection required: %w", err)
	}

	rt := &runtime{cfg: cfg, logger: logg, db: db}
	if needsStorage(cfg) {
		rt.store, err = storage.NewClient(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
	}

	rt.fetcher, err = configsrc.NewFetcher(cfg.Sync.ConfigSource, cfg.Sync.ConfigDir, rt.store, cfg.Storage.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to create config fetcher: %w", err)
	}
	return rt, nil
}

func (rt *runtime) syncService() *deltasync.Service {
	return deltasync.NewService(rt.db, rt.cfg.Sync, rt.fetcher, rt.store, rt.cfg.Storage.Bucket, rt.logger)
}

func (rt *runtime) integrityService() *integrity.Service {
	return integrity.NewService(rt.store, rt.cfg.Storage.Bucket, rt.logger, rt.db, rt.cfg.Sync, rt.fetcher)
}
