package deltasync

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"delta-sync/core/logger"
	"delta-sync/core/retry"
	"delta-sync/core/storage"
	"delta-sync/feature/deltasync/batcher"
	"delta-sync/feature/deltasync/canonical"
	"delta-sync/feature/deltasync/client"
	"delta-sync/feature/deltasync/detect"
	"delta-sync/feature/deltasync/fingerprint"
	"delta-sync/feature/deltasync/mapping"
	"delta-sync/feature/deltasync/models"
	"delta-sync/feature/deltasync/reconcile"
	"delta-sync/feature/deltasync/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// sampleSize caps the entries logged per summary list.
const sampleSize = 5

// ErrNoAPI is returned when a batch must be sent but no API is configured.
var ErrNoAPI = errors.New("no external api configured")

// RowSource reads the current rows of the system of record.
type RowSource interface {
	Read(ctx context.Context) ([]models.SourceRow, error)
}

// RunOptions bound one run.
type RunOptions struct {
	// DryRun detects and plans without staging, sending or advancing snapshots.
	DryRun bool `json:"dry_run"`
	// Customer restricts the run to one canonical customer.
	Customer string `json:"customer"`
	// Limit caps the NEW and CHANGED records taken into the run.
	Limit int `json:"limit"`
}

// Dependencies are the stores and transports an engine works on.
type Dependencies struct {
	Source    RowSource
	Staging   *store.StagingStore
	Snapshots *store.SnapshotStore
	// API may be nil for engines that only dry-run.
	API API
	// Reports receives archived run summaries when archiving is enabled.
	Reports storage.Client
	Bucket  string
	Logger  *zap.Logger
	Now     func() time.Time
	NewID   func() string
}

// API is the external service transport.
type API = client.API

// Engine runs the detect, batch, map, send and reconcile pipeline.
type Engine struct {
	cfg        *RunConfig
	deps       Dependencies
	logger     *zap.Logger
	detector   *detect.Detector
	batcher    *batcher.Batcher
	client     *client.Client
	reconciler *reconcile.Reconciler
	now        func() time.Time
	newID      func() string
}

// NewEngine wires the pipeline components from cfg.
func NewEngine(cfg *RunConfig, deps Dependencies) (*Engine, error) {
	if deps.Source == nil || deps.Staging == nil || deps.Snapshots == nil {
		return nil, fmt.Errorf("engine requires a source, a staging store and a snapshot store")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	l := logger.OrNop(deps.Logger)
	s := cfg.Settings

	hasher := fingerprint.New(s.Source.Fields,
		fingerprint.WithExcluded(s.Source.ExcludedFields...),
		fingerprint.WithPrecision(int32(s.Source.NumericPrecision)))

	e := &Engine{
		cfg:      cfg,
		deps:     deps,
		logger:   l,
		detector: detect.New(hasher, deps.Snapshots),
		batcher: batcher.New(cfg.Resolver, deps.Staging, batcher.Options{
			MaxBatchSize: s.MaxBatchSize,
			RetryCeiling: s.RetryCeiling,
			Persist:      retry.Policy{MaxAttempts: 2},
			NewID:        deps.NewID,
		}),
		reconciler: reconcile.New(deps.Staging, deps.Snapshots, l, reconcile.WithClock(deps.Now)),
		now:        deps.Now,
		newID:      deps.NewID,
	}

	if deps.API != nil {
		c, err := client.New(deps.API, s.API.Budget(), s.API.Policy(), l)
		if err != nil {
			return nil, fmt.Errorf("failed to create api client: %w", err)
		}
		e.client = c
	}
	return e, nil
}

// Run executes one sync run. It always returns a summary; the error is set
// only for infrastructure faults that stopped the run early.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*models.RunSummary, error) {
	runID := e.newID()
	summary := models.NewRunSummary(runID, opts.DryRun, e.now())
	l := logger.WithRun(e.logger, runID)

	if d := e.cfg.Deadline(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	l.Info("Sync run started",
		zap.Bool("dry_run", opts.DryRun),
		zap.String("customer", opts.Customer),
		zap.Int("limit", opts.Limit),
		zap.Int("known_customers", e.cfg.Resolver.Len()))

	err := e.run(ctx, l, opts, summary)
	if err != nil {
		summary.Errors = append(summary.Errors, err.Error())
	}
	summary.Finish(e.now())

	e.logSummary(l, summary)
	if e.cfg.Settings.ArchiveReports {
		if aerr := e.archive(context.WithoutCancel(ctx), summary); aerr != nil {
			l.Error("Failed to archive run report", zap.Error(aerr))
		}
	}
	return summary, err
}

func (e *Engine) run(ctx context.Context, l *zap.Logger, opts RunOptions, summary *models.RunSummary) error {
	stale, err := e.deps.Staging.ListBatches(ctx, models.BatchProcessing)
	if err != nil {
		return fmt.Errorf("failed to list in-flight batches: %w", err)
	}
	for _, b := range stale {
		summary.StaleBatches = append(summary.StaleBatches, b.ID)
	}
	if len(stale) > 0 {
		l.Warn("Found batches left processing by an earlier run",
			zap.Int("count", len(stale)),
			zap.Strings("batch_ids", sample(summary.StaleBatches)))
	}

	pending, err := e.deps.Staging.ListBatches(ctx, models.BatchPending)
	if err != nil {
		return fmt.Errorf("failed to list pending batches: %w", err)
	}
	var work []*models.Batch
	for i := range pending {
		if opts.Customer != "" && !e.cfg.Resolver.Same(pending[i].Customer, opts.Customer) {
			continue
		}
		work = append(work, &pending[i])
	}

	rows, err := e.deps.Source.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read source: %w", err)
	}

	filters := detect.Filters{Limit: opts.Limit}
	if opts.Customer != "" {
		filters.Customer = opts.Customer
		filters.Match = func(c string) bool { return e.cfg.Resolver.Same(c, opts.Customer) }
	}
	changes, err := e.detector.Detect(ctx, rows, filters)
	if err != nil {
		return err
	}

	plan, err := e.batcher.Plan(ctx, changes)
	if err != nil {
		return err
	}
	summary.Detected = plan.Detected
	summary.ReviewNames = plan.ReviewNames
	summary.Exhausted = plan.Exhausted
	summary.DeletedKeys = plan.Deleted
	summary.BatchesPlanned = len(plan.Batches)
	for _, d := range plan.Deferred {
		summary.Deferred = append(summary.Deferred, d.NaturalKey)
	}

	l.Info("Change detection finished",
		zap.Int("source_rows", len(rows)),
		zap.Int("new", plan.Detected[models.ChangeNew]),
		zap.Int("changed", plan.Detected[models.ChangeChanged]),
		zap.Int("unchanged", plan.Detected[models.ChangeUnchanged]),
		zap.Int("deleted", plan.Detected[models.ChangeDeleted]),
		zap.Int("batches_planned", len(plan.Batches)),
		zap.Int("batches_pending", len(work)))

	if opts.DryRun {
		summary.BatchesLeft = len(work)
		return nil
	}
	summary.BatchesResumed = len(work)

	for i, b := range plan.Batches {
		if ctx.Err() != nil {
			summary.BatchesUnstaged += len(plan.Batches) - i
			l.Warn("Run cancelled before staging finished", zap.Int("batches_not_staged", len(plan.Batches)-i))
			break
		}
		adm, err := e.batcher.Admit(ctx, e.deps.Staging, b)
		if err != nil {
			return err
		}
		for _, d := range adm.Deferred {
			summary.Deferred = append(summary.Deferred, d.NaturalKey)
		}
		switch {
		case adm.Err != nil:
			summary.BatchesUnstaged++
			summary.Errors = append(summary.Errors, fmt.Sprintf("batch %s not staged: %v", b.ID, adm.Err))
			l.Error("Failed to stage batch",
				zap.String("batch_id", b.ID),
				zap.String("customer", b.Customer),
				zap.Int("attempts", adm.Attempts),
				zap.Error(adm.Err))
		case adm.Staged:
			summary.BatchesStaged++
			work = append(work, b)
		}
	}

	e.process(ctx, l, work, summary)
	return nil
}

// process runs the batches of each customer sequentially and different
// customers concurrently. Cancellation is checked between batches; a batch
// that has started runs to completion.
func (e *Engine) process(ctx context.Context, l *zap.Logger, work []*models.Batch, summary *models.RunSummary) {
	var order []string
	byCustomer := make(map[string][]*models.Batch)
	for _, b := range work {
		id := canonical.Normalize(b.Customer)
		if _, ok := byCustomer[id]; !ok {
			order = append(order, id)
		}
		byCustomer[id] = append(byCustomer[id], b)
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(max(e.cfg.Settings.Workers, 1))

	for _, id := range order {
		batches := byCustomer[id]
		g.Go(func() error {
			for i, b := range batches {
				if ctx.Err() != nil {
					mu.Lock()
					summary.BatchesLeft += len(batches) - i
					mu.Unlock()
					l.Warn("Run deadline reached, leaving batches pending",
						zap.String("customer", b.Customer),
						zap.Int("batches", len(batches)-i))
					return nil
				}

				bs, err := e.processBatch(context.WithoutCancel(ctx), l, b)
				mu.Lock()
				if err != nil {
					summary.Errors = append(summary.Errors, fmt.Sprintf("batch %s: %v", b.ID, err))
				}
				if bs.Status != "" {
					summary.AddBatch(bs)
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
}

// processBatch maps, sends and reconciles one PENDING batch.
func (e *Engine) processBatch(ctx context.Context, l *zap.Logger, batch *models.Batch) (models.BatchSummary, error) {
	bl := l.With(zap.String("batch_id", batch.ID), zap.String("customer", batch.Customer))
	if e.client == nil {
		return models.BatchSummary{BatchID: batch.ID, Customer: batch.Customer}, ErrNoAPI
	}

	var open []models.StagingRecord
	for _, row := range batch.Rows {
		if !row.Status.Terminal() {
			open = append(open, row)
		}
	}

	mapped := make(map[uint]map[string]any, len(open))
	var outcomes []reconcile.Outcome
	var records []mapping.ExternalRecord
	var sent []models.StagingRecord
	for _, row := range open {
		res := e.cfg.Mapper.Map(row)
		if !res.OK() {
			outcomes = append(outcomes, reconcile.Outcome{
				Position:   row.Position,
				NaturalKey: row.NaturalKey,
				Status:     models.RowError,
				Error:      res.Reason(),
			})
			continue
		}
		mapped[row.ID] = res.Record.Fields
		records = append(records, res.Record)
		sent = append(sent, row)
	}

	if err := e.deps.Staging.MarkProcessing(ctx, batch.ID, mapped); err != nil {
		return models.BatchSummary{BatchID: batch.ID, Customer: batch.Customer}, err
	}
	bl.Info("Batch processing",
		zap.Int("rows", len(open)),
		zap.Int("mapped", len(records)),
		zap.Int("mapping_errors", len(outcomes)))

	if len(records) > 0 {
		report := e.client.Send(ctx, records)
		for i, res := range report.Results {
			outcomes = append(outcomes, reconcile.Outcome{
				Position:   sent[i].Position,
				NaturalKey: res.NaturalKey,
				Status:     res.Status,
				ExternalID: res.ExternalID,
				Error:      res.Error,
			})
		}
		bl.Debug("Batch sent", zap.Int("calls", len(report.Calls)), zap.Int("succeeded", report.Succeeded()))
	}

	return e.reconciler.Reconcile(ctx, &models.Batch{ID: batch.ID, Customer: batch.Customer, Rows: open}, outcomes)
}

func (e *Engine) logSummary(l *zap.Logger, s *models.RunSummary) {
	l.Info("Sync run summary",
		zap.String("status", string(s.Status)),
		zap.Duration("duration", s.FinishedAt.Sub(s.StartedAt)),
		zap.Int("batches_planned", s.BatchesPlanned),
		zap.Int("batches_staged", s.BatchesStaged),
		zap.Int("batches_resumed", s.BatchesResumed),
		zap.Int("batches_unstaged", s.BatchesUnstaged),
		zap.Int("batches_left_pending", s.BatchesLeft),
		zap.Int("rows_success", s.RowsByStatus[models.RowSuccess]),
		zap.Int("rows_error", s.RowsByStatus[models.RowError]),
		zap.Int("review_names", len(s.ReviewNames)),
		zap.Int("exhausted", len(s.Exhausted)),
		zap.Int("deferred", len(s.Deferred)),
		zap.Int("deleted", len(s.DeletedKeys)),
		zap.Int("errors", len(s.Errors)))

	if len(s.ReviewNames) > 0 {
		l.Info("Customer names needing review", zap.Strings("first_5", sample(s.ReviewNames)))
	}
	for _, row := range s.Exhausted[:min(sampleSize, len(s.Exhausted))] {
		l.Info("Row exceeded retry ceiling",
			zap.String("natural_key", row.NaturalKey),
			zap.String("customer", row.Customer),
			zap.Int("retry_count", row.RetryCount),
			zap.String("last_error", row.LastError))
	}
	if len(s.Deferred) > 0 {
		l.Info("Keys deferred to a later run", zap.Strings("first_5", sample(s.Deferred)))
	}
	for _, msg := range s.Errors[:min(sampleSize, len(s.Errors))] {
		l.Warn("Run error", zap.String("error", msg))
	}
}

func (e *Engine) archive(ctx context.Context, s *models.RunSummary) error {
	if e.deps.Reports == nil {
		return fmt.Errorf("report archiving needs a storage client")
	}
	name := path.Join(e.cfg.Settings.ReportPrefix, s.RunID+".json")
	return storage.PutJSON(ctx, e.deps.Reports, e.deps.Bucket, name, s)
}

func sample(items []string) []string {
	return items[:min(sampleSize, len(items))]
}
