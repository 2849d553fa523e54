package reconcile

import (
	"context"
	"fmt"
	"time"

	"delta-sync/core/logger"
	"delta-sync/feature/deltasync/models"
	"delta-sync/feature/deltasync/store"

	"go.uber.org/zap"
)

// ReasonNoResult is recorded for a row the API results do not account for.
const ReasonNoResult = "no result returned for row"

// OutcomeWriter applies terminal row outcomes and finalizes the batch.
type OutcomeWriter interface {
	ApplyOutcomes(ctx context.Context, batchID string, outcomes []store.RowOutcome) (models.BatchStatus, error)
}

// SnapshotWriter advances snapshots.
type SnapshotWriter interface {
	Advance(ctx context.Context, snaps []models.Snapshot) error
}

// Outcome is the result for the batch row at Position.
type Outcome struct {
	Position   int
	NaturalKey string
	Status     models.RowStatus
	ExternalID string
	Error      string
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithClock overrides the time stamped on advanced snapshots.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// Reconciler writes API results back to staging and advances snapshots for
// rows that succeeded.
type Reconciler struct {
	staging   OutcomeWriter
	snapshots SnapshotWriter
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a reconciler.
func New(staging OutcomeWriter, snapshots SnapshotWriter, l *zap.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{staging: staging, snapshots: snapshots, logger: logger.OrNop(l), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile correlates outcomes with the batch's open rows by position and
// natural key. Every open row becomes terminal: a row without a matching
// outcome is marked ERROR. Snapshots advance only for SUCCESS rows, after the
// batch has been finalized.
func (r *Reconciler) Reconcile(ctx context.Context, batch *models.Batch, outcomes []Outcome) (models.BatchSummary, error) {
	summary := models.BatchSummary{BatchID: batch.ID, Customer: batch.Customer}

	byPosition := make(map[int]Outcome, len(outcomes))
	for _, o := range outcomes {
		byPosition[o.Position] = o
	}

	var applied []store.RowOutcome
	var advance []models.Snapshot
	now := r.now()

	for _, row := range batch.Rows {
		if row.Status.Terminal() {
			continue
		}

		o, ok := byPosition[row.Position]
		if ok && o.NaturalKey != row.NaturalKey {
			r.logger.Warn("Result does not match row",
				zap.String("batch_id", batch.ID),
				zap.Int("position", row.Position),
				zap.String("row_key", row.NaturalKey),
				zap.String("result_key", o.NaturalKey))
			ok = false
		}

		ro := store.RowOutcome{RowID: row.ID}
		switch {
		case ok && o.Status == models.RowSuccess && o.ExternalID != "":
			id := o.ExternalID
			ro.Status = models.RowSuccess
			ro.ExternalID = &id
			summary.Succeeded++
			advance = append(advance, models.Snapshot{
				NaturalKey:   row.NaturalKey,
				Fingerprint:  row.Fingerprint,
				Customer:     row.Customer,
				LastSyncedAt: now,
			})
		default:
			reason := ReasonNoResult
			if ok && o.Error != "" {
				reason = o.Error
			}
			ro.Status = models.RowError
			ro.Error = &reason
			summary.Failed++
		}
		applied = append(applied, ro)
	}

	status, err := r.staging.ApplyOutcomes(ctx, batch.ID, applied)
	if err != nil {
		return summary, fmt.Errorf("failed to apply outcomes of batch %s: %w", batch.ID, err)
	}
	summary.Status = status

	if err := r.snapshots.Advance(ctx, advance); err != nil {
		return summary, fmt.Errorf("failed to advance snapshots of batch %s: %w", batch.ID, err)
	}
	summary.Advanced = len(advance)

	r.logger.Info("Batch reconciled",
		zap.String("batch_id", batch.ID),
		zap.String("customer", batch.Customer),
		zap.String("status", string(status)),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed))
	return summary, nil
}
