package batcher

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"

	"delta-sync/core/retry"
	"delta-sync/feature/deltasync/canonical"
	"delta-sync/feature/deltasync/models"
	"delta-sync/feature/deltasync/store"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DefaultMaxBatchSize applies when Options.MaxBatchSize is not positive.
const DefaultMaxBatchSize = 50

// StagingIndex is the read side of the staging store used for admission control.
type StagingIndex interface {
	InFlightKeys(ctx context.Context, keys []string) (map[string]string, error)
	KeyHistory(ctx context.Context, keys []string) (map[string]store.KeyHistory, error)
}

// Persister writes a batch atomically.
type Persister interface {
	Persist(ctx context.Context, batch *models.Batch) error
}

// Resolver maps raw customer names to canonical names.
type Resolver interface {
	Resolve(raw string) canonical.Resolution
}

// Options configures batching.
type Options struct {
	MaxBatchSize int
	// RetryCeiling excludes keys whose carried-over retry count reached it. Zero disables the check.
	RetryCeiling int
	// Persist is the retry policy for writing a batch.
	Persist retry.Policy
	// NewID generates batch ids.
	NewID func() string
}

// Deferral is a key held back because another in-flight batch owns it.
type Deferral struct {
	NaturalKey string `json:"natural_key"`
	BatchID    string `json:"batch_id"`
}

// Plan is the set of batches to stage for one run, plus what was held back.
type Plan struct {
	Batches     []*models.Batch
	Detected    map[models.ChangeType]int
	Deferred    []Deferral
	Exhausted   []models.ExhaustedRow
	ReviewNames []string
	Deleted     []string
}

// Rows returns the number of rows across planned batches.
func (p *Plan) Rows() int {
	n := 0
	for _, b := range p.Batches {
		n += len(b.Rows)
	}
	return n
}

// Admission is the outcome of staging one planned batch.
type Admission struct {
	Batch    *models.Batch
	Deferred []Deferral
	Staged   bool
	Attempts int
	// Err is set when the batch could not be persisted; nothing of it was written.
	Err error
}

// Batcher groups change records into customer-scoped batches.
type Batcher struct {
	resolver Resolver
	index    StagingIndex
	opts     Options
}

// New creates a batcher.
func New(resolver Resolver, index StagingIndex, opts Options) *Batcher {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = DefaultMaxBatchSize
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Batcher{resolver: resolver, index: index, opts: opts}
}

type group struct {
	customer string
	records  []candidate
}

type candidate struct {
	rec models.ChangeRecord
	res canonical.Resolution
}

// Plan consumes the change records and builds the batches to stage. NEW and
// CHANGED records are grouped by canonical customer in natural-key order; keys
// owned by an in-flight batch are deferred and keys at the retry ceiling are
// reported as exhausted.
func (b *Batcher) Plan(ctx context.Context, records iter.Seq[models.ChangeRecord]) (*Plan, error) {
	plan := &Plan{Detected: make(map[models.ChangeType]int)}
	groups := make(map[string]*group)
	var resolutions []canonical.Resolution
	var keys []string

	for rec := range records {
		plan.Detected[rec.ChangeType]++
		switch rec.ChangeType {
		case models.ChangeDeleted:
			plan.Deleted = append(plan.Deleted, rec.NaturalKey)
			continue
		case models.ChangeNew, models.ChangeChanged:
		default:
			continue
		}

		res := b.resolver.Resolve(rec.Customer)
		resolutions = append(resolutions, res)

		id := canonical.Normalize(res.Name)
		g, ok := groups[id]
		if !ok {
			g = &group{customer: res.Name}
			groups[id] = g
		}
		g.records = append(g.records, candidate{rec: rec, res: res})
		keys = append(keys, rec.NaturalKey)
	}
	plan.ReviewNames = canonical.ReviewNames(resolutions)

	if len(keys) == 0 {
		return plan, nil
	}

	owners, err := b.index.InFlightKeys(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to check in-flight keys: %w", err)
	}
	history, err := b.index.KeyHistory(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to load key history: %w", err)
	}

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		g := groups[id]
		slices.SortFunc(g.records, func(x, y candidate) int {
			return strings.Compare(x.rec.NaturalKey, y.rec.NaturalKey)
		})

		var rows []models.StagingRecord
		for _, c := range g.records {
			key := c.rec.NaturalKey
			if owner, busy := owners[key]; busy {
				plan.Deferred = append(plan.Deferred, Deferral{NaturalKey: key, BatchID: owner})
				continue
			}

			h := history[key]
			if b.opts.RetryCeiling > 0 && h.RetryCount >= b.opts.RetryCeiling {
				plan.Exhausted = append(plan.Exhausted, models.ExhaustedRow{
					NaturalKey: key,
					Customer:   g.customer,
					RetryCount: h.RetryCount,
					LastError:  h.LastError,
				})
				continue
			}

			rows = append(rows, newRecord(c, h))
		}

		for start := 0; start < len(rows); start += b.opts.MaxBatchSize {
			end := min(start+b.opts.MaxBatchSize, len(rows))
			plan.Batches = append(plan.Batches, &models.Batch{
				ID:       b.opts.NewID(),
				Customer: g.customer,
				Status:   models.BatchPending,
				Rows:     slices.Clone(rows[start:end]),
			})
		}
	}

	return plan, nil
}

func newRecord(c candidate, h store.KeyHistory) models.StagingRecord {
	var fields datatypes.JSONMap
	if c.rec.Row != nil {
		fields = datatypes.JSONMap(c.rec.Row.Fields)
	}
	return models.StagingRecord{
		NaturalKey:     c.rec.NaturalKey,
		Customer:       c.res.Name,
		CustomerStatus: c.res.Status,
		Fingerprint:    c.rec.Current,
		Fields:         fields,
		Status:         models.RowPending,
		RetryCount:     h.RetryCount,
		TargetID:       h.ExternalID,
	}
}

// Admit re-checks the batch keys against in-flight staging rows immediately
// before persisting, drops rows that became owned elsewhere, and persists the
// rest under the persist retry policy. A persist failure is reported in the
// Admission; only a failing in-flight check is returned as an error.
func (b *Batcher) Admit(ctx context.Context, p Persister, batch *models.Batch) (Admission, error) {
	adm := Admission{Batch: batch}

	owners, err := b.index.InFlightKeys(ctx, batch.Keys())
	if err != nil {
		return adm, fmt.Errorf("failed to re-check in-flight keys: %w", err)
	}
	if len(owners) > 0 {
		kept := batch.Rows[:0]
		for _, row := range batch.Rows {
			if owner, busy := owners[row.NaturalKey]; busy {
				adm.Deferred = append(adm.Deferred, Deferral{NaturalKey: row.NaturalKey, BatchID: owner})
				continue
			}
			kept = append(kept, row)
		}
		batch.Rows = kept
	}
	if len(batch.Rows) == 0 {
		return adm, nil
	}

	adm.Attempts, adm.Err = b.opts.Persist.Do(ctx, func(ctx context.Context, _ int) error {
		return p.Persist(ctx, batch)
	})
	adm.Staged = adm.Err == nil
	return adm, nil
}
