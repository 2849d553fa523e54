package detect

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"

	"delta-sync/feature/deltasync/models"
)

// SnapshotReader provides the last synced state of every key.
type SnapshotReader interface {
	LoadIndex(ctx context.Context) (map[string]models.Snapshot, error)
}

// Hasher fingerprints a source row.
type Hasher interface {
	Fingerprint(row models.SourceRow) models.Fingerprint
}

// Filters bound the cost of a run. They select which records are emitted and
// never change how a record is classified.
type Filters struct {
	// Customer keeps records whose source or snapshot customer matches. Empty keeps all.
	Customer string
	// Match overrides the customer comparison, e.g. to compare canonical names.
	Match func(customer string) bool
	// Limit caps the number of NEW and CHANGED records emitted. Zero means no cap.
	Limit int
}

func (f Filters) matches(customers ...string) bool {
	if f.Customer == "" && f.Match == nil {
		return true
	}
	match := f.Match
	if match == nil {
		want := normalize(f.Customer)
		match = func(c string) bool { return normalize(c) == want }
	}
	for _, c := range customers {
		if c != "" && match(c) {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Detector diffs current source rows against the snapshot.
type Detector struct {
	hasher    Hasher
	snapshots SnapshotReader
}

// New creates a detector.
func New(hasher Hasher, snapshots SnapshotReader) *Detector {
	return &Detector{hasher: hasher, snapshots: snapshots}
}

// Detect loads the snapshot index and returns a lazy sequence of change records.
// Current keys are emitted in natural-key order, followed by DELETED keys in
// natural-key order. When a key appears more than once in rows, the first
// occurrence wins. The sequence can be iterated again and yields the same records.
func (d *Detector) Detect(ctx context.Context, rows []models.SourceRow, f Filters) (iter.Seq[models.ChangeRecord], error) {
	index, err := d.snapshots.LoadIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot index: %w", err)
	}

	current := dedupe(rows)
	slices.SortFunc(current, func(a, b models.SourceRow) int {
		return strings.Compare(a.NaturalKey, b.NaturalKey)
	})

	seen := make(map[string]struct{}, len(current))
	for _, r := range current {
		seen[r.NaturalKey] = struct{}{}
	}
	var deleted []string
	for key := range index {
		if _, ok := seen[key]; !ok {
			deleted = append(deleted, key)
		}
	}
	slices.Sort(deleted)

	return func(yield func(models.ChangeRecord) bool) {
		emitted := 0
		for i := range current {
			row := &current[i]
			rec := d.classify(row, index)

			customers := []string{row.Customer}
			if rec.Previous != nil {
				customers = append(customers, index[row.NaturalKey].Customer)
			}
			if !f.matches(customers...) {
				continue
			}

			if rec.ChangeType == models.ChangeNew || rec.ChangeType == models.ChangeChanged {
				if f.Limit > 0 && emitted >= f.Limit {
					continue
				}
				emitted++
			}
			if !yield(rec) {
				return
			}
		}

		for _, key := range deleted {
			snap := index[key]
			if !f.matches(snap.Customer) {
				continue
			}
			prev := snap.Fingerprint
			rec := models.ChangeRecord{
				NaturalKey: key,
				ChangeType: models.ChangeDeleted,
				Previous:   &prev,
				Customer:   snap.Customer,
			}
			if !yield(rec) {
				return
			}
		}
	}, nil
}

func (d *Detector) classify(row *models.SourceRow, index map[string]models.Snapshot) models.ChangeRecord {
	rec := models.ChangeRecord{
		NaturalKey: row.NaturalKey,
		Current:    d.hasher.Fingerprint(*row),
		Customer:   row.Customer,
		Row:        row,
	}

	snap, ok := index[row.NaturalKey]
	switch {
	case !ok:
		rec.ChangeType = models.ChangeNew
	case snap.Fingerprint != rec.Current:
		prev := snap.Fingerprint
		rec.Previous = &prev
		rec.ChangeType = models.ChangeChanged
	default:
		prev := snap.Fingerprint
		rec.Previous = &prev
		rec.ChangeType = models.ChangeUnchanged
	}
	return rec
}

func dedupe(rows []models.SourceRow) []models.SourceRow {
	out := make([]models.SourceRow, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		if _, dup := seen[r.NaturalKey]; dup {
			continue
		}
		seen[r.NaturalKey] = struct{}{}
		out = append(out, r)
	}
	return out
}
