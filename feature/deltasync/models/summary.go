package models

import "time"

// RunStatus is the overall verdict of a sync run.
type RunStatus string

const (
	RunSuccess RunStatus = "SUCCESS"
	RunPartial RunStatus = "PARTIAL"
	RunFailed  RunStatus = "FAILED"
	RunDryRun  RunStatus = "DRY_RUN"
)

// ExhaustedRow is a key kept out of staging because it hit the retry ceiling.
type ExhaustedRow struct {
	NaturalKey string `json:"natural_key"`
	Customer   string `json:"customer"`
	RetryCount int    `json:"retry_count"`
	LastError  string `json:"last_error,omitempty"`
}

// BatchSummary is the reconciled outcome of one batch.
type BatchSummary struct {
	BatchID   string      `json:"batch_id"`
	Customer  string      `json:"customer"`
	Status    BatchStatus `json:"status"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Advanced  int         `json:"advanced"`
}

// RunSummary is the operator-facing report of one run.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Status     RunStatus `json:"status"`
	DryRun     bool      `json:"dry_run"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Detected map[ChangeType]int `json:"detected"`

	BatchesPlanned  int `json:"batches_planned"`
	BatchesStaged   int `json:"batches_staged"`
	BatchesResumed  int `json:"batches_resumed"`
	BatchesUnstaged int `json:"batches_unstaged"`
	BatchesLeft     int `json:"batches_left_pending"`

	RowsByStatus map[RowStatus]int `json:"rows_by_status"`

	ReviewNames  []string       `json:"review_names"`
	Exhausted    []ExhaustedRow `json:"exhausted"`
	Deferred     []string       `json:"deferred"`
	DeletedKeys  []string       `json:"deleted_keys"`
	StaleBatches []string       `json:"stale_batches"`
	Batches      []BatchSummary `json:"batches"`
	Errors       []string       `json:"errors,omitempty"`
}

// NewRunSummary returns an empty summary for the run.
func NewRunSummary(runID string, dryRun bool, startedAt time.Time) *RunSummary {
	return &RunSummary{
		RunID:        runID,
		DryRun:       dryRun,
		StartedAt:    startedAt,
		Detected:     make(map[ChangeType]int),
		RowsByStatus: make(map[RowStatus]int),
	}
}

// AddBatch folds a reconciled batch into the totals.
func (s *RunSummary) AddBatch(b BatchSummary) {
	s.Batches = append(s.Batches, b)
	s.RowsByStatus[RowSuccess] += b.Succeeded
	s.RowsByStatus[RowError] += b.Failed
}

// Finish stamps the end time and derives the overall status.
func (s *RunSummary) Finish(at time.Time) {
	s.FinishedAt = at
	switch {
	case s.DryRun:
		s.Status = RunDryRun
	case len(s.Errors) > 0 && s.RowsByStatus[RowSuccess] == 0:
		s.Status = RunFailed
	case len(s.Errors) > 0 || s.RowsByStatus[RowError] > 0 || s.BatchesUnstaged > 0 || s.BatchesLeft > 0:
		if s.RowsByStatus[RowSuccess] == 0 && s.RowsByStatus[RowError] > 0 {
			s.Status = RunFailed
		} else {
			s.Status = RunPartial
		}
	default:
		s.Status = RunSuccess
	}
}
