package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusPredicates(t *testing.T) {
	assert.True(t, BatchPending.InFlight())
	assert.True(t, BatchProcessing.InFlight())
	assert.False(t, BatchPartial.InFlight())
	assert.True(t, BatchFailed.Terminal())
	assert.False(t, BatchPending.Terminal())

	assert.True(t, RowSuccess.Terminal())
	assert.True(t, RowError.Terminal())
	assert.False(t, RowProcessing.Terminal())
}

func TestRunSummary_Finish(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name  string
		setup func(s *RunSummary)
		want  RunStatus
	}{
		{"Nothing To Do", func(s *RunSummary) {}, RunSuccess},
		{"All Succeeded", func(s *RunSummary) {
			s.AddBatch(BatchSummary{Succeeded: 20})
		}, RunSuccess},
		{"Some Rows Failed", func(s *RunSummary) {
			s.AddBatch(BatchSummary{Succeeded: 18, Failed: 2})
		}, RunPartial},
		{"Every Row Failed", func(s *RunSummary) {
			s.AddBatch(BatchSummary{Failed: 3})
		}, RunFailed},
		{"Infrastructure Fault", func(s *RunSummary) {
			s.Errors = append(s.Errors, "store unreachable")
		}, RunFailed},
		{"Batch Left Pending", func(s *RunSummary) {
			s.AddBatch(BatchSummary{Succeeded: 1})
			s.BatchesLeft = 1
		}, RunPartial},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewRunSummary("run-1", false, now)
			tt.setup(s)
			s.Finish(now)
			assert.Equal(t, tt.want, s.Status)
		})
	}

	dry := NewRunSummary("run-2", true, now)
	dry.Finish(now)
	assert.Equal(t, RunDryRun, dry.Status)
}
