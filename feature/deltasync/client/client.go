package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"delta-sync/core/logger"
	"delta-sync/core/retry"
	"delta-sync/feature/deltasync/mapping"
	"delta-sync/feature/deltasync/models"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultCallTimeout applies when the budget sets none.
const DefaultCallTimeout = 30 * time.Second

// API submits one call's worth of records to the external service.
type API interface {
	Submit(ctx context.Context, records []mapping.ExternalRecord) (*Response, error)
}

// RecordError is a failure reported for one input of a call. Index is the
// position within the call, or -1 when the error names no record.
type RecordError struct {
	Index     int
	Code      string
	Message   string
	Transient bool
}

// Response is a call that reached the service.
type Response struct {
	// IDs holds the external id per input position; empty when none was returned.
	IDs    []string
	Errors []RecordError
	// Failed is the service's explicit call-level failure flag.
	Failed    bool
	Message   string
	Transient bool
}

// CallStatus classifies one call.
type CallStatus string

const (
	CallSuccess CallStatus = "SUCCESS"
	CallPartial CallStatus = "PARTIAL"
	CallError   CallStatus = "ERROR"
)

// Classify applies the call rules in priority order: a failure flag or an error
// that names no record means ERROR; ids for only a subset of the n inputs means
// PARTIAL; otherwise SUCCESS.
func Classify(resp *Response, n int) CallStatus {
	if resp == nil || resp.Failed {
		return CallError
	}
	for _, e := range resp.Errors {
		if e.Index < 0 || e.Index >= n {
			return CallError
		}
	}
	returned := 0
	for i := 0; i < n && i < len(resp.IDs); i++ {
		if resp.IDs[i] != "" {
			returned++
		}
	}
	if returned < n {
		return CallPartial
	}
	return CallSuccess
}

// Result is the final outcome for one input record.
type Result struct {
	Index      int              `json:"index"`
	NaturalKey string           `json:"natural_key"`
	Status     models.RowStatus `json:"status"`
	ExternalID string           `json:"external_id,omitempty"`
	Error      string           `json:"error,omitempty"`
	Transient  bool             `json:"transient,omitempty"`
	Attempts   int              `json:"attempts"`
}

// CallReport describes one call.
type CallReport struct {
	Attempt  int           `json:"attempt"`
	Records  int           `json:"records"`
	Status   CallStatus    `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report is the outcome of Send. Results are aligned with the input records.
type Report struct {
	Results []Result
	Calls   []CallReport
}

// Succeeded counts SUCCESS results.
func (r Report) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == models.RowSuccess {
			n++
		}
	}
	return n
}

// Client sends mapped records within the call budget, one call at a time.
type Client struct {
	api     API
	budget  Budget
	perCall int
	limiter *rate.Limiter
	policy  retry.Policy
	logger  *zap.Logger
}

// New creates a client. The policy's predicate defaults to IsTransient.
func New(api API, budget Budget, policy retry.Policy, l *zap.Logger) (*Client, error) {
	perCall, err := budget.PerCall()
	if err != nil {
		return nil, err
	}
	if budget.CallTimeout <= 0 {
		budget.CallTimeout = DefaultCallTimeout
	}
	if policy.Retryable == nil {
		policy.Retryable = IsTransient
	}
	return &Client{
		api:     api,
		budget:  budget,
		perCall: perCall,
		limiter: budget.Limiter(),
		policy:  policy,
		logger:  logger.OrNop(l),
	}, nil
}

// PerCall returns the number of records sent per call.
func (c *Client) PerCall() int {
	return c.perCall
}

// Send submits records in consecutive sub-batches, waiting on the rate limiter
// before every call. A failed call is retried only when transient. After a
// partial call only the records that failed transiently are resubmitted.
func (c *Client) Send(ctx context.Context, records []mapping.ExternalRecord) Report {
	report := Report{Results: make([]Result, len(records))}
	for i, rec := range records {
		report.Results[i] = Result{Index: i, NaturalKey: rec.NaturalKey, Status: models.RowError}
	}

	for start := 0; start < len(records); start += c.perCall {
		end := min(start+c.perCall, len(records))
		indices := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			indices = append(indices, i)
		}
		c.sendChunk(ctx, records, indices, &report)
	}
	return report
}

func (c *Client) sendChunk(ctx context.Context, records []mapping.ExternalRecord, pending []int, report *Report) {
	_, err := c.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		call := make([]mapping.ExternalRecord, len(pending))
		for j, idx := range pending {
			call[j] = records[idx]
			report.Results[idx].Attempts = attempt
		}

		status, resp, err := c.call(ctx, call, attempt, report)
		var retryable []int
		switch status {
		case CallError:
			transient := err != nil && c.policy.ShouldRetry(err)
			msg := callMessage(resp, err)
			for _, idx := range pending {
				c.fail(report, idx, msg, transient)
			}
			if transient {
				retryable = pending
			}
		default:
			for j, idx := range pending {
				if j < len(resp.IDs) && resp.IDs[j] != "" {
					report.Results[idx].Status = models.RowSuccess
					report.Results[idx].ExternalID = resp.IDs[j]
					report.Results[idx].Error = ""
					report.Results[idx].Transient = false
					continue
				}
				msg, transient := recordFailure(resp, j)
				c.fail(report, idx, msg, transient)
				if transient {
					retryable = append(retryable, idx)
				}
			}
		}

		pending = retryable
		if len(pending) == 0 {
			return nil
		}
		if err != nil {
			return err
		}
		return &APIError{Message: fmt.Sprintf("%d records failed transiently", len(pending)), Transient: true}
	})
	if err != nil && len(pending) > 0 {
		c.logger.Warn("Records left failed after retries",
			zap.Int("records", len(pending)),
			zap.Error(err))
	}
}

func (c *Client) call(ctx context.Context, records []mapping.ExternalRecord, attempt int, report *Report) (CallStatus, *Response, error) {
	started := time.Now()
	cr := CallReport{Attempt: attempt, Records: len(records)}

	var resp *Response
	err := c.limiter.Wait(ctx)
	if err == nil {
		callCtx, cancel := context.WithTimeout(ctx, c.budget.CallTimeout)
		resp, err = c.api.Submit(callCtx, records)
		cancel()
	}

	status := CallError
	switch {
	case err != nil:
	case resp.Failed:
		err = &APIError{Message: resp.Message, Transient: resp.Transient}
	default:
		status = Classify(resp, len(records))
		if status == CallError {
			err = &APIError{Message: unattributed(resp), Transient: resp.Transient}
		}
	}

	cr.Status = status
	cr.Duration = time.Since(started)
	if err != nil {
		cr.Error = err.Error()
	}
	report.Calls = append(report.Calls, cr)

	c.logger.Debug("API call finished",
		zap.Int("attempt", attempt),
		zap.Int("records", len(records)),
		zap.String("status", string(status)),
		zap.Duration("duration", cr.Duration),
		zap.Error(err))
	return status, resp, err
}

func (c *Client) fail(report *Report, idx int, msg string, transient bool) {
	r := &report.Results[idx]
	r.Status = models.RowError
	r.ExternalID = ""
	r.Error = msg
	r.Transient = transient
}

func callMessage(resp *Response, err error) string {
	if err != nil {
		return err.Error()
	}
	if resp != nil && resp.Message != "" {
		return resp.Message
	}
	return "call failed"
}

func unattributed(resp *Response) string {
	for _, e := range resp.Errors {
		if e.Index < 0 {
			return e.Message
		}
	}
	return "response names unknown records"
}

// recordFailure returns the reason for input j in a partial call.
func recordFailure(resp *Response, j int) (string, bool) {
	var msgs []string
	transient := false
	for _, e := range resp.Errors {
		if e.Index == j {
			msgs = append(msgs, e.Message)
			transient = transient || e.Transient
		}
	}
	if len(msgs) == 0 {
		return "no identifier returned", false
	}
	return strings.Join(msgs, "; "), transient
}
