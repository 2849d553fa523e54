package client

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Budget is the external API's per-call and per-minute allowance.
type Budget struct {
	// RecordsPerCall caps the records sent in one call.
	RecordsPerCall int
	// MaxComplexity is the complexity allowed per call. Zero disables the check.
	MaxComplexity int
	// ComplexityPerRecord is the complexity one record costs.
	ComplexityPerRecord int
	// RequestsPerMinute is the call ceiling. Zero disables throttling.
	RequestsPerMinute int
	// CallTimeout bounds every call.
	CallTimeout time.Duration
}

// PerCall returns how many records fit in one call.
func (b Budget) PerCall() (int, error) {
	n := b.RecordsPerCall
	if n <= 0 {
		return 0, fmt.Errorf("records per call must be positive: %w", ErrBudget)
	}
	if b.MaxComplexity > 0 && b.ComplexityPerRecord > 0 {
		fit := b.MaxComplexity / b.ComplexityPerRecord
		if fit < 1 {
			return 0, fmt.Errorf("one record costs %d, call allows %d: %w", b.ComplexityPerRecord, b.MaxComplexity, ErrBudget)
		}
		n = min(n, fit)
	}
	return n, nil
}

// Limiter returns the limiter that spaces calls evenly across a minute.
func (b Budget) Limiter() *rate.Limiter {
	if b.RequestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(b.RequestsPerMinute)), 1)
}
