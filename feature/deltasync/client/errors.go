package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrBudget is returned when the budget cannot fit a single record in a call.
var ErrBudget = errors.New("invalid call budget")

// APIError is a call that failed as a whole.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Transient  bool
}

func (e *APIError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Code != "":
		return fmt.Sprintf("api error %d %s: %s", e.StatusCode, e.Code, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	case e.Code != "":
		return fmt.Sprintf("api error %s: %s", e.Code, e.Message)
	default:
		return "api error: " + e.Message
	}
}

// StatusTransient reports whether an HTTP status is worth retrying.
func StatusTransient(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

// IsTransient reports whether err is a timeout, a connectivity failure, a
// rate-limit rejection or a 5xx-equivalent. Caller cancellation is not transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
