package healthgate

import (
	"context"
	"errors"
	"net"
	"net/http"

	jperrors "github.com/JohnPlummer/jp-go-errors"
)

// ErrNoDynamicEntries is returned by DynamicResolver when the source holds nothing under the
// configured prefix.
var ErrNoDynamicEntries = errors.New("healthgate: no dynamic service configuration found")

// ErrorClassifier determines whether a configuration read error should be retried.
// Implement this interface to customize retry behavior for your specific source.
type ErrorClassifier interface {
	// IsRetryable returns true if the error represents a transient failure
	// that should be retried.
	IsRetryable(err error) bool
}

// ErrorClassifierFunc adapts a function to the ErrorClassifier interface.
type ErrorClassifierFunc func(err error) bool

// IsRetryable implements ErrorClassifier.
func (f ErrorClassifierFunc) IsRetryable(err error) bool {
	return f(err)
}

// HTTPError represents an error with an associated HTTP status code.
type HTTPError interface {
	error
	StatusCode() int
}

// DefaultErrorClassifier retries network failures, rate limits and server errors.
// Context errors are never retried: once the request context is done every further read
// fails immediately.
func DefaultErrorClassifier() ErrorClassifier {
	return ErrorClassifierFunc(func(err error) bool {
		if err == nil {
			return false
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return false
		}
		if errors.Is(err, jperrors.ErrRateLimited) {
			return true
		}

		statusCode := extractStatusCode(err)
		if statusCode == 0 {
			return true
		}
		return statusCode == http.StatusTooManyRequests || statusCode >= http.StatusInternalServerError
	})
}

// extractStatusCode attempts to extract an HTTP status code from err.
func extractStatusCode(err error) int {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode()
	}
	return 0
}

// isTimeout reports whether err is a deadline or network timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// StatusCodeError wraps an error with an HTTP status code.
type StatusCodeError struct {
	Err  error
	Code int
}

// Error implements the error interface.
func (e *StatusCodeError) Error() string {
	return e.Err.Error()
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *StatusCodeError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status code.
// This implements the HTTPError interface.
func (e *StatusCodeError) StatusCode() int {
	return e.Code
}

// NewStatusCodeError creates a new StatusCodeError.
//
// Example:
//
//	err := healthgate.NewStatusCodeError(http.StatusServiceUnavailable, errors.New("HTTP 503"))
func NewStatusCodeError(statusCode int, err error) error {
	return &StatusCodeError{
		Code: statusCode,
		Err:  err,
	}
}
