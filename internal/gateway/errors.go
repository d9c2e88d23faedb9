package gateway

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// APIError is returned for any non-2xx response. The body is kept raw;
// interpreting it is the classifier's job.
type APIError struct {
	StatusCode int
	Body       []byte
	RetryAfter time.Duration
	// IntuitTID is the request id the remote system echoes for support cases.
	IntuitTID string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if len(e.Body) > 0 && len(e.Body) < 300 {
		return fmt.Sprintf("remote API returned HTTP %d: %s", e.StatusCode, string(e.Body))
	}
	return fmt.Sprintf("remote API returned HTTP %d", e.StatusCode)
}

// TransportError means no HTTP response was received.
type TransportError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// UnreadableResponseError means a write returned 2xx but the body did not
// carry a usable entity. The remote record may exist.
type UnreadableResponseError struct {
	Op         string
	RemoteType string
	Body       []byte
	Err        error
}

// Error implements the error interface.
func (e *UnreadableResponseError) Error() string {
	return fmt.Sprintf("%s %s succeeded but the response could not be read: %v", e.Op, e.RemoteType, e.Err)
}

// Unwrap returns the underlying error.
func (e *UnreadableResponseError) Unwrap() error {
	return e.Err
}

// parseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date. Returns 0 if missing or invalid.
func parseRetryAfter(headers http.Header, now time.Time) time.Duration {
	value := headers.Get("Retry-After")
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if delay := t.Sub(now); delay > 0 {
			return delay
		}
	}
	return 0
}
