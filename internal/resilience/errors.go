package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// UnavailableError marks a failure that means the source itself is down or
// overloaded (5xx, timeout, refused connection). Only these errors trip the
// circuit breaker; a parse error on a 200 response does not.
type UnavailableError struct {
	Source     string
	StatusCode int
	Err        error
}

func (e *UnavailableError) Error() string {
	if e.Source != "" {
		return e.Source + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// NewUnavailableError wraps err as a source-unavailable failure. statusCode
// may be zero for network-level failures.
func NewUnavailableError(source string, err error, statusCode int) *UnavailableError {
	return &UnavailableError{Source: source, Err: err, StatusCode: statusCode}
}

// IsUnavailable returns true if the error (or any error in its chain) marks
// the source as unavailable, or if it matches common network failure
// patterns (timeouts, connection resets, DNS failures).
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}

	var ue *UnavailableError
	if errors.As(err, &ue) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	patterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsUnavailableHTTPStatus returns true if the HTTP status code indicates the
// source is down or shedding load rather than rejecting the request.
func IsUnavailableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}
