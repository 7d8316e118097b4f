package failover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

// ProviderError is a non-success response from a reasoning backend. Body is
// the raw response body, kept for operator diagnosis.
type ProviderError struct {
	Backend    string
	StatusCode int
	Body       string
	Retryable  bool
}

func (e *ProviderError) Error() string {
	if e.Backend == "" {
		return fmt.Sprintf("provider error %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: provider error %d: %s", e.Backend, e.StatusCode, e.Body)
}

func asProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	ok := errors.As(err, &pe)
	return pe, ok
}

func IsRateLimitError(err error) bool {
	if pe, ok := asProviderError(err); ok {
		return pe.StatusCode == 429
	}
	return false
}

func IsAuthError(err error) bool {
	if pe, ok := asProviderError(err); ok {
		return pe.StatusCode == 401 || pe.StatusCode == 403
	}
	return false
}

// IsRetryable reports whether err is a transient transport failure: a
// throttled or failing backend, a dropped connection, or a per-call timeout.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := asProviderError(err); ok {
		switch pe.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
		return pe.Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

type AllExhaustedError struct {
	Attempted []string
	Last      error
}

func (e *AllExhaustedError) Error() string {
	return fmt.Sprintf("all backends exhausted, attempted: %v: %v", e.Attempted, e.Last)
}

func (e *AllExhaustedError) Unwrap() error { return e.Last }
