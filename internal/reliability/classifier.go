package reliability

import (
	"context"
	"errors"
	"net"
	"time"
)

// StatusCoder is implemented by errors that carry an upstream HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether a completion call that failed with err is worth
// repeating. Caller cancellation and deadline expiry never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		return IsRetryableHTTPStatus(sc.StatusCode())
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return nerr.Timeout()
	}
	return false
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
