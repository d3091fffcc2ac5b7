package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// APIError is a provider failure with the HTTP status preserved so the
// retry layer and the orchestrator can react to the class of failure
// rather than parsing message text.
type APIError struct {
	Message string
	Status  int
	// RetryAfter is the server-suggested wait, zero when absent.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("provider error: %s", e.Message)
}

// IsRateLimited reports whether err is a 429 from the provider.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == 429
}

// IsServerError reports whether err is a 5xx from the provider.
func IsServerError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status >= 500 && apiErr.Status < 600
}

// IsAuthError reports whether err is a credential problem. These never
// resolve on retry.
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && (apiErr.Status == 401 || apiErr.Status == 403)
}

// IsTimeout reports whether err is a network timeout or a deadline
// expiry on the request itself.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// retryAfterDuration parses a Retry-After header value. Only the
// delta-seconds form is honored; HTTP-date values fall back to zero.
func retryAfterDuration(value string) time.Duration {
	if value == "" {
		return 0
	}
	secs, err := strconv.Atoi(value)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
