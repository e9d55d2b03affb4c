package blob

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry policy for remote chunk operations. Small fixed cap: large
// payloads make long retry storms expensive, and the runner above has
// its own failure handling once retries exhaust.
const (
	maxAttempts     = 3
	initialInterval = 100 * time.Millisecond
	maxInterval     = 10 * time.Second
)

// permanentStatus reports whether an HTTP status must never be
// retried. Everything else (5xx, timeouts, connection resets) is
// treated as transient.
func permanentStatus(code int) bool {
	return code == 400 || code == 403 || code == 404
}

// withRetry runs op under the bounded, jittered exponential backoff
// policy. op signals a non-retryable failure by returning
// backoff.Permanent(err).
func withRetry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initialInterval
	policy.MaxInterval = maxInterval

	return backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(policy, maxAttempts-1), ctx))
}
