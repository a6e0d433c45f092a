package summarize

import (
	"errors"
	"math/rand/v2"
	"time"
)

const MaxRetries = 3

// retryable is implemented by transient provider errors.
type retryable interface {
	Retryable() bool
}

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var r retryable
	return errors.As(err, &r) && r.Retryable()
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}
