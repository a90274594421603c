package ports

import (
	"context"
	"time"
)

// RateLimitRepository provides low-level atomic operations for rate limiting
// counters. It abstracts storage (e.g., Redis). Implementations must be
// concurrency-safe.
type RateLimitRepository interface {
	// IncrementWindow atomically increments the counter for key in the
	// current fixed window and ensures both window keys expire after ttl.
	// It returns the updated current-window count, the count accumulated in
	// the previous window, and the current window's start time.
	IncrementWindow(ctx context.Context, key string, window time.Duration, keyPrefix string, ttl time.Duration) (current int, previous int, windowStart time.Time, err error)
}

// RateLimiter guards the issuance entry point. Implementations encapsulate
// algorithm and storage and must be safe for concurrent use.
type RateLimiter interface {
	// Allow consumes one request unit for the key and reports whether it is
	// permitted. retryAfter is the hint returned to rejected callers.
	Allow(ctx context.Context, key string) (allowed bool, remaining int, retryAfter time.Duration, err error)
}
