package token

import (
	"errors"
	"fmt"
	"time"
)

// Terminal verification/issuance outcomes. These are returned verbatim to the
// caller; transient persistence failures are retried before surfacing.
var (
	// ErrInvalidToken covers unknown hashes, superseded tokens and purpose
	// mismatches alike, so a caller cannot probe for account existence.
	ErrInvalidToken = errors.New("invalid verification token")

	// ErrTokenExpired means the token was found valid but past its TTL.
	ErrTokenExpired = errors.New("verification token expired")

	// ErrTokenAlreadyUsed means the token was consumed before, possibly by a
	// concurrent request that won the conditional update.
	ErrTokenAlreadyUsed = errors.New("verification token already used")

	// ErrIssuanceConflict means concurrent issuance for the same
	// (user, purpose) exhausted its bounded retries.
	ErrIssuanceConflict = errors.New("token issuance conflict")

	// ErrTokenNotFound is the repository-level miss; the service maps it to
	// ErrInvalidToken before it leaves the core.
	ErrTokenNotFound = errors.New("verification token not found")
)

// ValidationError marks malformed issuance input. Nothing is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RateLimitError rejects an issuance request before any token work happens.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// Wire error codes for the verification response contract.
const (
	CodeInvalidToken = "INVALID_TOKEN"
	CodeExpiredToken = "EXPIRED_TOKEN"
	CodeAlreadyUsed  = "ALREADY_USED"
	CodeRateLimited  = "RATE_LIMITED"
)

// ErrorCode maps a terminal error to its wire code. Unknown errors map to
// INVALID_TOKEN so internal failures never leak state information.
func ErrorCode(err error) string {
	var rle *RateLimitError
	switch {
	case errors.Is(err, ErrTokenExpired):
		return CodeExpiredToken
	case errors.Is(err, ErrTokenAlreadyUsed):
		return CodeAlreadyUsed
	case errors.As(err, &rle):
		return CodeRateLimited
	default:
		return CodeInvalidToken
	}
}
