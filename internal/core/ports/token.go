package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/verimail/verification-service/internal/core/domain/token"
)

// TokenRepository is the persistence boundary for verification tokens.
// Implementations must enforce the uniqueness invariants (hashed_token,
// (user, purpose, sequence), single valid row per (user, purpose)) at the
// storage layer, not in application code.
type TokenRepository interface {
	// Issue runs the atomic issuance transaction: allocate the next sequence
	// for (user, purpose), supersede any currently valid token, insert the
	// new row. Returns the assigned sequence. A lost race with a concurrent
	// issuer surfaces as token.ErrIssuanceConflict; callers retry with a
	// freshly computed sequence.
	Issue(ctx context.Context, t *token.VerificationToken) (int, error)

	// GetByHash looks up a token row by its storage hash. Misses return
	// token.ErrTokenNotFound.
	GetByHash(ctx context.Context, hashedToken string) (*token.VerificationToken, error)

	// Consume performs the single conditional update that enforces
	// exactly-once semantics. Returns false when the row was no longer valid,
	// i.e. a concurrent verifier won.
	Consume(ctx context.Context, id uuid.UUID, usedAt time.Time) (bool, error)

	// MarkExpired flips a still-valid token to invalid with reason "expired".
	// A no-op when the row is already terminal.
	MarkExpired(ctx context.Context, id uuid.UUID, at time.Time) error

	// InvalidateExpired marks every valid-but-past-TTL row invalid with
	// reason "expired" and reports how many rows changed. Rows are never
	// deleted; physical retention is an external concern.
	InvalidateExpired(ctx context.Context, now time.Time) (int64, error)
}

// TokenService is the application-facing API of the verification core.
type TokenService interface {
	// Issue validates the request, applies the recipient-email rate limit
	// (the HTTP layer holds the requester-IP limit), generates and persists
	// a token, and hands the plaintext to the dispatcher. The plaintext
	// never appears in the result.
	Issue(ctx context.Context, req *token.IssueRequest, requesterIP string) (*token.IssueResult, error)

	// Verify runs the consumption state machine on an inbound plaintext
	// token. A token that verified once can never verify again.
	Verify(ctx context.Context, plaintext string) (*token.VerifyResult, error)
}
