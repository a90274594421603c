package token

import (
	"time"

	"github.com/google/uuid"
)

// Purpose scopes a token to the flow it was issued for. Sequencing and
// supersession are independent per (user, purpose).
type Purpose string

const (
	PurposeEmailVerification Purpose = "email_verification"
	PurposePasswordReset     Purpose = "password_reset"
)

func (p Purpose) String() string {
	return string(p)
}

func (p Purpose) IsValid() bool {
	switch p {
	case PurposeEmailVerification, PurposePasswordReset:
		return true
	default:
		return false
	}
}

// Invalidation reasons recorded on terminal transitions.
const (
	ReasonSuperseded = "superseded"
	ReasonExpired    = "expired"
)

// VerificationToken is the persisted record of an issued token. Only the
// storage hash is ever written; the plaintext exists solely in the issuance
// response handed to the dispatcher.
type VerificationToken struct {
	ID                 uuid.UUID  `json:"id" db:"id"`
	HashedToken        string     `json:"-" db:"hashed_token"`
	UserID             uuid.UUID  `json:"user_id" db:"user_id"`
	Email              string     `json:"email" db:"email"`
	Purpose            Purpose    `json:"purpose" db:"purpose"`
	Sequence           int        `json:"sequence" db:"sequence"`
	IsValid            bool       `json:"is_valid" db:"is_valid"`
	ExpiresAt          time.Time  `json:"expires_at" db:"expires_at"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UsedAt             *time.Time `json:"used_at,omitempty" db:"used_at"`
	InvalidatedAt      *time.Time `json:"invalidated_at,omitempty" db:"invalidated_at"`
	InvalidationReason *string    `json:"invalidation_reason,omitempty" db:"invalidation_reason"`
}

// IsExpired reports whether the token's TTL has elapsed at the given instant.
func (t *VerificationToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// IsUsed reports whether the token has been consumed.
func (t *VerificationToken) IsUsed() bool {
	return t.UsedAt != nil
}

// IssueRequest is the issuance input supplied by the HTTP layer.
type IssueRequest struct {
	UserID  uuid.UUID `json:"user_id" validate:"required"`
	Email   string    `json:"email" validate:"required,email"`
	Purpose Purpose   `json:"purpose" validate:"required"`
}

// IssueResult reports the outcome of an issuance. The plaintext token is
// deliberately absent: it is transmitted only by the dispatcher.
type IssueResult struct {
	TokenSent     bool `json:"token_sent"`
	TokenSequence int  `json:"token_sequence"`
}

// VerifyRequest carries an inbound plaintext token.
type VerifyRequest struct {
	Token string `json:"token" validate:"required"`
}

// VerifyResult is returned on successful consumption. The caller performs the
// dependent effect (e.g. marking the account verified) exactly once.
type VerifyResult struct {
	Verified   bool      `json:"verified"`
	UserID     uuid.UUID `json:"user_id"`
	Email      string    `json:"email"`
	VerifiedAt time.Time `json:"verified_at"`
}
