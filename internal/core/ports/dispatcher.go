package ports

import (
	"context"

	"github.com/verimail/verification-service/internal/core/domain/token"
)

// NotificationDispatcher delivers the verification link to the recipient.
// Delivery failure never affects token validity; issuance is already
// committed when dispatch runs, and a resend is simply a new issuance.
type NotificationDispatcher interface {
	SendVerificationLink(ctx context.Context, email string, purpose token.Purpose, verificationURL string) error
}
