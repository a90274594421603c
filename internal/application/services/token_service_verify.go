package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/verimail/verification-service/internal/core/domain/token"
)

// Verify runs the consumption state machine:
//
//	Received -> Lookup -> {NotFound | Expired | AlreadyUsed | Valid}
//
// The single conditional update in the repository is the sole exactly-once
// enforcement point; no surrounding transaction is needed on this path.
func (s *TokenService) Verify(ctx context.Context, plaintext string) (*token.VerifyResult, error) {
	if plaintext == "" {
		verificationsTotal.WithLabelValues(outcomeInvalid).Inc()
		return nil, token.ErrInvalidToken
	}

	storageHash := token.HashForStorage(plaintext, s.cfg.Secret)

	t, err := s.repo.GetByHash(ctx, storageHash)
	if err != nil {
		if errors.Is(err, token.ErrTokenNotFound) {
			// "never existed" and "wrong value" are indistinguishable on the wire
			verificationsTotal.WithLabelValues(outcomeInvalid).Inc()
			return nil, token.ErrInvalidToken
		}
		return nil, err
	}

	// The index lookup already matched on the hash; compare again in constant
	// time so application code adds no timing side channel.
	if subtle.ConstantTimeCompare([]byte(t.HashedToken), []byte(storageHash)) != 1 {
		verificationsTotal.WithLabelValues(outcomeInvalid).Inc()
		return nil, token.ErrInvalidToken
	}

	if !t.IsValid {
		if t.IsUsed() {
			verificationsTotal.WithLabelValues(outcomeAlreadyUsed).Inc()
			return nil, token.ErrTokenAlreadyUsed
		}
		// superseded or previously expired
		verificationsTotal.WithLabelValues(outcomeInvalid).Inc()
		return nil, token.ErrInvalidToken
	}

	now := time.Now().UTC()
	if t.IsExpired(now) {
		// Opportunistic terminal transition; the row stays for the audit trail.
		if err := s.repo.MarkExpired(ctx, t.ID, now); err != nil {
			s.logger.WithFields(logrus.Fields{"token_id": t.ID}).WithError(err).Warn("failed to mark token expired")
		}
		verificationsTotal.WithLabelValues(outcomeExpired).Inc()
		return nil, token.ErrTokenExpired
	}

	consumed, err := s.repo.Consume(ctx, t.ID, now)
	if err != nil {
		return nil, err
	}
	if !consumed {
		// a concurrent verifier won the conditional update
		verificationsTotal.WithLabelValues(outcomeAlreadyUsed).Inc()
		return nil, token.ErrTokenAlreadyUsed
	}

	s.logger.WithFields(logrus.Fields{
		"token_id": t.ID,
		"user_id":  t.UserID,
		"purpose":  t.Purpose,
		"sequence": t.Sequence,
	}).Info("verification token consumed")
	verificationsTotal.WithLabelValues(outcomeVerified).Inc()

	return &token.VerifyResult{
		Verified:   true,
		UserID:     t.UserID,
		Email:      t.Email,
		VerifiedAt: now,
	}, nil
}

func newTokenID() uuid.UUID {
	return uuid.New()
}

func isZeroUUID(id uuid.UUID) bool {
	return id == uuid.Nil
}
