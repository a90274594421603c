package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/verimail/verification-service/internal/core/domain/token"
	"github.com/verimail/verification-service/internal/core/ports"
)

// TokenServiceConfig groups the issuance policy knobs.
type TokenServiceConfig struct {
	// Secret is the server-side key mixed into the storage hash.
	Secret string
	// TTL is the validity window stamped on every issued token.
	TTL time.Duration
	// MaxAttempts bounds issuance retries on sequence conflicts and
	// transient persistence errors.
	MaxAttempts int
	// RetryBackoff is the base delay between issuance attempts.
	RetryBackoff time.Duration
	// BaseURL is the public prefix of the verification link.
	BaseURL string
}

type TokenService struct {
	repo        ports.TokenRepository
	dispatcher  ports.NotificationDispatcher
	rateLimiter ports.RateLimiter
	cfg         TokenServiceConfig
	logger      *logrus.Logger
}

func NewTokenService(repo ports.TokenRepository, dispatcher ports.NotificationDispatcher, rateLimiter ports.RateLimiter, cfg TokenServiceConfig, logger *logrus.Logger) ports.TokenService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 25 * time.Millisecond
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &TokenService{
		repo:        repo,
		dispatcher:  dispatcher,
		rateLimiter: rateLimiter,
		cfg:         cfg,
		logger:      logger,
	}
}

// Issue implements the issuance entry point: validate, rate limit, generate,
// persist atomically, dispatch. The plaintext leaves this method only through
// the dispatcher.
func (s *TokenService) Issue(ctx context.Context, req *token.IssueRequest, requesterIP string) (*token.IssueResult, error) {
	if err := validateIssueRequest(req); err != nil {
		return nil, err
	}

	// The recipient-email budget is checked before any generator or store
	// work, so a rejected request consumes no sequence number. The HTTP layer
	// applies the same limiter keyed by requester IP before the body is even
	// bound; together they cover both requester identities.
	key := "email:" + strings.ToLower(req.Email)
	allowed, _, retryAfter, err := s.rateLimiter.Allow(ctx, key)
	if err != nil {
		// fail open: limiter storage loss must not take down issuance
		s.logger.WithFields(logrus.Fields{"key": key}).WithError(err).Error("rate limiter unavailable; allowing request")
	} else if !allowed {
		return nil, &token.RateLimitError{RetryAfter: retryAfter}
	}

	generated, err := token.Generate(req.UserID, req.Email, req.Purpose, s.cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	sequence, err := s.issueWithRetry(ctx, req, generated.StorageHash)
	if err != nil {
		return nil, err
	}

	tokensIssuedTotal.WithLabelValues(req.Purpose.String()).Inc()
	s.logger.WithFields(logrus.Fields{
		"user_id":      req.UserID,
		"purpose":      req.Purpose,
		"sequence":     sequence,
		"requester_ip": requesterIP,
	}).Info("verification token issued")

	result := &token.IssueResult{TokenSent: true, TokenSequence: sequence}

	// Dispatch is fire-and-forget with respect to token validity: a failed
	// send leaves the committed token usable via resend (a fresh issuance).
	verificationURL := s.verificationURL(generated.Plaintext)
	if err := s.dispatcher.SendVerificationLink(ctx, req.Email, req.Purpose, verificationURL); err != nil {
		s.logger.WithFields(logrus.Fields{
			"user_id": req.UserID,
			"purpose": req.Purpose,
		}).WithError(err).Warn("failed to dispatch verification link")
		result.TokenSent = false
	}

	return result, nil
}

// issueWithRetry drives the atomic issuance transaction, retrying sequence
// races and transient persistence errors with bounded backoff.
func (s *TokenService) issueWithRetry(ctx context.Context, req *token.IssueRequest, storageHash string) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		now := time.Now().UTC()
		t := &token.VerificationToken{
			ID:          newTokenID(),
			HashedToken: storageHash,
			UserID:      req.UserID,
			Email:       req.Email,
			Purpose:     req.Purpose,
			IsValid:     true,
			ExpiresAt:   now.Add(s.cfg.TTL),
			CreatedAt:   now,
		}

		sequence, err := s.repo.Issue(ctx, t)
		if err == nil {
			return sequence, nil
		}
		lastErr = err

		if !errors.Is(err, token.ErrIssuanceConflict) {
			s.logger.WithFields(logrus.Fields{
				"user_id": req.UserID,
				"purpose": req.Purpose,
				"attempt": attempt,
			}).WithError(err).Warn("transient issuance failure")
		}

		// no backoff after the final attempt
		if attempt == s.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(s.cfg.RetryBackoff * time.Duration(attempt)):
		}
	}

	if errors.Is(lastErr, token.ErrIssuanceConflict) {
		return 0, token.ErrIssuanceConflict
	}
	return 0, fmt.Errorf("issuance failed after %d attempts: %w", s.cfg.MaxAttempts, lastErr)
}

func (s *TokenService) verificationURL(plaintext string) string {
	return fmt.Sprintf("%s/api/v1/verification/verify?token=%s",
		strings.TrimRight(s.cfg.BaseURL, "/"), url.QueryEscape(plaintext))
}

func validateIssueRequest(req *token.IssueRequest) error {
	if req == nil {
		return &token.ValidationError{Field: "request", Reason: "missing body"}
	}
	if isZeroUUID(req.UserID) {
		return &token.ValidationError{Field: "user_id", Reason: "required"}
	}
	if strings.TrimSpace(req.Email) == "" || !strings.Contains(req.Email, "@") {
		return &token.ValidationError{Field: "email", Reason: "must be a valid email address"}
	}
	if !req.Purpose.IsValid() {
		return &token.ValidationError{Field: "purpose", Reason: "unknown purpose"}
	}
	return nil
}
