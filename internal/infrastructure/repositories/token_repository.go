package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/verimail/verification-service/internal/core/domain/token"
	"github.com/verimail/verification-service/internal/core/ports"
	"github.com/verimail/verification-service/internal/infrastructure/db"
)

// pqUniqueViolation is the Postgres SQLSTATE for unique constraint conflicts.
const pqUniqueViolation = "23505"

// TokenRepository implements the token store on Postgres. The schema carries
// the invariants: unique hashed_token, unique (user_id, purpose, sequence)
// and a partial unique index on (user_id, purpose) WHERE is_valid that keeps
// at most one valid row per user/purpose even under concurrent writers.
type TokenRepository struct {
	db     *db.Database
	logger *logrus.Logger
}

func NewTokenRepository(database *db.Database, logger *logrus.Logger) ports.TokenRepository {
	return &TokenRepository{
		db:     database,
		logger: logger,
	}
}

// Ensure TokenRepository implements ports.TokenRepository
var _ ports.TokenRepository = (*TokenRepository)(nil)

// Issue runs the issuance transaction: read the current max sequence for
// (user, purpose), supersede the currently valid row, insert the new one.
// Two racing transactions collide on either the sequence key or the partial
// single-valid index; the loser gets token.ErrIssuanceConflict and the
// service retries with a fresh sequence.
func (r *TokenRepository) Issue(ctx context.Context, t *token.VerificationToken) (int, error) {
	tx, err := r.db.DB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin issuance transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	err = tx.GetContext(ctx, &next, `
		SELECT COALESCE(MAX(sequence), 0) + 1
		FROM verification_tokens
		WHERE user_id = $1 AND purpose = $2`,
		t.UserID, t.Purpose)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate sequence: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE verification_tokens
		SET is_valid = FALSE, invalidated_at = $3, invalidation_reason = $4
		WHERE user_id = $1 AND purpose = $2 AND is_valid = TRUE`,
		t.UserID, t.Purpose, t.CreatedAt, token.ReasonSuperseded)
	if err != nil {
		return 0, fmt.Errorf("failed to supersede valid tokens: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO verification_tokens
			(id, hashed_token, user_id, email, purpose, sequence, is_valid, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $8)`,
		t.ID, t.HashedToken, t.UserID, t.Email, t.Purpose, next, t.ExpiresAt, t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, token.ErrIssuanceConflict
		}
		return 0, fmt.Errorf("failed to insert verification token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return 0, token.ErrIssuanceConflict
		}
		return 0, fmt.Errorf("failed to commit issuance transaction: %w", err)
	}

	t.Sequence = next
	if r.logger != nil {
		r.logger.WithFields(logrus.Fields{"token_id": t.ID, "user_id": t.UserID, "purpose": t.Purpose, "sequence": next}).Info("db: verification token issued")
	}
	return next, nil
}

// GetByHash retrieves a token row by its storage hash via the unique index.
func (r *TokenRepository) GetByHash(ctx context.Context, hashedToken string) (*token.VerificationToken, error) {
	var t token.VerificationToken
	query := `
		SELECT id, hashed_token, user_id, email, purpose, sequence, is_valid,
			   expires_at, created_at, used_at, invalidated_at, invalidation_reason
		FROM verification_tokens
		WHERE hashed_token = $1`

	err := r.db.DB.GetContext(ctx, &t, query, hashedToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, token.ErrTokenNotFound
		}
		if r.logger != nil {
			r.logger.WithError(err).Error("db: failed to get token by hash")
		}
		return nil, fmt.Errorf("failed to get token by hash: %w", err)
	}

	return &t, nil
}

// Consume is the exactly-once enforcement point. The WHERE clause makes the
// update conditional on the row still being valid; zero affected rows means a
// concurrent verifier already consumed it.
func (r *TokenRepository) Consume(ctx context.Context, id uuid.UUID, usedAt time.Time) (bool, error) {
	result, err := r.db.DB.ExecContext(ctx, `
		UPDATE verification_tokens
		SET is_valid = FALSE, used_at = $2
		WHERE id = $1 AND is_valid = TRUE`,
		id, usedAt)
	if err != nil {
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"token_id": id}).WithError(err).Error("db: failed to consume token")
		}
		return false, fmt.Errorf("failed to consume token: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected == 1, nil
}

// MarkExpired flips a still-valid token to invalid with reason "expired".
func (r *TokenRepository) MarkExpired(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.DB.ExecContext(ctx, `
		UPDATE verification_tokens
		SET is_valid = FALSE, invalidated_at = $2, invalidation_reason = $3
		WHERE id = $1 AND is_valid = TRUE`,
		id, at, token.ReasonExpired)
	if err != nil {
		return fmt.Errorf("failed to mark token expired: %w", err)
	}
	return nil
}

// InvalidateExpired sweeps every valid-but-past-TTL row. Uses the
// (purpose, is_valid, expires_at) index; rows are marked, never deleted.
func (r *TokenRepository) InvalidateExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.DB.ExecContext(ctx, `
		UPDATE verification_tokens
		SET is_valid = FALSE, invalidated_at = $1, invalidation_reason = $2
		WHERE is_valid = TRUE AND expires_at < $1`,
		now, token.ReasonExpired)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate expired tokens: %w", err)
	}
	return result.RowsAffected()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return false
}
