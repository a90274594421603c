package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verimail/verification-service/internal/core/domain/token"
	"github.com/verimail/verification-service/internal/core/ports"
)

// TokenRepositoryMock is a lightweight function-field mock for TokenRepository
type TokenRepositoryMock struct {
	IssueFn             func(ctx context.Context, t *token.VerificationToken) (int, error)
	GetByHashFn         func(ctx context.Context, hashedToken string) (*token.VerificationToken, error)
	ConsumeFn           func(ctx context.Context, id uuid.UUID, usedAt time.Time) (bool, error)
	MarkExpiredFn       func(ctx context.Context, id uuid.UUID, at time.Time) error
	InvalidateExpiredFn func(ctx context.Context, now time.Time) (int64, error)
}

var _ ports.TokenRepository = (*TokenRepositoryMock)(nil)

func (m *TokenRepositoryMock) Issue(ctx context.Context, t *token.VerificationToken) (int, error) {
	if m.IssueFn != nil {
		return m.IssueFn(ctx, t)
	}
	return 1, nil
}

func (m *TokenRepositoryMock) GetByHash(ctx context.Context, hashedToken string) (*token.VerificationToken, error) {
	if m.GetByHashFn != nil {
		return m.GetByHashFn(ctx, hashedToken)
	}
	return nil, token.ErrTokenNotFound
}

func (m *TokenRepositoryMock) Consume(ctx context.Context, id uuid.UUID, usedAt time.Time) (bool, error) {
	if m.ConsumeFn != nil {
		return m.ConsumeFn(ctx, id, usedAt)
	}
	return true, nil
}

func (m *TokenRepositoryMock) MarkExpired(ctx context.Context, id uuid.UUID, at time.Time) error {
	if m.MarkExpiredFn != nil {
		return m.MarkExpiredFn(ctx, id, at)
	}
	return nil
}

func (m *TokenRepositoryMock) InvalidateExpired(ctx context.Context, now time.Time) (int64, error) {
	if m.InvalidateExpiredFn != nil {
		return m.InvalidateExpiredFn(ctx, now)
	}
	return 0, nil
}

// DispatcherMock records dispatched links for assertions
type DispatcherMock struct {
	SendFn func(ctx context.Context, email string, purpose token.Purpose, verificationURL string) error

	mu   sync.Mutex
	Sent []DispatchedLink
}

type DispatchedLink struct {
	Email           string
	Purpose         token.Purpose
	VerificationURL string
}

var _ ports.NotificationDispatcher = (*DispatcherMock)(nil)

func (m *DispatcherMock) SendVerificationLink(ctx context.Context, email string, purpose token.Purpose, verificationURL string) error {
	m.mu.Lock()
	m.Sent = append(m.Sent, DispatchedLink{Email: email, Purpose: purpose, VerificationURL: verificationURL})
	m.mu.Unlock()
	if m.SendFn != nil {
		return m.SendFn(ctx, email, purpose, verificationURL)
	}
	return nil
}

// RateLimiterMock allows everything unless AllowFn is set
type RateLimiterMock struct {
	AllowFn func(ctx context.Context, key string) (bool, int, time.Duration, error)
}

var _ ports.RateLimiter = (*RateLimiterMock)(nil)

func (m *RateLimiterMock) Allow(ctx context.Context, key string) (bool, int, time.Duration, error) {
	if m.AllowFn != nil {
		return m.AllowFn(ctx, key)
	}
	return true, 10, 0, nil
}

// TokenServiceMock is a function-field mock for the TokenService port
type TokenServiceMock struct {
	IssueFn  func(ctx context.Context, req *token.IssueRequest, requesterIP string) (*token.IssueResult, error)
	VerifyFn func(ctx context.Context, plaintext string) (*token.VerifyResult, error)
}

var _ ports.TokenService = (*TokenServiceMock)(nil)

func (m *TokenServiceMock) Issue(ctx context.Context, req *token.IssueRequest, requesterIP string) (*token.IssueResult, error) {
	if m.IssueFn != nil {
		return m.IssueFn(ctx, req, requesterIP)
	}
	return &token.IssueResult{TokenSent: true, TokenSequence: 1}, nil
}

func (m *TokenServiceMock) Verify(ctx context.Context, plaintext string) (*token.VerifyResult, error) {
	if m.VerifyFn != nil {
		return m.VerifyFn(ctx, plaintext)
	}
	return nil, token.ErrInvalidToken
}

// InMemoryTokenRepository is a mutex-guarded store that enforces the same
// invariants as the Postgres schema (unique hash, unique sequence, single
// valid row per user/purpose, conditional consume). It lets service tests
// exercise supersession and exactly-once semantics without a database.
type InMemoryTokenRepository struct {
	mu     sync.Mutex
	rows   map[uuid.UUID]*token.VerificationToken
	byHash map[string]uuid.UUID
}

var _ ports.TokenRepository = (*InMemoryTokenRepository)(nil)

func NewInMemoryTokenRepository() *InMemoryTokenRepository {
	return &InMemoryTokenRepository{
		rows:   make(map[uuid.UUID]*token.VerificationToken),
		byHash: make(map[string]uuid.UUID),
	}
}

func (r *InMemoryTokenRepository) Issue(ctx context.Context, t *token.VerificationToken) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byHash[t.HashedToken]; exists {
		return 0, token.ErrIssuanceConflict
	}

	next := 1
	for _, row := range r.rows {
		if row.UserID == t.UserID && row.Purpose == t.Purpose && row.Sequence >= next {
			next = row.Sequence + 1
		}
	}

	for _, row := range r.rows {
		if row.UserID == t.UserID && row.Purpose == t.Purpose && row.IsValid {
			at := t.CreatedAt
			reason := token.ReasonSuperseded
			row.IsValid = false
			row.InvalidatedAt = &at
			row.InvalidationReason = &reason
		}
	}

	stored := *t
	stored.Sequence = next
	stored.IsValid = true
	r.rows[stored.ID] = &stored
	r.byHash[stored.HashedToken] = stored.ID

	t.Sequence = next
	return next, nil
}

func (r *InMemoryTokenRepository) GetByHash(ctx context.Context, hashedToken string) (*token.VerificationToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byHash[hashedToken]
	if !ok {
		return nil, token.ErrTokenNotFound
	}
	out := *r.rows[id]
	return &out, nil
}

func (r *InMemoryTokenRepository) Consume(ctx context.Context, id uuid.UUID, usedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok {
		return false, fmt.Errorf("token %s not found", id)
	}
	if !row.IsValid {
		return false, nil
	}
	at := usedAt
	row.IsValid = false
	row.UsedAt = &at
	return true, nil
}

func (r *InMemoryTokenRepository) MarkExpired(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok || !row.IsValid {
		return nil
	}
	ts := at
	reason := token.ReasonExpired
	row.IsValid = false
	row.InvalidatedAt = &ts
	row.InvalidationReason = &reason
	return nil
}

func (r *InMemoryTokenRepository) InvalidateExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, row := range r.rows {
		if row.IsValid && now.After(row.ExpiresAt) {
			ts := now
			reason := token.ReasonExpired
			row.IsValid = false
			row.InvalidatedAt = &ts
			row.InvalidationReason = &reason
			n++
		}
	}
	return n, nil
}

// Get returns a copy of a stored row for assertions.
func (r *InMemoryTokenRepository) Get(id uuid.UUID) (*token.VerificationToken, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok {
		return nil, false
	}
	out := *row
	return &out, true
}

// All returns copies of every stored row.
func (r *InMemoryTokenRepository) All() []*token.VerificationToken {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*token.VerificationToken, 0, len(r.rows))
	for _, row := range r.rows {
		rowCopy := *row
		out = append(out, &rowCopy)
	}
	return out
}

// ValidCount reports how many rows are currently valid for (user, purpose).
func (r *InMemoryTokenRepository) ValidCount(userID uuid.UUID, purpose token.Purpose) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, row := range r.rows {
		if row.UserID == userID && row.Purpose == purpose && row.IsValid {
			count++
		}
	}
	return count
}

// ForceExpire rewinds a row's expiry for expiry-path tests.
func (r *InMemoryTokenRepository) ForceExpire(id uuid.UUID, expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if row, ok := r.rows[id]; ok {
		row.ExpiresAt = expiresAt
	}
}

// FindBySequence returns a copy of the row with the given sequence.
func (r *InMemoryTokenRepository) FindBySequence(userID uuid.UUID, purpose token.Purpose, sequence int) (*token.VerificationToken, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range r.rows {
		if row.UserID == userID && row.Purpose == purpose && row.Sequence == sequence {
			out := *row
			return &out, true
		}
	}
	return nil, false
}
