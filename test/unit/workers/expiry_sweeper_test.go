package workers_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/verimail/verification-service/internal/application/workers"
	"github.com/verimail/verification-service/internal/core/domain/token"
	"github.com/verimail/verification-service/test/mocks"
)

func newSweeperLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func seedToken(t *testing.T, repo *mocks.InMemoryTokenRepository, expiresAt time.Time) uuid.UUID {
	t.Helper()
	tok := &token.VerificationToken{
		ID:          uuid.New(),
		HashedToken: uuid.NewString(),
		UserID:      uuid.New(),
		Email:       "a@b.com",
		Purpose:     token.PurposeEmailVerification,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := repo.Issue(context.Background(), tok); err != nil {
		t.Fatalf("failed to seed token: %v", err)
	}
	return tok.ID
}

func TestSweep_MarksExpiredRowsInvalid(t *testing.T) {
	repo := mocks.NewInMemoryTokenRepository()
	expiredID := seedToken(t, repo, time.Now().Add(-time.Minute))
	freshID := seedToken(t, repo, time.Now().Add(time.Hour))

	sweeper := workers.NewExpirySweeper(repo, time.Minute, newSweeperLogger())
	sweeper.Sweep()

	expired, ok := repo.Get(expiredID)
	if !ok {
		t.Fatalf("swept row must be marked, never deleted")
	}
	if expired.IsValid {
		t.Fatalf("expired row should be invalid after the sweep")
	}
	if expired.InvalidationReason == nil || *expired.InvalidationReason != token.ReasonExpired {
		t.Fatalf("expected invalidation reason %q, got %v", token.ReasonExpired, expired.InvalidationReason)
	}
	if expired.UsedAt != nil {
		t.Fatalf("sweeping must not mark the row as consumed")
	}

	fresh, _ := repo.Get(freshID)
	if !fresh.IsValid {
		t.Fatalf("unexpired row must survive the sweep")
	}

	// a second pass is a no-op
	sweeper.Sweep()
	fresh, _ = repo.Get(freshID)
	if !fresh.IsValid {
		t.Fatalf("repeated sweeps must not touch unexpired rows")
	}
}

func TestStart_ZeroIntervalDisablesSweeper(t *testing.T) {
	swept := make(chan struct{}, 1)
	repo := &mocks.TokenRepositoryMock{InvalidateExpiredFn: func(ctx context.Context, now time.Time) (int64, error) {
		swept <- struct{}{}
		return 0, nil
	}}

	sweeper := workers.NewExpirySweeper(repo, 0, newSweeperLogger())
	if err := sweeper.Start(); err != nil {
		t.Fatalf("disabled sweeper should start cleanly: %v", err)
	}

	select {
	case <-swept:
		t.Fatalf("disabled sweeper must never run a sweep")
	case <-time.After(50 * time.Millisecond):
	}
	sweeper.Stop()
}

func TestStart_SchedulesPeriodicSweep(t *testing.T) {
	swept := make(chan struct{}, 4)
	repo := &mocks.TokenRepositoryMock{InvalidateExpiredFn: func(ctx context.Context, now time.Time) (int64, error) {
		select {
		case swept <- struct{}{}:
		default:
		}
		return 1, nil
	}}

	// cron rounds sub-second delays up to one second
	sweeper := workers.NewExpirySweeper(repo, 10*time.Millisecond, newSweeperLogger())
	if err := sweeper.Start(); err != nil {
		t.Fatalf("failed to start sweeper: %v", err)
	}
	defer sweeper.Stop()

	select {
	case <-swept:
	case <-time.After(3 * time.Second):
		t.Fatalf("scheduled sweep never ran")
	}
}
