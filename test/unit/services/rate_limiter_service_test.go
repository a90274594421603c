package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	impl "github.com/verimail/verification-service/internal/application/services"
)

// rateLimitRepoFake counts increments per key in memory, mirroring the
// two-bucket contract of the Redis repository.
type rateLimitRepoFake struct {
	mu       sync.Mutex
	counts   map[string]int
	previous map[string]int
	startAt  time.Time // window start override; zero means "window starts now"
	failWith error
}

func newRateLimitRepoFake() *rateLimitRepoFake {
	return &rateLimitRepoFake{counts: make(map[string]int), previous: make(map[string]int)}
}

func (f *rateLimitRepoFake) IncrementWindow(ctx context.Context, key string, window time.Duration, keyPrefix string, ttl time.Duration) (int, int, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	start := f.startAt
	if start.IsZero() {
		start = time.Now()
	}
	if f.failWith != nil {
		return 0, 0, start, f.failWith
	}
	f.counts[key]++
	return f.counts[key], f.previous[key], start, nil
}

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	repo := newRateLimitRepoFake()
	svc := impl.NewRateLimiterService(repo, &impl.RateLimiterConfig{RequestsPerWindow: 10, Window: 15 * time.Minute}, logrus.New())

	for i := 1; i <= 10; i++ {
		allowed, _, _, err := svc.Allow(context.Background(), "ip:10.0.0.1")
		if err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
		if !allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	// Scenario D boundary: the 11th request in-window is rejected.
	allowed, remaining, retryAfter, err := svc.Allow(context.Background(), "ip:10.0.0.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatalf("request 11 should be rejected")
	}
	if remaining != 0 {
		t.Fatalf("rejected request should report 0 remaining, got %d", remaining)
	}
	if retryAfter <= 0 || retryAfter > 15*time.Minute {
		t.Fatalf("retry-after hint out of range: %s", retryAfter)
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	repo := newRateLimitRepoFake()
	svc := impl.NewRateLimiterService(repo, &impl.RateLimiterConfig{RequestsPerWindow: 1, Window: time.Minute}, logrus.New())

	if allowed, _, _, _ := svc.Allow(context.Background(), "email:a@b.com"); !allowed {
		t.Fatalf("first request for key A should be allowed")
	}
	if allowed, _, _, _ := svc.Allow(context.Background(), "email:a@b.com"); allowed {
		t.Fatalf("second request for key A should be rejected")
	}
	if allowed, _, _, _ := svc.Allow(context.Background(), "email:c@d.com"); !allowed {
		t.Fatalf("key B must not be affected by key A's budget")
	}
}

func TestRateLimiter_PreviousWindowWeighsIn(t *testing.T) {
	repo := newRateLimitRepoFake()
	repo.previous["ip:10.0.0.1"] = 100
	svc := impl.NewRateLimiterService(repo, &impl.RateLimiterConfig{RequestsPerWindow: 10, Window: time.Hour}, logrus.New())

	// Early in the window nearly all of the previous window still overlaps,
	// so a saturated previous window rejects immediately.
	allowed, _, _, err := svc.Allow(context.Background(), "ip:10.0.0.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatalf("saturated previous window should reject new requests")
	}
}

func TestRateLimiter_FailsOpenOnStorageError(t *testing.T) {
	repo := newRateLimitRepoFake()
	repo.failWith = errors.New("redis gone")
	svc := impl.NewRateLimiterService(repo, &impl.RateLimiterConfig{RequestsPerWindow: 1, Window: time.Minute}, logrus.New())

	allowed, _, _, err := svc.Allow(context.Background(), "ip:10.0.0.1")
	if err == nil {
		t.Fatalf("expected the storage error to propagate")
	}
	if !allowed {
		t.Fatalf("limiter must fail open on storage errors")
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	svc := impl.NewRateLimiterService(newRateLimitRepoFake(), nil, nil)
	allowed, remaining, _, err := svc.Allow(context.Background(), "ip:1.2.3.4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatalf("first request should be allowed with default config")
	}
	if remaining != 9 {
		t.Fatalf("default limit should be 10, remaining 9, got %d", remaining)
	}
}
