package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/verimail/verification-service/internal/core/ports"
)

// RateLimiterService implements a sliding-window limiter over two fixed
// window counters: the previous window's count is weighted by how much of it
// still overlaps the sliding window. Counters live in a shared Redis store,
// so the limit is globally exact across stateless service instances rather
// than best-effort per instance.
type RateLimiterService struct {
	repo      ports.RateLimitRepository
	limit     int
	window    time.Duration
	keyPrefix string
	logger    *logrus.Logger
}

// RateLimiterConfig groups configuration parameters for the rate limiter.
type RateLimiterConfig struct {
	RequestsPerWindow int
	Window            time.Duration
	KeyPrefix         string
}

func NewRateLimiterService(repo ports.RateLimitRepository, cfg *RateLimiterConfig, logger *logrus.Logger) *RateLimiterService {
	// Apply defaults
	limit := 10
	window := 15 * time.Minute
	keyPrefix := "ratelimit:issue"
	if cfg != nil {
		if cfg.RequestsPerWindow > 0 {
			limit = cfg.RequestsPerWindow
		}
		if cfg.Window > 0 {
			window = cfg.Window
		}
		if cfg.KeyPrefix != "" {
			keyPrefix = cfg.KeyPrefix
		}
	}
	return &RateLimiterService{repo: repo, limit: limit, window: window, keyPrefix: keyPrefix, logger: logger}
}

func (s *RateLimiterService) Allow(ctx context.Context, key string) (bool, int, time.Duration, error) {
	ttl := s.window * 2 // retain the previous window for the overlap weight
	current, previous, windowStart, err := s.repo.IncrementWindow(ctx, key, s.window, s.keyPrefix, ttl)
	if err != nil {
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{"key": key}).WithError(err).Error("rate limiter: failed to increment window")
		}
		return true, s.limit, 0, err
	}

	now := time.Now()
	elapsed := now.Sub(windowStart)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > s.window {
		elapsed = s.window
	}
	overlap := 1.0 - float64(elapsed)/float64(s.window)
	weighted := float64(current) + float64(previous)*overlap

	retryAfter := s.window - elapsed
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{"key": key, "current": current, "previous": previous, "weighted": weighted, "limit": s.limit}).Debug("rate limiter window state")
	}
	if weighted > float64(s.limit) {
		return false, 0, retryAfter, nil
	}
	remaining := s.limit - int(weighted)
	return true, remaining, retryAfter, nil
}
