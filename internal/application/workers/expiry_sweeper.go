package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/verimail/verification-service/internal/core/ports"
)

// ExpirySweeper periodically flips valid-but-past-TTL token rows to invalid
// with reason "expired". It only marks rows; physical retention/deletion is
// handled outside this service. Verification remains correct without the
// sweeper since the verifier checks expires_at itself; the sweep keeps the
// single-valid index lean and the audit trail accurate.
type ExpirySweeper struct {
	repo     ports.TokenRepository
	interval time.Duration
	cron     *cron.Cron
	logger   *logrus.Logger
}

func NewExpirySweeper(repo ports.TokenRepository, interval time.Duration, logger *logrus.Logger) *ExpirySweeper {
	return &ExpirySweeper{
		repo:     repo,
		interval: interval,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start schedules the sweep job. A zero or negative interval disables the
// sweeper.
func (w *ExpirySweeper) Start() error {
	if w.interval <= 0 {
		w.logger.Info("expiry sweeper disabled")
		return nil
	}
	spec := fmt.Sprintf("@every %s", w.interval)
	if _, err := w.cron.AddFunc(spec, w.Sweep); err != nil {
		return fmt.Errorf("failed to schedule expiry sweep: %w", err)
	}
	w.cron.Start()
	w.logger.WithFields(logrus.Fields{"interval": w.interval.String()}).Info("expiry sweeper started")
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (w *ExpirySweeper) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
}

// Sweep runs a single invalidation pass. The cron schedule calls it on the
// configured interval; it is idempotent, so overlapping or manual runs are
// harmless.
func (w *ExpirySweeper) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := w.repo.InvalidateExpired(ctx, time.Now().UTC())
	if err != nil {
		w.logger.WithError(err).Error("expiry sweep failed")
		return
	}
	if n > 0 {
		w.logger.WithFields(logrus.Fields{"expired": n}).Info("expiry sweep invalidated tokens")
	}
}
