// Package scheduler owns the periodic background ticks: the deferred
// auto-allocation sweep and the unpaid-gift expiry.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper is the gift/ledger bridge's due-task entry point.
type Sweeper interface {
	RunDueTasks(ctx context.Context) error
}

// Expirer voids stale unpaid gifts.
type Expirer interface {
	ExpireUnpaid(ctx context.Context, cutoff time.Time) (int64, error)
}

type Scheduler struct {
	cron       *cron.Cron
	sweeper    Sweeper
	expirer    Expirer
	giftExpiry time.Duration
	log        *slog.Logger
}

func New(sweeper Sweeper, expirer Expirer, giftExpiry time.Duration, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cron:       cron.New(),
		sweeper:    sweeper,
		expirer:    expirer,
		giftExpiry: giftExpiry,
		log:        log,
	}
}

// Start registers the jobs and begins ticking. sweepSchedule is a cron
// expression, typically hourly.
func (s *Scheduler) Start(ctx context.Context, sweepSchedule string) error {
	_, err := s.cron.AddFunc(sweepSchedule, func() {
		if err := s.sweeper.RunDueTasks(ctx); err != nil {
			s.log.Error("auto-allocation sweep failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	_, err = s.cron.AddFunc("30 0 * * *", func() {
		n, err := s.expirer.ExpireUnpaid(ctx, time.Now().Add(-s.giftExpiry))
		if err != nil {
			s.log.Error("gift expiry failed", "error", err)
			return
		}
		if n > 0 {
			s.log.Info("expired unpaid gifts", "count", n)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("scheduler started", "sweep_schedule", sweepSchedule)
	return nil
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("scheduler stopped")
}
