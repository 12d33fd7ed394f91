// Package scheduler runs the expiration sweep on a fixed interval.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type expiredProcessor interface {
	ProcessExpired(ctx context.Context) (int, error)
}

// Locker elects the single instance that sweeps during one tick.
type Locker interface {
	// TryLock returns a release func when the lock was acquired, or nil when
	// another holder has it.
	TryLock(ctx context.Context) (func(), error)
}

type Scheduler struct {
	processor expiredProcessor
	locker    Locker
	interval  time.Duration
	logger    *zap.Logger
}

// New returns a Scheduler.  locker may be nil, in which case every tick
// sweeps.
func New(
	processor expiredProcessor,
	locker Locker,
	interval time.Duration,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		processor: processor,
		locker:    locker,
		interval:  interval,
		logger:    logger,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started",
		zap.Duration("interval", s.interval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.locker != nil {
		release, err := s.locker.TryLock(ctx)
		if err != nil {
			s.logger.Warn("sweeper lock unavailable", zap.Error(err))
			return
		}
		if release == nil {
			s.logger.Debug("sweep skipped, another instance holds the lock")
			return
		}
		defer release()
	}

	n, err := s.processor.ProcessExpired(ctx)
	if err != nil {
		s.logger.Error("failed to process expired reservations",
			zap.Int("expired", n),
			zap.Error(err),
		)
		return
	}
	if n > 0 {
		s.logger.Info("reservations expired", zap.Int("count", n))
	}
}
