package application

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mpfm-monitor/internal/config"
)

// Scheduler triggers the sweep once a day at a fixed UTC time.
type Scheduler struct {
	runner  *Runner
	tenants []string
	dailyAt string
	logger  *zap.Logger
	lastRun time.Time
}

// NewScheduler constructs a Scheduler.
func NewScheduler(runner *Runner, tenants []string, dailyAt string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		runner:  runner,
		tenants: tenants,
		dailyAt: dailyAt,
		logger:  logger,
	}
}

// Start begins the scheduler loop and blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.runner == nil {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !s.shouldRun(now.UTC()) {
				continue
			}
			s.runOnce(ctx, now.UTC())
		}
	}
}

func (s *Scheduler) shouldRun(now time.Time) bool {
	hour, minute, err := config.ParseDailyAt(s.dailyAt)
	if err != nil {
		return false
	}
	if now.Hour() != hour || now.Minute() != minute {
		return false
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return !s.lastRun.Equal(today)
}

func (s *Scheduler) runOnce(ctx context.Context, now time.Time) {
	if len(s.tenants) == 0 {
		return
	}
	s.lastRun = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if _, err := s.runner.Run(ctx, s.tenants); err != nil {
		s.logger.Error("sweep schedule error", zap.Error(err))
	}
}
