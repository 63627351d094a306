package manager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/fedcycle/pkg/cron"
)

const DefaultSweepSchedule = "@every 5s"

// Sweeper periodically asks the service to close cycles whose time box has
// elapsed, so a cycle that reached its minimum number of diffs completes at
// its end time even when no further diff arrives.
type Sweeper interface {
	Start(ctx context.Context) error
	Stop()
}

type sweeper struct {
	svc      Service
	schedule cron.Schedule
	logger   *slog.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewSweeper(svc Service, schedule string, logger *slog.Logger) (Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	s, err := cron.Parse(schedule)
	if err != nil {
		return nil, err
	}

	return &sweeper{
		svc:      svc,
		schedule: s,
		logger:   logger,
		stopChan: make(chan struct{}),
	}, nil
}

func (s *sweeper) Start(ctx context.Context) error {
	s.logger.Info("cycle sweeper started", slog.String("schedule", s.schedule.String()))

	for {
		timer := time.NewTimer(s.schedule.Until(time.Now()))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("cycle sweeper stopping")

			return ctx.Err()
		case <-s.stopChan:
			timer.Stop()
			s.logger.Info("cycle sweeper stopped")

			return nil
		case <-timer.C:
			if err := s.svc.SweepCycles(ctx); err != nil {
				s.logger.Error("failed to sweep expired cycles", slog.Any("error", err))
			}
		}
	}
}

func (s *sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}
