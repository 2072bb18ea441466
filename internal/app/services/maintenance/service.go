// Package maintenance runs the scheduled cache cleanup.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/trackfolio/backend/internal/app/services/cache"
	"github.com/trackfolio/backend/internal/app/storage"
	"github.com/trackfolio/backend/pkg/logger"
)

// DefaultSchedule runs the cleanup every night at 03:00.
const DefaultSchedule = "0 3 * * *"

// sessionSweepSchedule drops expired sessions once an hour.
const sessionSweepSchedule = "@hourly"

// Service schedules periodic cache cleanup and session sweeps. It
// implements system.Service.
type Service struct {
	cache    *cache.Service
	sessions storage.SessionStore
	cron     *cron.Cron
	schedule string
	log      *logger.Logger
}

// New constructs the maintenance runner. An empty schedule uses
// DefaultSchedule. A nil sessions store disables the session sweep.
func New(cacheSvc *cache.Service, sessions storage.SessionStore, schedule string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("maintenance")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Service{
		cache:    cacheSvc,
		sessions: sessions,
		cron:     cron.New(),
		schedule: schedule,
		log:      log,
	}
}

func (s *Service) Name() string { return "maintenance" }

// Start validates the schedule and begins the cron loop.
func (s *Service) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.RunNow(context.Background()); err != nil {
			s.log.WithError(err).Error("scheduled cache cleanup failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", s.schedule, err)
	}
	if s.sessions != nil {
		if _, err := s.cron.AddFunc(sessionSweepSchedule, func() {
			if _, err := s.SweepSessions(context.Background()); err != nil {
				s.log.WithError(err).Error("session sweep failed")
			}
		}); err != nil {
			return fmt.Errorf("register session sweep: %w", err)
		}
	}
	s.cron.Start()
	s.log.WithField("schedule", s.schedule).Info("maintenance scheduler started")
	return nil
}

// Stop halts the cron loop and waits for a running job to finish, bounded
// by ctx.
func (s *Service) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow performs one cleanup immediately.
func (s *Service) RunNow(ctx context.Context) (cache.CleanupReport, error) {
	report, err := s.cache.Cleanup(ctx)
	if err != nil {
		return cache.CleanupReport{}, err
	}
	return report, nil
}

// SweepSessions drops sessions whose expiry has passed and reports how
// many were removed.
func (s *Service) SweepSessions(ctx context.Context) (int64, error) {
	if s.sessions == nil {
		return 0, nil
	}
	removed, err := s.sessions.DeleteExpiredSessions(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	if removed > 0 {
		s.log.WithField("removed", removed).Info("expired sessions removed")
	}
	return removed, nil
}
