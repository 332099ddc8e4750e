// Package maintenance runs the scheduled background jobs: closing idle
// sessions, purging data past each site's retention window and computing
// daily rollups.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/onevisitor/onevisitor/internal/cache"
	"github.com/onevisitor/onevisitor/internal/config"
	"github.com/onevisitor/onevisitor/internal/logging"
	analyticssvc "github.com/onevisitor/onevisitor/internal/services/analytics"
	"github.com/onevisitor/onevisitor/internal/storage"
)

// Service schedules and runs the background jobs. It implements the
// application lifecycle interface.
type Service struct {
	visitors  storage.VisitorStore
	sites     storage.SiteStore
	users     storage.UserStore
	analytics *analyticssvc.Service
	cache     *cache.Cache

	schedules config.MaintenanceConfig
	idle      time.Duration
	cron      *cron.Cron
	log       *logging.Logger
}

// New constructs the maintenance service.
func New(
	visitors storage.VisitorStore,
	sites storage.SiteStore,
	users storage.UserStore,
	analytics *analyticssvc.Service,
	c *cache.Cache,
	schedules config.MaintenanceConfig,
	idle time.Duration,
	log *logging.Logger,
) *Service {
	if log == nil {
		log = logging.NewDefault("maintenance")
	}
	return &Service{
		visitors:  visitors,
		sites:     sites,
		users:     users,
		analytics: analytics,
		cache:     c,
		schedules: schedules,
		idle:      idle,
		log:       log,
	}
}

// Name identifies the service to the lifecycle manager.
func (s *Service) Name() string { return "maintenance" }

// Start registers the cron jobs and begins scheduling.
func (s *Service) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))

	jobs := []struct {
		schedule string
		name     string
		run      func(context.Context) error
	}{
		{s.schedules.SessionSweepSchedule, "session sweep", s.SweepSessions},
		{s.schedules.RetentionSchedule, "retention purge", s.PurgeExpiredData},
		{s.schedules.RollupSchedule, "daily rollup", s.RollupYesterday},
	}
	for _, job := range jobs {
		job := job
		if job.schedule == "" {
			continue
		}
		_, err := s.cron.AddFunc(job.schedule, func() {
			if err := job.run(context.Background()); err != nil {
				s.log.WithError(err).Errorf("%s failed", job.name)
			}
		})
		if err != nil {
			return fmt.Errorf("schedule %s: %w", job.name, err)
		}
	}

	s.cron.Start()
	s.log.Info("maintenance jobs scheduled")
	return nil
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Service) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SweepSessions closes sessions idle past the configured window.
func (s *Service) SweepSessions(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.idle)
	closed, err := s.visitors.CloseIdleSessions(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("close idle sessions: %w", err)
	}
	if closed > 0 {
		s.log.Infof("closed %d idle sessions", closed)
	}
	return nil
}

// PurgeExpiredData deletes tracking data older than each site's retention
// window and drops expired credential tokens.
func (s *Service) PurgeExpiredData(ctx context.Context) error {
	windows, err := s.sites.ListRetentionWindows(ctx)
	if err != nil {
		return fmt.Errorf("list retention windows: %w", err)
	}

	now := time.Now().UTC()
	for siteID, days := range windows {
		if days <= 0 {
			continue
		}
		cutoff := now.AddDate(0, 0, -days)
		removed, err := s.visitors.PurgeSiteDataBefore(ctx, siteID, cutoff)
		if err != nil {
			s.log.WithError(err).Errorf("retention purge failed for site %s", siteID)
			continue
		}
		if removed > 0 {
			s.log.Infof("purged %d records for site %s", removed, siteID)
			if s.cache != nil {
				s.cache.InvalidateSite(ctx, siteID)
			}
		}
	}

	if s.users != nil {
		if removed, err := s.users.DeleteExpiredUserTokens(ctx, now); err != nil {
			s.log.WithError(err).Warn("expired token purge failed")
		} else if removed > 0 {
			s.log.Infof("purged %d expired tokens", removed)
		}
	}
	return nil
}

// RollupYesterday persists yesterday's daily stats for every site.
func (s *Service) RollupYesterday(ctx context.Context) error {
	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	n, err := s.analytics.RollupAllSites(ctx, yesterday)
	if err != nil {
		return fmt.Errorf("daily rollup: %w", err)
	}
	s.log.Infof("rolled up daily stats for %d sites", n)
	return nil
}
