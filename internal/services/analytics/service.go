// Package analytics serves reporting queries over tracked data, with a
// Redis cache in front of the heavier aggregates.
package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/onevisitor/onevisitor/internal/cache"
	"github.com/onevisitor/onevisitor/internal/domain/analytics"
	serviceerrors "github.com/onevisitor/onevisitor/internal/errors"
	"github.com/onevisitor/onevisitor/internal/logging"
	"github.com/onevisitor/onevisitor/internal/storage"
)

const (
	defaultRangeDays    = 7
	maxRangeDays        = 366
	activeVisitorWindow = 5 * time.Minute
	topListLimit        = 10
)

// Service runs reporting queries.
type Service struct {
	store storage.AnalyticsStore
	sites storage.SiteStore
	cache *cache.Cache
	log   *logging.Logger
}

// New constructs the analytics service.
func New(store storage.AnalyticsStore, sites storage.SiteStore, c *cache.Cache, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("analytics")
	}
	return &Service{store: store, sites: sites, cache: c, log: log}
}

// ResolveRange normalizes a requested window. Zero values default to the
// last seven days; reversed or oversized windows are rejected.
func ResolveRange(start, end time.Time) (analytics.Range, error) {
	now := time.Now().UTC()
	if end.IsZero() {
		end = now
	}
	if start.IsZero() {
		start = end.AddDate(0, 0, -defaultRangeDays)
	}
	if !start.Before(end) {
		return analytics.Range{}, serviceerrors.BadRequest("range start must be before its end")
	}
	if end.Sub(start) > maxRangeDays*24*time.Hour {
		return analytics.Range{}, serviceerrors.BadRequest("range must not exceed one year")
	}
	return analytics.Range{Start: start.UTC(), End: end.UTC()}, nil
}

// Summary returns the headline numbers, cached per site and range.
func (s *Service) Summary(ctx context.Context, siteID string, rng analytics.Range) (analytics.Summary, error) {
	if s.cache != nil {
		if cached, ok := s.cache.GetSummary(ctx, siteID, rng); ok {
			return cached, nil
		}
	}

	summary, err := s.store.Summary(ctx, siteID, rng)
	if err != nil {
		return analytics.Summary{}, err
	}

	// Redis gives a sharper live count than the session table when present.
	if s.cache != nil {
		if active, ok := s.cache.CountActiveVisitors(ctx, siteID, activeVisitorWindow); ok {
			summary.ActiveVisitors = active
		}
		s.cache.SetSummary(ctx, summary)
	}
	return summary, nil
}

// TopPages ranks paths by views.
func (s *Service) TopPages(ctx context.Context, siteID string, rng analytics.Range) ([]analytics.PageStat, error) {
	return s.store.TopPages(ctx, siteID, rng, topListLimit)
}

// TopReferrers ranks referrers by distinct visitors.
func (s *Service) TopReferrers(ctx context.Context, siteID string, rng analytics.Range) ([]analytics.ReferrerStat, error) {
	return s.store.TopReferrers(ctx, siteID, rng, topListLimit)
}

// Breakdown buckets visitors by browser, os, device or country.
func (s *Service) Breakdown(ctx context.Context, siteID, dimension string, rng analytics.Range) ([]analytics.BreakdownEntry, error) {
	switch dimension {
	case "browser", "os", "device", "country":
	default:
		return nil, serviceerrors.BadRequest("dimension must be browser, os, device or country")
	}
	return s.store.Breakdown(ctx, siteID, dimension, rng)
}

// TimeSeries returns per-day counts over the range.
func (s *Service) TimeSeries(ctx context.Context, siteID string, rng analytics.Range) ([]analytics.TimePoint, error) {
	return s.store.TimeSeries(ctx, siteID, rng)
}

// DailyStats returns the persisted rollup rows over the range.
func (s *Service) DailyStats(ctx context.Context, siteID string, rng analytics.Range) ([]analytics.DailyStat, error) {
	return s.store.ListDailyStats(ctx, siteID, rng)
}

// RollupDay computes and persists one site's rollup for the given day.
func (s *Service) RollupDay(ctx context.Context, siteID string, day time.Time) (analytics.DailyStat, error) {
	stat, err := s.store.ComputeDailyStat(ctx, siteID, day)
	if err != nil {
		return analytics.DailyStat{}, err
	}
	if err := s.store.UpsertDailyStat(ctx, stat); err != nil {
		return analytics.DailyStat{}, err
	}
	return stat, nil
}

// RollupAllSites persists yesterday's rollup for every site with settings.
func (s *Service) RollupAllSites(ctx context.Context, day time.Time) (int, error) {
	windows, err := s.sites.ListRetentionWindows(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for siteID := range windows {
		if _, err := s.RollupDay(ctx, siteID, day); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			s.log.WithError(err).Warnf("rollup failed for site %s", siteID)
			continue
		}
		count++
	}
	return count, nil
}
