package postgres

import (
	"context"
	"time"

	"github.com/onevisitor/onevisitor/internal/domain/analytics"
)

// --- AnalyticsStore ---------------------------------------------------------

// The reporting queries return flat aggregate rows, which is where sqlx's
// struct scanning earns its keep.

type summaryRow struct {
	PageViews      int64 `db:"page_views"`
	UniqueVisitors int64 `db:"unique_visitors"`
}

type sessionAggRow struct {
	Sessions       int64   `db:"sessions"`
	Bounces        int64   `db:"bounces"`
	TotalSeconds   float64 `db:"total_seconds"`
	ActiveVisitors int64   `db:"active_visitors"`
}

func (s *Store) Summary(ctx context.Context, siteID string, rng analytics.Range) (analytics.Summary, error) {
	summary := analytics.Summary{SiteID: siteID, Range: rng}

	var pv summaryRow
	err := s.db.GetContext(ctx, &pv, `
		SELECT COUNT(*) AS page_views, COUNT(DISTINCT visitor_id) AS unique_visitors
		FROM page_views
		WHERE site_id = $1 AND created_at >= $2 AND created_at < $3
	`, siteID, rng.Start, rng.End)
	if err != nil {
		return analytics.Summary{}, wrapErr(err)
	}
	summary.PageViews = pv.PageViews
	summary.UniqueVisitors = pv.UniqueVisitors

	var agg sessionAggRow
	err = s.db.GetContext(ctx, &agg, `
		SELECT COUNT(*) AS sessions,
		       COUNT(*) FILTER (WHERE page_view_count <= 1) AS bounces,
		       COALESCE(SUM(EXTRACT(EPOCH FROM COALESCE(ended_at, last_seen_at) - started_at)), 0) AS total_seconds,
		       COUNT(*) FILTER (WHERE is_active) AS active_visitors
		FROM sessions
		WHERE site_id = $1 AND started_at >= $2 AND started_at < $3
	`, siteID, rng.Start, rng.End)
	if err != nil {
		return analytics.Summary{}, wrapErr(err)
	}
	summary.Sessions = agg.Sessions
	summary.ActiveVisitors = agg.ActiveVisitors
	if agg.Sessions > 0 {
		summary.BounceRate = float64(agg.Bounces) / float64(agg.Sessions)
		summary.AvgSessionSeconds = agg.TotalSeconds / float64(agg.Sessions)
	}

	err = s.db.GetContext(ctx, &summary.ReturningVisitors, `
		SELECT COUNT(DISTINCT v.id)
		FROM visitors v
		JOIN page_views pv ON pv.visitor_id = v.id
		WHERE v.site_id = $1 AND v.is_returning AND pv.created_at >= $2 AND pv.created_at < $3
	`, siteID, rng.Start, rng.End)
	if err != nil {
		return analytics.Summary{}, wrapErr(err)
	}
	return summary, nil
}

func (s *Store) TopPages(ctx context.Context, siteID string, rng analytics.Range, limit int) ([]analytics.PageStat, error) {
	var rows []struct {
		Path           string `db:"path"`
		Views          int64  `db:"views"`
		UniqueVisitors int64  `db:"unique_visitors"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT path, COUNT(*) AS views, COUNT(DISTINCT visitor_id) AS unique_visitors
		FROM page_views
		WHERE site_id = $1 AND created_at >= $2 AND created_at < $3
		GROUP BY path
		ORDER BY views DESC, path
		LIMIT $4
	`, siteID, rng.Start, rng.End, limit)
	if err != nil {
		return nil, wrapErr(err)
	}

	result := make([]analytics.PageStat, 0, len(rows))
	for _, r := range rows {
		result = append(result, analytics.PageStat{Path: r.Path, Views: r.Views, UniqueVisitors: r.UniqueVisitors})
	}
	return result, nil
}

func (s *Store) TopReferrers(ctx context.Context, siteID string, rng analytics.Range, limit int) ([]analytics.ReferrerStat, error) {
	var rows []struct {
		Referrer string `db:"referrer"`
		Visitors int64  `db:"visitors"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT referrer, COUNT(*) AS visitors
		FROM visitors
		WHERE site_id = $1 AND referrer <> '' AND last_visit >= $2 AND last_visit < $3
		GROUP BY referrer
		ORDER BY visitors DESC, referrer
		LIMIT $4
	`, siteID, rng.Start, rng.End, limit)
	if err != nil {
		return nil, wrapErr(err)
	}

	result := make([]analytics.ReferrerStat, 0, len(rows))
	for _, r := range rows {
		result = append(result, analytics.ReferrerStat{Referrer: r.Referrer, Visitors: r.Visitors})
	}
	return result, nil
}

// breakdownColumns whitelists the dimensions exposed through the API so the
// column name can be interpolated safely.
var breakdownColumns = map[string]string{
	"browser": "browser",
	"os":      "os",
	"device":  "device_type",
	"country": "country",
}

func (s *Store) Breakdown(ctx context.Context, siteID, dimension string, rng analytics.Range) ([]analytics.BreakdownEntry, error) {
	column, ok := breakdownColumns[dimension]
	if !ok {
		column = "browser"
	}

	var rows []struct {
		Label    string `db:"label"`
		Visitors int64  `db:"visitors"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT COALESCE(NULLIF(`+column+`, ''), 'unknown') AS label, COUNT(*) AS visitors
		FROM visitors
		WHERE site_id = $1 AND last_visit >= $2 AND last_visit < $3
		GROUP BY label
		ORDER BY visitors DESC, label
	`, siteID, rng.Start, rng.End)
	if err != nil {
		return nil, wrapErr(err)
	}

	result := make([]analytics.BreakdownEntry, 0, len(rows))
	for _, r := range rows {
		result = append(result, analytics.BreakdownEntry{Label: r.Label, Visitors: r.Visitors})
	}
	return result, nil
}

func (s *Store) TimeSeries(ctx context.Context, siteID string, rng analytics.Range) ([]analytics.TimePoint, error) {
	var rows []struct {
		Day       time.Time `db:"day"`
		PageViews int64     `db:"page_views"`
		Visitors  int64     `db:"visitors"`
		Sessions  int64     `db:"sessions"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		WITH views AS (
			SELECT date_trunc('day', created_at) AS day,
			       COUNT(*) AS page_views,
			       COUNT(DISTINCT visitor_id) AS visitors
			FROM page_views
			WHERE site_id = $1 AND created_at >= $2 AND created_at < $3
			GROUP BY 1
		), sess AS (
			SELECT date_trunc('day', started_at) AS day, COUNT(*) AS sessions
			FROM sessions
			WHERE site_id = $1 AND started_at >= $2 AND started_at < $3
			GROUP BY 1
		)
		SELECT COALESCE(v.day, s.day) AS day,
		       COALESCE(v.page_views, 0) AS page_views,
		       COALESCE(v.visitors, 0) AS visitors,
		       COALESCE(s.sessions, 0) AS sessions
		FROM views v
		FULL OUTER JOIN sess s ON s.day = v.day
		ORDER BY day
	`, siteID, rng.Start, rng.End)
	if err != nil {
		return nil, wrapErr(err)
	}

	result := make([]analytics.TimePoint, 0, len(rows))
	for _, r := range rows {
		result = append(result, analytics.TimePoint{Day: r.Day, PageViews: r.PageViews, Visitors: r.Visitors, Sessions: r.Sessions})
	}
	return result, nil
}

func (s *Store) ComputeDailyStat(ctx context.Context, siteID string, day time.Time) (analytics.DailyStat, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	rng := analytics.Range{Start: start, End: start.Add(24 * time.Hour)}

	var pv summaryRow
	err := s.db.GetContext(ctx, &pv, `
		SELECT COUNT(*) AS page_views, COUNT(DISTINCT visitor_id) AS unique_visitors
		FROM page_views
		WHERE site_id = $1 AND created_at >= $2 AND created_at < $3
	`, siteID, rng.Start, rng.End)
	if err != nil {
		return analytics.DailyStat{}, wrapErr(err)
	}

	var agg sessionAggRow
	err = s.db.GetContext(ctx, &agg, `
		SELECT COUNT(*) AS sessions,
		       COUNT(*) FILTER (WHERE page_view_count <= 1) AS bounces,
		       COALESCE(SUM(EXTRACT(EPOCH FROM COALESCE(ended_at, last_seen_at) - started_at)), 0) AS total_seconds,
		       COUNT(*) FILTER (WHERE is_active) AS active_visitors
		FROM sessions
		WHERE site_id = $1 AND started_at >= $2 AND started_at < $3
	`, siteID, rng.Start, rng.End)
	if err != nil {
		return analytics.DailyStat{}, wrapErr(err)
	}

	return analytics.DailyStat{
		SiteID:              siteID,
		Day:                 start,
		PageViews:           pv.PageViews,
		UniqueVisitors:      pv.UniqueVisitors,
		Sessions:            agg.Sessions,
		BounceSessions:      agg.Bounces,
		TotalSessionSeconds: int64(agg.TotalSeconds),
	}, nil
}

func (s *Store) UpsertDailyStat(ctx context.Context, stat analytics.DailyStat) error {
	stat.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_site_stats (site_id, day, page_views, unique_visitors, sessions, bounce_sessions, total_session_seconds, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (site_id, day) DO UPDATE
		SET page_views = EXCLUDED.page_views, unique_visitors = EXCLUDED.unique_visitors,
		    sessions = EXCLUDED.sessions, bounce_sessions = EXCLUDED.bounce_sessions,
		    total_session_seconds = EXCLUDED.total_session_seconds, updated_at = EXCLUDED.updated_at
	`, stat.SiteID, stat.Day, stat.PageViews, stat.UniqueVisitors, stat.Sessions,
		stat.BounceSessions, stat.TotalSessionSeconds, stat.UpdatedAt)
	return wrapErr(err)
}

func (s *Store) ListDailyStats(ctx context.Context, siteID string, rng analytics.Range) ([]analytics.DailyStat, error) {
	var rows []struct {
		SiteID              string    `db:"site_id"`
		Day                 time.Time `db:"day"`
		PageViews           int64     `db:"page_views"`
		UniqueVisitors      int64     `db:"unique_visitors"`
		Sessions            int64     `db:"sessions"`
		BounceSessions      int64     `db:"bounce_sessions"`
		TotalSessionSeconds int64     `db:"total_session_seconds"`
		UpdatedAt           time.Time `db:"updated_at"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT site_id, day, page_views, unique_visitors, sessions, bounce_sessions, total_session_seconds, updated_at
		FROM daily_site_stats
		WHERE site_id = $1 AND day >= $2 AND day < $3
		ORDER BY day
	`, siteID, rng.Start, rng.End)
	if err != nil {
		return nil, wrapErr(err)
	}

	result := make([]analytics.DailyStat, 0, len(rows))
	for _, r := range rows {
		result = append(result, analytics.DailyStat{
			SiteID:              r.SiteID,
			Day:                 r.Day,
			PageViews:           r.PageViews,
			UniqueVisitors:      r.UniqueVisitors,
			Sessions:            r.Sessions,
			BounceSessions:      r.BounceSessions,
			TotalSessionSeconds: r.TotalSessionSeconds,
			UpdatedAt:           r.UpdatedAt,
		})
	}
	return result, nil
}
