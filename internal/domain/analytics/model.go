// Package analytics defines the aggregate result types returned by the
// reporting queries.
package analytics

import "time"

// Range is a half-open [Start, End) reporting window.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Summary is the headline numbers for one site over a range.
type Summary struct {
	SiteID            string  `json:"site_id"`
	Range             Range   `json:"range"`
	UniqueVisitors    int64   `json:"unique_visitors"`
	PageViews         int64   `json:"page_views"`
	Sessions          int64   `json:"sessions"`
	BounceRate        float64 `json:"bounce_rate"`
	AvgSessionSeconds float64 `json:"avg_session_seconds"`
	ReturningVisitors int64   `json:"returning_visitors"`
	ActiveVisitors    int64   `json:"active_visitors"`
}

// PageStat ranks a path by views.
type PageStat struct {
	Path           string `json:"path"`
	Views          int64  `json:"views"`
	UniqueVisitors int64  `json:"unique_visitors"`
}

// ReferrerStat ranks a referrer by sessions started from it.
type ReferrerStat struct {
	Referrer string `json:"referrer"`
	Visitors int64  `json:"visitors"`
}

// BreakdownEntry is one bucket of a categorical breakdown (browser, OS or
// device type).
type BreakdownEntry struct {
	Label    string `json:"label"`
	Visitors int64  `json:"visitors"`
}

// TimePoint is one day of the page-view time series.
type TimePoint struct {
	Day       time.Time `json:"day"`
	PageViews int64     `json:"page_views"`
	Visitors  int64     `json:"visitors"`
	Sessions  int64     `json:"sessions"`
}

// DailyStat is the persisted daily rollup row.
type DailyStat struct {
	SiteID              string    `json:"site_id"`
	Day                 time.Time `json:"day"`
	PageViews           int64     `json:"page_views"`
	UniqueVisitors      int64     `json:"unique_visitors"`
	Sessions            int64     `json:"sessions"`
	BounceSessions      int64     `json:"bounce_sessions"`
	TotalSessionSeconds int64     `json:"total_session_seconds"`
	UpdatedAt           time.Time `json:"updated_at"`
}
