// Package storage declares the persistence interfaces implemented by the
// memory and postgres backends.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/onevisitor/onevisitor/internal/domain/analytics"
	"github.com/onevisitor/onevisitor/internal/domain/site"
	"github.com/onevisitor/onevisitor/internal/domain/user"
	"github.com/onevisitor/onevisitor/internal/domain/visitor"
)

// ErrNotFound is returned when a requested record does not exist. Backends
// normalize their driver-specific sentinel to this error.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when an insert violates a uniqueness rule, such as
// a reused email address or a second membership for the same user and site.
var ErrDuplicate = errors.New("record already exists")

// UserStore persists users, profiles, activities and credential tokens.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)
	DeleteUser(ctx context.Context, id string) error

	UpsertProfile(ctx context.Context, p user.Profile) (user.Profile, error)
	GetProfile(ctx context.Context, userID string) (user.Profile, error)

	RecordActivity(ctx context.Context, a user.Activity) (user.Activity, error)
	ListActivities(ctx context.Context, userID string, limit int) ([]user.Activity, error)

	CreateUserToken(ctx context.Context, t user.Token) (user.Token, error)
	GetUserToken(ctx context.Context, token string) (user.Token, error)
	MarkUserTokenUsed(ctx context.Context, id string) error
	DeleteExpiredUserTokens(ctx context.Context, before time.Time) (int64, error)
}

// SiteStore persists sites, memberships, extra domains and settings.
type SiteStore interface {
	CreateSite(ctx context.Context, s site.Site) (site.Site, error)
	UpdateSite(ctx context.Context, s site.Site) (site.Site, error)
	GetSite(ctx context.Context, id string) (site.Site, error)
	GetSiteByTrackingCode(ctx context.Context, code string) (site.Site, error)
	ListSitesForUser(ctx context.Context, userID string) ([]site.Site, error)
	DeleteSite(ctx context.Context, id string) error

	AddMember(ctx context.Context, m site.Member) (site.Member, error)
	UpdateMember(ctx context.Context, m site.Member) (site.Member, error)
	GetMember(ctx context.Context, siteID, userID string) (site.Member, error)
	ListMembers(ctx context.Context, siteID string) ([]site.Member, error)
	RemoveMember(ctx context.Context, siteID, userID string) error

	CreateSiteDomain(ctx context.Context, d site.Domain) (site.Domain, error)
	UpdateSiteDomain(ctx context.Context, d site.Domain) (site.Domain, error)
	ListSiteDomains(ctx context.Context, siteID string) ([]site.Domain, error)
	DeleteSiteDomain(ctx context.Context, id string) error

	GetSettings(ctx context.Context, siteID string) (site.Settings, error)
	UpsertSettings(ctx context.Context, s site.Settings) (site.Settings, error)
	ListRetentionWindows(ctx context.Context) (map[string]int, error)
}

// VisitorStore persists visitors, sessions, page views and events.
type VisitorStore interface {
	CreateVisitor(ctx context.Context, v visitor.Visitor) (visitor.Visitor, error)
	UpdateVisitor(ctx context.Context, v visitor.Visitor) (visitor.Visitor, error)
	GetVisitor(ctx context.Context, id string) (visitor.Visitor, error)
	GetVisitorByKey(ctx context.Context, siteID, key string) (visitor.Visitor, error)
	ListVisitors(ctx context.Context, siteID string, limit int) ([]visitor.Visitor, error)

	CreateSession(ctx context.Context, s visitor.Session) (visitor.Session, error)
	UpdateSession(ctx context.Context, s visitor.Session) (visitor.Session, error)
	GetSession(ctx context.Context, id string) (visitor.Session, error)
	GetActiveSession(ctx context.Context, visitorID string) (visitor.Session, error)
	CloseIdleSessions(ctx context.Context, idleBefore time.Time) (int64, error)

	CreatePageView(ctx context.Context, pv visitor.PageView) (visitor.PageView, error)
	UpdatePageView(ctx context.Context, pv visitor.PageView) (visitor.PageView, error)
	ListSessionPageViews(ctx context.Context, sessionID string) ([]visitor.PageView, error)

	CreateEvent(ctx context.Context, e visitor.Event) (visitor.Event, error)
	ListEvents(ctx context.Context, siteID string, limit int) ([]visitor.Event, error)

	PurgeSiteDataBefore(ctx context.Context, siteID string, cutoff time.Time) (int64, error)
}

// AnalyticsStore runs the aggregate reporting queries.
type AnalyticsStore interface {
	Summary(ctx context.Context, siteID string, rng analytics.Range) (analytics.Summary, error)
	TopPages(ctx context.Context, siteID string, rng analytics.Range, limit int) ([]analytics.PageStat, error)
	TopReferrers(ctx context.Context, siteID string, rng analytics.Range, limit int) ([]analytics.ReferrerStat, error)
	Breakdown(ctx context.Context, siteID, dimension string, rng analytics.Range) ([]analytics.BreakdownEntry, error)
	TimeSeries(ctx context.Context, siteID string, rng analytics.Range) ([]analytics.TimePoint, error)

	ComputeDailyStat(ctx context.Context, siteID string, day time.Time) (analytics.DailyStat, error)
	UpsertDailyStat(ctx context.Context, stat analytics.DailyStat) error
	ListDailyStats(ctx context.Context, siteID string, rng analytics.Range) ([]analytics.DailyStat, error)
}
