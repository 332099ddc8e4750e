package analytics

import (
	"context"
	"testing"
	"time"

	domain "github.com/onevisitor/onevisitor/internal/domain/analytics"
	"github.com/onevisitor/onevisitor/internal/domain/site"
	"github.com/onevisitor/onevisitor/internal/domain/user"
	"github.com/onevisitor/onevisitor/internal/domain/visitor"
	serviceerrors "github.com/onevisitor/onevisitor/internal/errors"
	"github.com/onevisitor/onevisitor/internal/storage/memory"
)

func seedTraffic(t *testing.T, store *memory.Store) site.Site {
	t.Helper()
	ctx := context.Background()

	owner, err := store.CreateUser(ctx, user.User{Email: "owner@example.com", PasswordHash: "x", IsActive: true})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	st, err := store.CreateSite(ctx, site.Site{
		OwnerID: owner.ID, Name: "Example", Domain: "example.com", TrackingCode: "ov-x", IsActive: true,
	})
	if err != nil {
		t.Fatalf("seed site: %v", err)
	}
	if _, err := store.UpsertSettings(ctx, site.DefaultSettings(st.ID)); err != nil {
		t.Fatalf("seed settings: %v", err)
	}

	// two visitors: one browses two pages, one bounces
	v1, _ := store.CreateVisitor(ctx, visitor.Visitor{SiteID: st.ID, VisitorKey: "k1", Browser: "Chrome", OS: "Windows", DeviceType: "desktop"})
	v2, _ := store.CreateVisitor(ctx, visitor.Visitor{SiteID: st.ID, VisitorKey: "k2", Browser: "Firefox", OS: "Linux", DeviceType: "desktop", Referrer: "https://news.example.org"})

	s1, _ := store.CreateSession(ctx, visitor.Session{SiteID: st.ID, VisitorID: v1.ID})
	s1.PageViewCount = 2
	s1.LastSeenAt = s1.StartedAt.Add(3 * time.Minute)
	if _, err := store.UpdateSession(ctx, s1); err != nil {
		t.Fatalf("update session: %v", err)
	}
	s2, _ := store.CreateSession(ctx, visitor.Session{SiteID: st.ID, VisitorID: v2.ID})
	s2.PageViewCount = 1
	if _, err := store.UpdateSession(ctx, s2); err != nil {
		t.Fatalf("update session: %v", err)
	}

	store.CreatePageView(ctx, visitor.PageView{SiteID: st.ID, VisitorID: v1.ID, SessionID: s1.ID, Path: "/"})
	store.CreatePageView(ctx, visitor.PageView{SiteID: st.ID, VisitorID: v1.ID, SessionID: s1.ID, Path: "/pricing"})
	store.CreatePageView(ctx, visitor.PageView{SiteID: st.ID, VisitorID: v2.ID, SessionID: s2.ID, Path: "/"})
	return st
}

func weekRange(t *testing.T) domain.Range {
	t.Helper()
	rng, err := ResolveRange(time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ResolveRange failed: %v", err)
	}
	return rng
}

func TestSummaryCounts(t *testing.T) {
	store := memory.New()
	st := seedTraffic(t, store)
	svc := New(store, store, nil, nil)

	summary, err := svc.Summary(context.Background(), st.ID, weekRange(t))
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if summary.PageViews != 3 {
		t.Fatalf("expected 3 page views, got %d", summary.PageViews)
	}
	if summary.UniqueVisitors != 2 {
		t.Fatalf("expected 2 unique visitors, got %d", summary.UniqueVisitors)
	}
	if summary.Sessions != 2 {
		t.Fatalf("expected 2 sessions, got %d", summary.Sessions)
	}
	if summary.BounceRate != 0.5 {
		t.Fatalf("expected bounce rate 0.5, got %f", summary.BounceRate)
	}
}

func TestTopPagesAndReferrers(t *testing.T) {
	store := memory.New()
	st := seedTraffic(t, store)
	svc := New(store, store, nil, nil)
	ctx := context.Background()
	rng := weekRange(t)

	pages, err := svc.TopPages(ctx, st.ID, rng)
	if err != nil {
		t.Fatalf("TopPages failed: %v", err)
	}
	if len(pages) != 2 || pages[0].Path != "/" || pages[0].Views != 2 {
		t.Fatalf("unexpected top pages: %+v", pages)
	}

	referrers, err := svc.TopReferrers(ctx, st.ID, rng)
	if err != nil {
		t.Fatalf("TopReferrers failed: %v", err)
	}
	if len(referrers) != 1 || referrers[0].Referrer != "https://news.example.org" {
		t.Fatalf("unexpected referrers: %+v", referrers)
	}
}

func TestBreakdownDimensions(t *testing.T) {
	store := memory.New()
	st := seedTraffic(t, store)
	svc := New(store, store, nil, nil)
	ctx := context.Background()
	rng := weekRange(t)

	browsers, err := svc.Breakdown(ctx, st.ID, "browser", rng)
	if err != nil {
		t.Fatalf("Breakdown failed: %v", err)
	}
	if len(browsers) != 2 {
		t.Fatalf("expected 2 browser buckets, got %+v", browsers)
	}

	_, err = svc.Breakdown(ctx, st.ID, "shoe_size", rng)
	if serr := serviceerrors.GetServiceError(err); serr == nil || serr.Code != serviceerrors.CodeBadRequest {
		t.Fatalf("expected bad request for unknown dimension, got %v", err)
	}
}

func TestResolveRange(t *testing.T) {
	rng, err := ResolveRange(time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ResolveRange failed: %v", err)
	}
	if got := rng.End.Sub(rng.Start); got != 7*24*time.Hour {
		t.Fatalf("expected a 7 day default range, got %v", got)
	}

	now := time.Now().UTC()
	if _, err := ResolveRange(now, now.Add(-time.Hour)); err == nil {
		t.Fatal("expected reversed range to fail")
	}
	if _, err := ResolveRange(now.AddDate(-2, 0, 0), now); err == nil {
		t.Fatal("expected oversized range to fail")
	}
}

func TestRollupDayPersistsStat(t *testing.T) {
	store := memory.New()
	st := seedTraffic(t, store)
	svc := New(store, store, nil, nil)
	ctx := context.Background()

	today := time.Now().UTC()
	stat, err := svc.RollupDay(ctx, st.ID, today)
	if err != nil {
		t.Fatalf("RollupDay failed: %v", err)
	}
	if stat.PageViews != 3 || stat.Sessions != 2 || stat.BounceSessions != 1 {
		t.Fatalf("unexpected rollup: %+v", stat)
	}

	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	stats, err := svc.DailyStats(ctx, st.ID, domain.Range{Start: day, End: day.Add(24 * time.Hour)})
	if err != nil {
		t.Fatalf("DailyStats failed: %v", err)
	}
	if len(stats) != 1 || stats[0].PageViews != 3 {
		t.Fatalf("unexpected persisted stats: %+v", stats)
	}

	n, err := svc.RollupAllSites(ctx, today)
	if err != nil {
		t.Fatalf("RollupAllSites failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 site rolled up, got %d", n)
	}
}
