package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/onevisitor/onevisitor/internal/config"
	"github.com/onevisitor/onevisitor/internal/domain/site"
	"github.com/onevisitor/onevisitor/internal/domain/user"
	"github.com/onevisitor/onevisitor/internal/domain/visitor"
	analyticssvc "github.com/onevisitor/onevisitor/internal/services/analytics"
	"github.com/onevisitor/onevisitor/internal/storage/memory"
)

func newTestService(store *memory.Store) *Service {
	analytics := analyticssvc.New(store, store, nil, nil)
	return New(store, store, store, analytics, nil, config.MaintenanceConfig{}, 30*time.Minute, nil)
}

func seedSiteWithRetention(t *testing.T, store *memory.Store, days int) site.Site {
	t.Helper()
	ctx := context.Background()

	owner, err := store.CreateUser(ctx, user.User{Email: "owner@example.com", PasswordHash: "x", IsActive: true})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	st, err := store.CreateSite(ctx, site.Site{
		OwnerID: owner.ID, Name: "Example", Domain: "example.com", TrackingCode: "ov-m", IsActive: true,
	})
	if err != nil {
		t.Fatalf("seed site: %v", err)
	}
	cfg := site.DefaultSettings(st.ID)
	cfg.DataRetentionDays = days
	if _, err := store.UpsertSettings(ctx, cfg); err != nil {
		t.Fatalf("seed settings: %v", err)
	}
	return st
}

func TestSweepSessionsClosesIdle(t *testing.T) {
	store := memory.New()
	st := seedSiteWithRetention(t, store, 90)
	svc := newTestService(store)
	ctx := context.Background()

	v, _ := store.CreateVisitor(ctx, visitor.Visitor{SiteID: st.ID, VisitorKey: "k"})
	idle, _ := store.CreateSession(ctx, visitor.Session{SiteID: st.ID, VisitorID: v.ID})
	idle.LastSeenAt = time.Now().UTC().Add(-2 * time.Hour)
	if _, err := store.UpdateSession(ctx, idle); err != nil {
		t.Fatalf("age session: %v", err)
	}
	fresh, _ := store.CreateSession(ctx, visitor.Session{SiteID: st.ID, VisitorID: v.ID})

	if err := svc.SweepSessions(ctx); err != nil {
		t.Fatalf("SweepSessions failed: %v", err)
	}

	closed, err := store.GetSession(ctx, idle.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if closed.IsActive {
		t.Fatal("expected the idle session to be closed")
	}
	kept, err := store.GetSession(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if !kept.IsActive {
		t.Fatal("expected the fresh session to stay open")
	}
}

func TestPurgeExpiredDataHonorsRetention(t *testing.T) {
	store := memory.New()
	st := seedSiteWithRetention(t, store, 30)
	svc := newTestService(store)
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -60)
	v, _ := store.CreateVisitor(ctx, visitor.Visitor{SiteID: st.ID, VisitorKey: "old", FirstVisit: old, LastVisit: old})
	sess, _ := store.CreateSession(ctx, visitor.Session{SiteID: st.ID, VisitorID: v.ID, StartedAt: old, LastSeenAt: old})
	sess.IsActive = false
	sess.LastSeenAt = old
	store.UpdateSession(ctx, sess)
	store.CreatePageView(ctx, visitor.PageView{SiteID: st.ID, VisitorID: v.ID, SessionID: sess.ID, Path: "/", CreatedAt: old})

	recent, _ := store.CreateVisitor(ctx, visitor.Visitor{SiteID: st.ID, VisitorKey: "recent"})

	if err := svc.PurgeExpiredData(ctx); err != nil {
		t.Fatalf("PurgeExpiredData failed: %v", err)
	}

	if _, err := store.GetVisitor(ctx, v.ID); err == nil {
		t.Fatal("expected the old visitor to be purged")
	}
	if _, err := store.GetVisitor(ctx, recent.ID); err != nil {
		t.Fatalf("recent visitor should survive: %v", err)
	}
}

func TestPurgeExpiredDataDropsStaleTokens(t *testing.T) {
	store := memory.New()
	seedSiteWithRetention(t, store, 0) // retention disabled
	svc := newTestService(store)
	ctx := context.Background()

	expired, err := store.CreateUserToken(ctx, user.Token{
		UserID: "u1", Purpose: user.TokenPurposePasswordReset, Token: "stale",
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("seed token: %v", err)
	}

	if err := svc.PurgeExpiredData(ctx); err != nil {
		t.Fatalf("PurgeExpiredData failed: %v", err)
	}
	if _, err := store.GetUserToken(ctx, expired.Token); err == nil {
		t.Fatal("expected the expired token to be deleted")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	store := memory.New()
	analytics := analyticssvc.New(store, store, nil, nil)
	svc := New(store, store, store, analytics, nil, config.MaintenanceConfig{
		SessionSweepSchedule: "not a schedule",
	}, 30*time.Minute, nil)

	if err := svc.Start(context.Background()); err == nil {
		t.Fatal("expected an invalid schedule to fail Start")
	}
}

func TestLifecycle(t *testing.T) {
	store := memory.New()
	seedSiteWithRetention(t, store, 90)
	svc := newTestService(store)

	if got := svc.Name(); got != "maintenance" {
		t.Fatalf("unexpected name %q", got)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
