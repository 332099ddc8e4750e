package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onevisitor/onevisitor/internal/domain/site"
	"github.com/onevisitor/onevisitor/internal/domain/user"
	"github.com/onevisitor/onevisitor/internal/domain/visitor"
	"github.com/onevisitor/onevisitor/internal/storage"
)

func TestUserEmailUniqueness(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.CreateUser(ctx, user.User{Email: "a@example.com"}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if _, err := store.CreateUser(ctx, user.User{Email: "a@example.com"}); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestGetUserByEmailIsCaseInsensitive(t *testing.T) {
	store := New()
	ctx := context.Background()

	created, err := store.CreateUser(ctx, user.User{Email: "Mixed@Example.com"})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	found, err := store.GetUserByEmail(ctx, "mixed@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if found.ID != created.ID {
		t.Fatalf("expected user %s, got %s", created.ID, found.ID)
	}
}

func TestCloseIdleSessions(t *testing.T) {
	store := New()
	ctx := context.Background()

	stale, err := store.CreateSession(ctx, visitor.Session{
		SiteID: "s1", VisitorID: "v1",
		StartedAt: time.Now().Add(-2 * time.Hour), LastSeenAt: time.Now().Add(-time.Hour),
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	fresh, err := store.CreateSession(ctx, visitor.Session{
		SiteID: "s1", VisitorID: "v2",
		StartedAt: time.Now(), LastSeenAt: time.Now(),
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	closed, err := store.CloseIdleSessions(ctx, time.Now().Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("CloseIdleSessions failed: %v", err)
	}
	if closed != 1 {
		t.Fatalf("expected 1 closed session, got %d", closed)
	}

	got, _ := store.GetSession(ctx, stale.ID)
	if got.IsActive || got.EndedAt.IsZero() {
		t.Fatalf("stale session not closed: %+v", got)
	}
	got, _ = store.GetSession(ctx, fresh.ID)
	if !got.IsActive {
		t.Fatal("fresh session should stay active")
	}
}

func TestPurgeSiteDataBefore(t *testing.T) {
	store := New()
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	v, _ := store.CreateVisitor(ctx, visitor.Visitor{SiteID: "s1", VisitorKey: "k1", FirstVisit: old, LastVisit: old})
	sess, _ := store.CreateSession(ctx, visitor.Session{SiteID: "s1", VisitorID: v.ID, StartedAt: old, LastSeenAt: old})
	_, _ = store.CreatePageView(ctx, visitor.PageView{SiteID: "s1", VisitorID: v.ID, SessionID: sess.ID, Path: "/", CreatedAt: old})
	_, _ = store.CreateEvent(ctx, visitor.Event{SiteID: "s1", VisitorID: v.ID, SessionID: sess.ID, Type: visitor.EventClick, CreatedAt: old})

	keep, _ := store.CreateVisitor(ctx, visitor.Visitor{SiteID: "s1", VisitorKey: "k2", FirstVisit: time.Now(), LastVisit: time.Now()})

	purged, err := store.PurgeSiteDataBefore(ctx, "s1", time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeSiteDataBefore failed: %v", err)
	}
	if purged == 0 {
		t.Fatal("expected purged records")
	}

	if _, err := store.GetVisitor(ctx, v.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected old visitor gone, got %v", err)
	}
	if _, err := store.GetVisitor(ctx, keep.ID); err != nil {
		t.Fatalf("recent visitor should survive: %v", err)
	}
}

func TestRetentionWindows(t *testing.T) {
	store := New()
	ctx := context.Background()

	st, _ := store.CreateSite(ctx, site.Site{OwnerID: "u1", Name: "A", Domain: "a.example.com", TrackingCode: "ov-1"})
	settings := site.DefaultSettings(st.ID)
	settings.DataRetentionDays = 90
	if _, err := store.UpsertSettings(ctx, settings); err != nil {
		t.Fatalf("UpsertSettings failed: %v", err)
	}

	windows, err := store.ListRetentionWindows(ctx)
	if err != nil {
		t.Fatalf("ListRetentionWindows failed: %v", err)
	}
	if windows[st.ID] != 90 {
		t.Fatalf("expected 90-day window for %s, got %v", st.ID, windows)
	}
}
