package sites

import (
	"context"
	"strings"
	"testing"

	"github.com/onevisitor/onevisitor/internal/domain/site"
	"github.com/onevisitor/onevisitor/internal/domain/user"
	serviceerrors "github.com/onevisitor/onevisitor/internal/errors"
	"github.com/onevisitor/onevisitor/internal/storage/memory"
)

func seedUser(t *testing.T, store *memory.Store, email string) user.User {
	t.Helper()
	u, err := store.CreateUser(context.Background(), user.User{Email: email, PasswordHash: "x", IsActive: true})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func TestCreateSiteSeedsDefaults(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()
	owner := seedUser(t, store, "owner@example.com")

	created, err := svc.Create(ctx, owner.ID, "My Blog", "https://Blog.Example.com/")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.Domain != "blog.example.com" {
		t.Fatalf("expected normalized domain, got %q", created.Domain)
	}
	if !strings.HasPrefix(created.TrackingCode, "ov-") {
		t.Fatalf("unexpected tracking code %q", created.TrackingCode)
	}

	cfg, err := svc.Settings(ctx, owner.ID, created.ID)
	if err != nil {
		t.Fatalf("Settings failed: %v", err)
	}
	if !cfg.TrackingEnabled || cfg.DataRetentionDays != 90 {
		t.Fatalf("unexpected default settings: %+v", cfg)
	}
}

func TestSiteAccessControl(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()
	owner := seedUser(t, store, "owner@example.com")
	viewer := seedUser(t, store, "viewer@example.com")
	outsider := seedUser(t, store, "outsider@example.com")

	created, err := svc.Create(ctx, owner.ID, "Shop", "shop.example.com")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := svc.Invite(ctx, owner.ID, created.ID, "viewer@example.com", site.RoleViewer); err != nil {
		t.Fatalf("Invite failed: %v", err)
	}

	// the viewer can read but not write
	if _, err := svc.Get(ctx, viewer.ID, created.ID); err != nil {
		t.Fatalf("viewer Get failed: %v", err)
	}
	_, err = svc.Update(ctx, viewer.ID, site.Site{ID: created.ID, Name: "Renamed"})
	if serr := serviceerrors.GetServiceError(err); serr == nil || serr.Code != serviceerrors.CodeForbidden {
		t.Fatalf("expected forbidden for viewer update, got %v", err)
	}

	// outsiders see nothing, not even existence
	_, err = svc.Get(ctx, outsider.ID, created.ID)
	if serr := serviceerrors.GetServiceError(err); serr == nil || serr.Code != serviceerrors.CodeNotFound {
		t.Fatalf("expected not found for outsider, got %v", err)
	}

	// only the owner can delete
	err = svc.Delete(ctx, viewer.ID, created.ID)
	if serr := serviceerrors.GetServiceError(err); serr == nil || serr.Code != serviceerrors.CodeForbidden {
		t.Fatalf("expected forbidden for viewer delete, got %v", err)
	}
	if err := svc.Delete(ctx, owner.ID, created.ID); err != nil {
		t.Fatalf("owner delete failed: %v", err)
	}
}

func TestMemberRoleManagement(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()
	owner := seedUser(t, store, "owner@example.com")
	member := seedUser(t, store, "member@example.com")

	created, err := svc.Create(ctx, owner.ID, "Docs", "docs.example.com")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	added, err := svc.Invite(ctx, owner.ID, created.ID, "member@example.com", site.RoleViewer)
	if err != nil {
		t.Fatalf("Invite failed: %v", err)
	}
	if added.Role != site.RoleViewer {
		t.Fatalf("expected viewer role, got %q", added.Role)
	}

	// a second invite conflicts
	_, err = svc.Invite(ctx, owner.ID, created.ID, "member@example.com", site.RoleAdmin)
	if serr := serviceerrors.GetServiceError(err); serr == nil || serr.Code != serviceerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}

	promoted, err := svc.SetMemberRole(ctx, owner.ID, created.ID, member.ID, site.RoleAdmin)
	if err != nil {
		t.Fatalf("SetMemberRole failed: %v", err)
	}
	if !promoted.CanEdit() {
		t.Fatal("expected admin to have edit rights")
	}

	// the owner role is immutable
	_, err = svc.SetMemberRole(ctx, owner.ID, created.ID, owner.ID, site.RoleViewer)
	if serr := serviceerrors.GetServiceError(err); serr == nil || serr.Code != serviceerrors.CodeForbidden {
		t.Fatalf("expected forbidden when demoting owner, got %v", err)
	}

	if err := svc.RemoveMember(ctx, owner.ID, created.ID, member.ID); err != nil {
		t.Fatalf("RemoveMember failed: %v", err)
	}
	members, err := svc.Members(ctx, owner.ID, created.ID)
	if err != nil {
		t.Fatalf("Members failed: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected no members, got %d", len(members))
	}
}

func TestDomainVerification(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()
	owner := seedUser(t, store, "owner@example.com")

	created, err := svc.Create(ctx, owner.ID, "App", "app.example.com")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	extra, err := svc.AddDomain(ctx, owner.ID, created.ID, "www.app.example.com")
	if err != nil {
		t.Fatalf("AddDomain failed: %v", err)
	}
	if extra.Verified {
		t.Fatal("new domains start unverified")
	}

	_, err = svc.VerifyDomain(ctx, owner.ID, created.ID, extra.ID, "wrong-code")
	if serr := serviceerrors.GetServiceError(err); serr == nil || serr.Code != serviceerrors.CodeBadRequest {
		t.Fatalf("expected bad request for wrong code, got %v", err)
	}

	verified, err := svc.VerifyDomain(ctx, owner.ID, created.ID, extra.ID, extra.VerificationCode)
	if err != nil {
		t.Fatalf("VerifyDomain failed: %v", err)
	}
	if !verified.Verified {
		t.Fatal("expected domain to be verified")
	}
}

func TestUpdateSettingsValidation(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()
	owner := seedUser(t, store, "owner@example.com")

	created, err := svc.Create(ctx, owner.ID, "News", "news.example.com")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err = svc.UpdateSettings(ctx, owner.ID, site.Settings{SiteID: created.ID, DataRetentionDays: -1})
	if serr := serviceerrors.GetServiceError(err); serr == nil || serr.Code != serviceerrors.CodeBadRequest {
		t.Fatalf("expected bad request for negative retention, got %v", err)
	}

	cfg, err := svc.UpdateSettings(ctx, owner.ID, site.Settings{
		SiteID:            created.ID,
		TrackingEnabled:   true,
		DataRetentionDays: 30,
		ExcludedPaths:     []string{"/admin"},
	})
	if err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	if cfg.DataRetentionDays != 30 || len(cfg.ExcludedPaths) != 1 {
		t.Fatalf("unexpected settings: %+v", cfg)
	}
}
