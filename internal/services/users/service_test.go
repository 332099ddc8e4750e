package users

import (
	"context"
	"testing"
	"time"

	"github.com/onevisitor/onevisitor/internal/config"
	"github.com/onevisitor/onevisitor/internal/domain/user"
	serviceerrors "github.com/onevisitor/onevisitor/internal/errors"
	"github.com/onevisitor/onevisitor/internal/storage/memory"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(memory.New(), config.AuthConfig{
		JWTSecret:  "test-secret",
		Issuer:     "onevisitor",
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
	}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return svc
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, verification, err := svc.Register(ctx, "Alice@Example.com", "correct horse")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if created.Email != "alice@example.com" {
		t.Fatalf("expected lowercased email, got %q", created.Email)
	}
	if created.PasswordHash == "correct horse" {
		t.Fatal("password stored in clear")
	}
	if verification.Purpose != user.TokenPurposeEmailVerification {
		t.Fatalf("unexpected token purpose %q", verification.Purpose)
	}

	u, pair, err := svc.Login(ctx, "alice@example.com", "correct horse", "203.0.113.9", "test-agent")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens to be issued")
	}
	if u.LastLogin.IsZero() {
		t.Fatal("expected last login to be set")
	}

	claims, err := svc.Tokens().ParseAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("ParseAccessToken failed: %v", err)
	}
	if claims.UserID != created.ID {
		t.Fatalf("expected claims for %s, got %s", created.ID, claims.UserID)
	}

	activities, err := svc.Activities(ctx, created.ID)
	if err != nil {
		t.Fatalf("Activities failed: %v", err)
	}
	if len(activities) != 1 || activities[0].Type != user.ActivityLogin {
		t.Fatalf("expected one login activity, got %+v", activities)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "bob@example.com", "password123"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, _, err := svc.Login(ctx, "bob@example.com", "wrong", "", "")
	serr := serviceerrors.GetServiceError(err)
	if serr == nil || serr.Code != serviceerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	// unknown accounts fail the same way
	_, _, err = svc.Login(ctx, "nobody@example.com", "password123", "", "")
	serr = serviceerrors.GetServiceError(err)
	if serr == nil || serr.Code != serviceerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized for unknown account, got %v", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "carol@example.com", "password123"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	_, _, err := svc.Register(ctx, "CAROL@example.com", "password456")
	serr := serviceerrors.GetServiceError(err)
	if serr == nil || serr.Code != serviceerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "dave@example.com", "password123"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	_, pair, err := svc.Login(ctx, "dave@example.com", "password123", "", "")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	next, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("expected a new refresh token")
	}

	// the consumed token no longer works
	if _, err := svc.Refresh(ctx, pair.RefreshToken); err == nil {
		t.Fatal("expected reuse of consumed refresh token to fail")
	}
}

func TestVerifyEmail(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, verification, err := svc.Register(ctx, "erin@example.com", "password123")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if created.IsVerified {
		t.Fatal("new accounts start unverified")
	}

	if err := svc.VerifyEmail(ctx, verification.Token); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}
	u, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !u.IsVerified {
		t.Fatal("expected account to be verified")
	}

	// tokens are single use
	if err := svc.VerifyEmail(ctx, verification.Token); err == nil {
		t.Fatal("expected second verification to fail")
	}
}

func TestPasswordResetFlow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "frank@example.com", "oldpassword"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	reset, err := svc.RequestPasswordReset(ctx, "frank@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if reset.Token == "" {
		t.Fatal("expected a reset token")
	}

	if err := svc.ResetPassword(ctx, reset.Token, "newpassword"); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}

	if _, _, err := svc.Login(ctx, "frank@example.com", "oldpassword", "", ""); err == nil {
		t.Fatal("expected old password to be rejected")
	}
	if _, _, err := svc.Login(ctx, "frank@example.com", "newpassword", "", ""); err != nil {
		t.Fatalf("login with new password failed: %v", err)
	}

	// an unknown address yields no token but no error either
	token, err := svc.RequestPasswordReset(ctx, "ghost@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset for unknown address failed: %v", err)
	}
	if token.Token != "" {
		t.Fatal("expected no token for unknown address")
	}
}

func TestChangePassword(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, _, err := svc.Register(ctx, "gina@example.com", "password123")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	err = svc.ChangePassword(ctx, created.ID, "wrong", "nextpassword")
	if serr := serviceerrors.GetServiceError(err); serr == nil || serr.Code != serviceerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	err = svc.ChangePassword(ctx, created.ID, "password123", "short")
	if serr := serviceerrors.GetServiceError(err); serr == nil || serr.Code != serviceerrors.CodeBadRequest {
		t.Fatalf("expected bad request for short password, got %v", err)
	}
	if err := svc.ChangePassword(ctx, created.ID, "password123", "nextpassword"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	if _, _, err := svc.Login(ctx, "gina@example.com", "nextpassword", "", ""); err != nil {
		t.Fatalf("login with changed password failed: %v", err)
	}
}
