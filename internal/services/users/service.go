// Package users implements registration, authentication and account
// management.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/onevisitor/onevisitor/internal/config"
	"github.com/onevisitor/onevisitor/internal/domain/user"
	serviceerrors "github.com/onevisitor/onevisitor/internal/errors"
	"github.com/onevisitor/onevisitor/internal/logging"
	"github.com/onevisitor/onevisitor/internal/storage"
)

const (
	credentialTokenTTL = 24 * time.Hour
	activityPageSize   = 50
)

// Service manages user accounts.
type Service struct {
	store      storage.UserStore
	tokens     *TokenManager
	refreshTTL time.Duration
	log        *logging.Logger
}

// New constructs a user service.
func New(store storage.UserStore, cfg config.AuthConfig, log *logging.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if log == nil {
		log = logging.NewDefault("users")
	}
	tokens, err := NewTokenManager(cfg)
	if err != nil {
		return nil, err
	}
	return &Service{
		store:      store,
		tokens:     tokens,
		refreshTTL: cfg.RefreshTTL,
		log:        log,
	}, nil
}

// Tokens exposes the token manager for the auth middleware.
func (s *Service) Tokens() *TokenManager {
	return s.tokens
}

// Register creates an account with a hashed password. The first verification
// token is created alongside so the caller can dispatch the email.
func (s *Service) Register(ctx context.Context, email, password string) (user.User, user.Token, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return user.User{}, user.Token{}, serviceerrors.BadRequest("a valid email is required")
	}
	if len(password) < 8 {
		return user.User{}, user.Token{}, serviceerrors.BadRequest("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return user.User{}, user.Token{}, fmt.Errorf("hash password: %w", err)
	}

	created, err := s.store.CreateUser(ctx, user.User{
		Email:        email,
		PasswordHash: string(hash),
		IsActive:     true,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return user.User{}, user.Token{}, serviceerrors.Conflict("an account with this email already exists")
		}
		return user.User{}, user.Token{}, err
	}

	verification, err := s.issueCredentialToken(ctx, created.ID, user.TokenPurposeEmailVerification, credentialTokenTTL)
	if err != nil {
		return user.User{}, user.Token{}, err
	}

	s.log.Infof("user %s registered", created.ID)
	return created, verification, nil
}

// Login checks credentials and issues a token pair.
func (s *Service) Login(ctx context.Context, email, password, ipAddress, userAgent string) (user.User, user.TokenPair, error) {
	u, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, user.TokenPair{}, serviceerrors.Unauthorized("invalid email or password")
		}
		return user.User{}, user.TokenPair{}, err
	}
	if !u.IsActive {
		return user.User{}, user.TokenPair{}, serviceerrors.Forbidden("account is disabled")
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return user.User{}, user.TokenPair{}, serviceerrors.Unauthorized("invalid email or password")
	}

	pair, err := s.issueTokenPair(ctx, u)
	if err != nil {
		return user.User{}, user.TokenPair{}, err
	}

	u.LastLogin = time.Now().UTC()
	if u, err = s.store.UpdateUser(ctx, u); err != nil {
		return user.User{}, user.TokenPair{}, err
	}

	s.recordActivity(ctx, u.ID, user.ActivityLogin, ipAddress, userAgent, nil)
	return u, pair, nil
}

// Refresh exchanges a refresh token for a new pair. The old refresh token is
// consumed.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (user.TokenPair, error) {
	stored, err := s.store.GetUserToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.TokenPair{}, serviceerrors.InvalidToken(nil)
		}
		return user.TokenPair{}, err
	}
	if stored.Purpose != user.TokenPurposeRefresh || stored.Used || stored.Expired(time.Now().UTC()) {
		return user.TokenPair{}, serviceerrors.InvalidToken(nil)
	}

	u, err := s.store.GetUser(ctx, stored.UserID)
	if err != nil {
		return user.TokenPair{}, err
	}
	if !u.IsActive {
		return user.TokenPair{}, serviceerrors.Forbidden("account is disabled")
	}

	if err := s.store.MarkUserTokenUsed(ctx, stored.ID); err != nil {
		return user.TokenPair{}, err
	}

	pair, err := s.issueTokenPair(ctx, u)
	if err != nil {
		return user.TokenPair{}, err
	}
	s.recordActivity(ctx, u.ID, user.ActivityTokenRefresh, "", "", nil)
	return pair, nil
}

// Logout invalidates a refresh token.
func (s *Service) Logout(ctx context.Context, userID, refreshToken string) error {
	stored, err := s.store.GetUserToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if stored.UserID != userID || stored.Purpose != user.TokenPurposeRefresh {
		return nil
	}
	if err := s.store.MarkUserTokenUsed(ctx, stored.ID); err != nil {
		return err
	}
	s.recordActivity(ctx, userID, user.ActivityLogout, "", "", nil)
	return nil
}

// Get returns a user by ID.
func (s *Service) Get(ctx context.Context, id string) (user.User, error) {
	if id == "" {
		return user.User{}, serviceerrors.BadRequest("user id is required")
	}
	u, err := s.store.GetUser(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return user.User{}, serviceerrors.NotFound("user")
	}
	return u, err
}

// List returns every account. Intended for staff tooling.
func (s *Service) List(ctx context.Context) ([]user.User, error) {
	return s.store.ListUsers(ctx)
}

// ChangePassword verifies the current password before setting a new one.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)) != nil {
		return serviceerrors.Unauthorized("current password is incorrect")
	}
	if len(next) < 8 {
		return serviceerrors.BadRequest("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = string(hash)
	if _, err := s.store.UpdateUser(ctx, u); err != nil {
		return err
	}
	s.recordActivity(ctx, userID, user.ActivityPasswordChange, "", "", nil)
	return nil
}

// RequestPasswordReset mints a reset token for the account, if it exists.
// Callers respond identically either way so addresses cannot be probed.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (user.Token, error) {
	u, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.Token{}, nil
		}
		return user.Token{}, err
	}
	return s.issueCredentialToken(ctx, u.ID, user.TokenPurposePasswordReset, credentialTokenTTL)
}

// ResetPassword consumes a reset token and sets the new password.
func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	stored, err := s.consumeCredentialToken(ctx, token, user.TokenPurposePasswordReset)
	if err != nil {
		return err
	}
	if len(password) < 8 {
		return serviceerrors.BadRequest("password must be at least 8 characters")
	}

	u, err := s.store.GetUser(ctx, stored.UserID)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = string(hash)
	if _, err := s.store.UpdateUser(ctx, u); err != nil {
		return err
	}
	s.recordActivity(ctx, u.ID, user.ActivityPasswordChange, "", "", map[string]string{"via": "reset"})
	return nil
}

// VerifyEmail consumes a verification token and marks the account verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	stored, err := s.consumeCredentialToken(ctx, token, user.TokenPurposeEmailVerification)
	if err != nil {
		return err
	}
	u, err := s.store.GetUser(ctx, stored.UserID)
	if err != nil {
		return err
	}
	if u.IsVerified {
		return nil
	}
	u.IsVerified = true
	if _, err := s.store.UpdateUser(ctx, u); err != nil {
		return err
	}
	s.recordActivity(ctx, u.ID, user.ActivityEmailVerification, "", "", nil)
	return nil
}

// UpdateProfile stores the user's extended profile.
func (s *Service) UpdateProfile(ctx context.Context, p user.Profile) (user.Profile, error) {
	if p.UserID == "" {
		return user.Profile{}, serviceerrors.BadRequest("user id is required")
	}
	if p.Timezone == "" {
		p.Timezone = "UTC"
	}
	if p.Language == "" {
		p.Language = "en"
	}
	updated, err := s.store.UpsertProfile(ctx, p)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.Profile{}, serviceerrors.NotFound("user")
		}
		return user.Profile{}, err
	}
	s.recordActivity(ctx, p.UserID, user.ActivityProfileUpdate, "", "", nil)
	return updated, nil
}

// GetProfile returns the profile, falling back to defaults for accounts that
// never saved one.
func (s *Service) GetProfile(ctx context.Context, userID string) (user.Profile, error) {
	p, err := s.store.GetProfile(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return user.Profile{UserID: userID, Timezone: "UTC", Language: "en"}, nil
	}
	return p, err
}

// Activities returns the most recent audit entries for the user.
func (s *Service) Activities(ctx context.Context, userID string) ([]user.Activity, error) {
	return s.store.ListActivities(ctx, userID, activityPageSize)
}

// PurgeExpiredTokens removes credential tokens past their deadline.
func (s *Service) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredUserTokens(ctx, time.Now().UTC())
}

func (s *Service) issueTokenPair(ctx context.Context, u user.User) (user.TokenPair, error) {
	access, expires, err := s.tokens.IssueAccessToken(u.ID, u.Email, u.IsStaff)
	if err != nil {
		return user.TokenPair{}, err
	}
	refresh, err := s.issueCredentialToken(ctx, u.ID, user.TokenPurposeRefresh, s.refreshTTL)
	if err != nil {
		return user.TokenPair{}, err
	}
	return user.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh.Token,
		ExpiresAt:    expires,
	}, nil
}

func (s *Service) issueCredentialToken(ctx context.Context, userID, purpose string, ttl time.Duration) (user.Token, error) {
	value, err := NewOpaqueToken()
	if err != nil {
		return user.Token{}, err
	}
	return s.store.CreateUserToken(ctx, user.Token{
		UserID:    userID,
		Purpose:   purpose,
		Token:     value,
		ExpiresAt: time.Now().UTC().Add(ttl),
	})
}

func (s *Service) consumeCredentialToken(ctx context.Context, token, purpose string) (user.Token, error) {
	stored, err := s.store.GetUserToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.Token{}, serviceerrors.InvalidToken(nil)
		}
		return user.Token{}, err
	}
	if stored.Purpose != purpose || stored.Used || stored.Expired(time.Now().UTC()) {
		return user.Token{}, serviceerrors.InvalidToken(nil)
	}
	if err := s.store.MarkUserTokenUsed(ctx, stored.ID); err != nil {
		return user.Token{}, err
	}
	return stored, nil
}

func (s *Service) recordActivity(ctx context.Context, userID, activityType, ipAddress, userAgent string, metadata map[string]string) {
	_, err := s.store.RecordActivity(ctx, user.Activity{
		UserID:    userID,
		Type:      activityType,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Metadata:  metadata,
	})
	if err != nil {
		s.log.WithError(err).Warnf("failed to record %s activity for user %s", activityType, userID)
	}
}
