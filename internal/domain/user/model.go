// Package user defines account identity, profile and credential records.
package user

import "time"

// Activity types recorded in the audit trail.
const (
	ActivityLogin             = "login"
	ActivityLogout            = "logout"
	ActivityPasswordChange    = "password_change"
	ActivityProfileUpdate     = "profile_update"
	ActivityEmailVerification = "email_verification"
	ActivityTokenRefresh      = "token_refresh"
)

// Token purposes for single-use credential tokens.
const (
	TokenPurposeEmailVerification = "email_verification"
	TokenPurposePasswordReset     = "password_reset"
	TokenPurposeRefresh           = "refresh"
)

// User is an account identified by email.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	IsStaff      bool      `json:"is_staff"`
	IsVerified   bool      `json:"is_verified"`
	LastLogin    time.Time `json:"last_login,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Profile holds the extended, user-editable account information.
type Profile struct {
	UserID                  string          `json:"user_id"`
	Company                 string          `json:"company"`
	Position                string          `json:"position"`
	PhoneNumber             string          `json:"phone_number"`
	Bio                     string          `json:"bio"`
	Timezone                string          `json:"timezone"`
	Language                string          `json:"language"`
	NotificationPreferences map[string]bool `json:"notification_preferences"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

// Activity is one audit-trail entry.
type Activity struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Type      string            `json:"type"`
	IPAddress string            `json:"ip_address,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Token is a single-use credential token (email verification, password reset)
// or an opaque refresh token handle.
type Token struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Purpose   string    `json:"purpose"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the token's deadline has passed.
func (t Token) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// TokenPair is the issued JWT access token plus its refresh token.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}
