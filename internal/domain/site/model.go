// Package site defines tracked websites, memberships and per-site settings.
package site

import "time"

// Membership roles, in decreasing privilege order.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// Site is a tracked website owned by a user.
type Site struct {
	ID           string            `json:"id"`
	OwnerID      string            `json:"owner_id"`
	Name         string            `json:"name"`
	Domain       string            `json:"domain"`
	TrackingCode string            `json:"tracking_code"`
	IsActive     bool              `json:"is_active"`
	Settings     map[string]string `json:"settings,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Member grants a user a role on a site.
type Member struct {
	ID       string    `json:"id"`
	SiteID   string    `json:"site_id"`
	UserID   string    `json:"user_id"`
	Role     string    `json:"role"`
	IsActive bool      `json:"is_active"`
	JoinedAt time.Time `json:"joined_at"`
}

// CanEdit reports whether the member's role permits mutations.
func (m Member) CanEdit() bool {
	return m.Role == RoleOwner || m.Role == RoleAdmin
}

// Domain is an additional hostname attached to a site.
type Domain struct {
	ID               string    `json:"id"`
	SiteID           string    `json:"site_id"`
	Domain           string    `json:"domain"`
	IsPrimary        bool      `json:"is_primary"`
	Verified         bool      `json:"verified"`
	VerificationCode string    `json:"verification_code,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Settings controls what a site's tracker records and how long data is kept.
type Settings struct {
	SiteID            string    `json:"site_id"`
	TrackingEnabled   bool      `json:"tracking_enabled"`
	IPTracking        bool      `json:"ip_tracking"`
	CookieConsent     bool      `json:"cookie_consent"`
	DataRetentionDays int       `json:"data_retention_days"`
	ExcludedPaths     []string  `json:"excluded_paths"`
	IncludedPaths     []string  `json:"included_paths"`
	CustomEvents      []string  `json:"custom_events"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// DefaultSettings returns the settings applied to a newly created site.
func DefaultSettings(siteID string) Settings {
	return Settings{
		SiteID:            siteID,
		TrackingEnabled:   true,
		IPTracking:        true,
		CookieConsent:     true,
		DataRetentionDays: 90,
	}
}
