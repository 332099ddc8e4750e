// Package visitor defines the tracking records: visitors, sessions, page
// views and custom events.
package visitor

import "time"

// Event types accepted from the tracker. EventCustom covers names declared in
// a site's custom_events list.
const (
	EventClick      = "click"
	EventScroll     = "scroll"
	EventFormSubmit = "form_submit"
	EventDownload   = "download"
	EventCustom     = "custom"
)

// Visitor is a distinct browser identity on one site.
type Visitor struct {
	ID          string    `json:"id"`
	SiteID      string    `json:"site_id"`
	VisitorKey  string    `json:"visitor_key"`
	UserID      string    `json:"user_id,omitempty"`
	IPAddress   string    `json:"ip_address,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	Referrer    string    `json:"referrer,omitempty"`
	Country     string    `json:"country,omitempty"`
	City        string    `json:"city,omitempty"`
	DeviceType  string    `json:"device_type,omitempty"`
	Browser     string    `json:"browser,omitempty"`
	OS          string    `json:"os,omitempty"`
	IsReturning bool      `json:"is_returning"`
	FirstVisit  time.Time `json:"first_visit"`
	LastVisit   time.Time `json:"last_visit"`
}

// Session is a contiguous run of activity by one visitor.
type Session struct {
	ID            string    `json:"id"`
	SiteID        string    `json:"site_id"`
	VisitorID     string    `json:"visitor_id"`
	StartedAt     time.Time `json:"started_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	EndedAt       time.Time `json:"ended_at,omitempty"`
	PageViewCount int       `json:"page_view_count"`
	IsActive      bool      `json:"is_active"`
}

// Duration returns the session length. Open sessions measure up to last seen.
func (s Session) Duration() time.Duration {
	end := s.EndedAt
	if end.IsZero() {
		end = s.LastSeenAt
	}
	return end.Sub(s.StartedAt)
}

// PageView is one page load within a session.
type PageView struct {
	ID         string    `json:"id"`
	SiteID     string    `json:"site_id"`
	VisitorID  string    `json:"visitor_id"`
	SessionID  string    `json:"session_id"`
	URL        string    `json:"url"`
	Path       string    `json:"path"`
	Title      string    `json:"title,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	IsBounce   bool      `json:"is_bounce"`
	CreatedAt  time.Time `json:"created_at"`
}

// Event is a tracked interaction (click, scroll, form submit, download or a
// site-defined custom event).
type Event struct {
	ID           string    `json:"id"`
	SiteID       string    `json:"site_id"`
	VisitorID    string    `json:"visitor_id"`
	SessionID    string    `json:"session_id"`
	Type         string    `json:"type"`
	ElementID    string    `json:"element_id,omitempty"`
	ElementClass string    `json:"element_class,omitempty"`
	ElementText  string    `json:"element_text,omitempty"`
	Metadata     []byte    `json:"metadata,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
