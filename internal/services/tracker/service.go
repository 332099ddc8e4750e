// Package tracker implements the collect pipeline: resolving the site from
// its tracking code, upserting the visitor, managing sessions and recording
// page views and events.
package tracker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mileusna/useragent"
	"github.com/tidwall/gjson"

	"github.com/onevisitor/onevisitor/internal/cache"
	"github.com/onevisitor/onevisitor/internal/config"
	"github.com/onevisitor/onevisitor/internal/domain/site"
	"github.com/onevisitor/onevisitor/internal/domain/visitor"
	"github.com/onevisitor/onevisitor/internal/logging"
	"github.com/onevisitor/onevisitor/internal/metrics"
	"github.com/onevisitor/onevisitor/internal/storage"
)

// Rejection reasons recorded in metrics.
const (
	ReasonUnknownSite      = "unknown_site"
	ReasonTrackingDisabled = "tracking_disabled"
	ReasonExcludedPath     = "excluded_path"
	ReasonBot              = "bot"
	ReasonInvalidEvent     = "invalid_event"
	ReasonInvalidMetadata  = "invalid_metadata"
)

// ErrRejected wraps a hit that was deliberately not recorded. The HTTP layer
// still answers 204 so the tracker script never sees an error.
var ErrRejected = errors.New("hit rejected")

func reject(reason string) error {
	return fmt.Errorf("%w: %s", ErrRejected, reason)
}

// Hit is one payload from the tracker script.
type Hit struct {
	TrackingCode string          `json:"tracking_code"`
	URL          string          `json:"url"`
	Path         string          `json:"path"`
	Title        string          `json:"title,omitempty"`
	Referrer     string          `json:"referrer,omitempty"`
	EventType    string          `json:"event_type,omitempty"`
	ElementID    string          `json:"element_id,omitempty"`
	ElementClass string          `json:"element_class,omitempty"`
	ElementText  string          `json:"element_text,omitempty"`
	DurationMS   int64           `json:"duration_ms,omitempty"`
	Country      string          `json:"country,omitempty"`
	City         string          `json:"city,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`

	// filled by the HTTP layer, not the client
	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
}

// IsEvent reports whether the hit is an interaction rather than a page view.
func (h Hit) IsEvent() bool { return h.EventType != "" }

// Result is what a recorded hit produced.
type Result struct {
	Site     site.Site         `json:"-"`
	Visitor  visitor.Visitor   `json:"visitor"`
	Session  visitor.Session   `json:"session"`
	PageView *visitor.PageView `json:"page_view,omitempty"`
	Event    *visitor.Event    `json:"event,omitempty"`
}

// Broadcaster pushes recorded hits to live dashboard subscribers.
type Broadcaster interface {
	BroadcastHit(siteID string, result Result)
}

// Service is the ingest pipeline.
type Service struct {
	sites    storage.SiteStore
	visitors storage.VisitorStore
	cache    *cache.Cache
	metrics  *metrics.Metrics
	cfg      config.TrackingConfig
	log      *logging.Logger
	feed     Broadcaster
}

// New constructs the tracker service.
func New(sites storage.SiteStore, visitors storage.VisitorStore, c *cache.Cache, m *metrics.Metrics, cfg config.TrackingConfig, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("tracker")
	}
	return &Service{
		sites:    sites,
		visitors: visitors,
		cache:    c,
		metrics:  m,
		cfg:      cfg,
		log:      log,
	}
}

// AttachFeed wires the live dashboard broadcaster.
func (s *Service) AttachFeed(feed Broadcaster) {
	s.feed = feed
}

// Collect records one hit. Rejections return ErrRejected-wrapped errors.
func (s *Service) Collect(ctx context.Context, hit Hit) (Result, error) {
	st, settings, err := s.resolveSite(ctx, hit.TrackingCode)
	if err != nil {
		return Result{}, err
	}

	if hit.Path == "" {
		hit.Path = "/"
	}
	if !pathAllowed(hit.Path, settings) {
		s.rejectHit(ReasonExcludedPath)
		return Result{}, reject(ReasonExcludedPath)
	}

	ua := useragent.Parse(hit.UserAgent)
	if ua.Bot {
		s.rejectHit(ReasonBot)
		return Result{}, reject(ReasonBot)
	}

	if !settings.IPTracking {
		hit.IPAddress = ""
	}

	v, err := s.upsertVisitor(ctx, st.ID, hit, ua)
	if err != nil {
		return Result{}, err
	}
	sess, err := s.resolveSession(ctx, st.ID, v.ID)
	if err != nil {
		return Result{}, err
	}

	result := Result{Site: st, Visitor: v, Session: sess}
	if hit.IsEvent() {
		ev, err := s.recordEvent(ctx, st.ID, v.ID, sess, hit, settings)
		if err != nil {
			return Result{}, err
		}
		result.Event = ev
	} else {
		pv, updated, err := s.recordPageView(ctx, st.ID, v.ID, sess, hit)
		if err != nil {
			return Result{}, err
		}
		result.PageView = pv
		result.Session = updated
	}

	if s.cache != nil {
		s.cache.TouchActiveVisitor(ctx, st.ID, v.ID, s.cfg.SessionIdleTimeout)
	}
	if s.feed != nil {
		s.feed.BroadcastHit(st.ID, result)
	}
	return result, nil
}

func (s *Service) resolveSite(ctx context.Context, trackingCode string) (site.Site, site.Settings, error) {
	st, err := s.sites.GetSiteByTrackingCode(ctx, trackingCode)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.rejectHit(ReasonUnknownSite)
			return site.Site{}, site.Settings{}, reject(ReasonUnknownSite)
		}
		return site.Site{}, site.Settings{}, err
	}
	if !st.IsActive {
		s.rejectHit(ReasonTrackingDisabled)
		return site.Site{}, site.Settings{}, reject(ReasonTrackingDisabled)
	}

	settings, err := s.sites.GetSettings(ctx, st.ID)
	if errors.Is(err, storage.ErrNotFound) {
		settings = site.DefaultSettings(st.ID)
	} else if err != nil {
		return site.Site{}, site.Settings{}, err
	}
	if !settings.TrackingEnabled {
		s.rejectHit(ReasonTrackingDisabled)
		return site.Site{}, site.Settings{}, reject(ReasonTrackingDisabled)
	}
	return st, settings, nil
}

// visitorKey derives the stable visitor identity from network address and
// user agent, scoped to the site.
func visitorKey(siteID, ipAddress, userAgent string) string {
	sum := sha256.Sum256([]byte(siteID + "|" + ipAddress + "|" + userAgent))
	return hex.EncodeToString(sum[:16])
}

func (s *Service) upsertVisitor(ctx context.Context, siteID string, hit Hit, ua useragent.UserAgent) (visitor.Visitor, error) {
	key := visitorKey(siteID, hit.IPAddress, hit.UserAgent)
	now := time.Now().UTC()

	existing, err := s.visitors.GetVisitorByKey(ctx, siteID, key)
	if err == nil {
		existing.IsReturning = true
		existing.LastVisit = now
		if hit.Referrer != "" && existing.Referrer == "" {
			existing.Referrer = hit.Referrer
		}
		if hit.Country != "" && existing.Country == "" {
			existing.Country = hit.Country
		}
		if hit.City != "" && existing.City == "" {
			existing.City = hit.City
		}
		return s.visitors.UpdateVisitor(ctx, existing)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return visitor.Visitor{}, err
	}

	return s.visitors.CreateVisitor(ctx, visitor.Visitor{
		SiteID:     siteID,
		VisitorKey: key,
		IPAddress:  hit.IPAddress,
		UserAgent:  hit.UserAgent,
		Referrer:   hit.Referrer,
		Country:    hit.Country,
		City:       hit.City,
		DeviceType: deviceType(ua),
		Browser:    ua.Name,
		OS:         ua.OS,
		FirstVisit: now,
		LastVisit:  now,
	})
}

func deviceType(ua useragent.UserAgent) string {
	switch {
	case ua.Mobile:
		return "mobile"
	case ua.Tablet:
		return "tablet"
	case ua.Desktop:
		return "desktop"
	default:
		return "other"
	}
}

// resolveSession reuses the visitor's active session when it is within the
// idle window, otherwise opens a fresh one.
func (s *Service) resolveSession(ctx context.Context, siteID, visitorID string) (visitor.Session, error) {
	now := time.Now().UTC()

	active, err := s.visitors.GetActiveSession(ctx, visitorID)
	if err == nil && now.Sub(active.LastSeenAt) <= s.cfg.SessionIdleTimeout {
		return active, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return visitor.Session{}, err
	}

	if err == nil {
		// stale session: close it now rather than waiting for the sweeper
		active.IsActive = false
		active.EndedAt = active.LastSeenAt
		if _, err := s.visitors.UpdateSession(ctx, active); err != nil {
			return visitor.Session{}, err
		}
	}

	sess, err := s.visitors.CreateSession(ctx, visitor.Session{
		SiteID:    siteID,
		VisitorID: visitorID,
		StartedAt: now,
	})
	if err != nil {
		return visitor.Session{}, err
	}
	if s.metrics != nil {
		s.metrics.RecordSessionOpened(siteID)
	}
	return sess, nil
}

func (s *Service) recordPageView(ctx context.Context, siteID, visitorID string, sess visitor.Session, hit Hit) (*visitor.PageView, visitor.Session, error) {
	sess.PageViewCount++
	sess.LastSeenAt = time.Now().UTC()

	pv, err := s.visitors.CreatePageView(ctx, visitor.PageView{
		SiteID:     siteID,
		VisitorID:  visitorID,
		SessionID:  sess.ID,
		URL:        hit.URL,
		Path:       hit.Path,
		Title:      hit.Title,
		DurationMS: hit.DurationMS,
		IsBounce:   sess.PageViewCount == 1,
	})
	if err != nil {
		return nil, visitor.Session{}, err
	}

	updated, err := s.visitors.UpdateSession(ctx, sess)
	if err != nil {
		return nil, visitor.Session{}, err
	}
	if sess.PageViewCount == 2 {
		s.clearBounce(ctx, sess.ID)
	}
	if s.metrics != nil {
		s.metrics.RecordPageView(siteID)
	}
	return &pv, updated, nil
}

// clearBounce unmarks the session's first page view once a second one lands.
func (s *Service) clearBounce(ctx context.Context, sessionID string) {
	views, err := s.visitors.ListSessionPageViews(ctx, sessionID)
	if err != nil || len(views) == 0 {
		return
	}
	first := views[0]
	if !first.IsBounce {
		return
	}
	first.IsBounce = false
	if _, err := s.visitors.UpdatePageView(ctx, first); err != nil {
		s.log.WithError(err).Debugf("failed to clear bounce on session %s", sessionID)
	}
}

func (s *Service) recordEvent(ctx context.Context, siteID, visitorID string, sess visitor.Session, hit Hit, settings site.Settings) (*visitor.Event, error) {
	if !eventTypeAllowed(hit.EventType, settings) {
		s.rejectHit(ReasonInvalidEvent)
		return nil, reject(ReasonInvalidEvent)
	}
	if len(hit.Metadata) > 0 {
		if s.cfg.MaxMetadataBytes > 0 && len(hit.Metadata) > s.cfg.MaxMetadataBytes {
			s.rejectHit(ReasonInvalidMetadata)
			return nil, reject(ReasonInvalidMetadata)
		}
		if !gjson.ValidBytes(hit.Metadata) || !gjson.ParseBytes(hit.Metadata).IsObject() {
			s.rejectHit(ReasonInvalidMetadata)
			return nil, reject(ReasonInvalidMetadata)
		}
	}

	ev, err := s.visitors.CreateEvent(ctx, visitor.Event{
		SiteID:       siteID,
		VisitorID:    visitorID,
		SessionID:    sess.ID,
		Type:         hit.EventType,
		ElementID:    hit.ElementID,
		ElementClass: hit.ElementClass,
		ElementText:  hit.ElementText,
		Metadata:     hit.Metadata,
	})
	if err != nil {
		return nil, err
	}

	sess.LastSeenAt = time.Now().UTC()
	if _, err := s.visitors.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordEvent(siteID, hit.EventType)
	}
	return &ev, nil
}

func eventTypeAllowed(eventType string, settings site.Settings) bool {
	switch eventType {
	case visitor.EventClick, visitor.EventScroll, visitor.EventFormSubmit, visitor.EventDownload:
		return true
	}
	for _, custom := range settings.CustomEvents {
		if eventType == custom {
			return true
		}
	}
	return false
}

// pathAllowed applies the site's include and exclude prefix rules. Excludes
// win over includes.
func pathAllowed(path string, settings site.Settings) bool {
	for _, prefix := range settings.ExcludedPaths {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return false
		}
	}
	if len(settings.IncludedPaths) == 0 {
		return true
	}
	for _, prefix := range settings.IncludedPaths {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (s *Service) rejectHit(reason string) {
	if s.metrics != nil {
		s.metrics.RecordRejectedHit(reason)
	}
}

// RecentEvents returns the latest events for a site's dashboard feed.
func (s *Service) RecentEvents(ctx context.Context, siteID string, limit int) ([]visitor.Event, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.visitors.ListEvents(ctx, siteID, limit)
}

// RecentVisitors returns the latest visitors for a site.
func (s *Service) RecentVisitors(ctx context.Context, siteID string, limit int) ([]visitor.Visitor, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.visitors.ListVisitors(ctx, siteID, limit)
}
