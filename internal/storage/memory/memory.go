// Package memory implements the storage interfaces in process memory. It
// backs unit tests and development runs without a database.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onevisitor/onevisitor/internal/domain/analytics"
	"github.com/onevisitor/onevisitor/internal/domain/site"
	"github.com/onevisitor/onevisitor/internal/domain/user"
	"github.com/onevisitor/onevisitor/internal/domain/visitor"
	"github.com/onevisitor/onevisitor/internal/storage"
)

// Store is an in-memory implementation of every storage interface.
type Store struct {
	mu sync.RWMutex

	users      map[string]user.User
	profiles   map[string]user.Profile
	activities map[string][]user.Activity
	tokens     map[string]user.Token // keyed by token value

	sites       map[string]site.Site
	members     map[string]site.Member // keyed by member ID
	siteDomains map[string]site.Domain
	settings    map[string]site.Settings

	visitors  map[string]visitor.Visitor
	sessions  map[string]visitor.Session
	pageViews map[string]visitor.PageView
	events    map[string]visitor.Event

	dailyStats map[string]analytics.DailyStat // siteID|day
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.SiteStore = (*Store)(nil)
var _ storage.VisitorStore = (*Store)(nil)
var _ storage.AnalyticsStore = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		users:       make(map[string]user.User),
		profiles:    make(map[string]user.Profile),
		activities:  make(map[string][]user.Activity),
		tokens:      make(map[string]user.Token),
		sites:       make(map[string]site.Site),
		members:     make(map[string]site.Member),
		siteDomains: make(map[string]site.Domain),
		settings:    make(map[string]site.Settings),
		visitors:    make(map[string]visitor.Visitor),
		sessions:    make(map[string]visitor.Session),
		pageViews:   make(map[string]visitor.PageView),
		events:      make(map[string]visitor.Event),
		dailyStats:  make(map[string]analytics.DailyStat),
	}
}

// --- UserStore --------------------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return user.User{}, storage.ErrDuplicate
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[u.ID]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return user.User{}, storage.ErrNotFound
}

func (s *Store) ListUsers(_ context.Context) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]user.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.users, id)
	delete(s.profiles, id)
	delete(s.activities, id)
	return nil
}

func (s *Store) UpsertProfile(_ context.Context, p user.Profile) (user.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[p.UserID]; !ok {
		return user.Profile{}, storage.ErrNotFound
	}
	p.UpdatedAt = time.Now().UTC()
	s.profiles[p.UserID] = p
	return p, nil
}

func (s *Store) GetProfile(_ context.Context, userID string) (user.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return user.Profile{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *Store) RecordActivity(_ context.Context, a user.Activity) (user.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = time.Now().UTC()
	s.activities[a.UserID] = append(s.activities[a.UserID], a)
	return a, nil
}

func (s *Store) ListActivities(_ context.Context, userID string, limit int) ([]user.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.activities[userID]
	out := make([]user.Activity, len(list))
	copy(out, list)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateUserToken(_ context.Context, t user.Token) (user.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now().UTC()
	s.tokens[t.Token] = t
	return t, nil
}

func (s *Store) GetUserToken(_ context.Context, token string) (user.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[token]
	if !ok {
		return user.Token{}, storage.ErrNotFound
	}
	return t, nil
}

func (s *Store) MarkUserTokenUsed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, t := range s.tokens {
		if t.ID == id {
			t.Used = true
			s.tokens[key] = t
			return nil
		}
	}
	return storage.ErrNotFound
}

func (s *Store) DeleteExpiredUserTokens(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, t := range s.tokens {
		if t.ExpiresAt.Before(before) {
			delete(s.tokens, key)
			removed++
		}
	}
	return removed, nil
}

// --- SiteStore --------------------------------------------------------------

func (s *Store) CreateSite(_ context.Context, st site.Site) (site.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	st.CreatedAt = now
	st.UpdatedAt = now
	s.sites[st.ID] = st
	return st, nil
}

func (s *Store) UpdateSite(_ context.Context, st site.Site) (site.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sites[st.ID]
	if !ok {
		return site.Site{}, storage.ErrNotFound
	}
	st.OwnerID = existing.OwnerID
	st.CreatedAt = existing.CreatedAt
	st.UpdatedAt = time.Now().UTC()
	s.sites[st.ID] = st
	return st, nil
}

func (s *Store) GetSite(_ context.Context, id string) (site.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sites[id]
	if !ok {
		return site.Site{}, storage.ErrNotFound
	}
	return st, nil
}

func (s *Store) GetSiteByTrackingCode(_ context.Context, code string) (site.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, st := range s.sites {
		if st.TrackingCode == code {
			return st, nil
		}
	}
	return site.Site{}, storage.ErrNotFound
}

func (s *Store) ListSitesForUser(_ context.Context, userID string) ([]site.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	memberOf := make(map[string]bool)
	for _, m := range s.members {
		if m.UserID == userID && m.IsActive {
			memberOf[m.SiteID] = true
		}
	}

	var out []site.Site
	for _, st := range s.sites {
		if st.OwnerID == userID || memberOf[st.ID] {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) DeleteSite(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sites[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.sites, id)
	delete(s.settings, id)
	for mid, m := range s.members {
		if m.SiteID == id {
			delete(s.members, mid)
		}
	}
	for did, d := range s.siteDomains {
		if d.SiteID == id {
			delete(s.siteDomains, did)
		}
	}
	return nil
}

func (s *Store) AddMember(_ context.Context, m site.Member) (site.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.members {
		if existing.SiteID == m.SiteID && existing.UserID == m.UserID {
			return site.Member{}, storage.ErrDuplicate
		}
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.JoinedAt = time.Now().UTC()
	s.members[m.ID] = m
	return m, nil
}

func (s *Store) UpdateMember(_ context.Context, m site.Member) (site.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.members[m.ID]
	if !ok {
		return site.Member{}, storage.ErrNotFound
	}
	m.SiteID = existing.SiteID
	m.UserID = existing.UserID
	m.JoinedAt = existing.JoinedAt
	s.members[m.ID] = m
	return m, nil
}

func (s *Store) GetMember(_ context.Context, siteID, userID string) (site.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.members {
		if m.SiteID == siteID && m.UserID == userID {
			return m, nil
		}
	}
	return site.Member{}, storage.ErrNotFound
}

func (s *Store) ListMembers(_ context.Context, siteID string) ([]site.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []site.Member
	for _, m := range s.members {
		if m.SiteID == siteID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *Store) RemoveMember(_ context.Context, siteID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, m := range s.members {
		if m.SiteID == siteID && m.UserID == userID {
			delete(s.members, id)
			return nil
		}
	}
	return storage.ErrNotFound
}

func (s *Store) CreateSiteDomain(_ context.Context, d site.Domain) (site.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = time.Now().UTC()
	s.siteDomains[d.ID] = d
	return d, nil
}

func (s *Store) UpdateSiteDomain(_ context.Context, d site.Domain) (site.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.siteDomains[d.ID]
	if !ok {
		return site.Domain{}, storage.ErrNotFound
	}
	d.SiteID = existing.SiteID
	d.CreatedAt = existing.CreatedAt
	s.siteDomains[d.ID] = d
	return d, nil
}

func (s *Store) ListSiteDomains(_ context.Context, siteID string) ([]site.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []site.Domain
	for _, d := range s.siteDomains {
		if d.SiteID == siteID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) DeleteSiteDomain(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.siteDomains[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.siteDomains, id)
	return nil
}

func (s *Store) GetSettings(_ context.Context, siteID string) (site.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.settings[siteID]
	if !ok {
		return site.Settings{}, storage.ErrNotFound
	}
	return cfg, nil
}

func (s *Store) UpsertSettings(_ context.Context, cfg site.Settings) (site.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sites[cfg.SiteID]; !ok {
		return site.Settings{}, storage.ErrNotFound
	}
	now := time.Now().UTC()
	if existing, ok := s.settings[cfg.SiteID]; ok {
		cfg.CreatedAt = existing.CreatedAt
	} else {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	s.settings[cfg.SiteID] = cfg
	return cfg, nil
}

func (s *Store) ListRetentionWindows(_ context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int, len(s.settings))
	for siteID, cfg := range s.settings {
		out[siteID] = cfg.DataRetentionDays
	}
	return out, nil
}

// --- VisitorStore -----------------------------------------------------------

func (s *Store) CreateVisitor(_ context.Context, v visitor.Visitor) (visitor.Visitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if v.FirstVisit.IsZero() {
		v.FirstVisit = now
	}
	if v.LastVisit.IsZero() {
		v.LastVisit = now
	}
	s.visitors[v.ID] = v
	return v, nil
}

func (s *Store) UpdateVisitor(_ context.Context, v visitor.Visitor) (visitor.Visitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.visitors[v.ID]
	if !ok {
		return visitor.Visitor{}, storage.ErrNotFound
	}
	v.SiteID = existing.SiteID
	v.VisitorKey = existing.VisitorKey
	v.FirstVisit = existing.FirstVisit
	s.visitors[v.ID] = v
	return v, nil
}

func (s *Store) GetVisitor(_ context.Context, id string) (visitor.Visitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.visitors[id]
	if !ok {
		return visitor.Visitor{}, storage.ErrNotFound
	}
	return v, nil
}

func (s *Store) GetVisitorByKey(_ context.Context, siteID, key string) (visitor.Visitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.visitors {
		if v.SiteID == siteID && v.VisitorKey == key {
			return v, nil
		}
	}
	return visitor.Visitor{}, storage.ErrNotFound
}

func (s *Store) ListVisitors(_ context.Context, siteID string, limit int) ([]visitor.Visitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []visitor.Visitor
	for _, v := range s.visitors {
		if v.SiteID == siteID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastVisit.After(out[j].LastVisit) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateSession(_ context.Context, sess visitor.Session) (visitor.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if sess.StartedAt.IsZero() {
		sess.StartedAt = now
	}
	if sess.LastSeenAt.IsZero() {
		sess.LastSeenAt = sess.StartedAt
	}
	sess.IsActive = true
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *Store) UpdateSession(_ context.Context, sess visitor.Session) (visitor.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[sess.ID]
	if !ok {
		return visitor.Session{}, storage.ErrNotFound
	}
	sess.SiteID = existing.SiteID
	sess.VisitorID = existing.VisitorID
	sess.StartedAt = existing.StartedAt
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *Store) GetSession(_ context.Context, id string) (visitor.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return visitor.Session{}, storage.ErrNotFound
	}
	return sess, nil
}

func (s *Store) GetActiveSession(_ context.Context, visitorID string) (visitor.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest visitor.Session
	found := false
	for _, sess := range s.sessions {
		if sess.VisitorID == visitorID && sess.IsActive {
			if !found || sess.StartedAt.After(latest.StartedAt) {
				latest = sess
				found = true
			}
		}
	}
	if !found {
		return visitor.Session{}, storage.ErrNotFound
	}
	return latest, nil
}

func (s *Store) CloseIdleSessions(_ context.Context, idleBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var closed int64
	for id, sess := range s.sessions {
		if sess.IsActive && sess.LastSeenAt.Before(idleBefore) {
			sess.IsActive = false
			sess.EndedAt = sess.LastSeenAt
			s.sessions[id] = sess
			closed++
		}
	}
	return closed, nil
}

func (s *Store) CreatePageView(_ context.Context, pv visitor.PageView) (visitor.PageView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pv.ID == "" {
		pv.ID = uuid.NewString()
	}
	if pv.CreatedAt.IsZero() {
		pv.CreatedAt = time.Now().UTC()
	}
	s.pageViews[pv.ID] = pv
	return pv, nil
}

func (s *Store) UpdatePageView(_ context.Context, pv visitor.PageView) (visitor.PageView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.pageViews[pv.ID]
	if !ok {
		return visitor.PageView{}, storage.ErrNotFound
	}
	pv.SiteID = existing.SiteID
	pv.VisitorID = existing.VisitorID
	pv.SessionID = existing.SessionID
	pv.CreatedAt = existing.CreatedAt
	s.pageViews[pv.ID] = pv
	return pv, nil
}

func (s *Store) ListSessionPageViews(_ context.Context, sessionID string) ([]visitor.PageView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []visitor.PageView
	for _, pv := range s.pageViews {
		if pv.SessionID == sessionID {
			out = append(out, pv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateEvent(_ context.Context, e visitor.Event) (visitor.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.events[e.ID] = e
	return e, nil
}

func (s *Store) ListEvents(_ context.Context, siteID string, limit int) ([]visitor.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []visitor.Event
	for _, e := range s.events {
		if e.SiteID == siteID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) PurgeSiteDataBefore(_ context.Context, siteID string, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, e := range s.events {
		if e.SiteID == siteID && e.CreatedAt.Before(cutoff) {
			delete(s.events, id)
			removed++
		}
	}
	for id, pv := range s.pageViews {
		if pv.SiteID == siteID && pv.CreatedAt.Before(cutoff) {
			delete(s.pageViews, id)
			removed++
		}
	}
	for id, sess := range s.sessions {
		if sess.SiteID == siteID && !sess.IsActive && sess.LastSeenAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	for id, v := range s.visitors {
		if v.SiteID == siteID && v.LastVisit.Before(cutoff) {
			delete(s.visitors, id)
			removed++
		}
	}
	return removed, nil
}

// --- AnalyticsStore ---------------------------------------------------------

func inRange(t time.Time, rng analytics.Range) bool {
	return !t.Before(rng.Start) && t.Before(rng.End)
}

func (s *Store) Summary(_ context.Context, siteID string, rng analytics.Range) (analytics.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := analytics.Summary{SiteID: siteID, Range: rng}

	uniques := make(map[string]bool)
	for _, pv := range s.pageViews {
		if pv.SiteID == siteID && inRange(pv.CreatedAt, rng) {
			summary.PageViews++
			uniques[pv.VisitorID] = true
		}
	}
	summary.UniqueVisitors = int64(len(uniques))

	var bounces, totalSeconds int64
	for _, sess := range s.sessions {
		if sess.SiteID != siteID || !inRange(sess.StartedAt, rng) {
			continue
		}
		summary.Sessions++
		if sess.PageViewCount <= 1 {
			bounces++
		}
		totalSeconds += int64(sess.Duration().Seconds())
		if sess.IsActive {
			summary.ActiveVisitors++
		}
	}
	if summary.Sessions > 0 {
		summary.BounceRate = float64(bounces) / float64(summary.Sessions)
		summary.AvgSessionSeconds = float64(totalSeconds) / float64(summary.Sessions)
	}

	for _, v := range s.visitors {
		if v.SiteID == siteID && v.IsReturning && uniques[v.ID] {
			summary.ReturningVisitors++
		}
	}
	return summary, nil
}

func (s *Store) TopPages(_ context.Context, siteID string, rng analytics.Range, limit int) ([]analytics.PageStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	views := make(map[string]int64)
	uniques := make(map[string]map[string]bool)
	for _, pv := range s.pageViews {
		if pv.SiteID != siteID || !inRange(pv.CreatedAt, rng) {
			continue
		}
		views[pv.Path]++
		if uniques[pv.Path] == nil {
			uniques[pv.Path] = make(map[string]bool)
		}
		uniques[pv.Path][pv.VisitorID] = true
	}

	out := make([]analytics.PageStat, 0, len(views))
	for path, count := range views {
		out = append(out, analytics.PageStat{
			Path:           path,
			Views:          count,
			UniqueVisitors: int64(len(uniques[path])),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Views != out[j].Views {
			return out[i].Views > out[j].Views
		}
		return out[i].Path < out[j].Path
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) TopReferrers(_ context.Context, siteID string, rng analytics.Range, limit int) ([]analytics.ReferrerStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]map[string]bool)
	for _, v := range s.visitors {
		if v.SiteID != siteID || v.Referrer == "" || !inRange(v.LastVisit, rng) {
			continue
		}
		if counts[v.Referrer] == nil {
			counts[v.Referrer] = make(map[string]bool)
		}
		counts[v.Referrer][v.ID] = true
	}

	out := make([]analytics.ReferrerStat, 0, len(counts))
	for ref, visitors := range counts {
		out = append(out, analytics.ReferrerStat{Referrer: ref, Visitors: int64(len(visitors))})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Visitors != out[j].Visitors {
			return out[i].Visitors > out[j].Visitors
		}
		return out[i].Referrer < out[j].Referrer
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Breakdown(_ context.Context, siteID, dimension string, rng analytics.Range) ([]analytics.BreakdownEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, v := range s.visitors {
		if v.SiteID != siteID || !inRange(v.LastVisit, rng) {
			continue
		}
		var label string
		switch dimension {
		case "browser":
			label = v.Browser
		case "os":
			label = v.OS
		case "device":
			label = v.DeviceType
		default:
			label = ""
		}
		if label == "" {
			label = "unknown"
		}
		counts[label]++
	}

	out := make([]analytics.BreakdownEntry, 0, len(counts))
	for label, n := range counts {
		out = append(out, analytics.BreakdownEntry{Label: label, Visitors: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Visitors != out[j].Visitors {
			return out[i].Visitors > out[j].Visitors
		}
		return out[i].Label < out[j].Label
	})
	return out, nil
}

func (s *Store) TimeSeries(_ context.Context, siteID string, rng analytics.Range) ([]analytics.TimePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type bucket struct {
		views    int64
		visitors map[string]bool
		sessions int64
	}
	buckets := make(map[time.Time]*bucket)
	day := func(t time.Time) time.Time {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	get := func(t time.Time) *bucket {
		d := day(t)
		b, ok := buckets[d]
		if !ok {
			b = &bucket{visitors: make(map[string]bool)}
			buckets[d] = b
		}
		return b
	}

	for _, pv := range s.pageViews {
		if pv.SiteID == siteID && inRange(pv.CreatedAt, rng) {
			b := get(pv.CreatedAt)
			b.views++
			b.visitors[pv.VisitorID] = true
		}
	}
	for _, sess := range s.sessions {
		if sess.SiteID == siteID && inRange(sess.StartedAt, rng) {
			get(sess.StartedAt).sessions++
		}
	}

	out := make([]analytics.TimePoint, 0, len(buckets))
	for d, b := range buckets {
		out = append(out, analytics.TimePoint{
			Day:       d,
			PageViews: b.views,
			Visitors:  int64(len(b.visitors)),
			Sessions:  b.sessions,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func (s *Store) ComputeDailyStat(ctx context.Context, siteID string, day time.Time) (analytics.DailyStat, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	rng := analytics.Range{Start: start, End: start.Add(24 * time.Hour)}

	summary, err := s.Summary(ctx, siteID, rng)
	if err != nil {
		return analytics.DailyStat{}, err
	}

	s.mu.RLock()
	var bounces, totalSeconds int64
	for _, sess := range s.sessions {
		if sess.SiteID == siteID && inRange(sess.StartedAt, rng) {
			if sess.PageViewCount <= 1 {
				bounces++
			}
			totalSeconds += int64(sess.Duration().Seconds())
		}
	}
	s.mu.RUnlock()

	return analytics.DailyStat{
		SiteID:              siteID,
		Day:                 start,
		PageViews:           summary.PageViews,
		UniqueVisitors:      summary.UniqueVisitors,
		Sessions:            summary.Sessions,
		BounceSessions:      bounces,
		TotalSessionSeconds: totalSeconds,
	}, nil
}

func (s *Store) UpsertDailyStat(_ context.Context, stat analytics.DailyStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stat.UpdatedAt = time.Now().UTC()
	s.dailyStats[stat.SiteID+"|"+stat.Day.Format("2006-01-02")] = stat
	return nil
}

func (s *Store) ListDailyStats(_ context.Context, siteID string, rng analytics.Range) ([]analytics.DailyStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []analytics.DailyStat
	for _, stat := range s.dailyStats {
		if stat.SiteID == siteID && !stat.Day.Before(rng.Start) && stat.Day.Before(rng.End) {
			out = append(out, stat)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}
