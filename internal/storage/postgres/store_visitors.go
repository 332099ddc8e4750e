package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/onevisitor/onevisitor/internal/domain/visitor"
	"github.com/onevisitor/onevisitor/internal/storage"
)

// --- VisitorStore -----------------------------------------------------------

func (s *Store) CreateVisitor(ctx context.Context, v visitor.Visitor) (visitor.Visitor, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO visitors (id, site_id, visitor_key, user_id, ip_address, user_agent, referrer,
		                      country, city, device_type, browser, os, is_returning, first_visit, last_visit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, v.ID, v.SiteID, v.VisitorKey, toNullString(v.UserID), v.IPAddress, v.UserAgent, v.Referrer,
		v.Country, v.City, v.DeviceType, v.Browser, v.OS, v.IsReturning, v.FirstVisit, v.LastVisit)
	if err != nil {
		return visitor.Visitor{}, wrapErr(err)
	}
	return v, nil
}

func (s *Store) UpdateVisitor(ctx context.Context, v visitor.Visitor) (visitor.Visitor, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE visitors
		SET user_id = $2, ip_address = $3, user_agent = $4, referrer = $5, country = $6, city = $7,
		    device_type = $8, browser = $9, os = $10, is_returning = $11, last_visit = $12
		WHERE id = $1
	`, v.ID, toNullString(v.UserID), v.IPAddress, v.UserAgent, v.Referrer, v.Country, v.City,
		v.DeviceType, v.Browser, v.OS, v.IsReturning, v.LastVisit)
	if err != nil {
		return visitor.Visitor{}, wrapErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return visitor.Visitor{}, storage.ErrNotFound
	}
	return v, nil
}

func (s *Store) GetVisitor(ctx context.Context, id string) (visitor.Visitor, error) {
	row := s.db.QueryRowContext(ctx, visitorSelect+` WHERE id = $1`, id)
	return scanVisitor(row)
}

func (s *Store) GetVisitorByKey(ctx context.Context, siteID, key string) (visitor.Visitor, error) {
	row := s.db.QueryRowContext(ctx, visitorSelect+` WHERE site_id = $1 AND visitor_key = $2`, siteID, key)
	return scanVisitor(row)
}

const visitorSelect = `
	SELECT id, site_id, visitor_key, user_id, ip_address, user_agent, referrer,
	       country, city, device_type, browser, os, is_returning, first_visit, last_visit
	FROM visitors`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVisitor(row rowScanner) (visitor.Visitor, error) {
	var (
		v      visitor.Visitor
		userID sql.NullString
	)
	if err := row.Scan(&v.ID, &v.SiteID, &v.VisitorKey, &userID, &v.IPAddress, &v.UserAgent,
		&v.Referrer, &v.Country, &v.City, &v.DeviceType, &v.Browser, &v.OS,
		&v.IsReturning, &v.FirstVisit, &v.LastVisit); err != nil {
		return visitor.Visitor{}, wrapErr(err)
	}
	v.UserID = userID.String
	return v, nil
}

func (s *Store) ListVisitors(ctx context.Context, siteID string, limit int) ([]visitor.Visitor, error) {
	rows, err := s.db.QueryContext(ctx, visitorSelect+`
		WHERE site_id = $1
		ORDER BY last_visit DESC
		LIMIT $2
	`, siteID, limit)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var result []visitor.Visitor
	for rows.Next() {
		v, err := scanVisitor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func (s *Store) CreateSession(ctx context.Context, sess visitor.Session) (visitor.Session, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, site_id, visitor_id, started_at, last_seen_at, ended_at, page_view_count, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sess.ID, sess.SiteID, sess.VisitorID, sess.StartedAt, sess.LastSeenAt,
		toNullTime(sess.EndedAt), sess.PageViewCount, sess.IsActive)
	if err != nil {
		return visitor.Session{}, wrapErr(err)
	}
	return sess, nil
}

func (s *Store) UpdateSession(ctx context.Context, sess visitor.Session) (visitor.Session, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET last_seen_at = $2, ended_at = $3, page_view_count = $4, is_active = $5
		WHERE id = $1
	`, sess.ID, sess.LastSeenAt, toNullTime(sess.EndedAt), sess.PageViewCount, sess.IsActive)
	if err != nil {
		return visitor.Session{}, wrapErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return visitor.Session{}, storage.ErrNotFound
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (visitor.Session, error) {
	row := s.db.QueryRowContext(ctx, sessionSelect+` WHERE id = $1`, id)
	return scanSession(row)
}

func (s *Store) GetActiveSession(ctx context.Context, visitorID string) (visitor.Session, error) {
	row := s.db.QueryRowContext(ctx, sessionSelect+`
		WHERE visitor_id = $1 AND is_active
		ORDER BY started_at DESC
		LIMIT 1
	`, visitorID)
	return scanSession(row)
}

const sessionSelect = `
	SELECT id, site_id, visitor_id, started_at, last_seen_at, ended_at, page_view_count, is_active
	FROM sessions`

func scanSession(row rowScanner) (visitor.Session, error) {
	var (
		sess    visitor.Session
		endedAt sql.NullTime
	)
	if err := row.Scan(&sess.ID, &sess.SiteID, &sess.VisitorID, &sess.StartedAt, &sess.LastSeenAt,
		&endedAt, &sess.PageViewCount, &sess.IsActive); err != nil {
		return visitor.Session{}, wrapErr(err)
	}
	sess.EndedAt = fromNullTime(endedAt)
	return sess, nil
}

func (s *Store) CloseIdleSessions(ctx context.Context, idleBefore time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET is_active = FALSE, ended_at = last_seen_at
		WHERE is_active AND last_seen_at < $1
	`, idleBefore)
	if err != nil {
		return 0, wrapErr(err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

func (s *Store) CreatePageView(ctx context.Context, pv visitor.PageView) (visitor.PageView, error) {
	if pv.ID == "" {
		pv.ID = uuid.NewString()
	}
	if pv.CreatedAt.IsZero() {
		pv.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO page_views (id, site_id, visitor_id, session_id, url, path, title, duration_ms, is_bounce, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, pv.ID, pv.SiteID, pv.VisitorID, pv.SessionID, pv.URL, pv.Path, pv.Title, pv.DurationMS, pv.IsBounce, pv.CreatedAt)
	if err != nil {
		return visitor.PageView{}, wrapErr(err)
	}
	return pv, nil
}

func (s *Store) UpdatePageView(ctx context.Context, pv visitor.PageView) (visitor.PageView, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE page_views SET duration_ms = $2, is_bounce = $3 WHERE id = $1
	`, pv.ID, pv.DurationMS, pv.IsBounce)
	if err != nil {
		return visitor.PageView{}, wrapErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return visitor.PageView{}, storage.ErrNotFound
	}
	return pv, nil
}

func (s *Store) ListSessionPageViews(ctx context.Context, sessionID string) ([]visitor.PageView, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site_id, visitor_id, session_id, url, path, title, duration_ms, is_bounce, created_at
		FROM page_views
		WHERE session_id = $1
		ORDER BY created_at
	`, sessionID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var result []visitor.PageView
	for rows.Next() {
		var (
			pv       visitor.PageView
			duration sql.NullInt64
		)
		if err := rows.Scan(&pv.ID, &pv.SiteID, &pv.VisitorID, &pv.SessionID, &pv.URL, &pv.Path,
			&pv.Title, &duration, &pv.IsBounce, &pv.CreatedAt); err != nil {
			return nil, err
		}
		pv.DurationMS = duration.Int64
		result = append(result, pv)
	}
	return result, rows.Err()
}

func (s *Store) CreateEvent(ctx context.Context, e visitor.Event) (visitor.Event, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var metadata interface{}
	if len(e.Metadata) > 0 {
		metadata = e.Metadata
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, site_id, visitor_id, session_id, event_type, element_id, element_class, element_text, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.SiteID, e.VisitorID, e.SessionID, e.Type, e.ElementID, e.ElementClass, e.ElementText, metadata, e.CreatedAt)
	if err != nil {
		return visitor.Event{}, wrapErr(err)
	}
	return e, nil
}

func (s *Store) ListEvents(ctx context.Context, siteID string, limit int) ([]visitor.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site_id, visitor_id, session_id, event_type, element_id, element_class, element_text, metadata, created_at
		FROM events
		WHERE site_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, siteID, limit)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var result []visitor.Event
	for rows.Next() {
		var e visitor.Event
		if err := rows.Scan(&e.ID, &e.SiteID, &e.VisitorID, &e.SessionID, &e.Type,
			&e.ElementID, &e.ElementClass, &e.ElementText, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// PurgeSiteDataBefore deletes tracking records older than the cutoff. Sessions
// still open and visitors seen since the cutoff are kept.
func (s *Store) PurgeSiteDataBefore(ctx context.Context, siteID string, cutoff time.Time) (int64, error) {
	var total int64
	statements := []string{
		`DELETE FROM events WHERE site_id = $1 AND created_at < $2`,
		`DELETE FROM page_views WHERE site_id = $1 AND created_at < $2`,
		`DELETE FROM sessions WHERE site_id = $1 AND NOT is_active AND last_seen_at < $2`,
		`DELETE FROM visitors WHERE site_id = $1 AND last_visit < $2`,
	}
	for _, stmt := range statements {
		result, err := s.db.ExecContext(ctx, stmt, siteID, cutoff)
		if err != nil {
			return total, wrapErr(err)
		}
		rows, _ := result.RowsAffected()
		total += rows
	}
	return total, nil
}
