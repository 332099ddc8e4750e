package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/onevisitor/onevisitor/internal/domain/site"
	"github.com/onevisitor/onevisitor/internal/storage"
)

// --- SiteStore --------------------------------------------------------------

func (s *Store) CreateSite(ctx context.Context, st site.Site) (site.Site, error) {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	st.CreatedAt = now
	st.UpdatedAt = now

	settingsJSON, err := json.Marshal(st.Settings)
	if err != nil {
		return site.Site{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sites (id, owner_id, name, domain, tracking_code, is_active, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, st.ID, st.OwnerID, st.Name, st.Domain, st.TrackingCode, st.IsActive, settingsJSON, st.CreatedAt, st.UpdatedAt)
	if err != nil {
		return site.Site{}, wrapErr(err)
	}
	return st, nil
}

func (s *Store) UpdateSite(ctx context.Context, st site.Site) (site.Site, error) {
	existing, err := s.GetSite(ctx, st.ID)
	if err != nil {
		return site.Site{}, err
	}

	st.OwnerID = existing.OwnerID
	st.CreatedAt = existing.CreatedAt
	st.UpdatedAt = time.Now().UTC()

	settingsJSON, err := json.Marshal(st.Settings)
	if err != nil {
		return site.Site{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE sites
		SET name = $2, domain = $3, tracking_code = $4, is_active = $5, settings = $6, updated_at = $7
		WHERE id = $1
	`, st.ID, st.Name, st.Domain, st.TrackingCode, st.IsActive, settingsJSON, st.UpdatedAt)
	if err != nil {
		return site.Site{}, wrapErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return site.Site{}, storage.ErrNotFound
	}
	return st, nil
}

func (s *Store) GetSite(ctx context.Context, id string) (site.Site, error) {
	return s.getSite(ctx, `WHERE id = $1`, id)
}

func (s *Store) GetSiteByTrackingCode(ctx context.Context, code string) (site.Site, error) {
	return s.getSite(ctx, `WHERE tracking_code = $1`, code)
}

func (s *Store) getSite(ctx context.Context, where string, arg interface{}) (site.Site, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, domain, tracking_code, is_active, settings, created_at, updated_at
		FROM sites `+where, arg)

	var (
		st          site.Site
		settingsRaw []byte
	)
	if err := row.Scan(&st.ID, &st.OwnerID, &st.Name, &st.Domain, &st.TrackingCode,
		&st.IsActive, &settingsRaw, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return site.Site{}, wrapErr(err)
	}
	if len(settingsRaw) > 0 {
		_ = json.Unmarshal(settingsRaw, &st.Settings)
	}
	return st, nil
}

func (s *Store) ListSitesForUser(ctx context.Context, userID string) ([]site.Site, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT s.id, s.owner_id, s.name, s.domain, s.tracking_code, s.is_active, s.settings, s.created_at, s.updated_at
		FROM sites s
		LEFT JOIN site_members m ON m.site_id = s.id AND m.is_active
		WHERE s.owner_id = $1 OR m.user_id = $1
		ORDER BY s.created_at
	`, userID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var result []site.Site
	for rows.Next() {
		var (
			st          site.Site
			settingsRaw []byte
		)
		if err := rows.Scan(&st.ID, &st.OwnerID, &st.Name, &st.Domain, &st.TrackingCode,
			&st.IsActive, &settingsRaw, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, err
		}
		if len(settingsRaw) > 0 {
			_ = json.Unmarshal(settingsRaw, &st.Settings)
		}
		result = append(result, st)
	}
	return result, rows.Err()
}

func (s *Store) DeleteSite(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM sites WHERE id = $1
	`, id)
	if err != nil {
		return wrapErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) AddMember(ctx context.Context, m site.Member) (site.Member, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.JoinedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO site_members (id, site_id, user_id, role, is_active, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.ID, m.SiteID, m.UserID, m.Role, m.IsActive, m.JoinedAt)
	if err != nil {
		return site.Member{}, wrapErr(err)
	}
	return m, nil
}

func (s *Store) UpdateMember(ctx context.Context, m site.Member) (site.Member, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE site_members SET role = $2, is_active = $3 WHERE id = $1
	`, m.ID, m.Role, m.IsActive)
	if err != nil {
		return site.Member{}, wrapErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return site.Member{}, storage.ErrNotFound
	}
	return m, nil
}

func (s *Store) GetMember(ctx context.Context, siteID, userID string) (site.Member, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, site_id, user_id, role, is_active, joined_at
		FROM site_members
		WHERE site_id = $1 AND user_id = $2
	`, siteID, userID)

	var m site.Member
	if err := row.Scan(&m.ID, &m.SiteID, &m.UserID, &m.Role, &m.IsActive, &m.JoinedAt); err != nil {
		return site.Member{}, wrapErr(err)
	}
	return m, nil
}

func (s *Store) ListMembers(ctx context.Context, siteID string) ([]site.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site_id, user_id, role, is_active, joined_at
		FROM site_members
		WHERE site_id = $1
		ORDER BY joined_at
	`, siteID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var result []site.Member
	for rows.Next() {
		var m site.Member
		if err := rows.Scan(&m.ID, &m.SiteID, &m.UserID, &m.Role, &m.IsActive, &m.JoinedAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *Store) RemoveMember(ctx context.Context, siteID, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM site_members WHERE site_id = $1 AND user_id = $2
	`, siteID, userID)
	if err != nil {
		return wrapErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) CreateSiteDomain(ctx context.Context, d site.Domain) (site.Domain, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO site_domains (id, site_id, domain, is_primary, verified, verification_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, d.ID, d.SiteID, d.Domain, d.IsPrimary, d.Verified, d.VerificationCode, d.CreatedAt)
	if err != nil {
		return site.Domain{}, wrapErr(err)
	}
	return d, nil
}

func (s *Store) UpdateSiteDomain(ctx context.Context, d site.Domain) (site.Domain, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE site_domains
		SET domain = $2, is_primary = $3, verified = $4, verification_code = $5
		WHERE id = $1
	`, d.ID, d.Domain, d.IsPrimary, d.Verified, d.VerificationCode)
	if err != nil {
		return site.Domain{}, wrapErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return site.Domain{}, storage.ErrNotFound
	}
	return d, nil
}

func (s *Store) ListSiteDomains(ctx context.Context, siteID string) ([]site.Domain, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site_id, domain, is_primary, verified, verification_code, created_at
		FROM site_domains
		WHERE site_id = $1
		ORDER BY created_at
	`, siteID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var result []site.Domain
	for rows.Next() {
		var d site.Domain
		if err := rows.Scan(&d.ID, &d.SiteID, &d.Domain, &d.IsPrimary, &d.Verified, &d.VerificationCode, &d.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *Store) DeleteSiteDomain(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM site_domains WHERE id = $1
	`, id)
	if err != nil {
		return wrapErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) GetSettings(ctx context.Context, siteID string) (site.Settings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT site_id, tracking_enabled, ip_tracking, cookie_consent, data_retention_days,
		       excluded_paths, included_paths, custom_events, created_at, updated_at
		FROM site_settings
		WHERE site_id = $1
	`, siteID)

	var (
		cfg         site.Settings
		excludedRaw []byte
		includedRaw []byte
		eventsRaw   []byte
	)
	if err := row.Scan(&cfg.SiteID, &cfg.TrackingEnabled, &cfg.IPTracking, &cfg.CookieConsent,
		&cfg.DataRetentionDays, &excludedRaw, &includedRaw, &eventsRaw, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		return site.Settings{}, wrapErr(err)
	}
	_ = json.Unmarshal(excludedRaw, &cfg.ExcludedPaths)
	_ = json.Unmarshal(includedRaw, &cfg.IncludedPaths)
	_ = json.Unmarshal(eventsRaw, &cfg.CustomEvents)
	return cfg, nil
}

func (s *Store) UpsertSettings(ctx context.Context, cfg site.Settings) (site.Settings, error) {
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	excludedJSON, err := json.Marshal(orEmpty(cfg.ExcludedPaths))
	if err != nil {
		return site.Settings{}, err
	}
	includedJSON, err := json.Marshal(orEmpty(cfg.IncludedPaths))
	if err != nil {
		return site.Settings{}, err
	}
	eventsJSON, err := json.Marshal(orEmpty(cfg.CustomEvents))
	if err != nil {
		return site.Settings{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO site_settings (site_id, tracking_enabled, ip_tracking, cookie_consent, data_retention_days,
		                           excluded_paths, included_paths, custom_events, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (site_id) DO UPDATE
		SET tracking_enabled = EXCLUDED.tracking_enabled, ip_tracking = EXCLUDED.ip_tracking,
		    cookie_consent = EXCLUDED.cookie_consent, data_retention_days = EXCLUDED.data_retention_days,
		    excluded_paths = EXCLUDED.excluded_paths, included_paths = EXCLUDED.included_paths,
		    custom_events = EXCLUDED.custom_events, updated_at = EXCLUDED.updated_at
	`, cfg.SiteID, cfg.TrackingEnabled, cfg.IPTracking, cfg.CookieConsent, cfg.DataRetentionDays,
		excludedJSON, includedJSON, eventsJSON, cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return site.Settings{}, wrapErr(err)
	}
	return cfg, nil
}

func (s *Store) ListRetentionWindows(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT site_id, data_retention_days FROM site_settings WHERE data_retention_days > 0
	`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var (
			siteID string
			days   int
		)
		if err := rows.Scan(&siteID, &days); err != nil {
			return nil, err
		}
		result[siteID] = days
	}
	return result, rows.Err()
}

// orEmpty keeps list columns as JSON arrays rather than nulls.
func orEmpty(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
