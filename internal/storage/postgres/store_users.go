package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/onevisitor/onevisitor/internal/domain/user"
	"github.com/onevisitor/onevisitor/internal/storage"
)

// --- UserStore --------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, is_active, is_staff, is_verified, last_login, created_at, updated_at)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7, $8, $9)
	`, u.ID, u.Email, u.PasswordHash, u.IsActive, u.IsStaff, u.IsVerified, toNullTime(u.LastLogin), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return user.User{}, wrapErr(err)
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	existing, err := s.GetUser(ctx, u.ID)
	if err != nil {
		return user.User{}, err
	}

	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET email = lower($2), password_hash = $3, is_active = $4, is_staff = $5,
		    is_verified = $6, last_login = $7, updated_at = $8
		WHERE id = $1
	`, u.ID, u.Email, u.PasswordHash, u.IsActive, u.IsStaff, u.IsVerified, toNullTime(u.LastLogin), u.UpdatedAt)
	if err != nil {
		return user.User{}, wrapErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	return s.getUser(ctx, `WHERE id = $1`, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return s.getUser(ctx, `WHERE email = lower($1)`, email)
}

func (s *Store) getUser(ctx context.Context, where string, arg interface{}) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, is_active, is_staff, is_verified, last_login, created_at, updated_at
		FROM users `+where, arg)

	var (
		u         user.User
		lastLogin sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsActive, &u.IsStaff, &u.IsVerified,
		&lastLogin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return user.User{}, wrapErr(err)
	}
	u.LastLogin = fromNullTime(lastLogin)
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, password_hash, is_active, is_staff, is_verified, last_login, created_at, updated_at
		FROM users
		ORDER BY created_at
	`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var result []user.User
	for rows.Next() {
		var (
			u         user.User
			lastLogin sql.NullTime
		)
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsActive, &u.IsStaff, &u.IsVerified,
			&lastLogin, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		u.LastLogin = fromNullTime(lastLogin)
		result = append(result, u)
	}
	return result, rows.Err()
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM users WHERE id = $1
	`, id)
	if err != nil {
		return wrapErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) UpsertProfile(ctx context.Context, p user.Profile) (user.Profile, error) {
	p.UpdatedAt = time.Now().UTC()

	prefsJSON, err := json.Marshal(p.NotificationPreferences)
	if err != nil {
		return user.Profile{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, company, position, phone_number, bio, timezone, language, notification_preferences, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE
		SET company = EXCLUDED.company, position = EXCLUDED.position,
		    phone_number = EXCLUDED.phone_number, bio = EXCLUDED.bio,
		    timezone = EXCLUDED.timezone, language = EXCLUDED.language,
		    notification_preferences = EXCLUDED.notification_preferences,
		    updated_at = EXCLUDED.updated_at
	`, p.UserID, p.Company, p.Position, p.PhoneNumber, p.Bio, p.Timezone, p.Language, prefsJSON, p.UpdatedAt)
	if err != nil {
		return user.Profile{}, wrapErr(err)
	}
	return p, nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (user.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, company, position, phone_number, bio, timezone, language, notification_preferences, updated_at
		FROM user_profiles
		WHERE user_id = $1
	`, userID)

	var (
		p        user.Profile
		prefsRaw []byte
	)
	if err := row.Scan(&p.UserID, &p.Company, &p.Position, &p.PhoneNumber, &p.Bio,
		&p.Timezone, &p.Language, &prefsRaw, &p.UpdatedAt); err != nil {
		return user.Profile{}, wrapErr(err)
	}
	if len(prefsRaw) > 0 {
		_ = json.Unmarshal(prefsRaw, &p.NotificationPreferences)
	}
	return p, nil
}

func (s *Store) RecordActivity(ctx context.Context, a user.Activity) (user.Activity, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = time.Now().UTC()

	metadataJSON, err := json.Marshal(a.Metadata)
	if err != nil {
		return user.Activity{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_activities (id, user_id, activity_type, ip_address, user_agent, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.UserID, a.Type, a.IPAddress, a.UserAgent, metadataJSON, a.CreatedAt)
	if err != nil {
		return user.Activity{}, wrapErr(err)
	}
	return a, nil
}

func (s *Store) ListActivities(ctx context.Context, userID string, limit int) ([]user.Activity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, activity_type, ip_address, user_agent, metadata, created_at
		FROM user_activities
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var result []user.Activity
	for rows.Next() {
		var (
			a           user.Activity
			metadataRaw []byte
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.Type, &a.IPAddress, &a.UserAgent, &metadataRaw, &a.CreatedAt); err != nil {
			return nil, err
		}
		if len(metadataRaw) > 0 {
			_ = json.Unmarshal(metadataRaw, &a.Metadata)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *Store) CreateUserToken(ctx context.Context, t user.Token) (user.Token, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_tokens (id, user_id, purpose, token, expires_at, used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.UserID, t.Purpose, t.Token, t.ExpiresAt, t.Used, t.CreatedAt)
	if err != nil {
		return user.Token{}, wrapErr(err)
	}
	return t, nil
}

func (s *Store) GetUserToken(ctx context.Context, token string) (user.Token, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, purpose, token, expires_at, used, created_at
		FROM user_tokens
		WHERE token = $1
	`, token)

	var t user.Token
	if err := row.Scan(&t.ID, &t.UserID, &t.Purpose, &t.Token, &t.ExpiresAt, &t.Used, &t.CreatedAt); err != nil {
		return user.Token{}, wrapErr(err)
	}
	return t, nil
}

func (s *Store) MarkUserTokenUsed(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE user_tokens SET used = TRUE WHERE id = $1
	`, id)
	if err != nil {
		return wrapErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteExpiredUserTokens(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM user_tokens WHERE expires_at < $1
	`, before)
	if err != nil {
		return 0, wrapErr(err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}
