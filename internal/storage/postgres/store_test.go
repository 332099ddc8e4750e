package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onevisitor/onevisitor/internal/domain/analytics"
	"github.com/onevisitor/onevisitor/internal/domain/user"
	"github.com/onevisitor/onevisitor/internal/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestGetUserNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	// an empty result set makes the driver return sql.ErrNoRows
	rows := sqlmock.NewRows([]string{"id", "email", "password_hash", "is_active", "is_staff", "is_verified", "last_login", "created_at", "updated_at"})
	mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
		WithArgs("missing").
		WillReturnRows(rows)

	_, err := store.GetUser(context.Background(), "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&pq.Error{Code: uniqueViolation})

	_, err := store.CreateUser(context.Background(), user.User{Email: "dup@example.com", PasswordHash: "x"})
	require.ErrorIs(t, err, storage.ErrDuplicate)
}

func TestGetUserScansRow(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "email", "password_hash", "is_active", "is_staff", "is_verified", "last_login", "created_at", "updated_at"}).
		AddRow("u1", "a@example.com", "hash", true, false, true, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
		WithArgs("u1").
		WillReturnRows(rows)

	u, err := store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", u.Email)
	assert.True(t, u.IsVerified)
	assert.True(t, u.LastLogin.IsZero(), "null last_login must scan to the zero time")
}

func TestCloseIdleSessionsReportsCount(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions")).
		WillReturnResult(sqlmock.NewResult(0, 3))

	closed, err := store.CloseIdleSessions(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), closed)
}

func TestSummaryAggregates(t *testing.T) {
	store, mock := newMockStore(t)

	rng := analytics.Range{Start: time.Now().Add(-24 * time.Hour), End: time.Now()}

	mock.ExpectQuery(regexp.QuoteMeta("FROM page_views")).
		WillReturnRows(sqlmock.NewRows([]string{"page_views", "unique_visitors"}).AddRow(120, 40))
	mock.ExpectQuery(regexp.QuoteMeta("FROM sessions")).
		WillReturnRows(sqlmock.NewRows([]string{"sessions", "bounces", "total_seconds", "active_visitors"}).AddRow(50, 10, 6000.0, 4))
	mock.ExpectQuery(regexp.QuoteMeta("FROM visitors")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	summary, err := store.Summary(context.Background(), "s1", rng)
	require.NoError(t, err)
	assert.Equal(t, int64(120), summary.PageViews)
	assert.Equal(t, int64(40), summary.UniqueVisitors)
	assert.InDelta(t, 0.2, summary.BounceRate, 1e-9)
	assert.InDelta(t, 120.0, summary.AvgSessionSeconds, 1e-9)
	assert.Equal(t, int64(12), summary.ReturningVisitors)
	require.NoError(t, mock.ExpectationsWereMet())
}
