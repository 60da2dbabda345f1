package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wattmate/internal/common"
	"wattmate/internal/models"
)

func newMockStore(t *testing.T) (*SQLiteStore, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewSQLiteStore(conn), mock
}

func TestSQLiteStore_FindActiveNoRows(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT user_id, token, expires_at, created_at\s+FROM refresh_tokens`).
		WithArgs("abc", sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)

	_, err := s.FindActive(context.Background(), "abc", time.Now())
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_FindActiveBackendError(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("disk I/O error")
	mock.ExpectQuery(`FROM refresh_tokens`).WillReturnError(boom)

	_, err := s.FindActive(context.Background(), "abc", time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, common.ErrNotFound)
}

func TestSQLiteStore_DeleteByTokenReportsRowCount(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`DELETE FROM refresh_tokens WHERE token = \?`).
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM refresh_tokens WHERE token = \?`).
		WithArgs("live").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.DeleteByToken(context.Background(), "gone")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.DeleteByToken(context.Background(), "live")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_SweepUsesUTC(t *testing.T) {
	s, mock := newMockStore(t)
	loc := time.FixedZone("WIB", 7*3600)
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, loc)
	mock.ExpectExec(`DELETE FROM refresh_tokens WHERE expires_at <= \?`).
		WithArgs(now.UTC()).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := s.DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_UpdatePasswordMissingUser(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE users`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdatePassword(context.Background(), 42, "hash")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLiteStore_CreateTokenStampsCreatedAt(t *testing.T) {
	s, mock := newMockStore(t)
	fixed := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	exp := fixed.Add(time.Hour)
	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(int64(7), "tok", exp, fixed).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := &models.RefreshToken{UserID: 7, Token: "tok", ExpiresAt: exp}
	require.NoError(t, s.Create(context.Background(), rec))
	assert.Equal(t, fixed, rec.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
