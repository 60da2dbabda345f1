package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wattmate/internal/common"
	"wattmate/internal/models"
)

type fixture struct {
	users  UserRepo
	tokens RefreshTokenRepo
}

var tokenSeq atomic.Int64

func nextToken() string {
	return fmt.Sprintf("tok-%d-%d", time.Now().UnixNano(), tokenSeq.Add(1))
}

func mustUser(t *testing.T, users UserRepo, email string) int64 {
	t.Helper()
	u := &models.User{Name: "Test User", Email: email, PasswordHash: "hash"}
	require.NoError(t, users.CreateUser(context.Background(), u))
	require.NotZero(t, u.ID)
	return u.ID
}

func mustToken(t *testing.T, tokens RefreshTokenRepo, userID int64, exp time.Time) string {
	t.Helper()
	tok := nextToken()
	require.NoError(t, tokens.Create(context.Background(), &models.RefreshToken{UserID: userID, Token: tok, ExpiresAt: exp}))
	return tok
}

// runLedgerContract checks the semantics every RefreshTokenRepo must share.
func runLedgerContract(t *testing.T, newFixture func(t *testing.T) fixture) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	t.Run("find active respects expiry", func(t *testing.T) {
		f := newFixture(t)
		uid := mustUser(t, f.users, "find@example.com")
		exp := base.Add(time.Hour)
		tok := mustToken(t, f.tokens, uid, exp)

		rec, err := f.tokens.FindActive(ctx, tok, base)
		require.NoError(t, err)
		assert.Equal(t, uid, rec.UserID)
		assert.Equal(t, tok, rec.Token)
		assert.True(t, rec.ExpiresAt.Equal(exp), "stored %s, want %s", rec.ExpiresAt, exp)

		_, err = f.tokens.FindActive(ctx, tok, exp)
		assert.ErrorIs(t, err, common.ErrNotFound)
		_, err = f.tokens.FindActive(ctx, "missing", base)
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("duplicate token", func(t *testing.T) {
		f := newFixture(t)
		uid := mustUser(t, f.users, "dup@example.com")
		tok := mustToken(t, f.tokens, uid, base.Add(time.Hour))
		err := f.tokens.Create(ctx, &models.RefreshToken{UserID: uid, Token: tok, ExpiresAt: base.Add(2 * time.Hour)})
		assert.ErrorIs(t, err, common.ErrAlreadyExists)
	})

	t.Run("delete by token is idempotent", func(t *testing.T) {
		f := newFixture(t)
		uid := mustUser(t, f.users, "del@example.com")
		tok := mustToken(t, f.tokens, uid, base.Add(time.Hour))

		ok, err := f.tokens.DeleteByToken(ctx, tok)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = f.tokens.DeleteByToken(ctx, tok)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = f.tokens.FindActive(ctx, tok, base)
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("concurrent delete of one token", func(t *testing.T) {
		f := newFixture(t)
		uid := mustUser(t, f.users, "race@example.com")
		tok := mustToken(t, f.tokens, uid, base.Add(time.Hour))

		var (
			wg    sync.WaitGroup
			wins  atomic.Int32
			errMu sync.Mutex
			errs  []error
		)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := f.tokens.DeleteByToken(ctx, tok)
				if err != nil {
					errMu.Lock()
					errs = append(errs, err)
					errMu.Unlock()
					return
				}
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Empty(t, errs)
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("delete by user touches only that user", func(t *testing.T) {
		f := newFixture(t)
		alice := mustUser(t, f.users, "alice@example.com")
		bob := mustUser(t, f.users, "bob@example.com")
		mustToken(t, f.tokens, alice, base.Add(time.Hour))
		mustToken(t, f.tokens, alice, base.Add(2*time.Hour))
		bobTok := mustToken(t, f.tokens, bob, base.Add(time.Hour))

		n, err := f.tokens.DeleteByUser(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		left, err := f.tokens.CountActiveByUser(ctx, alice, base)
		require.NoError(t, err)
		assert.Zero(t, left)

		_, err = f.tokens.FindActive(ctx, bobTok, base)
		assert.NoError(t, err)

		n, err = f.tokens.DeleteByUser(ctx, alice)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("sweep removes only expired", func(t *testing.T) {
		f := newFixture(t)
		uid := mustUser(t, f.users, "sweep@example.com")
		short := mustToken(t, f.tokens, uid, base.Add(time.Hour))
		long := mustToken(t, f.tokens, uid, base.Add(3*time.Hour))

		n, err := f.tokens.DeleteExpired(ctx, base.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = f.tokens.FindActive(ctx, short, base)
		assert.ErrorIs(t, err, common.ErrNotFound)
		_, err = f.tokens.FindActive(ctx, long, base)
		assert.NoError(t, err)

		count, err := f.tokens.CountActiveByUser(ctx, uid, base)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})
}

// runUserContract checks credential storage. The fixture's token repo must share the
// user store so the delete cascade can be observed.
func runUserContract(t *testing.T, newFixture func(t *testing.T) fixture) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	t.Run("create and look up", func(t *testing.T) {
		f := newFixture(t)
		phone := "+62 812 0000 0000"
		u := &models.User{Name: "Budi", Email: "budi@example.com", Phone: &phone, PasswordHash: "h1"}
		require.NoError(t, f.users.CreateUser(ctx, u))
		assert.NotZero(t, u.ID)
		assert.False(t, u.CreatedAt.IsZero())

		got, err := f.users.GetUserByEmail(ctx, "BUDI@example.com")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
		assert.Equal(t, "h1", got.PasswordHash)
		require.NotNil(t, got.Phone)
		assert.Equal(t, phone, *got.Phone)
		assert.Nil(t, got.Address)

		byID, err := f.users.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "budi@example.com", byID.Email)

		_, err = f.users.GetUserByID(ctx, u.ID+1000)
		assert.ErrorIs(t, err, common.ErrNotFound)
		_, err = f.users.GetUserByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("duplicate email ignores case", func(t *testing.T) {
		f := newFixture(t)
		mustUser(t, f.users, "dup@example.com")
		err := f.users.CreateUser(ctx, &models.User{Name: "Other", Email: strings.ToUpper("dup@example.com"), PasswordHash: "x"})
		assert.ErrorIs(t, err, common.ErrAlreadyExists)
	})

	t.Run("update profile", func(t *testing.T) {
		f := newFixture(t)
		uid := mustUser(t, f.users, "profile@example.com")
		addr := "Jl. Merdeka 1"
		u, err := f.users.UpdateProfile(ctx, uid, &models.UpdateProfileRequest{Name: "New Name", Address: &addr})
		require.NoError(t, err)
		assert.Equal(t, "New Name", u.Name)
		require.NotNil(t, u.Address)
		assert.Equal(t, addr, *u.Address)

		_, err = f.users.UpdateProfile(ctx, uid+1000, &models.UpdateProfileRequest{Name: "x"})
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("reset token is single use", func(t *testing.T) {
		f := newFixture(t)
		uid := mustUser(t, f.users, "reset@example.com")
		require.NoError(t, f.users.SetResetToken(ctx, uid, "digest-1", base.Add(time.Hour)))

		pending, err := f.users.GetResetToken(ctx, uid)
		require.NoError(t, err)
		assert.Equal(t, "digest-1", pending.TokenHash)

		got, err := f.users.ResetPasswordByToken(ctx, "digest-1", "new-hash", base)
		require.NoError(t, err)
		assert.Equal(t, uid, got)

		_, err = f.users.ResetPasswordByToken(ctx, "digest-1", "other-hash", base)
		assert.ErrorIs(t, err, common.ErrNotFound)

		_, err = f.users.GetResetToken(ctx, uid)
		assert.ErrorIs(t, err, common.ErrNotFound)

		u, err := f.users.GetUserByID(ctx, uid)
		require.NoError(t, err)
		assert.Equal(t, "new-hash", u.PasswordHash)
	})

	t.Run("reset token overwritten and expiring", func(t *testing.T) {
		f := newFixture(t)
		uid := mustUser(t, f.users, "expire@example.com")
		require.NoError(t, f.users.SetResetToken(ctx, uid, "old", base.Add(time.Hour)))
		require.NoError(t, f.users.SetResetToken(ctx, uid, "new", base.Add(time.Hour)))

		_, err := f.users.ResetPasswordByToken(ctx, "old", "h", base)
		assert.ErrorIs(t, err, common.ErrNotFound)

		_, err = f.users.ResetPasswordByToken(ctx, "new", "h", base.Add(time.Hour))
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("update password clears reset token", func(t *testing.T) {
		f := newFixture(t)
		uid := mustUser(t, f.users, "change@example.com")
		require.NoError(t, f.users.SetResetToken(ctx, uid, "pending", base.Add(time.Hour)))
		require.NoError(t, f.users.UpdatePassword(ctx, uid, "changed"))

		_, err := f.users.ResetPasswordByToken(ctx, "pending", "h", base)
		assert.ErrorIs(t, err, common.ErrNotFound)
		assert.ErrorIs(t, f.users.UpdatePassword(ctx, uid+1000, "x"), common.ErrNotFound)
	})

	t.Run("delete user cascades to refresh tokens", func(t *testing.T) {
		f := newFixture(t)
		uid := mustUser(t, f.users, "gone@example.com")
		tok := mustToken(t, f.tokens, uid, base.Add(time.Hour))

		require.NoError(t, f.users.DeleteUser(ctx, uid))
		_, err := f.tokens.FindActive(ctx, tok, base)
		assert.ErrorIs(t, err, common.ErrNotFound)
		assert.ErrorIs(t, f.users.DeleteUser(ctx, uid), common.ErrNotFound)
	})
}
