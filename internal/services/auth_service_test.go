package services

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"wattmate/internal/common"
	"wattmate/internal/models"
	"wattmate/internal/repository"
	"wattmate/internal/utils"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentMail struct {
	to, subject, body string
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (n *captureNotifier) Send(_ context.Context, to, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMail{to: to, subject: subject, body: body})
	return n.err
}

func (n *captureNotifier) last(t *testing.T) sentMail {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent)
	return n.sent[len(n.sent)-1]
}

const (
	accessTTL  = 15 * time.Minute
	refreshTTL = time.Hour
)

type testEnv struct {
	store  *repository.MemoryStore
	clock  *fakeClock
	issuer *utils.TokenIssuer
	ledger *Ledger
	auth   *AuthService
	pw     *PasswordService
	mail   *captureNotifier
}

func newTestEnv(t *testing.T, rotate bool) *testEnv {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
	issuer, err := utils.NewTokenIssuer("access-secret", "refresh-secret", accessTTL, refreshTTL, utils.WithClock(clock.Now))
	require.NoError(t, err)
	hasher, err := utils.NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)

	store := repository.NewMemoryStore()
	ledger := NewLedger(store)
	ledger.now = clock.Now
	mail := &captureNotifier{}
	pw := NewPasswordService(store, ledger, hasher, mail, "WattMate", "https://app.example.com/", time.Hour)
	pw.now = clock.Now

	return &testEnv{
		store:  store,
		clock:  clock,
		issuer: issuer,
		ledger: ledger,
		auth:   NewAuthService(store, ledger, issuer, hasher, rotate),
		pw:     pw,
		mail:   mail,
	}
}

func (e *testEnv) register(t *testing.T, email, password string) *models.AuthResult {
	t.Helper()
	res, err := e.auth.Register(context.Background(), &models.RegisterRequest{
		Name:     "Siti",
		Email:    email,
		Password: password,
	})
	require.NoError(t, err)
	return res
}

func (e *testEnv) activeTokens(t *testing.T, userID int64) int64 {
	t.Helper()
	n, err := e.ledger.CountActive(context.Background(), userID)
	require.NoError(t, err)
	return n
}

func TestRegister(t *testing.T) {
	e := newTestEnv(t, false)
	ctx := context.Background()
	phone := "  "

	res, err := e.auth.Register(ctx, &models.RegisterRequest{
		Name:     "  Siti  ",
		Email:    " Siti@Example.com ",
		Password: "secret123",
		Phone:    &phone,
	})
	require.NoError(t, err)
	assert.Equal(t, "Siti", res.User.Name)
	assert.Equal(t, "siti@example.com", res.User.Email)
	assert.Nil(t, res.User.Phone)
	assert.NotEqual(t, "secret123", res.User.PasswordHash)

	claims, err := e.issuer.Verify(res.AccessToken, utils.AccessKey)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, claims.UserID)
	assert.Equal(t, int64(1), e.activeTokens(t, res.User.ID))

	_, err = e.auth.Register(ctx, &models.RegisterRequest{Name: "Other", Email: "SITI@example.com", Password: "x12345"})
	assert.ErrorIs(t, err, common.ErrEmailTaken)
}

func TestPasswordOverBcryptLimit(t *testing.T) {
	e := newTestEnv(t, false)
	ctx := context.Background()
	long := strings.Repeat("x", 73)

	_, err := e.auth.Register(ctx, &models.RegisterRequest{Name: "Lina", Email: "lina@example.com", Password: long})
	assert.ErrorIs(t, err, common.ErrValidation)

	reg := e.register(t, "lina@example.com", "secret123")
	err = e.pw.ChangePassword(ctx, reg.User.ID, "secret123", long)
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.Equal(t, int64(1), e.activeTokens(t, reg.User.ID))
}

func TestLogin(t *testing.T) {
	e := newTestEnv(t, false)
	ctx := context.Background()
	reg := e.register(t, "login@example.com", "secret123")

	res, err := e.auth.Login(ctx, "LOGIN@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, res.User.ID)
	assert.NotEqual(t, reg.RefreshToken, res.RefreshToken)
	// each sign-in is its own device
	assert.Equal(t, int64(2), e.activeTokens(t, reg.User.ID))

	_, wrongPw := e.auth.Login(ctx, "login@example.com", "secret124")
	_, noUser := e.auth.Login(ctx, "nobody@example.com", "secret123")
	assert.ErrorIs(t, wrongPw, common.ErrCredentialMismatch)
	assert.ErrorIs(t, noUser, common.ErrCredentialMismatch)
	assert.Equal(t, wrongPw.Error(), noUser.Error())
}

func TestRefresh_NotRotatedByDefault(t *testing.T) {
	e := newTestEnv(t, false)
	ctx := context.Background()
	reg := e.register(t, "refresh@example.com", "secret123")

	first, err := e.auth.RefreshPair(ctx, reg.RefreshToken)
	require.NoError(t, err)
	assert.Empty(t, first.RefreshToken)
	claims, err := e.issuer.Verify(first.AccessToken, utils.AccessKey)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, claims.UserID)

	_, err = e.auth.Refresh(ctx, reg.RefreshToken)
	assert.NoError(t, err)
}

func TestRefresh_Rejections(t *testing.T) {
	e := newTestEnv(t, false)
	ctx := context.Background()
	reg := e.register(t, "reject@example.com", "secret123")

	for name, token := range map[string]string{
		"empty":        "",
		"garbage":      "not-a-jwt",
		"access token": reg.AccessToken,
	} {
		_, err := e.auth.Refresh(ctx, token)
		assert.ErrorIs(t, err, common.ErrTokenInvalid, name)
	}

	// signed correctly but never recorded
	stray, _, err := e.issuer.MintRefresh(reg.User.ID)
	require.NoError(t, err)
	_, err = e.auth.Refresh(ctx, stray)
	assert.ErrorIs(t, err, common.ErrTokenInvalid)
}

func TestRefresh_ExpiryAgreesWithSignedClaim(t *testing.T) {
	e := newTestEnv(t, false)
	ctx := context.Background()
	reg := e.register(t, "expiry@example.com", "secret123")

	rec, err := e.ledger.FindActive(ctx, reg.RefreshToken)
	require.NoError(t, err)
	claims, err := e.issuer.Verify(reg.RefreshToken, utils.RefreshKey)
	require.NoError(t, err)
	assert.True(t, rec.ExpiresAt.Equal(claims.ExpiresAt.Time))

	e.clock.Advance(refreshTTL - time.Second)
	_, err = e.auth.Refresh(ctx, reg.RefreshToken)
	require.NoError(t, err)

	e.clock.Advance(time.Second)
	_, err = e.auth.Refresh(ctx, reg.RefreshToken)
	assert.ErrorIs(t, err, common.ErrTokenInvalid)
}

func TestRefresh_RemovesRecordThatFailsVerification(t *testing.T) {
	e := newTestEnv(t, false)
	ctx := context.Background()
	reg := e.register(t, "cleanup@example.com", "secret123")

	// a record whose token was signed with another key
	other, err := utils.NewTokenIssuer("a2", "r2", accessTTL, refreshTTL, utils.WithClock(e.clock.Now))
	require.NoError(t, err)
	forged, exp, err := other.MintRefresh(reg.User.ID)
	require.NoError(t, err)
	require.NoError(t, e.ledger.Create(ctx, reg.User.ID, forged, exp))

	_, err = e.auth.Refresh(ctx, forged)
	assert.ErrorIs(t, err, common.ErrTokenInvalid)
	_, err = e.ledger.FindActive(ctx, forged)
	assert.ErrorIs(t, err, common.ErrTokenNotFound)
}

func TestRefreshPair_Rotation(t *testing.T) {
	e := newTestEnv(t, true)
	ctx := context.Background()
	reg := e.register(t, "rotate@example.com", "secret123")

	pair, err := e.auth.RefreshPair(ctx, reg.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, reg.RefreshToken, pair.RefreshToken)

	_, err = e.auth.RefreshPair(ctx, reg.RefreshToken)
	assert.ErrorIs(t, err, common.ErrTokenInvalid)
	_, err = e.auth.RefreshPair(ctx, pair.RefreshToken)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), e.activeTokens(t, reg.User.ID))
}

func TestRefreshPair_ConcurrentRotationHasOneWinner(t *testing.T) {
	e := newTestEnv(t, true)
	ctx := context.Background()
	reg := e.register(t, "race@example.com", "secret123")

	const callers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.auth.RefreshPair(ctx, reg.RefreshToken); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, int64(1), e.activeTokens(t, reg.User.ID))
}

func TestLogout(t *testing.T) {
	e := newTestEnv(t, false)
	ctx := context.Background()
	alice := e.register(t, "alice@example.com", "secret123")
	phone, err := e.auth.Login(ctx, "alice@example.com", "secret123")
	require.NoError(t, err)
	bob := e.register(t, "bob@example.com", "secret123")

	require.NoError(t, e.auth.Logout(ctx, alice.User.ID, alice.RefreshToken))
	_, err = e.auth.Refresh(ctx, alice.RefreshToken)
	assert.ErrorIs(t, err, common.ErrTokenInvalid)
	_, err = e.auth.Refresh(ctx, phone.RefreshToken)
	assert.NoError(t, err)

	// bob cannot revoke alice's session, and repeating is harmless
	require.NoError(t, e.auth.Logout(ctx, bob.User.ID, phone.RefreshToken))
	_, err = e.auth.Refresh(ctx, phone.RefreshToken)
	assert.NoError(t, err)
	assert.NoError(t, e.auth.Logout(ctx, alice.User.ID, alice.RefreshToken))
	assert.NoError(t, e.auth.Logout(ctx, alice.User.ID, ""))
}

func TestScenario_RefreshThenLogoutAll(t *testing.T) {
	e := newTestEnv(t, false)
	ctx := context.Background()
	e.register(t, "u@example.com", "secret123")
	other := e.register(t, "other@example.com", "secret123")

	login, err := e.auth.Login(ctx, "u@example.com", "secret123")
	require.NoError(t, err)

	access, err := e.auth.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, access)
	_, err = e.auth.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)

	n, err := e.auth.LogoutAll(ctx, login.User.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = e.auth.Refresh(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, common.ErrTokenInvalid)
	assert.Zero(t, e.activeTokens(t, login.User.ID))
	assert.Equal(t, int64(1), e.activeTokens(t, other.User.ID))
}

func TestAuthenticate(t *testing.T) {
	e := newTestEnv(t, false)
	ctx := context.Background()
	reg := e.register(t, "auth@example.com", "secret123")

	u, err := e.auth.Authenticate(ctx, reg.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, u.ID)

	_, err = e.auth.Authenticate(ctx, reg.RefreshToken)
	assert.ErrorIs(t, err, common.ErrTokenInvalid)

	e.clock.Advance(accessTTL)
	_, err = e.auth.Authenticate(ctx, reg.AccessToken)
	assert.ErrorIs(t, err, common.ErrTokenExpired)
}

func TestAuthenticate_DeletedUserIsInvalid(t *testing.T) {
	e := newTestEnv(t, false)
	ctx := context.Background()
	reg := e.register(t, "deleted@example.com", "secret123")

	require.NoError(t, e.auth.DeleteUser(ctx, reg.User.ID))
	_, err := e.auth.Authenticate(ctx, reg.AccessToken)
	assert.ErrorIs(t, err, common.ErrTokenInvalid)
	assert.NotErrorIs(t, err, common.ErrNotFound)

	_, err = e.auth.Refresh(ctx, reg.RefreshToken)
	assert.ErrorIs(t, err, common.ErrTokenInvalid)
	assert.ErrorIs(t, e.auth.DeleteUser(ctx, reg.User.ID), common.ErrNotFound)
}

func TestUpdateProfile(t *testing.T) {
	e := newTestEnv(t, false)
	ctx := context.Background()
	reg := e.register(t, "profile@example.com", "secret123")
	addr := " Jl. Sudirman 5 "

	u, err := e.auth.UpdateProfile(ctx, reg.User.ID, &models.UpdateProfileRequest{Name: " Siti N ", Address: &addr})
	require.NoError(t, err)
	assert.Equal(t, "Siti N", u.Name)
	require.NotNil(t, u.Address)
	assert.Equal(t, "Jl. Sudirman 5", *u.Address)

	got, err := e.auth.Profile(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "Siti N", got.Name)

	_, err = e.auth.Profile(ctx, 999)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

var tokenInLink = regexp.MustCompile(`reset-password\?token=([0-9a-f]{64})`)

func resetTokenFrom(t *testing.T, body string) string {
	t.Helper()
	m := tokenInLink.FindStringSubmatch(body)
	require.Len(t, m, 2, "no reset link in email body")
	tok, err := url.QueryUnescape(m[1])
	require.NoError(t, err)
	return tok
}

func TestForgotPassword_SameResultForUnknownEmail(t *testing.T) {
	e := newTestEnv(t, false)
	ctx := context.Background()
	e.register(t, "known@example.com", "secret123")

	known := e.pw.ForgotPassword(ctx, "known@example.com")
	unknown := e.pw.ForgotPassword(ctx, "unknown@example.com")
	assert.NoError(t, known)
	assert.NoError(t, unknown)

	require.Len(t, e.mail.sent, 1)
	mail := e.mail.last(t)
	assert.Equal(t, "known@example.com", mail.to)
	assert.Equal(t, "Reset Password - WattMate", mail.subject)
	assert.Contains(t, mail.body, "https://app.example.com/reset-password?token=")
	assert.Contains(t, mail.body, "1 hour")
}

func TestForgotPassword_NotifierFailureIsNotFatal(t *testing.T) {
	e := newTestEnv(t, false)
	e.mail.err = errors.New("smtp down")
	reg := e.register(t, "nomail@example.com", "secret123")

	require.NoError(t, e.pw.ForgotPassword(context.Background(), "nomail@example.com"))
	_, err := e.store.GetResetToken(context.Background(), reg.User.ID)
	assert.NoError(t, err)
}

func TestResetPassword(t *testing.T) {
	e := newTestEnv(t, false)
	ctx := context.Background()
	reg := e.register(t, "reset@example.com", "secret123")
	_, err := e.auth.Login(ctx, "reset@example.com", "secret123")
	require.NoError(t, err)

	require.NoError(t, e.pw.ForgotPassword(ctx, "reset@example.com"))
	token := resetTokenFrom(t, e.mail.last(t).body)

	stored, err := e.store.GetResetToken(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.NotEqual(t, token, stored.TokenHash)

	require.NoError(t, e.pw.ResetPassword(ctx, token, "newsecret1"))
	assert.Zero(t, e.activeTokens(t, reg.User.ID))
	_, err = e.auth.Refresh(ctx, reg.RefreshToken)
	assert.ErrorIs(t, err, common.ErrTokenInvalid)

	_, err = e.auth.Login(ctx, "reset@example.com", "secret123")
	assert.ErrorIs(t, err, common.ErrCredentialMismatch)
	_, err = e.auth.Login(ctx, "reset@example.com", "newsecret1")
	assert.NoError(t, err)

	// single use, even well inside the TTL
	assert.ErrorIs(t, e.pw.ResetPassword(ctx, token, "another1"), common.ErrTokenInvalid)
}

func TestResetPassword_ExpiredToken(t *testing.T) {
	e := newTestEnv(t, false)
	ctx := context.Background()
	e.register(t, "late@example.com", "secret123")

	require.NoError(t, e.pw.ForgotPassword(ctx, "late@example.com"))
	token := resetTokenFrom(t, e.mail.last(t).body)

	e.clock.Advance(time.Hour)
	assert.ErrorIs(t, e.pw.ResetPassword(ctx, token, "newsecret1"), common.ErrTokenInvalid)
	assert.ErrorIs(t, e.pw.ResetPassword(ctx, "", "newsecret1"), common.ErrTokenInvalid)
}

func TestChangePassword(t *testing.T) {
	e := newTestEnv(t, false)
	ctx := context.Background()
	reg := e.register(t, "change@example.com", "secret123")
	require.NoError(t, e.pw.ForgotPassword(ctx, "change@example.com"))
	pending := resetTokenFrom(t, e.mail.last(t).body)

	err := e.pw.ChangePassword(ctx, reg.User.ID, "wrong-one", "newsecret1")
	assert.ErrorIs(t, err, common.ErrCredentialMismatch)
	assert.Equal(t, int64(1), e.activeTokens(t, reg.User.ID))

	require.NoError(t, e.pw.ChangePassword(ctx, reg.User.ID, "secret123", "newsecret1"))
	assert.Zero(t, e.activeTokens(t, reg.User.ID))
	_, err = e.auth.Login(ctx, "change@example.com", "newsecret1")
	assert.NoError(t, err)

	// the pending reset token died with the old password
	assert.ErrorIs(t, e.pw.ResetPassword(ctx, pending, "third-one"), common.ErrTokenInvalid)
}

func TestLedger_Sweep(t *testing.T) {
	e := newTestEnv(t, false)
	ctx := context.Background()
	reg := e.register(t, "sweep@example.com", "secret123")

	e.clock.Advance(refreshTTL / 2)
	_, err := e.auth.Login(ctx, "sweep@example.com", "secret123")
	require.NoError(t, err)

	e.clock.Advance(refreshTTL / 2)
	n, err := e.ledger.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(1), e.activeTokens(t, reg.User.ID))
}

type brokenLedger struct {
	repository.RefreshTokenRepo
}

var errBackend = errors.New("connection refused")

func (brokenLedger) Create(context.Context, *models.RefreshToken) error { return errBackend }

func (brokenLedger) FindActive(context.Context, string, time.Time) (*models.RefreshToken, error) {
	return nil, errBackend
}

func (brokenLedger) DeleteByUser(context.Context, int64) (int64, error) { return 0, errBackend }

func TestStorageFailuresSurfaceAsUnavailable(t *testing.T) {
	issuer, err := utils.NewTokenIssuer("a", "r", accessTTL, refreshTTL)
	require.NoError(t, err)
	hasher, err := utils.NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)
	store := repository.NewMemoryStore()
	auth := NewAuthService(store, NewLedger(brokenLedger{}), issuer, hasher, false)
	ctx := context.Background()

	_, err = auth.Register(ctx, &models.RegisterRequest{Name: "X", Email: "x@example.com", Password: "secret123"})
	assert.ErrorIs(t, err, common.ErrStorageUnavailable)
	assert.NotContains(t, err.Error(), "connection refused")

	_, err = auth.Refresh(ctx, "whatever")
	assert.ErrorIs(t, err, common.ErrStorageUnavailable)

	_, err = auth.LogoutAll(ctx, 1)
	assert.ErrorIs(t, err, common.ErrStorageUnavailable)
}

func TestSeedAdmin(t *testing.T) {
	hasher, err := utils.NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)
	store := repository.NewMemoryStore()
	ctx := context.Background()

	created, err := SeedAdmin(ctx, store, hasher, "Admin", "Admin@Example.com", "adminpass")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = SeedAdmin(ctx, store, hasher, "Admin", "admin@example.com", "other")
	require.NoError(t, err)
	assert.False(t, created)

	u, err := store.GetUserByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.True(t, u.IsVerified)
	assert.True(t, hasher.Verify("adminpass", u.PasswordHash))
}

func TestTTLLabel(t *testing.T) {
	assert.Equal(t, "1 hour", ttlLabel(time.Hour))
	assert.Equal(t, "2 hours", ttlLabel(2*time.Hour))
	assert.Equal(t, "30 minutes", ttlLabel(30*time.Minute))
	assert.Equal(t, "1m30s", ttlLabel(90*time.Second))
}
