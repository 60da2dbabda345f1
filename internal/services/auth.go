package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"wattmate/internal/common"
	"wattmate/internal/logger"
	"wattmate/internal/metrics"
	"wattmate/internal/models"
	"wattmate/internal/repository"
	"wattmate/internal/utils"
)

type AuthService struct {
	users  repository.UserRepo
	ledger *Ledger
	issuer *utils.TokenIssuer
	hasher *utils.PasswordHasher
	rotate bool
}

func NewAuthService(
	users repository.UserRepo,
	ledger *Ledger,
	issuer *utils.TokenIssuer,
	hasher *utils.PasswordHasher,
	rotateRefresh bool,
) *AuthService {
	return &AuthService{
		users:  users,
		ledger: ledger,
		issuer: issuer,
		hasher: hasher,
		rotate: rotateRefresh,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates the account and signs the user in. A duplicate email is reported as
// ErrEmailTaken; registration is the one place where account existence is visible.
func (s *AuthService) Register(ctx context.Context, input *models.RegisterRequest) (*models.AuthResult, error) {
	log := logger.WithCtx(ctx)
	email := normalizeEmail(input.Email)
	log.Info("Register user (service)", zap.String("email", MaskEmail(email)))

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		log.Error("Password hashing failed", zap.Error(err))
		return nil, err
	}

	user := &models.User{
		Name:         strings.TrimSpace(input.Name),
		Email:        email,
		Phone:        blankToNil(input.Phone),
		Address:      blankToNil(input.Address),
		PasswordHash: hash,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			metrics.AuthEvent("register", "denied")
			return nil, common.ErrEmailTaken
		}
		return nil, storageErr(ctx, "create user", err)
	}

	access, refresh, err := s.issuePair(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	metrics.AuthEvent("register", "ok")
	log.Info("User registered (service)", zap.Int64("user_id", user.ID))
	return &models.AuthResult{User: user, AccessToken: access, RefreshToken: refresh}, nil
}

// Login returns ErrCredentialMismatch for an unknown email and for a wrong password alike,
// after the same amount of bcrypt work.
func (s *AuthService) Login(ctx context.Context, email, password string) (*models.AuthResult, error) {
	log := logger.WithCtx(ctx)
	email = normalizeEmail(email)

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, storageErr(ctx, "find user", err)
	}
	if user == nil {
		s.hasher.VerifyMissing(password)
		metrics.AuthEvent("login", "denied")
		log.Warn("Login failed (service)", zap.String("email", MaskEmail(email)))
		return nil, common.ErrCredentialMismatch
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		metrics.AuthEvent("login", "denied")
		log.Warn("Login failed (service)", zap.String("email", MaskEmail(email)))
		return nil, common.ErrCredentialMismatch
	}

	access, refresh, err := s.issuePair(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	metrics.AuthEvent("login", "ok")
	log.Info("Login ok (service)", zap.Int64("user_id", user.ID))
	return &models.AuthResult{User: user, AccessToken: access, RefreshToken: refresh}, nil
}

// issuePair mints both tokens and records the refresh token with the expiry it was signed with.
func (s *AuthService) issuePair(ctx context.Context, userID int64) (string, string, error) {
	access, _, err := s.issuer.MintAccess(userID)
	if err != nil {
		logger.WithCtx(ctx).Error("Access token mint failed", zap.Error(err))
		return "", "", err
	}
	refresh, exp, err := s.issuer.MintRefresh(userID)
	if err != nil {
		logger.WithCtx(ctx).Error("Refresh token mint failed", zap.Error(err))
		return "", "", err
	}
	if err := s.ledger.Create(ctx, userID, refresh, exp); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// validateRefresh checks the ledger first and the signature second. A record whose
// token no longer verifies is removed on the way out.
func (s *AuthService) validateRefresh(ctx context.Context, token string) (*utils.Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, common.ErrTokenInvalid
	}
	rec, err := s.ledger.FindActive(ctx, token)
	if errors.Is(err, common.ErrTokenNotFound) {
		return nil, common.ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}

	claims, verr := s.issuer.Verify(token, utils.RefreshKey)
	if verr == nil && claims.UserID != rec.UserID {
		verr = fmt.Errorf("%w: ledger owner mismatch", common.ErrTokenInvalid)
	}
	if verr != nil {
		logger.WithCtx(ctx).Warn("Refresh token rejected, removing from ledger",
			zap.Int64("user_id", rec.UserID),
			zap.Error(verr),
		)
		if ok, err := s.ledger.DeleteByToken(ctx, token); err != nil {
			return nil, err
		} else if ok {
			metrics.TokensRemoved("cleanup", 1)
		}
		return nil, common.ErrTokenInvalid
	}
	return claims, nil
}

// Refresh exchanges a live refresh token for a new access token. The refresh token
// itself stays valid and can be presented again.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := s.validateRefresh(ctx, refreshToken)
	if err != nil {
		metrics.AuthEvent("refresh", outcome(err))
		return "", err
	}
	access, _, err := s.issuer.MintAccess(claims.UserID)
	if err != nil {
		return "", err
	}
	metrics.AuthEvent("refresh", "ok")
	return access, nil
}

// RefreshPair is Refresh with optional rotation. With rotation on, the presented token is
// deleted and a new one recorded; of two concurrent rotations of one token only the caller
// whose delete removed the row gets a pair.
func (s *AuthService) RefreshPair(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	if !s.rotate {
		access, err := s.Refresh(ctx, refreshToken)
		if err != nil {
			return nil, err
		}
		return &models.TokenPair{AccessToken: access}, nil
	}

	claims, err := s.validateRefresh(ctx, refreshToken)
	if err != nil {
		metrics.AuthEvent("refresh", outcome(err))
		return nil, err
	}
	ok, err := s.ledger.DeleteByToken(ctx, strings.TrimSpace(refreshToken))
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.AuthEvent("refresh", "denied")
		return nil, common.ErrTokenInvalid
	}
	access, refresh, err := s.issuePair(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	metrics.AuthEvent("refresh", "ok")
	return &models.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Logout revokes one refresh token of the caller. Unknown tokens are ignored and a
// token owned by another user is left alone.
func (s *AuthService) Logout(ctx context.Context, userID int64, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	rec, err := s.ledger.FindActive(ctx, refreshToken)
	switch {
	case errors.Is(err, common.ErrTokenNotFound):
	case err != nil:
		return err
	case rec.UserID != userID:
		logger.WithCtx(ctx).Warn("Logout with a foreign refresh token ignored")
		return nil
	}
	ok, err := s.ledger.DeleteByToken(ctx, refreshToken)
	if err != nil {
		return err
	}
	if ok {
		metrics.TokensRemoved("logout", 1)
	}
	return nil
}

func (s *AuthService) LogoutAll(ctx context.Context, userID int64) (int64, error) {
	n, err := s.ledger.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	metrics.TokensRemoved("logout_all", n)
	logger.WithCtx(ctx).Info("Logout from all devices", zap.Int64("user_id", userID), zap.Int64("revoked", n))
	return n, nil
}

// Authenticate resolves an access token to its user. A token whose user no longer
// exists is invalid, not "not found".
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*models.User, error) {
	claims, err := s.issuer.Verify(accessToken, utils.AccessKey)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("%w: user %d no longer exists", common.ErrTokenInvalid, claims.UserID)
	}
	if err != nil {
		return nil, storageErr(ctx, "find user", err)
	}
	return user, nil
}

func (s *AuthService) Profile(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, storageErr(ctx, "find user", err)
	}
	return user, nil
}

func (s *AuthService) UpdateProfile(ctx context.Context, userID int64, input *models.UpdateProfileRequest) (*models.User, error) {
	clean := &models.UpdateProfileRequest{
		Name:    strings.TrimSpace(input.Name),
		Phone:   blankToNil(input.Phone),
		Address: blankToNil(input.Address),
	}
	user, err := s.users.UpdateProfile(ctx, userID, clean)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, storageErr(ctx, "update profile", err)
	}
	logger.WithCtx(ctx).Info("Profile updated (service)", zap.Int64("user_id", userID))
	return user, nil
}

// DeleteUser removes the account and every refresh token it owns. SQL ledgers cascade;
// the explicit ledger purge covers Redis and memory ledgers.
func (s *AuthService) DeleteUser(ctx context.Context, userID int64) error {
	if err := s.users.DeleteUser(ctx, userID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.ErrNotFound
		}
		return storageErr(ctx, "delete user", err)
	}
	if _, err := s.ledger.DeleteByUser(ctx, userID); err != nil {
		return err
	}
	logger.WithCtx(ctx).Info("User deleted (service)", zap.Int64("user_id", userID))
	return nil
}

func blankToNil(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}

func outcome(err error) string {
	if errors.Is(err, common.ErrStorageUnavailable) {
		return "error"
	}
	return "denied"
}
