package utils

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"wattmate/internal/common"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type KeyClass string

const (
	AccessKey  KeyClass = "access"
	RefreshKey KeyClass = "refresh"
)

// Claims carried by both token classes. Typ pins a token to the key it was minted with.
type Claims struct {
	UserID int64    `json:"userId"`
	Typ    KeyClass `json:"typ"`
	jwt.RegisteredClaims
}

type signingKey struct {
	secret []byte
	ttl    time.Duration
}

// TokenIssuer mints and verifies HS256 tokens. Access and refresh tokens use separate secrets.
// It is immutable after construction and safe for concurrent use.
type TokenIssuer struct {
	keys   map[KeyClass]signingKey
	now    func() time.Time
	parser *jwt.Parser
}

type IssuerOption func(*TokenIssuer)

// WithClock replaces time.Now, for tests that need to stand on a TTL boundary.
func WithClock(now func() time.Time) IssuerOption {
	return func(t *TokenIssuer) { t.now = now }
}

func NewTokenIssuer(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration, opts ...IssuerOption) (*TokenIssuer, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, errors.New("token secrets are required")
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}
	t := &TokenIssuer{
		keys: map[KeyClass]signingKey{
			AccessKey:  {secret: []byte(accessSecret), ttl: accessTTL},
			RefreshKey: {secret: []byte(refreshSecret), ttl: refreshTTL},
		},
		now: time.Now,
		// expiry is checked by Verify after the signature, against t.now
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *TokenIssuer) MintAccess(userID int64) (string, time.Time, error) {
	return t.mint(userID, AccessKey)
}

func (t *TokenIssuer) MintRefresh(userID int64) (string, time.Time, error) {
	return t.mint(userID, RefreshKey)
}

func (t *TokenIssuer) mint(userID int64, class KeyClass) (string, time.Time, error) {
	key, ok := t.keys[class]
	if !ok {
		return "", time.Time{}, fmt.Errorf("unknown key class %q", class)
	}
	now := t.now().UTC().Truncate(time.Second)
	exp := now.Add(key.ttl)
	claims := Claims{
		UserID: userID,
		Typ:    class,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			// two tokens minted for one user in the same second must still differ
			ID: uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing %s token: %w", class, err)
	}
	return signed, exp, nil
}

// Verify checks the token against the key of the given class.
// It returns common.ErrTokenInvalid for anything malformed, forged or of the wrong class,
// and common.ErrTokenExpired only for a genuine token whose exp is at or before now.
func (t *TokenIssuer) Verify(token string, class KeyClass) (*Claims, error) {
	key, ok := t.keys[class]
	if !ok {
		return nil, fmt.Errorf("%w: unknown key class %q", common.ErrTokenInvalid, class)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, common.ErrTokenInvalid
	}

	claims := &Claims{}
	parsed, err := t.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return key.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", common.ErrTokenInvalid, err)
	}
	if claims.Typ != class {
		return nil, fmt.Errorf("%w: unexpected token type %q", common.ErrTokenInvalid, claims.Typ)
	}
	if claims.ExpiresAt == nil || claims.UserID <= 0 {
		return nil, fmt.Errorf("%w: missing claims", common.ErrTokenInvalid)
	}
	if claims.Subject != strconv.FormatInt(claims.UserID, 10) {
		return nil, fmt.Errorf("%w: subject mismatch", common.ErrTokenInvalid)
	}
	if !t.now().Before(claims.ExpiresAt.Time) {
		return nil, common.ErrTokenExpired
	}
	return claims, nil
}
