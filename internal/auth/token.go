// Package auth issues and verifies access tokens, hashes passwords and guards
// HTTP routes by authentication and role.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/A1anMc/GrantSGE/internal/db"
	"github.com/A1anMc/GrantSGE/internal/kvstore"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenRevoked       = errors.New("token has been revoked")
	ErrEmailTaken         = errors.New("email already exists")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

// revokedPrefix namespaces revoked token ids in the key-value store.
const revokedPrefix = "revoked_jti:"

const minPasswordLength = 8

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Claims are carried by every access token.
type Claims struct {
	UserID int64    `json:"user_id"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether the token grants role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// TokenManager signs HS256 access tokens and tracks revocations in a
// key-value store.
type TokenManager struct {
	secret  []byte
	ttl     time.Duration
	revoked kvstore.Store
	now     func() time.Time
}

// TokenOption configures a TokenManager.
type TokenOption func(*TokenManager)

// WithTokenClock overrides the clock used for issuing and validating tokens.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) { m.now = now }
}

// NewTokenManager returns a manager signing with secret. revoked may be nil,
// in which case logout cannot revoke tokens.
func NewTokenManager(secret string, ttl time.Duration, revoked kvstore.Store, opts ...TokenOption) (*TokenManager, error) {
	if secret == "" {
		return nil, errors.New("auth: jwt secret is empty")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	m := &TokenManager{secret: []byte(secret), ttl: ttl, revoked: revoked, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Issue signs a token for user.
func (m *TokenManager) Issue(user db.User) (string, *Claims, error) {
	now := m.now()
	claims := &Claims{
		UserID: user.ID,
		Roles:  append([]string(nil), user.Roles...),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   fmt.Sprint(user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Parse verifies signature, expiry and revocation of raw.
func (m *TokenManager) Parse(ctx context.Context, raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing jti", ErrInvalidToken)
	}
	revoked, err := m.isRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

func (m *TokenManager) isRevoked(ctx context.Context, jti string) (bool, error) {
	if m.revoked == nil {
		return false, nil
	}
	_, err := m.revoked.Get(ctx, revokedPrefix+jti)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, kvstore.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("check token revocation: %w", err)
	}
}

// Revoke blocks the token until it would have expired anyway.
func (m *TokenManager) Revoke(ctx context.Context, claims *Claims) error {
	if m.revoked == nil {
		return errors.New("auth: no revocation store configured")
	}
	remaining := time.Second
	if claims.ExpiresAt != nil {
		if d := claims.ExpiresAt.Time.Sub(m.now()); d > remaining {
			remaining = d
		}
	}
	if err := m.revoked.SetEX(ctx, revokedPrefix+claims.ID, []byte(`{"revoked":true}`), remaining); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}
