package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is the single verification failure surfaced to callers.
// Signature mismatch, malformed input and expiry all collapse into it so
// the rejection reason cannot be distinguished externally.
var ErrInvalidToken = errors.New("invalid token")

// Config carries the two-token signing policy: independent HS256 secrets
// and independent lifetimes for the access and refresh channels, so that
// rotating or losing one secret never weakens the other.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Claims is the token payload: only the user id beyond the registered
// set. No roles, no revocation id.
type Claims struct {
	UserID string `json:"id"`
	jwt.RegisteredClaims
}

// Manager signs and verifies the access/refresh token pair.
type Manager struct {
	config Config
}

func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("token secrets are required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	return &Manager{config: cfg}, nil
}

// IssueAccess signs a short-lived access token for the user.
func (m *Manager) IssueAccess(userID string) (string, error) {
	return m.issue(userID, m.config.AccessSecret, m.config.AccessTTL)
}

// IssueRefresh signs a refresh token for the user.
func (m *Manager) IssueRefresh(userID string) (string, error) {
	return m.issue(userID, m.config.RefreshSecret, m.config.RefreshTTL)
}

// VerifyAccess validates an access token and returns the user id claim.
func (m *Manager) VerifyAccess(tokenStr string) (string, error) {
	return m.verify(tokenStr, m.config.AccessSecret)
}

// VerifyRefresh validates a refresh token and returns the user id claim.
func (m *Manager) VerifyRefresh(tokenStr string) (string, error) {
	return m.verify(tokenStr, m.config.RefreshSecret)
}

func (m *Manager) issue(userID string, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (m *Manager) verify(tokenStr string, secret []byte) (string, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)

	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return "", ErrInvalidToken
	}

	return claims.UserID, nil
}
