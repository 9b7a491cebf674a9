// Package sharetoken issues and validates the signed tokens that grant
// read access to a single shared document.
package sharetoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken  = errors.New("invalid share token")
	ErrExpiredToken  = errors.New("share token has expired")
	ErrInvalidClaims = errors.New("invalid share token claims")
	ErrWrongDocument = errors.New("share token is for a different document")
)

// Config holds share token configuration
type Config struct {
	Secret string
	Expiry time.Duration
	Issuer string
}

// Claims represents the claims carried by a share token. A token is scoped
// to exactly one document fingerprint.
type Claims struct {
	Fingerprint string `json:"fingerprint"`
	jwt.RegisteredClaims
}

// Manager handles share token operations
type Manager struct {
	config Config
}

// NewManager creates a new share token manager
func NewManager(config Config) *Manager {
	if config.Expiry <= 0 {
		config.Expiry = 7 * 24 * time.Hour
	}
	return &Manager{
		config: config,
	}
}

// Generate issues a share token for the given document fingerprint
func (m *Manager) Generate(fingerprint string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.config.Expiry)

	claims := Claims{
		Fingerprint: fingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
			Subject:   fingerprint,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(m.config.Secret))
	return signedToken, expiresAt, err
}

// Validate checks a share token and returns its claims
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(m.config.Secret), nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}

	return claims, nil
}

// ValidateFor checks a share token and confirms it grants access to the
// given document
func (m *Manager) ValidateFor(tokenString, fingerprint string) (*Claims, error) {
	claims, err := m.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Fingerprint != fingerprint {
		return nil, ErrWrongDocument
	}
	return claims, nil
}
