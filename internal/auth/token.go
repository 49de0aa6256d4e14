// Package auth mints and checks the HS256 bearer tokens that guard the
// administrative HTTP routes.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "newsai"

var (
	ErrNoSecret     = errors.New("admin secret is not configured")
	ErrMissingToken = errors.New("missing bearer token")
)

// Claims is the token payload.
type Claims struct {
	Admin bool `json:"admin"`
	jwt.RegisteredClaims
}

// NewToken signs an admin token for subject. A zero ttl means no expiry.
func NewToken(secret, subject string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	claims := Claims{
		Admin: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuer,
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a signed token and checks it grants admin access.
func Verify(secret, token string) (*Claims, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !claims.Admin {
		return nil, errors.New("invalid token: not an admin token")
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}
