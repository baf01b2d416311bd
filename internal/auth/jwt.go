// Package auth issues and verifies the HMAC-signed bearer tokens that guard the
// admin REST API.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Issuer is stamped on every admin token and required on validation
	Issuer = "groupguard"

	// AdminScope is the only scope admin tokens carry
	AdminScope = "admin"

	// DefaultTokenTTL applies when no lifetime is configured
	DefaultTokenTTL = 24 * time.Hour

	minSecretLength = 32
)

var (
	// ErrEmptySecret is returned when a TokenIssuer is created without a secret
	ErrEmptySecret = errors.New("jwt secret is empty")
	// ErrInvalidToken is returned for tokens that fail any validation step
	ErrInvalidToken = errors.New("invalid token")
)

// Claims represents the JWT claims structure
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates admin tokens with a shared secret
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer. A zero ttl uses DefaultTokenTTL.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if len(secret) < minSecretLength {
		slog.Warn("admin jwt secret is shorter than recommended", "min_length", minSecretLength)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue creates a signed admin token for subject
func (i *TokenIssuer) Issue(subject string) (string, error) {
	if subject == "" {
		return "", errors.New("token subject is required")
	}
	now := i.now()
	claims := &Claims{
		Scope: AdminScope,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    Issuer,
			Subject:   subject,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign admin token: %w", err)
	}
	return token, nil
}

// Validate parses tokenString and checks signature, expiry, issuer and scope
func (i *TokenIssuer) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Scope != AdminScope {
		return nil, fmt.Errorf("%w: missing %s scope", ErrInvalidToken, AdminScope)
	}
	return claims, nil
}
