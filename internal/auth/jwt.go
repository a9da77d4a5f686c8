// Package auth issues and validates the client tokens of the local API.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is how long an issued client token stays valid
const DefaultTokenTTL = 24 * time.Hour

// ErrDisabled is returned when tokens are requested without a configured secret
var ErrDisabled = errors.New("authentication is disabled")

// ErrInvalidCredentials is returned when a token request presents the wrong secret
var ErrInvalidCredentials = errors.New("invalid credentials")

// JWTClaims represents the claims in our JWT token
type JWTClaims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// Authenticator signs client tokens with a shared secret. A zero secret disables it.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthenticator creates an authenticator for secret
func NewAuthenticator(secret string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Enabled reports whether a secret is configured
func (a *Authenticator) Enabled() bool {
	return a != nil && len(a.secret) > 0
}

// IssueToken checks the presented secret and returns a token for clientID
func (a *Authenticator) IssueToken(clientID, presented string) (string, time.Time, error) {
	if !a.Enabled() {
		return "", time.Time{}, ErrDisabled
	}
	if subtle.ConstantTimeCompare(a.secret, []byte(presented)) != 1 {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return a.GenerateToken(clientID)
}

// GenerateToken generates a JWT token for clientID
func (a *Authenticator) GenerateToken(clientID string) (string, time.Time, error) {
	if !a.Enabled() {
		return "", time.Time{}, ErrDisabled
	}
	now := a.now()
	expiresAt := now.Add(a.ttl)
	claims := &JWTClaims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a JWT token and returns the claims
func (a *Authenticator) ValidateToken(tokenString string) (*JWTClaims, error) {
	if !a.Enabled() {
		return nil, ErrDisabled
	}
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid && claims.ClientID != "" {
		return claims, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}
