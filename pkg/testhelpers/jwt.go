// Package testhelpers provides utilities for testing insightpilot components.
package testhelpers

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// GenerateTestJWT signs an HS256 token for sub with the given secret.
// A negative ttl yields an already expired token.
func GenerateTestJWT(t *testing.T, secret, sub, issuer string, ttl time.Duration) string {
	t.Helper()

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to sign test token: %v", err)
	}
	return token
}

// GenerateTestJWTWithBearer returns the token with a "Bearer " prefix for the
// Authorization header.
func GenerateTestJWTWithBearer(t *testing.T, secret, sub string) string {
	t.Helper()
	return "Bearer " + GenerateTestJWT(t, secret, sub, "", time.Hour)
}
