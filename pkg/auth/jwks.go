package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ekaya-inc/insightpilot/pkg/config"
)

// TokenValidator validates a JWT string and returns its claims.
type TokenValidator interface {
	// ValidateToken returns an error if the token is malformed, expired, badly
	// signed, or from an unexpected issuer.
	ValidateToken(tokenString string) (*Claims, error)
	// Close releases any resources held by the validator.
	Close()
}

// Validator verifies tokens with either an HMAC secret (HS256/384/512) or
// the keys of a JWKS endpoint (RSA, ECDSA, EdDSA). When both are configured
// the secret is tried for HMAC tokens and the JWKS for the rest.
type Validator struct {
	secret []byte
	jwks   keyfunc.Keyfunc
	issuer string
	cancel context.CancelFunc
}

// NewValidator builds a validator from cfg. It returns nil, nil when auth is
// disabled. The JWKS endpoint is fetched once here and refreshed in the
// background until Close.
func NewValidator(ctx context.Context, cfg config.AuthConfig) (*Validator, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	v := &Validator{issuer: cfg.Issuer}
	if cfg.JWTSecret != "" {
		v.secret = []byte(cfg.JWTSecret)
	}
	if cfg.JWKSURL != "" {
		jwksCtx, cancel := context.WithCancel(ctx)
		jwks, err := keyfunc.NewDefaultCtx(jwksCtx, []string{cfg.JWKSURL})
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create JWKS client for %s: %w", cfg.JWKSURL, err)
		}
		v.jwks = jwks
		v.cancel = cancel
	}
	return v, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (v *Validator) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.keyFor, opts...)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	return claims, nil
}

func (v *Validator) keyFor(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if v.secret == nil {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS, *jwt.SigningMethodECDSA, *jwt.SigningMethodEd25519:
		if v.jwks == nil {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.jwks.Keyfunc(token)
	}
	return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
}

// Close stops the JWKS background refresh.
func (v *Validator) Close() {
	if v != nil && v.cancel != nil {
		v.cancel()
	}
}

// Ensure Validator implements TokenValidator at compile time.
var _ TokenValidator = (*Validator)(nil)
