package auth

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Common authentication errors.
var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
)

// AuthService extracts and validates the bearer token of a request.
type AuthService interface {
	// ValidateRequest reads "Authorization: Bearer <token>" and returns the
	// validated claims.
	ValidateRequest(r *http.Request) (*Claims, error)
}

type authService struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewAuthService wraps a token validator.
func NewAuthService(validator TokenValidator, logger *zap.Logger) AuthService {
	return &authService{
		validator: validator,
		logger:    logger,
	}
}

func (s *authService) ValidateRequest(r *http.Request) (*Claims, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		s.logger.Debug("No bearer token in request",
			zap.String("path", r.URL.Path),
			zap.String("method", r.Method))
		return nil, ErrMissingAuthorization
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		s.logger.Debug("Invalid Authorization header format", zap.String("path", r.URL.Path))
		return nil, ErrInvalidAuthFormat
	}

	claims, err := s.validator.ValidateToken(strings.TrimSpace(token))
	if err != nil {
		s.logger.Debug("Token validation failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		return nil, err
	}
	return claims, nil
}
