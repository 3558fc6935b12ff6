package auth

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Middleware guards HTTP handlers with bearer-token authentication. A nil
// service disables the check so every request passes through.
type Middleware struct {
	authService AuthService
	logger      *zap.Logger
}

// NewMiddleware creates the middleware. Pass a nil AuthService when auth is
// not configured.
func NewMiddleware(authService AuthService, logger *zap.Logger) *Middleware {
	return &Middleware{
		authService: authService,
		logger:      logger,
	}
}

// Enabled reports whether requests are checked.
func (m *Middleware) Enabled() bool {
	return m.authService != nil
}

// RequireAuth validates the token and stores its claims in the request
// context for downstream handlers.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	if m.authService == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.authService.ValidateRequest(r)
		if err != nil {
			m.unauthorized(w, "Authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// unauthorized returns a 401 response with JSON error body.
func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="insightpilot"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": message,
	})
}
