package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"regions-server/internal/auth"
	"regions-server/internal/shared/errors"
	"regions-server/internal/shared/response"
)

type contextKey string

const UserContextKey contextKey = "user"

const authCookieName = "auth_token"

// Authenticator validates caller tokens. A nil token manager means no secret
// is configured: optional routes stay anonymous and required routes refuse.
type Authenticator struct {
	tokens *auth.TokenManager
}

func NewAuthenticator(tokens *auth.TokenManager) *Authenticator {
	return &Authenticator{tokens: tokens}
}

// Require rejects requests without a valid token
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := slog.With(
			"middleware", "jwt",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)
		logger.Debug("Processing JWT authentication")

		if a.tokens == nil {
			response.Error(w, r, logger, errors.Unauthorized("authentication is not configured"))
			return
		}

		token := extractToken(r)
		if token == "" {
			response.Error(w, r, logger, errors.Unauthorized("authentication required"))
			return
		}

		claims, err := a.tokens.Validate(token)
		if err != nil {
			logger.Debug("Token rejected", "error", err)
			response.Error(w, r, logger, errors.Unauthorized("invalid token"))
			return
		}

		logger.Debug("JWT authentication successful",
			"player_id", claims.PlayerID,
			"username", claims.Username)

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// Optional attaches the caller's claims when a valid token is present and
// otherwise lets the request through anonymously.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if a.tokens == nil || token == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := a.tokens.Validate(token)
		if err != nil {
			slog.Debug("Ignoring invalid optional token", "middleware", "jwt", "path", r.URL.Path, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// extractToken reads a bearer token, falling back to the auth cookie
func extractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := r.Cookie(authCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}

// GetUserFromContext returns the caller's claims, or nil for anonymous requests
func GetUserFromContext(r *http.Request) *auth.Claims {
	if claims, ok := r.Context().Value(UserContextKey).(*auth.Claims); ok {
		return claims
	}
	return nil
}
