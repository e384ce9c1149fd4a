package middleware

import (
	"log/slog"
	"net/http"

	"regions-server/internal/auth"
	"regions-server/internal/shared/errors"
	"regions-server/internal/shared/response"
)

func OperatorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := slog.With(
			"middleware", "operator",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		claims := GetUserFromContext(r)
		if claims == nil {
			response.Error(w, r, logger, errors.Unauthorized("authentication required"))
			return
		}

		if claims.Role != auth.RoleOperator {
			logger.Warn("Non-operator caller attempted an operator action",
				"player_id", claims.PlayerID,
				"username", claims.Username,
				"role", claims.Role)
			response.Error(w, r, logger, errors.Forbidden("operator access required"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireOperator authenticates the caller and checks the operator role
func (a *Authenticator) RequireOperator(next http.Handler) http.Handler {
	return a.Require(OperatorMiddleware(next))
}
