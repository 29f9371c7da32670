package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/wishstash/wishstash/internal/server/handlers"
)

// AuthMiddleware validates the JWT access token and injects the user's
// identity into the request context. The token comes from the
// Authorization header, or from the access_token query parameter for
// transports that cannot set headers (the websocket event stream).
func AuthMiddleware(logger *slog.Logger, jwtConfig handlers.JWTConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := ""

			authHeader := r.Header.Get("Authorization")
			switch {
			case authHeader != "":
				parts := strings.SplitN(authHeader, " ", 2)
				if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
					logger.Warn("invalid Authorization header format")
					http.Error(w, "Unauthorized: invalid token format", http.StatusUnauthorized)
					return
				}
				tokenString = parts[1]
			case r.URL.Query().Get("access_token") != "":
				tokenString = r.URL.Query().Get("access_token")
			default:
				logger.Warn("missing Authorization header", "path", r.URL.Path)
				http.Error(w, "Unauthorized: missing token", http.StatusUnauthorized)
				return
			}

			claims, err := handlers.ValidateAccessToken(jwtConfig, tokenString)
			if err != nil {
				logger.Warn("invalid access token", "error", err)
				http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), handlers.UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, handlers.UsernameKey, claims.Username)

			logger.Debug("user authenticated", "user_id", claims.UserID, "username", claims.Username)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
