package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/wishstash/wishstash/pkg/api"
)

// contextKey is the type for request context keys
type contextKey string

const (
	// UserIDKey stores the authenticated user's id in the request context
	UserIDKey contextKey = "user_id"
	// UsernameKey stores the authenticated username in the request context
	UsernameKey contextKey = "username"
)

// GetUserID extracts the authenticated user id from the request context
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}

// GetUsername extracts the authenticated username from the request context
func GetUsername(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(UsernameKey).(string)
	return username, ok
}

// sendJSON writes a JSON response with the given status code
func sendJSON(w http.ResponseWriter, logger *slog.Logger, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", slog.Any("error", err))
	}
}

// sendError writes a JSON error body with the given status code
func sendError(w http.ResponseWriter, logger *slog.Logger, message string, status int) {
	sendJSON(w, logger, api.ErrorResponse{Message: message}, status)
}
