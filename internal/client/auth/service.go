// Package auth manages the client session: login, registration, token
// persistence, and refreshing the access token before it expires.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	httpClient "github.com/wishstash/wishstash/internal/client/api"
	"github.com/wishstash/wishstash/internal/client/storage"
	"github.com/wishstash/wishstash/internal/validation"
	pkgapi "github.com/wishstash/wishstash/pkg/api"
)

//go:generate moq -out service_mock.go . Service

// expirySkew is how early a still-valid access token is refreshed, so a
// request never leaves with a token about to die in flight
const expirySkew = 30 * time.Second

// ErrNotLoggedIn is returned when no session is stored
var ErrNotLoggedIn = errors.New("not logged in")

// Service defines the session operations
type Service interface {
	// Register creates a new account on the server
	Register(ctx context.Context, username, password string) (*pkgapi.RegisterResponse, error)

	// Login authenticates, persists the session, and arms the API client
	// with the access token
	Login(ctx context.Context, username, password string) (*storage.AuthData, error)

	// Logout revokes the session server-side (best effort) and always
	// drops the local session
	Logout(ctx context.Context) error

	// Session returns the stored session, ErrNotLoggedIn if none
	Session(ctx context.Context) (*storage.AuthData, error)

	// IsAuthenticated reports whether a usable session is stored
	IsAuthenticated(ctx context.Context) (bool, error)

	// EnsureValidToken arms the API client with a non-expired access
	// token, refreshing through the server when needed
	EnsureValidToken(ctx context.Context) error

	// Refresh forces a token rotation using the stored refresh token
	Refresh(ctx context.Context) error
}

type service struct {
	apiClient *httpClient.Client
	authStore storage.AuthStorage
	logger    *slog.Logger
}

// NewService creates a new session service
func NewService(apiClient *httpClient.Client, authStore storage.AuthStorage, logger *slog.Logger) Service {
	return &service{
		apiClient: apiClient,
		authStore: authStore,
		logger:    logger,
	}
}

// Register creates a new account. It does not log in; call Login after.
func (s *service) Register(ctx context.Context, username, password string) (*pkgapi.RegisterResponse, error) {
	if err := validation.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("invalid username: %w", err)
	}
	if err := validation.ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("invalid password: %w", err)
	}

	resp, err := s.apiClient.Register(ctx, pkgapi.RegisterRequest{
		Username: username,
		Password: password,
	})
	if err != nil {
		return nil, fmt.Errorf("registration failed: %w", err)
	}

	return resp, nil
}

// Login authenticates and persists the session
func (s *service) Login(ctx context.Context, username, password string) (*storage.AuthData, error) {
	if err := validation.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("invalid username: %w", err)
	}

	resp, err := s.apiClient.Login(ctx, pkgapi.LoginRequest{
		Username: username,
		Password: password,
	})
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	auth := &storage.AuthData{
		Username:     username,
		UserID:       resp.UserID,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    time.Now().Unix() + resp.ExpiresIn,
	}
	if err := s.authStore.SaveAuth(ctx, auth); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.apiClient.SetAccessToken(resp.AccessToken)

	return auth, nil
}

// Logout drops the session. Server-side revocation is best effort; the
// local session goes away regardless.
func (s *service) Logout(ctx context.Context) error {
	if err := s.EnsureValidToken(ctx); err == nil {
		if logoutErr := s.apiClient.Logout(ctx); logoutErr != nil {
			s.logger.Warn("server-side logout failed", slog.Any("error", logoutErr))
		}
	}

	if err := s.authStore.DeleteAuth(ctx); err != nil {
		return fmt.Errorf("failed to delete local session: %w", err)
	}
	s.apiClient.SetAccessToken("")

	return nil
}

// Session returns the stored session
func (s *service) Session(ctx context.Context) (*storage.AuthData, error) {
	auth, err := s.authStore.GetAuth(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrAuthNotFound) {
			return nil, ErrNotLoggedIn
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return auth, nil
}

// IsAuthenticated reports whether a usable session exists
func (s *service) IsAuthenticated(ctx context.Context) (bool, error) {
	return s.authStore.IsAuthenticated(ctx)
}

// EnsureValidToken arms the API client with a live access token
func (s *service) EnsureValidToken(ctx context.Context) error {
	auth, err := s.Session(ctx)
	if err != nil {
		return err
	}

	if time.Now().Add(expirySkew).Unix() < auth.ExpiresAt {
		s.apiClient.SetAccessToken(auth.AccessToken)
		return nil
	}

	return s.Refresh(ctx)
}

// Refresh rotates the token pair and persists the new one
func (s *service) Refresh(ctx context.Context) error {
	auth, err := s.Session(ctx)
	if err != nil {
		return err
	}
	if auth.RefreshToken == "" {
		return ErrNotLoggedIn
	}

	resp, err := s.apiClient.Refresh(ctx, auth.RefreshToken)
	if err != nil {
		// A rejected refresh token means the session is gone for good
		if errors.Is(err, httpClient.ErrUnauthorized) {
			if delErr := s.authStore.DeleteAuth(ctx); delErr != nil {
				s.logger.Warn("failed to drop dead session", slog.Any("error", delErr))
			}
			return fmt.Errorf("%w: session expired, log in again", ErrNotLoggedIn)
		}
		return fmt.Errorf("token refresh failed: %w", err)
	}

	auth.AccessToken = resp.AccessToken
	auth.RefreshToken = resp.RefreshToken
	auth.ExpiresAt = time.Now().Unix() + resp.ExpiresIn
	if err := s.authStore.SaveAuth(ctx, auth); err != nil {
		return fmt.Errorf("failed to save rotated session: %w", err)
	}

	s.apiClient.SetAccessToken(resp.AccessToken)

	s.logger.Debug("access token refreshed", slog.String("username", auth.Username))

	return nil
}
