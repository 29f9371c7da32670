package models

import "time"

// User represents an account (a sync principal)
type User struct {
	ID           string    `json:"id"`            // user UUID
	Username     string    `json:"username"`      // unique username
	PasswordHash string    `json:"password_hash"` // bcrypt hash of the password
	CreatedAt    time.Time `json:"created_at"`    // creation time
	UpdatedAt    time.Time `json:"updated_at"`    // last update time
}

// RefreshToken represents a user's refresh token
type RefreshToken struct {
	ID        string    `json:"id"`         // token UUID
	UserID    string    `json:"user_id"`    // owning user ID
	TokenHash string    `json:"token_hash"` // SHA256 hex of the token value
	ExpiresAt time.Time `json:"expires_at"` // expiry time
	CreatedAt time.Time `json:"created_at"` // creation time
}
