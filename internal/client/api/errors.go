package api

import "errors"

// Client error categories. Callers branch on these to decide between
// retrying, refreshing credentials and pausing sync.
var (
	// ErrUnauthorized means the access token was rejected; refresh it
	// and retry
	ErrUnauthorized = errors.New("unauthorized")

	// ErrProtocol means the server rejected the request itself (a 4xx
	// that retrying verbatim cannot fix). Sync for the affected
	// collection should stop until a resync.
	ErrProtocol = errors.New("protocol error")
)
