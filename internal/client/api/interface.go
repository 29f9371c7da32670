package api

import (
	"context"

	"github.com/wishstash/wishstash/pkg/api"
)

//go:generate moq -out syncapi_mock.go . SyncAPI

// SyncAPI is the server surface the sync engine depends on
type SyncAPI interface {
	// Pull fetches the next page of server changes for a collection
	Pull(ctx context.Context, collection string, req api.PullRequest) (*api.PullResponse, error)

	// Push uploads locally changed documents for a collection
	Push(ctx context.Context, collection string, req api.PushRequest) (*api.PushResponse, error)
}
