package storage

import (
	"context"

	"github.com/wishstash/wishstash/pkg/api"
)

//go:generate moq -out checkpointstore_mock.go . CheckpointStore

// CheckpointStore persists the per-collection pull position. The
// checkpoint only advances after the documents of a page have been
// written locally; losing it is safe and merely causes a re-pull.
type CheckpointStore interface {
	// SaveCheckpoint stores the checkpoint for a collection
	SaveCheckpoint(ctx context.Context, collection string, cp api.Checkpoint) error

	// GetCheckpoint retrieves the stored checkpoint for a collection.
	// Returns nil if no pull has completed yet.
	GetCheckpoint(ctx context.Context, collection string) (*api.Checkpoint, error)

	// DeleteCheckpoint removes the checkpoint so the next pull starts
	// from the beginning
	DeleteCheckpoint(ctx context.Context, collection string) error
}
