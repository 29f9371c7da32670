package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/wishstash/wishstash/internal/client/storage"
	"github.com/wishstash/wishstash/pkg/api"
)

// SaveCheckpoint stores the pull checkpoint for a collection
func (s *Storage) SaveCheckpoint(ctx context.Context, collection string, cp api.Checkpoint) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCheckpoints)
		if bucket == nil {
			return fmt.Errorf("checkpoints bucket not found")
		}

		data, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("failed to marshal checkpoint: %w", err)
		}

		if err := bucket.Put([]byte(collection), data); err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}

		return nil
	})
}

// GetCheckpoint retrieves the checkpoint for a collection, nil if no pull
// has completed yet
func (s *Storage) GetCheckpoint(ctx context.Context, collection string) (*api.Checkpoint, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var cp *api.Checkpoint

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCheckpoints)
		if bucket == nil {
			return fmt.Errorf("checkpoints bucket not found")
		}

		data := bucket.Get([]byte(collection))
		if data == nil {
			return nil
		}

		cp = &api.Checkpoint{}
		if err := json.Unmarshal(data, cp); err != nil {
			return fmt.Errorf("failed to unmarshal checkpoint: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return cp, nil
}

// DeleteCheckpoint removes the checkpoint so the next pull starts over
func (s *Storage) DeleteCheckpoint(ctx context.Context, collection string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCheckpoints)
		if bucket == nil {
			return fmt.Errorf("checkpoints bucket not found")
		}

		return bucket.Delete([]byte(collection))
	})
}
