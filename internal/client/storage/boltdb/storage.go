package boltdb

import (
	"context"
	"fmt"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/wishstash/wishstash/internal/models"
)

var (
	// BoltDB bucket names
	bucketAuth        = []byte("auth")
	bucketDocuments   = []byte("documents")
	bucketCheckpoints = []byte("checkpoints")
)

// Storage represents BoltDB storage implementation for client
type Storage struct {
	db *bbolt.DB

	subMu   sync.Mutex
	subs    map[uint64]*subscriber
	nextSub uint64
}

// New creates a new BoltDB storage instance
// dbPath is the path to the BoltDB database file
func New(ctx context.Context, dbPath string) (*Storage, error) {
	db, err := bbolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	storage := &Storage{
		db:   db,
		subs: make(map[uint64]*subscriber),
	}

	if err := storage.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return storage, nil
}

// Close ends all subscriptions and closes the database connection
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	s.closeSubscriptions()
	return s.db.Close()
}

// initBuckets creates the required buckets if they don't exist. Documents
// live in one sub-bucket per collection.
func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketAuth); err != nil {
			return fmt.Errorf("failed to create auth bucket: %w", err)
		}

		docs, err := tx.CreateBucketIfNotExists(bucketDocuments)
		if err != nil {
			return fmt.Errorf("failed to create documents bucket: %w", err)
		}
		for _, collection := range models.Collections {
			if _, err := docs.CreateBucketIfNotExists([]byte(collection)); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", collection, err)
			}
		}

		if _, err := tx.CreateBucketIfNotExists(bucketCheckpoints); err != nil {
			return fmt.Errorf("failed to create checkpoints bucket: %w", err)
		}

		return nil
	})
}
