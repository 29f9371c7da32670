package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/wishstash/wishstash/internal/client/storage"
	"github.com/wishstash/wishstash/internal/models"
	"github.com/wishstash/wishstash/pkg/api"
)

// collectionBucket resolves the sub-bucket for a collection
func collectionBucket(tx *bbolt.Tx, collection string) (*bbolt.Bucket, error) {
	docs := tx.Bucket(bucketDocuments)
	if docs == nil {
		return nil, fmt.Errorf("documents bucket not found")
	}
	bucket := docs.Bucket([]byte(collection))
	if bucket == nil {
		return nil, fmt.Errorf("collection bucket %q not found", collection)
	}
	return bucket, nil
}

func putDocument(bucket *bbolt.Bucket, doc *storage.LocalDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	if err := bucket.Put([]byte(doc.ID), data); err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

func getDocument(bucket *bbolt.Bucket, id string) (*storage.LocalDocument, error) {
	data := bucket.Get([]byte(id))
	if data == nil {
		return nil, storage.ErrDocumentNotFound
	}
	doc := &storage.LocalDocument{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return doc, nil
}

// SaveLocal records a local create or edit
func (s *Storage) SaveLocal(ctx context.Context, collection, id string, payload json.RawMessage) (*storage.LocalDocument, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var saved *storage.LocalDocument

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := collectionBucket(tx, collection)
		if err != nil {
			return err
		}

		doc, err := getDocument(bucket, id)
		if err != nil {
			doc = &storage.LocalDocument{ID: id}
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to advance sequence: %w", err)
		}

		doc.Payload = payload
		doc.LocalSeq = seq
		doc.Dirty = true
		doc.Deleted = false
		doc.ModifiedAt = time.Now().UnixMilli()

		saved = doc
		return putDocument(bucket, doc)
	})
	if err != nil {
		return nil, err
	}

	s.notify(storage.Change{Collection: collection, ID: id})
	return saved, nil
}

// DeleteLocal tombstones a document locally. Documents the server has
// never seen are removed outright; there is nothing to replicate.
func (s *Storage) DeleteLocal(ctx context.Context, collection, id string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := collectionBucket(tx, collection)
		if err != nil {
			return err
		}

		doc, err := getDocument(bucket, id)
		if err != nil {
			return err
		}

		if doc.BaseRevision == 0 {
			return bucket.Delete([]byte(id))
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to advance sequence: %w", err)
		}

		doc.Deleted = true
		doc.Dirty = true
		doc.LocalSeq = seq
		doc.ModifiedAt = time.Now().UnixMilli()

		return putDocument(bucket, doc)
	})
	if err != nil {
		return err
	}

	s.notify(storage.Change{Collection: collection, ID: id, Deleted: true})
	return nil
}

// Get retrieves a document by id, tombstones included
func (s *Storage) Get(ctx context.Context, collection, id string) (*storage.LocalDocument, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var doc *storage.LocalDocument

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket, err := collectionBucket(tx, collection)
		if err != nil {
			return err
		}
		doc, err = getDocument(bucket, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return doc, nil
}

// ListActive returns all non-deleted documents in a collection
func (s *Storage) ListActive(ctx context.Context, collection string) ([]*storage.LocalDocument, error) {
	return s.list(collection, func(doc *storage.LocalDocument) bool {
		return !doc.Deleted
	})
}

// DirtyDocuments returns all documents with unpushed local changes
func (s *Storage) DirtyDocuments(ctx context.Context, collection string) ([]*storage.LocalDocument, error) {
	return s.list(collection, func(doc *storage.LocalDocument) bool {
		return doc.Dirty
	})
}

func (s *Storage) list(collection string, keep func(*storage.LocalDocument) bool) ([]*storage.LocalDocument, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var docs []*storage.LocalDocument

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket, err := collectionBucket(tx, collection)
		if err != nil {
			return err
		}

		return bucket.ForEach(func(k, v []byte) error {
			var doc storage.LocalDocument
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("failed to unmarshal document: %w", err)
			}
			if keep(&doc) {
				docs = append(docs, &doc)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return docs, nil
}

// ApplyServer writes a document received from the server. Dirty local
// documents are left untouched; their pending change is pushed first and
// the server's answer arrives on a later pull.
func (s *Storage) ApplyServer(ctx context.Context, collection string, wireDoc api.Document) (bool, error) {
	if s.db == nil {
		return false, storage.ErrStorageClosed
	}

	applied := false

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := collectionBucket(tx, collection)
		if err != nil {
			return err
		}

		existing, err := getDocument(bucket, wireDoc.ID)
		if err == nil && existing.Dirty {
			return nil
		}

		if wireDoc.Deleted {
			applied = true
			return bucket.Delete([]byte(wireDoc.ID))
		}

		doc := &storage.LocalDocument{
			ID:           wireDoc.ID,
			Payload:      wireDoc.Payload,
			BaseRevision: wireDoc.UpdatedAt,
			Dirty:        false,
			Deleted:      false,
			ModifiedAt:   wireDoc.UpdatedAt,
		}
		if existing != nil {
			doc.LocalSeq = existing.LocalSeq
		}

		applied = true
		return putDocument(bucket, doc)
	})
	if err != nil {
		return false, err
	}

	if applied {
		s.notify(storage.Change{
			Collection: collection,
			ID:         wireDoc.ID,
			Deleted:    wireDoc.Deleted,
			Remote:     true,
		})
	}
	return applied, nil
}

// MarkClean clears the dirty flag after a push, unless the document was
// edited again while the push was in flight.
func (s *Storage) MarkClean(ctx context.Context, collection, id string, localSeq uint64, serverRevision int64) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := collectionBucket(tx, collection)
		if err != nil {
			return err
		}

		doc, err := getDocument(bucket, id)
		if err != nil {
			return err
		}

		doc.BaseRevision = serverRevision
		if doc.LocalSeq == localSeq {
			doc.Dirty = false
			// A pushed tombstone is done; nothing left to keep locally
			if doc.Deleted {
				return bucket.Delete([]byte(id))
			}
		}

		return putDocument(bucket, doc)
	})
}

// PendingCount returns the number of dirty documents across all collections
func (s *Storage) PendingCount(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	count := 0

	err := s.db.View(func(tx *bbolt.Tx) error {
		for _, collection := range models.Collections {
			bucket, err := collectionBucket(tx, collection)
			if err != nil {
				return err
			}
			err = bucket.ForEach(func(k, v []byte) error {
				var doc storage.LocalDocument
				if err := json.Unmarshal(v, &doc); err != nil {
					return fmt.Errorf("failed to unmarshal document: %w", err)
				}
				if doc.Dirty {
					count++
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

// ResetCollection drops all clean documents in a collection. Dirty
// documents keep their pending changes for the next push.
func (s *Storage) ResetCollection(ctx context.Context, collection string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := collectionBucket(tx, collection)
		if err != nil {
			return err
		}

		var drop [][]byte
		err = bucket.ForEach(func(k, v []byte) error {
			var doc storage.LocalDocument
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("failed to unmarshal document: %w", err)
			}
			if !doc.Dirty {
				key := make([]byte, len(k))
				copy(key, k)
				drop = append(drop, key)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, key := range drop {
			if err := bucket.Delete(key); err != nil {
				return fmt.Errorf("failed to delete document: %w", err)
			}
		}

		return nil
	})
}
