package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wishstash/wishstash/internal/models"
	"github.com/wishstash/wishstash/internal/server/storage"
)

// ApplyDocument applies one pushed document with conflict detection.
// The pushed base revision must equal the stored revision for the write to
// go through; on mismatch the stored document wins (server-wins LWW) and
// the outcome reports a conflict. An identical resend of already applied
// state is accepted without a conflict so that pushes are safe to retry.
func (s *Storage) ApplyDocument(ctx context.Context, doc *models.Document, baseRevision int64) (storage.ApplyOutcome, error) {
	existing, err := s.GetDocument(ctx, doc.Collection, doc.ID)
	if err != nil && !errors.Is(err, storage.ErrDocumentNotFound) {
		return storage.ApplyOutcome{}, fmt.Errorf("failed to check existing document: %w", err)
	}

	if existing != nil {
		if existing.OwnerID != doc.OwnerID {
			return storage.ApplyOutcome{}, storage.ErrNotOwner
		}

		if existing.UpdatedAt != baseRevision {
			// Idempotent resend: the client re-pushed state the server
			// already holds, typically after a lost push response
			if bytes.Equal(existing.Payload, doc.Payload) && existing.Deleted == doc.Deleted {
				return storage.ApplyOutcome{Document: existing}, nil
			}

			return storage.ApplyOutcome{Document: existing, Conflict: true}, nil
		}

		applied := doc.Clone()
		applied.UpdatedAt = s.clock.Next()

		// The revision guard in the WHERE clause makes the write atomic:
		// of two concurrent pushes from the same base, only one matches
		query := `
			UPDATE documents
			SET payload = ?, updated_at = ?, deleted = ?
			WHERE collection = ? AND id = ? AND updated_at = ?
		`

		res, err := s.db.ExecContext(ctx, query,
			applied.Payload,
			applied.UpdatedAt,
			boolToInt(applied.Deleted),
			applied.Collection,
			applied.ID,
			baseRevision,
		)
		if err != nil {
			return storage.ApplyOutcome{}, fmt.Errorf("failed to update document: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return storage.ApplyOutcome{}, fmt.Errorf("failed to read update result: %w", err)
		}
		if affected == 0 {
			return s.lostRace(ctx, doc)
		}

		return storage.ApplyOutcome{Document: applied}, nil
	}

	// Unknown document with a non-zero base: the client references server
	// state this server never held. Reject as a conflict rather than
	// fabricating a revision history.
	if baseRevision != 0 {
		return storage.ApplyOutcome{Conflict: true}, nil
	}

	applied := doc.Clone()
	applied.UpdatedAt = s.clock.Next()

	query := `
		INSERT INTO documents (collection, id, owner_id, payload, updated_at, deleted)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		applied.Collection,
		applied.ID,
		applied.OwnerID,
		applied.Payload,
		applied.UpdatedAt,
		boolToInt(applied.Deleted),
	)
	if err != nil {
		// A concurrent first push of the same id may have landed between
		// the existence check and this insert
		if current, getErr := s.GetDocument(ctx, doc.Collection, doc.ID); getErr == nil {
			if current.OwnerID != doc.OwnerID {
				return storage.ApplyOutcome{}, storage.ErrNotOwner
			}
			return s.lostRace(ctx, doc)
		}
		return storage.ApplyOutcome{}, fmt.Errorf("failed to insert document: %w", err)
	}

	return storage.ApplyOutcome{Document: applied}, nil
}

// lostRace reports the outcome for a write that lost to a concurrent
// apply of the same document: the stored version wins, unless it already
// equals the pushed state.
func (s *Storage) lostRace(ctx context.Context, doc *models.Document) (storage.ApplyOutcome, error) {
	current, err := s.GetDocument(ctx, doc.Collection, doc.ID)
	if err != nil {
		return storage.ApplyOutcome{}, fmt.Errorf("failed to reread document: %w", err)
	}

	if bytes.Equal(current.Payload, doc.Payload) && current.Deleted == doc.Deleted {
		return storage.ApplyOutcome{Document: current}, nil
	}
	return storage.ApplyOutcome{Document: current, Conflict: true}, nil
}

// GetDocument retrieves a single document by collection and id,
// including tombstones
func (s *Storage) GetDocument(ctx context.Context, collection, id string) (*models.Document, error) {
	query := `
		SELECT collection, id, owner_id, payload, updated_at, deleted
		FROM documents
		WHERE collection = ? AND id = ?
	`

	doc := &models.Document{}
	var deleted int

	err := s.db.QueryRowContext(ctx, query, collection, id).Scan(
		&doc.Collection,
		&doc.ID,
		&doc.OwnerID,
		&doc.Payload,
		&doc.UpdatedAt,
		&deleted,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc.Deleted = intToBool(deleted)
	return doc, nil
}

// PullDocuments returns up to limit of the owner's documents strictly
// after the checkpoint in (updated_at, id) order. Tombstones are included
// so that deletions replicate.
func (s *Storage) PullDocuments(ctx context.Context, ownerID, collection string, after *models.Checkpoint, limit int) ([]*models.Document, error) {
	cp := models.Checkpoint{}
	if after != nil {
		cp = *after
	}

	query := `
		SELECT collection, id, owner_id, payload, updated_at, deleted
		FROM documents
		WHERE owner_id = ? AND collection = ?
		  AND (updated_at > ? OR (updated_at = ? AND id > ?))
		ORDER BY updated_at ASC, id ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		ownerID, collection,
		cp.UpdatedAt, cp.UpdatedAt, cp.ID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pull documents: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var docs []*models.Document
	for rows.Next() {
		doc := &models.Document{}
		var deleted int

		err := rows.Scan(
			&doc.Collection,
			&doc.ID,
			&doc.OwnerID,
			&doc.Payload,
			&doc.UpdatedAt,
			&deleted,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}

		doc.Deleted = intToBool(deleted)
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return docs, nil
}

// Helper functions for bool/int conversion
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool {
	return i != 0
}
