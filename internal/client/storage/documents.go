package storage

import (
	"context"
	"encoding/json"

	"github.com/wishstash/wishstash/pkg/api"
)

//go:generate moq -out documentstore_mock.go . DocumentStore

// LocalDocument is the client-side state of one replicated document.
//
// BaseRevision is the last server revision this document was synced
// against (0 for documents the server has never seen). LocalSeq increases
// on every local edit; the sync layer remembers the sequence it pushed and
// only marks the document clean if it is unchanged, so an edit that lands
// mid-push is never lost.
type LocalDocument struct {
	ID           string          `json:"id"`
	Payload      json.RawMessage `json:"payload"`
	BaseRevision int64           `json:"base_revision"`
	LocalSeq     uint64          `json:"local_seq"`
	Dirty        bool            `json:"dirty"`
	Deleted      bool            `json:"deleted"`
	ModifiedAt   int64           `json:"modified_at"`
}

// DocumentStore defines the client-side document persistence interface.
// Documents are grouped by collection name.
type DocumentStore interface {
	// SaveLocal records a local create or edit. The document becomes
	// dirty and its LocalSeq advances. Returns the stored state.
	SaveLocal(ctx context.Context, collection, id string, payload json.RawMessage) (*LocalDocument, error)

	// DeleteLocal tombstones a document locally. A document the server
	// has never seen is dropped outright, with nothing left to push.
	// Returns ErrDocumentNotFound if the document doesn't exist.
	DeleteLocal(ctx context.Context, collection, id string) error

	// Get retrieves a document by id, tombstones included.
	// Returns ErrDocumentNotFound if it doesn't exist.
	Get(ctx context.Context, collection, id string) (*LocalDocument, error)

	// ListActive returns all non-deleted documents in a collection.
	ListActive(ctx context.Context, collection string) ([]*LocalDocument, error)

	// DirtyDocuments returns all documents with unpushed local changes.
	DirtyDocuments(ctx context.Context, collection string) ([]*LocalDocument, error)

	// ApplyServer writes a document received from the server. A dirty
	// local document is left untouched and applied=false is returned;
	// the local edit wins until it has been pushed. A clean server
	// tombstone removes the local record.
	ApplyServer(ctx context.Context, collection string, doc api.Document) (applied bool, err error)

	// MarkClean clears the dirty flag after a successful push, but only
	// if the document's LocalSeq still equals localSeq. BaseRevision is
	// updated to serverRevision either way.
	MarkClean(ctx context.Context, collection, id string, localSeq uint64, serverRevision int64) error

	// PendingCount returns the number of dirty documents across all
	// collections.
	PendingCount(ctx context.Context) (int, error)

	// ResetCollection drops all clean documents in a collection. Dirty
	// documents survive so their changes can still be pushed.
	ResetCollection(ctx context.Context, collection string) error

	// Subscribe opens a live feed of committed changes to one collection,
	// or to every collection when collection is empty. The caller owns
	// the returned handle and must Cancel it.
	Subscribe(collection string) *Subscription
}
