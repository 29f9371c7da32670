package storage

import (
	"context"

	"github.com/wishstash/wishstash/internal/models"
)

// ApplyOutcome is the result of applying one pushed document.
type ApplyOutcome struct {
	// Document is the stored state after the call: the freshly applied
	// version on success, or the server's winning version on conflict.
	Document *models.Document

	// Conflict is true when the pushed base revision no longer matched
	// server state and the push was rejected (server-wins).
	Conflict bool
}

// DocumentStorage defines the server-side document persistence interface.
// Tombstoned documents are never physically removed; they stay visible to
// pulls so every replica eventually observes the deletion.
type DocumentStorage interface {
	// ApplyDocument applies a pushed document. baseRevision is the client's
	// last known server revision for the document (0 if the server has
	// never seen it). On a base mismatch the stored document wins and the
	// outcome reports a conflict, unless the push is an identical resend of
	// the already applied state, which is accepted silently.
	// Returns ErrNotOwner if the document belongs to another principal.
	ApplyDocument(ctx context.Context, doc *models.Document, baseRevision int64) (ApplyOutcome, error)

	// GetDocument retrieves a document by collection and id, including
	// tombstones. Returns ErrDocumentNotFound if it doesn't exist.
	GetDocument(ctx context.Context, collection, id string) (*models.Document, error)

	// PullDocuments returns up to limit of the owner's documents strictly
	// after the checkpoint in (updated_at, id) order. A nil checkpoint
	// means "from the beginning". Tombstones are included.
	PullDocuments(ctx context.Context, ownerID, collection string, after *models.Checkpoint, limit int) ([]*models.Document, error)
}
