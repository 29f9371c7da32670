// Package sync implements the client-side replication engine: pushing
// dirty documents, pulling server changes behind a per-collection
// checkpoint, and resolving conflicts server-wins.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"

	httpClient "github.com/wishstash/wishstash/internal/client/api"
	"github.com/wishstash/wishstash/internal/client/storage"
	"github.com/wishstash/wishstash/internal/models"
	"github.com/wishstash/wishstash/pkg/api"
)

//go:generate moq -out engine_mock.go . Engine

const (
	// pushBatchSize is how many dirty documents go into one push request
	pushBatchSize = 10
	// pullBatchSize is the page size requested from the server
	pullBatchSize = 50
)

// ErrSyncPaused is returned while a collection is paused after a protocol
// error. Only Resync clears it.
var ErrSyncPaused = errors.New("sync paused after protocol error")

// Result summarizes one sync cycle
type Result struct {
	Pushed    int // documents accepted by the server
	Pulled    int // documents received and applied locally
	Conflicts int // documents resolved server-wins
}

// Add accumulates another cycle's counts
func (r *Result) Add(other Result) {
	r.Pushed += other.Pushed
	r.Pulled += other.Pulled
	r.Conflicts += other.Conflicts
}

// ConflictNotifier is called at most once per sync cycle, carrying every
// conflict from that cycle's push phase, so the UI can tell the user in
// one notice that their copies were superseded.
type ConflictNotifier func(collection string, conflicts []api.Conflict)

// Engine defines the sync engine interface
type Engine interface {
	// SyncCollection runs one push+pull cycle for a collection. Calls
	// are serialized per collection: a call that arrives while a cycle
	// is running coalesces into one follow-up cycle and returns nil.
	SyncCollection(ctx context.Context, collection string) (*Result, error)

	// SyncAll syncs every collection and aggregates the results
	SyncAll(ctx context.Context) (*Result, error)

	// Resync recovers a paused collection: the checkpoint and all clean
	// local documents are dropped, then a fresh cycle re-pulls
	// everything from the beginning.
	Resync(ctx context.Context, collection string) (*Result, error)

	// Paused reports whether the collection is paused after a protocol
	// error
	Paused(collection string) bool

	// PendingCount returns the number of documents with unpushed changes
	PendingCount(ctx context.Context) (int, error)
}

type engine struct {
	client      httpClient.SyncAPI
	docs        storage.DocumentStore
	checkpoints storage.CheckpointStore
	logger      *slog.Logger
	onConflict  ConflictNotifier

	mu     gosync.Mutex
	states map[string]*collectionState
}

// collectionState serializes sync cycles for one collection
type collectionState struct {
	running bool
	pending bool
	paused  bool
}

// NewEngine creates a sync engine. onConflict may be nil.
func NewEngine(client httpClient.SyncAPI, docs storage.DocumentStore, checkpoints storage.CheckpointStore, logger *slog.Logger, onConflict ConflictNotifier) Engine {
	return &engine{
		client:      client,
		docs:        docs,
		checkpoints: checkpoints,
		logger:      logger,
		onConflict:  onConflict,
		states:      make(map[string]*collectionState),
	}
}

func (e *engine) state(collection string) *collectionState {
	if st, ok := e.states[collection]; ok {
		return st
	}
	st := &collectionState{}
	e.states[collection] = st
	return st
}

// SyncCollection runs push+pull cycles until no trigger is pending
func (e *engine) SyncCollection(ctx context.Context, collection string) (*Result, error) {
	if !models.ValidCollection(collection) {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}

	e.mu.Lock()
	st := e.state(collection)
	if st.paused {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSyncPaused, collection)
	}
	if st.running {
		// A cycle is in flight; it will run once more when it finishes
		st.pending = true
		e.mu.Unlock()
		return nil, nil
	}
	st.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		st.running = false
		e.mu.Unlock()
	}()

	total := &Result{}
	for {
		result, err := e.syncOnce(ctx, collection)
		if err != nil {
			return nil, err
		}
		total.Add(*result)

		e.mu.Lock()
		if !st.pending {
			e.mu.Unlock()
			return total, nil
		}
		st.pending = false
		e.mu.Unlock()
	}
}

// SyncAll syncs every collection. The first offline or paused collection
// aborts the rest; they share the same server.
func (e *engine) SyncAll(ctx context.Context) (*Result, error) {
	total := &Result{}
	for _, collection := range models.Collections {
		result, err := e.SyncCollection(ctx, collection)
		if err != nil {
			return nil, err
		}
		if result != nil {
			total.Add(*result)
		}
	}
	return total, nil
}

// syncOnce runs one push phase followed by one pull phase
func (e *engine) syncOnce(ctx context.Context, collection string) (*Result, error) {
	result := &Result{}

	if err := e.push(ctx, collection, result); err != nil {
		return nil, err
	}
	if err := e.pull(ctx, collection, result); err != nil {
		return nil, err
	}

	e.logger.Info("sync cycle completed",
		slog.String("collection", collection),
		slog.Int("pushed", result.Pushed),
		slog.Int("pulled", result.Pulled),
		slog.Int("conflicts", result.Conflicts))

	return result, nil
}

// push uploads dirty documents in batches. Each wire document carries the
// client's base server revision in UpdatedAt.
func (e *engine) push(ctx context.Context, collection string, result *Result) error {
	dirty, err := e.docs.DirtyDocuments(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to collect dirty documents: %w", err)
	}
	if len(dirty) == 0 {
		return nil
	}

	var conflicts []api.Conflict
	for start := 0; start < len(dirty); start += pushBatchSize {
		end := start + pushBatchSize
		if end > len(dirty) {
			end = len(dirty)
		}
		batchConflicts, err := e.pushBatch(ctx, collection, dirty[start:end], result)
		if err != nil {
			return err
		}
		conflicts = append(conflicts, batchConflicts...)
	}

	// One notice per cycle, regardless of how many batches conflicted
	if len(conflicts) > 0 && e.onConflict != nil {
		e.onConflict(collection, conflicts)
	}

	return nil
}

func (e *engine) pushBatch(ctx context.Context, collection string, batch []*storage.LocalDocument, result *Result) ([]api.Conflict, error) {
	req := api.PushRequest{Documents: make([]api.Document, 0, len(batch))}
	pushedSeq := make(map[string]uint64, len(batch))

	for _, doc := range batch {
		req.Documents = append(req.Documents, api.Document{
			ID:        doc.ID,
			Payload:   doc.Payload,
			UpdatedAt: doc.BaseRevision,
			Deleted:   doc.Deleted,
		})
		pushedSeq[doc.ID] = doc.LocalSeq
	}

	resp, err := e.client.Push(ctx, collection, req)
	if err != nil {
		return nil, e.classify(collection, fmt.Errorf("push failed: %w", err))
	}

	conflicted := make(map[string]api.Conflict, len(resp.Conflicts))
	for _, conflict := range resp.Conflicts {
		conflicted[conflict.DocumentID] = conflict
	}

	for _, doc := range batch {
		conflict, isConflict := conflicted[doc.ID]
		if !isConflict {
			// Accepted. The new server revision arrives with the next
			// pull; the base is left as it was until then.
			if err := e.docs.MarkClean(ctx, collection, doc.ID, pushedSeq[doc.ID], doc.BaseRevision); err != nil {
				e.logger.Warn("failed to mark document clean",
					slog.String("collection", collection),
					slog.String("document_id", doc.ID),
					slog.Any("error", err))
			}
			result.Pushed++
			continue
		}

		if err := e.resolveConflict(ctx, collection, doc, pushedSeq[doc.ID], conflict); err != nil {
			return nil, err
		}
		result.Conflicts++
	}

	return resp.Conflicts, nil
}

// resolveConflict applies server-wins resolution. If the document was
// edited again while the push was in flight it stays dirty with its base
// advanced to the server's revision, so the newer edit pushes cleanly on
// the next cycle instead of losing to the stale base forever.
func (e *engine) resolveConflict(ctx context.Context, collection string, doc *storage.LocalDocument, pushedSeq uint64, conflict api.Conflict) error {
	serverRevision := int64(0)
	if conflict.ServerDocument != nil {
		serverRevision = conflict.ServerDocument.UpdatedAt
	}

	if err := e.docs.MarkClean(ctx, collection, doc.ID, pushedSeq, serverRevision); err != nil {
		return fmt.Errorf("failed to resolve conflict for %s: %w", doc.ID, err)
	}

	// The server's winning version replaces a now-clean local copy; a
	// still-dirty one is left for the next push. A conflict without a
	// server document means the document is gone server-side.
	serverDoc := api.Document{ID: doc.ID, Deleted: true}
	if conflict.ServerDocument != nil {
		serverDoc = *conflict.ServerDocument
	}
	if _, err := e.docs.ApplyServer(ctx, collection, serverDoc); err != nil {
		return fmt.Errorf("failed to apply winning document %s: %w", doc.ID, err)
	}

	e.logger.Info("push conflict resolved server-wins",
		slog.String("collection", collection),
		slog.String("document_id", doc.ID))

	return nil
}

// pull drains the server's change stream page by page. The checkpoint
// only advances after a page has been fully applied.
func (e *engine) pull(ctx context.Context, collection string, result *Result) error {
	for {
		cp, err := e.checkpoints.GetCheckpoint(ctx, collection)
		if err != nil {
			return fmt.Errorf("failed to load checkpoint: %w", err)
		}

		resp, err := e.client.Pull(ctx, collection, api.PullRequest{
			Checkpoint: cp,
			Limit:      pullBatchSize,
		})
		if err != nil {
			return e.classify(collection, fmt.Errorf("pull failed: %w", err))
		}

		if len(resp.Documents) == 0 {
			return nil
		}

		if err := validatePage(cp, resp); err != nil {
			return e.classify(collection, fmt.Errorf("%w: %s", httpClient.ErrProtocol, err))
		}

		for _, doc := range resp.Documents {
			applied, err := e.docs.ApplyServer(ctx, collection, doc)
			if err != nil {
				return fmt.Errorf("failed to apply document %s: %w", doc.ID, err)
			}
			if applied {
				result.Pulled++
			}
		}

		if err := e.checkpoints.SaveCheckpoint(ctx, collection, *resp.Checkpoint); err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}

		if len(resp.Documents) < pullBatchSize {
			return nil
		}
	}
}

// validatePage checks the server's ordering contract: documents strictly
// ascending in (updated_at, id), all strictly after the requested
// checkpoint, and the response checkpoint matching the last document.
func validatePage(after *api.Checkpoint, resp *api.PullResponse) error {
	if resp.Checkpoint == nil {
		return errors.New("non-empty page without checkpoint")
	}

	prev := after
	for i := range resp.Documents {
		doc := &resp.Documents[i]
		if prev != nil && !checkpointLess(*prev, api.Checkpoint{ID: doc.ID, UpdatedAt: doc.UpdatedAt}) {
			return fmt.Errorf("document %s out of order", doc.ID)
		}
		prev = &api.Checkpoint{ID: doc.ID, UpdatedAt: doc.UpdatedAt}
	}

	last := resp.Documents[len(resp.Documents)-1]
	if resp.Checkpoint.ID != last.ID || resp.Checkpoint.UpdatedAt != last.UpdatedAt {
		return errors.New("checkpoint does not match last document")
	}

	return nil
}

func checkpointLess(a, b api.Checkpoint) bool {
	if a.UpdatedAt != b.UpdatedAt {
		return a.UpdatedAt < b.UpdatedAt
	}
	return a.ID < b.ID
}

// classify pauses the collection on protocol errors; transport and
// server-side failures pass through for the caller to retry later.
func (e *engine) classify(collection string, err error) error {
	if errors.Is(err, httpClient.ErrProtocol) {
		e.mu.Lock()
		e.state(collection).paused = true
		e.mu.Unlock()

		e.logger.Error("collection paused after protocol error",
			slog.String("collection", collection),
			slog.Any("error", err))

		return fmt.Errorf("%w: %v", ErrSyncPaused, err)
	}
	return err
}

// Resync drops local replicated state for a paused collection and pulls
// it again from the beginning. Dirty documents survive.
func (e *engine) Resync(ctx context.Context, collection string) (*Result, error) {
	if !models.ValidCollection(collection) {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}

	e.mu.Lock()
	e.state(collection).paused = false
	e.mu.Unlock()

	if err := e.checkpoints.DeleteCheckpoint(ctx, collection); err != nil {
		return nil, fmt.Errorf("failed to drop checkpoint: %w", err)
	}
	if err := e.docs.ResetCollection(ctx, collection); err != nil {
		return nil, fmt.Errorf("failed to reset collection: %w", err)
	}

	e.logger.Info("resync started", slog.String("collection", collection))

	return e.SyncCollection(ctx, collection)
}

// Paused reports whether the collection is paused after a protocol error
func (e *engine) Paused(collection string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state(collection).paused
}

// PendingCount returns the number of documents with unpushed changes
func (e *engine) PendingCount(ctx context.Context) (int, error) {
	return e.docs.PendingCount(ctx)
}
