package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/wishstash/wishstash/internal/models"
	"github.com/wishstash/wishstash/internal/server/events"
	"github.com/wishstash/wishstash/internal/server/storage"
	"github.com/wishstash/wishstash/pkg/api"
)

const (
	// defaultPullLimit is used when the client does not ask for a page size
	defaultPullLimit = 50
	// maxPullLimit caps the page size a client may request
	maxPullLimit = 200
	// maxPushBatch caps how many documents one push request may carry
	maxPushBatch = 100
)

// changeEventKind maps a collection to the event emitted when documents
// in it change.
var changeEventKind = map[string]api.EventKind{
	models.CollectionList:  api.EventListChanged,
	models.CollectionEntry: api.EventEntryChanged,
	models.CollectionMark:  api.EventMarkChanged,
}

// SyncHandler handles per-collection pull and push requests
type SyncHandler struct {
	logger  *slog.Logger
	storage storage.DocumentStorage
	hub     *events.Hub
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(logger *slog.Logger, docStorage storage.DocumentStorage, hub *events.Hub) *SyncHandler {
	return &SyncHandler{
		logger:  logger,
		storage: docStorage,
		hub:     hub,
	}
}

// Pull handles POST /api/v1/sync/{collection}/pull
// Returns up to limit documents strictly after the client's checkpoint in
// (updated_at, id) order, plus the checkpoint of the last returned one.
func (h *SyncHandler) Pull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		sendError(w, h.logger, "unauthorized", http.StatusUnauthorized)
		return
	}

	collection := r.PathValue("collection")
	if !models.ValidCollection(collection) {
		sendError(w, h.logger, "unknown collection", http.StatusNotFound)
		return
	}

	var req api.PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode pull request", slog.Any("error", err))
		sendError(w, h.logger, "invalid request body", http.StatusBadRequest)
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultPullLimit
	}
	if limit > maxPullLimit {
		limit = maxPullLimit
	}

	var after *models.Checkpoint
	if req.Checkpoint != nil {
		after = &models.Checkpoint{
			ID:        req.Checkpoint.ID,
			UpdatedAt: req.Checkpoint.UpdatedAt,
		}
	}

	docs, err := h.storage.PullDocuments(ctx, userID, collection, after, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to pull documents",
			slog.Any("error", err),
			slog.String("user_id", userID),
			slog.String("collection", collection))
		sendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := api.PullResponse{
		Documents: make([]api.Document, 0, len(docs)),
	}
	for _, doc := range docs {
		resp.Documents = append(resp.Documents, api.Document{
			ID:        doc.ID,
			Payload:   doc.Payload,
			UpdatedAt: doc.UpdatedAt,
			Deleted:   doc.Deleted,
		})
	}
	if len(docs) > 0 {
		last := docs[len(docs)-1]
		resp.Checkpoint = &api.Checkpoint{ID: last.ID, UpdatedAt: last.UpdatedAt}
	}

	h.logger.InfoContext(ctx, "pull completed",
		slog.String("user_id", userID),
		slog.String("collection", collection),
		slog.Int("documents", len(resp.Documents)))

	sendJSON(w, h.logger, resp, http.StatusOK)
}

// Push handles POST /api/v1/sync/{collection}/push
// Applies the batch document by document. Base revision mismatches come
// back as conflicts with the server's winning version; everything not
// listed in the response was accepted.
func (h *SyncHandler) Push(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		sendError(w, h.logger, "unauthorized", http.StatusUnauthorized)
		return
	}

	collection := r.PathValue("collection")
	if !models.ValidCollection(collection) {
		sendError(w, h.logger, "unknown collection", http.StatusNotFound)
		return
	}

	var req api.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode push request", slog.Any("error", err))
		sendError(w, h.logger, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Documents) > maxPushBatch {
		sendError(w, h.logger, "push batch too large", http.StatusBadRequest)
		return
	}

	resp := api.PushResponse{Conflicts: []api.Conflict{}}
	accepted := make([]string, 0, len(req.Documents))

	for _, wireDoc := range req.Documents {
		if wireDoc.ID == "" {
			sendError(w, h.logger, "document id is required", http.StatusBadRequest)
			return
		}

		doc := &models.Document{
			ID:         wireDoc.ID,
			Collection: collection,
			OwnerID:    userID,
			Payload:    wireDoc.Payload,
			Deleted:    wireDoc.Deleted,
		}

		// On the wire UpdatedAt carries the client's last known server
		// revision; the server assigns the real one on apply.
		outcome, err := h.storage.ApplyDocument(ctx, doc, wireDoc.UpdatedAt)
		if err != nil {
			if errors.Is(err, storage.ErrNotOwner) {
				h.logger.WarnContext(ctx, "push rejected: not owner",
					slog.String("user_id", userID),
					slog.String("document_id", wireDoc.ID))
				sendError(w, h.logger, "document belongs to another user", http.StatusForbidden)
				return
			}
			h.logger.ErrorContext(ctx, "failed to apply document",
				slog.Any("error", err),
				slog.String("document_id", wireDoc.ID))
			sendError(w, h.logger, "internal server error", http.StatusInternalServerError)
			return
		}

		if outcome.Conflict {
			conflict := api.Conflict{
				DocumentID: wireDoc.ID,
				Error:      "base revision does not match server state",
			}
			if outcome.Document != nil {
				conflict.ServerDocument = &api.Document{
					ID:        outcome.Document.ID,
					Payload:   outcome.Document.Payload,
					UpdatedAt: outcome.Document.UpdatedAt,
					Deleted:   outcome.Document.Deleted,
				}
			}
			resp.Conflicts = append(resp.Conflicts, conflict)
			continue
		}

		accepted = append(accepted, wireDoc.ID)
	}

	// One change event for the whole batch, delivered to the user's other
	// devices through the realtime channel. Best effort.
	if len(accepted) > 0 && h.hub != nil {
		h.hub.Publish(userID, api.EventFrame{
			Kind:       changeEventKind[collection],
			SubjectIDs: accepted,
		})
	}

	h.logger.InfoContext(ctx, "push completed",
		slog.String("user_id", userID),
		slog.String("collection", collection),
		slog.Int("received", len(req.Documents)),
		slog.Int("conflicts", len(resp.Conflicts)))

	sendJSON(w, h.logger, resp, http.StatusOK)
}
