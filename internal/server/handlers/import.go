package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/wishstash/wishstash/internal/models"
	"github.com/wishstash/wishstash/internal/server/events"
	"github.com/wishstash/wishstash/internal/server/storage"
	"github.com/wishstash/wishstash/pkg/api"
)

// importTimeout bounds the background application of one import batch
const importTimeout = 5 * time.Minute

// ImportHandler accepts bulk document imports. The batch is applied in the
// background; the client learns about completion through an
// import-completed event and picks the documents up on its next pull.
type ImportHandler struct {
	logger  *slog.Logger
	storage storage.DocumentStorage
	hub     *events.Hub
}

// NewImportHandler creates a new import handler
func NewImportHandler(logger *slog.Logger, docStorage storage.DocumentStorage, hub *events.Hub) *ImportHandler {
	return &ImportHandler{
		logger:  logger,
		storage: docStorage,
		hub:     hub,
	}
}

// Import handles POST /api/v1/import
func (h *ImportHandler) Import(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		sendError(w, h.logger, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode import request", slog.Any("error", err))
		sendError(w, h.logger, "invalid request body", http.StatusBadRequest)
		return
	}

	total := 0
	for collection, docs := range req.Documents {
		if !models.ValidCollection(collection) {
			sendError(w, h.logger, "unknown collection: "+collection, http.StatusBadRequest)
			return
		}
		total += len(docs)
	}
	if total == 0 {
		sendError(w, h.logger, "import batch is empty", http.StatusBadRequest)
		return
	}

	// The request is detached from the HTTP lifecycle: the batch keeps
	// applying after the 202 is written.
	go h.apply(userID, req.Documents)

	h.logger.InfoContext(ctx, "import accepted",
		slog.String("user_id", userID),
		slog.Int("documents", total))

	w.WriteHeader(http.StatusAccepted)
}

// apply writes the batch document by document. Conflicting documents keep
// their server state; an import never overwrites newer data.
func (h *ImportHandler) apply(userID string, batch map[string][]api.Document) {
	ctx, cancel := context.WithTimeout(context.Background(), importTimeout)
	defer cancel()

	applied := 0
	skipped := 0
	appliedIDs := make(map[string][]string)

	for _, collection := range models.Collections {
		for _, wireDoc := range batch[collection] {
			if wireDoc.ID == "" {
				skipped++
				continue
			}

			doc := &models.Document{
				ID:         wireDoc.ID,
				Collection: collection,
				OwnerID:    userID,
				Payload:    wireDoc.Payload,
				Deleted:    wireDoc.Deleted,
			}

			outcome, err := h.storage.ApplyDocument(ctx, doc, wireDoc.UpdatedAt)
			if err != nil {
				h.logger.Error("import: failed to apply document",
					slog.Any("error", err),
					slog.String("user_id", userID),
					slog.String("collection", collection),
					slog.String("document_id", wireDoc.ID))
				skipped++
				continue
			}
			if outcome.Conflict {
				skipped++
				continue
			}
			applied++
			appliedIDs[collection] = append(appliedIDs[collection], wireDoc.ID)
		}
	}

	h.logger.Info("import completed",
		slog.String("user_id", userID),
		slog.Int("applied", applied),
		slog.Int("skipped", skipped))

	// Other devices of the account get the same invalidation hints a push
	// would have produced, then the completion signal.
	for _, collection := range models.Collections {
		if ids := appliedIDs[collection]; len(ids) > 0 {
			h.hub.Publish(userID, api.EventFrame{
				Kind:       changeEventKind[collection],
				SubjectIDs: ids,
			})
		}
	}
	h.hub.Publish(userID, api.EventFrame{Kind: api.EventImportCompleted})
}
