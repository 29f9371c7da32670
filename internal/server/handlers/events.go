package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wishstash/wishstash/internal/server/events"
	"github.com/wishstash/wishstash/pkg/api"
)

const (
	// keepaliveInterval is how often a keepalive frame is written on an
	// otherwise idle stream
	keepaliveInterval = 30 * time.Second
	// writeTimeout bounds a single frame write to a slow peer
	writeTimeout = 10 * time.Second
)

// EventsHandler upgrades GET /api/v1/events to a websocket and streams the
// authenticated user's event queue over it. The stream is one-way; the only
// thing read from the peer is the close handshake.
type EventsHandler struct {
	logger   *slog.Logger
	hub      *events.Hub
	upgrader websocket.Upgrader
}

// NewEventsHandler creates a new event stream handler
func NewEventsHandler(logger *slog.Logger, hub *events.Hub) *EventsHandler {
	return &EventsHandler{
		logger: logger,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Stream handles GET /api/v1/events
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		sendError(w, h.logger, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		h.logger.WarnContext(ctx, "websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	queue := h.hub.Connect(userID)
	defer h.hub.Disconnect(userID, queue)

	// The read pump discards inbound frames and unblocks on close or a
	// broken connection, which is the only disconnect signal we get.
	readClosed := make(chan struct{})
	go func() {
		defer close(readClosed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case frame := <-queue.Events():
			if err := h.writeFrame(conn, frame); err != nil {
				h.logger.DebugContext(ctx, "event write failed, closing stream",
					slog.String("user_id", userID),
					slog.Any("error", err))
				return
			}
			keepalive.Reset(keepaliveInterval)

		case <-keepalive.C:
			if err := h.writeFrame(conn, api.EventFrame{Kind: api.EventKeepalive}); err != nil {
				h.logger.DebugContext(ctx, "keepalive write failed, closing stream",
					slog.String("user_id", userID),
					slog.Any("error", err))
				return
			}

		case <-queue.Superseded():
			// A newer connection for the same user took over
			h.logger.DebugContext(ctx, "event stream superseded", slog.String("user_id", userID))
			return

		case <-readClosed:
			h.logger.DebugContext(ctx, "event stream closed by client", slog.String("user_id", userID))
			return

		case <-ctx.Done():
			return
		}
	}
}

func (h *EventsHandler) writeFrame(conn *websocket.Conn, frame api.EventFrame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(frame)
}
