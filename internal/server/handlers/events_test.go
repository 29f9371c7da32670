package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wishstash/wishstash/internal/server/events"
	"github.com/wishstash/wishstash/pkg/api"
)

// newEventsServer starts a test server that injects userID into the
// request context the way the auth middleware would.
func newEventsServer(t *testing.T, hub *events.Hub, userID string) *httptest.Server {
	t.Helper()

	handler := NewEventsHandler(setupTestLogger(), hub)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		handler.Stream(w, r.WithContext(ctx))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialEvents(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEventsHandler_StreamsPublishedEvents(t *testing.T) {
	hub := events.NewHub(setupTestLogger())
	srv := newEventsServer(t, hub, "user-1")
	conn := dialEvents(t, srv)

	// The streaming task registers with the hub after the upgrade
	require.Eventually(t, func() bool {
		return hub.Connected("user-1")
	}, 2*time.Second, 10*time.Millisecond)

	hub.Publish("user-1", api.EventFrame{Kind: api.EventListChanged, SubjectIDs: []string{"list-1"}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame api.EventFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, api.EventListChanged, frame.Kind)
	assert.Equal(t, []string{"list-1"}, frame.SubjectIDs)
}

func TestEventsHandler_SupersededConnectionCloses(t *testing.T) {
	hub := events.NewHub(setupTestLogger())
	srv := newEventsServer(t, hub, "user-1")

	first := dialEvents(t, srv)
	require.Eventually(t, func() bool {
		return hub.Connected("user-1")
	}, 2*time.Second, 10*time.Millisecond)

	// A second connection for the same user takes over; the first stream
	// ends and its read fails
	second := dialEvents(t, srv)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame api.EventFrame
	err := first.ReadJSON(&frame)
	require.Error(t, err)

	// The successor still receives events
	require.Eventually(t, func() bool {
		return hub.Publish("user-1", api.EventFrame{Kind: api.EventMarkChanged})
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, second.ReadJSON(&frame))
	assert.Equal(t, api.EventMarkChanged, frame.Kind)
}

func TestEventsHandler_ClientCloseRemovesQueue(t *testing.T) {
	hub := events.NewHub(setupTestLogger())
	srv := newEventsServer(t, hub, "user-1")
	conn := dialEvents(t, srv)

	require.Eventually(t, func() bool {
		return hub.Connected("user-1")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return !hub.Connected("user-1")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEventsHandler_Unauthorized(t *testing.T) {
	hub := events.NewHub(setupTestLogger())
	handler := NewEventsHandler(setupTestLogger(), hub)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	w := httptest.NewRecorder()
	handler.Stream(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
