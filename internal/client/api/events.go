package api

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wishstash/wishstash/pkg/api"
)

// readTimeout bounds how long a read on an idle stream may block. The
// server sends a keepalive every 30 seconds, so a 90 second silence means
// the connection is dead.
const readTimeout = 90 * time.Second

// EventStream is one open realtime connection to the server
type EventStream struct {
	conn *websocket.Conn
}

// DialEvents opens the realtime event stream. The access token travels as
// a query parameter because websocket dials cannot always set headers.
func (c *Client) DialEvents(ctx context.Context) (*EventStream, error) {
	wsURL, err := websocketURL(c.baseURL)
	if err != nil {
		return nil, err
	}
	if token := c.AccessToken(); token != "" {
		wsURL += "?access_token=" + url.QueryEscape(token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == 401 {
			return nil, fmt.Errorf("%w: event stream dial rejected", ErrUnauthorized)
		}
		return nil, fmt.Errorf("failed to dial event stream: %w", err)
	}

	return &EventStream{conn: conn}, nil
}

// Next blocks until the next event frame arrives, keepalives included;
// the caller uses them as liveness signals. Returns an error when the
// stream is broken and must be redialed.
func (s *EventStream) Next(ctx context.Context) (api.EventFrame, error) {
	select {
	case <-ctx.Done():
		return api.EventFrame{}, ctx.Err()
	default:
	}

	if err := s.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return api.EventFrame{}, fmt.Errorf("failed to set read deadline: %w", err)
	}

	var frame api.EventFrame
	if err := s.conn.ReadJSON(&frame); err != nil {
		return api.EventFrame{}, fmt.Errorf("event stream read failed: %w", err)
	}

	return frame, nil
}

// Close tears down the connection
func (s *EventStream) Close() error {
	return s.conn.Close()
}

// websocketURL rewrites an http(s) base URL into its ws(s) counterpart
// pointing at the events endpoint
func websocketURL(baseURL string) (string, error) {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://") + "/api/v1/events", nil
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://") + "/api/v1/events", nil
	default:
		return "", fmt.Errorf("unsupported base URL scheme: %s", baseURL)
	}
}
