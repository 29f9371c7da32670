// Package events implements the server-side event channel manager: one
// in-process delivery queue per connected principal, used to push change
// notifications over the realtime stream.
//
// This is a single logical channel per principal, not a durable queue.
// Events published while no channel is open are dropped by design; the
// client's periodic pull is the correctness backstop.
package events

import (
	"log/slog"
	"sync"

	"github.com/wishstash/wishstash/pkg/api"
)

// queueBuffer bounds how many undelivered events a slow consumer can
// accumulate before further publishes to it are dropped.
const queueBuffer = 16

// Queue is one principal's delivery channel. The streaming task consumes
// Events; Superseded is closed when a newer connection for the same
// principal replaces this one.
type Queue struct {
	events     chan api.EventFrame
	superseded chan struct{}
}

// Events returns the channel of published event frames.
func (q *Queue) Events() <-chan api.EventFrame {
	return q.events
}

// Superseded is closed when this queue has been replaced by a newer
// connection and the streaming task should exit.
func (q *Queue) Superseded() <-chan struct{} {
	return q.superseded
}

// Hub maintains the principal-to-queue mapping. Structural changes
// (connect/disconnect) take the hub lock; publishing only holds it long
// enough to look up the queue, and the blocking wait for the next event
// happens entirely outside the lock.
type Hub struct {
	logger *slog.Logger
	queues map[string]*Queue
	mu     sync.Mutex
}

// NewHub creates an empty hub. One instance is constructed at service
// start and passed into request handlers explicitly.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		queues: make(map[string]*Queue),
	}
}

// Connect registers a fresh queue for the principal. Any previous queue
// for the same principal is atomically marked superseded so its streaming
// task exits; a principal converges to exactly one open channel.
func (h *Hub) Connect(principal string) *Queue {
	q := &Queue{
		events:     make(chan api.EventFrame, queueBuffer),
		superseded: make(chan struct{}),
	}

	h.mu.Lock()
	if old, ok := h.queues[principal]; ok {
		close(old.superseded)
	}
	h.queues[principal] = q
	h.mu.Unlock()

	h.logger.Debug("event channel connected", "principal", principal)
	return q
}

// Disconnect removes the principal's queue, but only if q is still the
// active one: a superseded connection cleaning up after itself must not
// tear down its successor. Idempotent.
func (h *Hub) Disconnect(principal string, q *Queue) {
	h.mu.Lock()
	if current, ok := h.queues[principal]; ok && current == q {
		delete(h.queues, principal)
	}
	h.mu.Unlock()

	h.logger.Debug("event channel disconnected", "principal", principal)
}

// Publish enqueues an event for the principal if a channel is open.
// Returns false when the principal has no channel or the queue is full;
// the caller never retries — the client discovers the change on its own
// polling cadence.
func (h *Hub) Publish(principal string, event api.EventFrame) bool {
	h.mu.Lock()
	q, ok := h.queues[principal]
	h.mu.Unlock()

	if !ok {
		return false
	}

	select {
	case q.events <- event:
		return true
	default:
		h.logger.Warn("event queue full, dropping event",
			"principal", principal,
			"kind", event.Kind)
		return false
	}
}

// PublishToMany fans an event out to several principals, best effort and
// independent per principal. Returns the number of successful deliveries.
func (h *Hub) PublishToMany(principals []string, event api.EventFrame) int {
	delivered := 0
	for _, principal := range principals {
		if h.Publish(principal, event) {
			delivered++
		}
	}
	return delivered
}

// Connected reports whether the principal currently has an open channel.
func (h *Hub) Connected(principal string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, ok := h.queues[principal]
	return ok
}

// Len returns the number of open channels.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.queues)
}
