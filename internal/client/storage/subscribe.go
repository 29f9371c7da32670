package storage

import "sync"

// Change describes one committed write to the local store.
type Change struct {
	Collection string
	ID         string
	Deleted    bool
	// Remote is true when the write came from the server rather than a
	// local edit.
	Remote bool
}

// Subscription is a live feed of local store changes. C is closed after
// Cancel or when the store shuts down. Changes a slow consumer cannot
// keep up with are dropped; the store itself always holds current state.
type Subscription struct {
	C <-chan Change

	cancel     func()
	cancelOnce sync.Once
}

// NewSubscription wraps a change channel and its teardown func. Intended
// for DocumentStore implementations and test doubles.
func NewSubscription(ch <-chan Change, cancel func()) *Subscription {
	return &Subscription{C: ch, cancel: cancel}
}

// Cancel releases the subscription. Idempotent.
func (s *Subscription) Cancel() {
	s.cancelOnce.Do(s.cancel)
}
