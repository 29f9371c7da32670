package boltdb

import (
	"github.com/wishstash/wishstash/internal/client/storage"
)

// subscriberBuffer absorbs bursts of applied documents during a sync
// cycle without dropping changes for a consumer that keeps up between
// batches
const subscriberBuffer = 64

// subscriber is one Subscribe caller's change feed
type subscriber struct {
	collection string
	ch         chan storage.Change
}

// Subscribe opens a live change feed. An empty collection watches every
// collection. The feed only carries committed writes.
func (s *Storage) Subscribe(collection string) *storage.Subscription {
	sub := &subscriber{
		collection: collection,
		ch:         make(chan storage.Change, subscriberBuffer),
	}

	s.subMu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = sub
	s.subMu.Unlock()

	return storage.NewSubscription(sub.ch, func() {
		s.dropSubscriber(id)
	})
}

func (s *Storage) dropSubscriber(id uint64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if sub, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(sub.ch)
	}
}

// closeSubscriptions ends every open feed on store shutdown
func (s *Storage) closeSubscriptions() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for id, sub := range s.subs {
		delete(s.subs, id)
		close(sub.ch)
	}
}

// notify fans a committed change out to matching subscribers. A full
// buffer drops the change rather than blocking the writer; the feed is
// an invalidation hint, not a log.
func (s *Storage) notify(change storage.Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, sub := range s.subs {
		if sub.collection != "" && sub.collection != change.Collection {
			continue
		}
		select {
		case sub.ch <- change:
		default:
		}
	}
}
