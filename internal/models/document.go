package models

import "encoding/json"

// Collection names for the three replicated document tables.
const (
	CollectionList  = "list"
	CollectionEntry = "entry"
	CollectionMark  = "mark"
)

// Collections lists every replicated collection in a stable order.
var Collections = []string{CollectionList, CollectionEntry, CollectionMark}

// ValidCollection reports whether name is a known collection.
func ValidCollection(name string) bool {
	switch name {
	case CollectionList, CollectionEntry, CollectionMark:
		return true
	}
	return false
}

// Document is a replicated record in one collection. The payload is opaque
// to the sync layer. UpdatedAt is the server-assigned revision (unix
// milliseconds, strictly monotonic per document); Deleted is a soft-delete
// tombstone replicated like any other mutation.
type Document struct {
	ID         string          `json:"id"`
	Collection string          `json:"collection"`
	OwnerID    string          `json:"owner_id"`
	Payload    json.RawMessage `json:"payload"`
	UpdatedAt  int64           `json:"updated_at"`
	Deleted    bool            `json:"deleted"`
}

// Clone creates a deep copy of the document
func (d *Document) Clone() *Document {
	payload := make(json.RawMessage, len(d.Payload))
	copy(payload, d.Payload)

	return &Document{
		ID:         d.ID,
		Collection: d.Collection,
		OwnerID:    d.OwnerID,
		Payload:    payload,
		UpdatedAt:  d.UpdatedAt,
		Deleted:    d.Deleted,
	}
}

// Key returns the document's position in the pull stream ordering.
func (d *Document) Key() Checkpoint {
	return Checkpoint{UpdatedAt: d.UpdatedAt, ID: d.ID}
}

// Checkpoint is an opaque cursor into the server-ordered change stream:
// the (updated_at, id) key of the last fully consumed document. The pair
// is a total order over the stream, so a checkpoint resumes it
// unambiguously even when many documents share an updated_at.
type Checkpoint struct {
	ID        string `json:"id"`
	UpdatedAt int64  `json:"updated_at"`
}

// Less reports whether c orders strictly before other in
// (updated_at, id) order.
func (c Checkpoint) Less(other Checkpoint) bool {
	if c.UpdatedAt != other.UpdatedAt {
		return c.UpdatedAt < other.UpdatedAt
	}
	return c.ID < other.ID
}

// Before reports whether the checkpoint orders strictly before the
// document's key, i.e. the document has not been consumed yet.
func (c Checkpoint) Before(d *Document) bool {
	return c.Less(d.Key())
}
