package api

// EventKind names a notification on the realtime channel. Events are
// invalidation hints, not a change log: they carry at most identifiers and
// are never replayed after a reconnect.
type EventKind string

const (
	// EventListChanged signals that one or more list documents changed
	EventListChanged EventKind = "list-changed"

	// EventEntryChanged signals that one or more entry documents changed
	EventEntryChanged EventKind = "entry-changed"

	// EventMarkChanged signals that one or more mark documents changed
	EventMarkChanged EventKind = "mark-changed"

	// EventImportCompleted signals that a background import finished
	EventImportCompleted EventKind = "import-completed"

	// EventKeepalive is emitted periodically on an otherwise idle stream
	// so proxies do not drop the connection and the client can detect a
	// silently dead one
	EventKeepalive EventKind = "keepalive"
)

// EventFrame is a single server-to-client frame on the event stream
type EventFrame struct {
	Kind       EventKind `json:"kind"`
	SubjectIDs []string  `json:"subject_ids,omitempty"`
}
