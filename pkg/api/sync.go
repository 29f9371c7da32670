package api

import "encoding/json"

// Document is the wire representation of a replicated document.
// Payload is opaque to the sync layer.
type Document struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt int64           `json:"updated_at"`
	Deleted   bool            `json:"deleted"`
}

// Checkpoint marks the last fully consumed position in the server-ordered
// pull stream. Documents are ordered by (updated_at, id) ascending.
type Checkpoint struct {
	ID        string `json:"id"`
	UpdatedAt int64  `json:"updated_at"`
}

// PullRequest asks for up to Limit documents strictly after Checkpoint.
// A nil Checkpoint means "from the beginning".
type PullRequest struct {
	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`
	Limit      int         `json:"limit"`
}

// PullResponse carries server-changed documents in (updated_at, id) order.
// Checkpoint is the key of the last returned document; it is null if and
// only if Documents is empty.
type PullResponse struct {
	Documents  []Document  `json:"documents"`
	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`
}

// PushRequest uploads locally changed documents. Each document's UpdatedAt
// carries the client's last known server revision for that document
// (0 for documents the server has never seen).
type PushRequest struct {
	Documents []Document `json:"documents"`
}

// Conflict reports a pushed document whose base revision no longer matches
// server state. ServerDocument is the server's current version.
type Conflict struct {
	DocumentID     string    `json:"document_id"`
	Error          string    `json:"error"`
	ServerDocument *Document `json:"server_document,omitempty"`
}

// PushResponse lists conflicted documents. Any pushed document not listed
// here was accepted.
type PushResponse struct {
	Conflicts []Conflict `json:"conflicts"`
}

// ImportRequest uploads a batch of documents per collection for background
// application. The server responds 202 and signals completion through the
// event stream.
type ImportRequest struct {
	Documents map[string][]Document `json:"documents"`
}
