// Package data holds the client-side wishlist payload types and the CRUD
// operations over the local document store. The sync layer never looks
// inside these payloads; they exist only on clients.
package data

// List is a wishlist
type List struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

// Entry is one wished item on a list
type Entry struct {
	ID        string `json:"id"`
	ListID    string `json:"list_id"`
	Name      string `json:"name"`
	URL       string `json:"url,omitempty"`
	Note      string `json:"note,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// Mark kinds. A mark is another user's claim on an entry.
const (
	MarkReserved  = "reserved"
	MarkPurchased = "purchased"
)

// Mark is a claim on an entry, e.g. "I am buying this one"
type Mark struct {
	ID        string `json:"id"`
	EntryID   string `json:"entry_id"`
	Kind      string `json:"kind"`
	Comment   string `json:"comment,omitempty"`
	CreatedAt int64  `json:"created_at"`
}
