package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wishstash/wishstash/internal/client/storage"
	"github.com/wishstash/wishstash/internal/models"
)

// ErrNotFound is returned for missing or deleted records
var ErrNotFound = errors.New("record not found")

// Service defines the wishlist data operations. Every write lands in the
// local store as a dirty document; the sync layer carries it to the
// server afterwards.
type Service interface {
	SaveList(ctx context.Context, list *List) error
	GetList(ctx context.Context, id string) (*List, error)
	ListLists(ctx context.Context) ([]*List, error)
	DeleteList(ctx context.Context, id string) error

	SaveEntry(ctx context.Context, entry *Entry) error
	GetEntry(ctx context.Context, id string) (*Entry, error)
	ListEntries(ctx context.Context, listID string) ([]*Entry, error)
	DeleteEntry(ctx context.Context, id string) error

	SaveMark(ctx context.Context, mark *Mark) error
	ListMarks(ctx context.Context, entryID string) ([]*Mark, error)
	DeleteMark(ctx context.Context, id string) error

	// Watch opens a live feed of committed local store changes, scoped to
	// one collection or to all of them when collection is empty. The
	// caller must Cancel the returned handle.
	Watch(collection string) (*storage.Subscription, error)
}

type service struct {
	docs storage.DocumentStore
}

// NewService creates a new data service over the local document store
func NewService(docs storage.DocumentStore) Service {
	return &service{docs: docs}
}

// SaveList creates or updates a wishlist. A missing ID marks a new list.
func (s *service) SaveList(ctx context.Context, list *List) error {
	if list.Title == "" {
		return errors.New("list title is required")
	}
	fillNew(&list.ID, &list.CreatedAt)

	return s.save(ctx, models.CollectionList, list.ID, list)
}

// GetList retrieves a wishlist by id
func (s *service) GetList(ctx context.Context, id string) (*List, error) {
	var list List
	if err := s.get(ctx, models.CollectionList, id, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// ListLists returns all wishlists
func (s *service) ListLists(ctx context.Context) ([]*List, error) {
	docs, err := s.docs.ListActive(ctx, models.CollectionList)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	lists := make([]*List, 0, len(docs))
	for _, doc := range docs {
		var list List
		if err := json.Unmarshal(doc.Payload, &list); err != nil {
			// Skip corrupt payloads
			continue
		}
		lists = append(lists, &list)
	}
	return lists, nil
}

// DeleteList tombstones a wishlist. Entries and marks under it stay; the
// server is the place for cascading cleanup.
func (s *service) DeleteList(ctx context.Context, id string) error {
	return s.delete(ctx, models.CollectionList, id)
}

// SaveEntry creates or updates an item on a wishlist
func (s *service) SaveEntry(ctx context.Context, entry *Entry) error {
	if entry.Name == "" {
		return errors.New("entry name is required")
	}
	if entry.ListID == "" {
		return errors.New("entry must belong to a list")
	}
	fillNew(&entry.ID, &entry.CreatedAt)

	return s.save(ctx, models.CollectionEntry, entry.ID, entry)
}

// GetEntry retrieves an entry by id
func (s *service) GetEntry(ctx context.Context, id string) (*Entry, error) {
	var entry Entry
	if err := s.get(ctx, models.CollectionEntry, id, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListEntries returns the entries of one list, or all entries when listID
// is empty
func (s *service) ListEntries(ctx context.Context, listID string) ([]*Entry, error) {
	docs, err := s.docs.ListActive(ctx, models.CollectionEntry)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	entries := make([]*Entry, 0, len(docs))
	for _, doc := range docs {
		var entry Entry
		if err := json.Unmarshal(doc.Payload, &entry); err != nil {
			continue
		}
		if listID != "" && entry.ListID != listID {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// DeleteEntry tombstones an entry
func (s *service) DeleteEntry(ctx context.Context, id string) error {
	return s.delete(ctx, models.CollectionEntry, id)
}

// SaveMark creates or updates a claim on an entry
func (s *service) SaveMark(ctx context.Context, mark *Mark) error {
	if mark.EntryID == "" {
		return errors.New("mark must reference an entry")
	}
	if mark.Kind != MarkReserved && mark.Kind != MarkPurchased {
		return fmt.Errorf("unknown mark kind: %s", mark.Kind)
	}
	fillNew(&mark.ID, &mark.CreatedAt)

	return s.save(ctx, models.CollectionMark, mark.ID, mark)
}

// ListMarks returns the marks on one entry, or all marks when entryID is
// empty
func (s *service) ListMarks(ctx context.Context, entryID string) ([]*Mark, error) {
	docs, err := s.docs.ListActive(ctx, models.CollectionMark)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	marks := make([]*Mark, 0, len(docs))
	for _, doc := range docs {
		var mark Mark
		if err := json.Unmarshal(doc.Payload, &mark); err != nil {
			continue
		}
		if entryID != "" && mark.EntryID != entryID {
			continue
		}
		marks = append(marks, &mark)
	}
	return marks, nil
}

// DeleteMark tombstones a mark
func (s *service) DeleteMark(ctx context.Context, id string) error {
	return s.delete(ctx, models.CollectionMark, id)
}

// Watch opens a live change feed over the local store
func (s *service) Watch(collection string) (*storage.Subscription, error) {
	if collection != "" && !models.ValidCollection(collection) {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	return s.docs.Subscribe(collection), nil
}

func fillNew(id *string, createdAt *int64) {
	if *id == "" {
		*id = uuid.New().String()
	}
	if *createdAt == 0 {
		*createdAt = time.Now().UnixMilli()
	}
}

func (s *service) save(ctx context.Context, collection, id string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	if _, err := s.docs.SaveLocal(ctx, collection, id, raw); err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

func (s *service) get(ctx context.Context, collection, id string, out interface{}) error {
	doc, err := s.docs.Get(ctx, collection, id)
	if err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get document: %w", err)
	}
	if doc.Deleted {
		return ErrNotFound
	}

	if err := json.Unmarshal(doc.Payload, out); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return nil
}

func (s *service) delete(ctx context.Context, collection, id string) error {
	if err := s.docs.DeleteLocal(ctx, collection, id); err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}
