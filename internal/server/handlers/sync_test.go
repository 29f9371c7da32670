package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wishstash/wishstash/internal/models"
	"github.com/wishstash/wishstash/internal/server/events"
	"github.com/wishstash/wishstash/internal/server/storage"
	"github.com/wishstash/wishstash/pkg/api"
)

// mockDocumentStorage is an in-memory DocumentStorage for handler tests.
// Revisions are assigned from a simple counter.
type mockDocumentStorage struct {
	docs       map[string]*models.Document // collection/id -> document
	nextRev    int64
	applyError error
	pullError  error
}

func newMockDocumentStorage() *mockDocumentStorage {
	return &mockDocumentStorage{
		docs:    map[string]*models.Document{},
		nextRev: 1000,
	}
}

func (m *mockDocumentStorage) key(collection, id string) string {
	return collection + "/" + id
}

func (m *mockDocumentStorage) ApplyDocument(ctx context.Context, doc *models.Document, baseRevision int64) (storage.ApplyOutcome, error) {
	if m.applyError != nil {
		return storage.ApplyOutcome{}, m.applyError
	}

	existing, ok := m.docs[m.key(doc.Collection, doc.ID)]
	if ok {
		if existing.OwnerID != doc.OwnerID {
			return storage.ApplyOutcome{}, storage.ErrNotOwner
		}
		if existing.UpdatedAt != baseRevision {
			return storage.ApplyOutcome{Document: existing, Conflict: true}, nil
		}
	} else if baseRevision != 0 {
		return storage.ApplyOutcome{Conflict: true}, nil
	}

	m.nextRev++
	stored := doc.Clone()
	stored.UpdatedAt = m.nextRev
	m.docs[m.key(doc.Collection, doc.ID)] = stored
	return storage.ApplyOutcome{Document: stored}, nil
}

func (m *mockDocumentStorage) GetDocument(ctx context.Context, collection, id string) (*models.Document, error) {
	doc, ok := m.docs[m.key(collection, id)]
	if !ok {
		return nil, storage.ErrDocumentNotFound
	}
	return doc, nil
}

func (m *mockDocumentStorage) PullDocuments(ctx context.Context, ownerID, collection string, after *models.Checkpoint, limit int) ([]*models.Document, error) {
	if m.pullError != nil {
		return nil, m.pullError
	}

	var result []*models.Document
	for _, doc := range m.docs {
		if doc.OwnerID != ownerID || doc.Collection != collection {
			continue
		}
		if after != nil && !after.Before(doc) {
			continue
		}
		result = append(result, doc)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key().Less(result[j].Key())
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func authedRequest(method, target, collection string, body []byte) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	ctx := context.WithValue(req.Context(), UserIDKey, "user-1")
	req = req.WithContext(ctx)
	if collection != "" {
		req.SetPathValue("collection", collection)
	}
	return req
}

func TestSyncHandler_Pull_Unauthorized(t *testing.T) {
	handler := NewSyncHandler(setupTestLogger(), newMockDocumentStorage(), nil)

	body, _ := json.Marshal(api.PullRequest{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/list/pull", bytes.NewReader(body))
	req.SetPathValue("collection", "list")

	w := httptest.NewRecorder()
	handler.Pull(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSyncHandler_Pull_UnknownCollection(t *testing.T) {
	handler := NewSyncHandler(setupTestLogger(), newMockDocumentStorage(), nil)

	body, _ := json.Marshal(api.PullRequest{})
	req := authedRequest(http.MethodPost, "/api/v1/sync/bogus/pull", "bogus", body)

	w := httptest.NewRecorder()
	handler.Pull(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSyncHandler_Pull_Paginates(t *testing.T) {
	docStorage := newMockDocumentStorage()
	for _, id := range []string{"a", "b", "c"} {
		docStorage.nextRev++
		docStorage.docs["list/"+id] = &models.Document{
			ID:         id,
			Collection: models.CollectionList,
			OwnerID:    "user-1",
			Payload:    json.RawMessage(`{}`),
			UpdatedAt:  docStorage.nextRev,
		}
	}
	handler := NewSyncHandler(setupTestLogger(), docStorage, nil)

	// First page of two
	body, _ := json.Marshal(api.PullRequest{Limit: 2})
	w := httptest.NewRecorder()
	handler.Pull(w, authedRequest(http.MethodPost, "/api/v1/sync/list/pull", "list", body))

	require.Equal(t, http.StatusOK, w.Code)
	var resp api.PullResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Documents, 2)
	require.NotNil(t, resp.Checkpoint)
	assert.Equal(t, "b", resp.Checkpoint.ID)

	// Resume from the returned checkpoint
	body, _ = json.Marshal(api.PullRequest{Checkpoint: resp.Checkpoint, Limit: 2})
	w = httptest.NewRecorder()
	handler.Pull(w, authedRequest(http.MethodPost, "/api/v1/sync/list/pull", "list", body))

	require.Equal(t, http.StatusOK, w.Code)
	resp = api.PullResponse{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Documents, 1)
	assert.Equal(t, "c", resp.Documents[0].ID)

	// Drained stream returns no documents and no checkpoint
	body, _ = json.Marshal(api.PullRequest{Checkpoint: resp.Checkpoint, Limit: 2})
	w = httptest.NewRecorder()
	handler.Pull(w, authedRequest(http.MethodPost, "/api/v1/sync/list/pull", "list", body))

	require.Equal(t, http.StatusOK, w.Code)
	resp = api.PullResponse{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Empty(t, resp.Documents)
	assert.Nil(t, resp.Checkpoint)
}

func TestSyncHandler_Push_AcceptsAndPublishes(t *testing.T) {
	docStorage := newMockDocumentStorage()
	hub := events.NewHub(setupTestLogger())
	queue := hub.Connect("user-1")
	handler := NewSyncHandler(setupTestLogger(), docStorage, hub)

	body, _ := json.Marshal(api.PushRequest{Documents: []api.Document{
		{ID: "doc-1", Payload: json.RawMessage(`{"title":"birthday"}`), UpdatedAt: 0},
		{ID: "doc-2", Payload: json.RawMessage(`{"title":"holiday"}`), UpdatedAt: 0},
	}})
	w := httptest.NewRecorder()
	handler.Push(w, authedRequest(http.MethodPost, "/api/v1/sync/list/push", "list", body))

	require.Equal(t, http.StatusOK, w.Code)

	var resp api.PushResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Empty(t, resp.Conflicts)

	assert.Len(t, docStorage.docs, 2)

	// A single change event covers the whole batch
	select {
	case frame := <-queue.Events():
		assert.Equal(t, api.EventListChanged, frame.Kind)
		assert.ElementsMatch(t, []string{"doc-1", "doc-2"}, frame.SubjectIDs)
	default:
		t.Fatal("expected a change event")
	}
	select {
	case <-queue.Events():
		t.Fatal("expected exactly one event for the batch")
	default:
	}
}

func TestSyncHandler_Push_ConflictReturnsServerDocument(t *testing.T) {
	docStorage := newMockDocumentStorage()
	docStorage.docs["list/doc-1"] = &models.Document{
		ID:         "doc-1",
		Collection: models.CollectionList,
		OwnerID:    "user-1",
		Payload:    json.RawMessage(`{"title":"server"}`),
		UpdatedAt:  500,
	}
	hub := events.NewHub(setupTestLogger())
	queue := hub.Connect("user-1")
	handler := NewSyncHandler(setupTestLogger(), docStorage, hub)

	// Base revision 400 is stale; server is at 500
	body, _ := json.Marshal(api.PushRequest{Documents: []api.Document{
		{ID: "doc-1", Payload: json.RawMessage(`{"title":"client"}`), UpdatedAt: 400},
	}})
	w := httptest.NewRecorder()
	handler.Push(w, authedRequest(http.MethodPost, "/api/v1/sync/list/push", "list", body))

	require.Equal(t, http.StatusOK, w.Code)

	var resp api.PushResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Conflicts, 1)
	assert.Equal(t, "doc-1", resp.Conflicts[0].DocumentID)
	require.NotNil(t, resp.Conflicts[0].ServerDocument)
	assert.Equal(t, int64(500), resp.Conflicts[0].ServerDocument.UpdatedAt)
	assert.JSONEq(t, `{"title":"server"}`, string(resp.Conflicts[0].ServerDocument.Payload))

	// The server document did not change
	assert.Equal(t, int64(500), docStorage.docs["list/doc-1"].UpdatedAt)

	// Nothing was accepted, so no event fires
	select {
	case <-queue.Events():
		t.Fatal("conflict-only push must not publish an event")
	default:
	}
}

func TestSyncHandler_Push_MixedBatch(t *testing.T) {
	docStorage := newMockDocumentStorage()
	docStorage.docs["entry/known"] = &models.Document{
		ID:         "known",
		Collection: models.CollectionEntry,
		OwnerID:    "user-1",
		Payload:    json.RawMessage(`{}`),
		UpdatedAt:  700,
	}
	handler := NewSyncHandler(setupTestLogger(), docStorage, events.NewHub(setupTestLogger()))

	body, _ := json.Marshal(api.PushRequest{Documents: []api.Document{
		{ID: "known", Payload: json.RawMessage(`{"v":2}`), UpdatedAt: 700}, // matching base, accepted
		{ID: "stale", Payload: json.RawMessage(`{}`), UpdatedAt: 123},      // unknown doc with a base, conflict
		{ID: "fresh", Payload: json.RawMessage(`{}`), UpdatedAt: 0},        // new, accepted
	}})
	w := httptest.NewRecorder()
	handler.Push(w, authedRequest(http.MethodPost, "/api/v1/sync/entry/push", "entry", body))

	require.Equal(t, http.StatusOK, w.Code)

	var resp api.PushResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Conflicts, 1)
	assert.Equal(t, "stale", resp.Conflicts[0].DocumentID)
	assert.Nil(t, resp.Conflicts[0].ServerDocument)
}

func TestSyncHandler_Push_NotOwner(t *testing.T) {
	docStorage := newMockDocumentStorage()
	docStorage.docs["list/doc-1"] = &models.Document{
		ID:         "doc-1",
		Collection: models.CollectionList,
		OwnerID:    "someone-else",
		Payload:    json.RawMessage(`{}`),
		UpdatedAt:  500,
	}
	handler := NewSyncHandler(setupTestLogger(), docStorage, events.NewHub(setupTestLogger()))

	body, _ := json.Marshal(api.PushRequest{Documents: []api.Document{
		{ID: "doc-1", Payload: json.RawMessage(`{}`), UpdatedAt: 500},
	}})
	w := httptest.NewRecorder()
	handler.Push(w, authedRequest(http.MethodPost, "/api/v1/sync/list/push", "list", body))

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSyncHandler_Push_BatchTooLarge(t *testing.T) {
	handler := NewSyncHandler(setupTestLogger(), newMockDocumentStorage(), events.NewHub(setupTestLogger()))

	docs := make([]api.Document, maxPushBatch+1)
	for i := range docs {
		docs[i] = api.Document{ID: "doc", Payload: json.RawMessage(`{}`)}
	}
	body, _ := json.Marshal(api.PushRequest{Documents: docs})
	w := httptest.NewRecorder()
	handler.Push(w, authedRequest(http.MethodPost, "/api/v1/sync/list/push", "list", body))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSyncHandler_Push_TombstoneAccepted(t *testing.T) {
	docStorage := newMockDocumentStorage()
	docStorage.docs["mark/doc-1"] = &models.Document{
		ID:         "doc-1",
		Collection: models.CollectionMark,
		OwnerID:    "user-1",
		Payload:    json.RawMessage(`{}`),
		UpdatedAt:  300,
	}
	handler := NewSyncHandler(setupTestLogger(), docStorage, events.NewHub(setupTestLogger()))

	body, _ := json.Marshal(api.PushRequest{Documents: []api.Document{
		{ID: "doc-1", Payload: json.RawMessage(`{}`), UpdatedAt: 300, Deleted: true},
	}})
	w := httptest.NewRecorder()
	handler.Push(w, authedRequest(http.MethodPost, "/api/v1/sync/mark/push", "mark", body))

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, docStorage.docs["mark/doc-1"].Deleted)
}
