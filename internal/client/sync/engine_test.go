package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpClient "github.com/wishstash/wishstash/internal/client/api"
	"github.com/wishstash/wishstash/internal/client/storage"
	"github.com/wishstash/wishstash/internal/client/storage/boltdb"
	"github.com/wishstash/wishstash/internal/models"
	"github.com/wishstash/wishstash/pkg/api"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// mockSyncAPI is a hand-written SyncAPI test double recording every call
type mockSyncAPI struct {
	mu        gosync.Mutex
	pullFunc  func(collection string, req api.PullRequest) (*api.PullResponse, error)
	pushFunc  func(collection string, req api.PushRequest) (*api.PushResponse, error)
	pullCalls []api.PullRequest
	pushCalls []api.PushRequest
}

func (m *mockSyncAPI) Pull(_ context.Context, collection string, req api.PullRequest) (*api.PullResponse, error) {
	m.mu.Lock()
	m.pullCalls = append(m.pullCalls, req)
	m.mu.Unlock()
	if m.pullFunc == nil {
		return &api.PullResponse{Documents: []api.Document{}}, nil
	}
	return m.pullFunc(collection, req)
}

func (m *mockSyncAPI) Push(_ context.Context, collection string, req api.PushRequest) (*api.PushResponse, error) {
	m.mu.Lock()
	m.pushCalls = append(m.pushCalls, req)
	m.mu.Unlock()
	if m.pushFunc == nil {
		return &api.PushResponse{}, nil
	}
	return m.pushFunc(collection, req)
}

func (m *mockSyncAPI) pullCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pullCalls)
}

func newTestStorage(t *testing.T) *boltdb.Storage {
	t.Helper()

	store, err := boltdb.New(context.Background(), filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func newTestEngine(t *testing.T, store *boltdb.Storage, mock *mockSyncAPI, onConflict ConflictNotifier) Engine {
	t.Helper()
	return NewEngine(mock, store, store, setupTestLogger(), onConflict)
}

func seedDirty(t *testing.T, store *boltdb.Storage, collection, id, payload string) *storage.LocalDocument {
	t.Helper()
	doc, err := store.SaveLocal(context.Background(), collection, id, json.RawMessage(payload))
	require.NoError(t, err)
	return doc
}

func seedSynced(t *testing.T, store *boltdb.Storage, collection, id, payload string, revision int64) {
	t.Helper()
	applied, err := store.ApplyServer(context.Background(), collection, api.Document{
		ID:        id,
		Payload:   json.RawMessage(payload),
		UpdatedAt: revision,
	})
	require.NoError(t, err)
	require.True(t, applied)
}

func TestEngine_PushBatches(t *testing.T) {
	store := newTestStorage(t)
	mock := &mockSyncAPI{}
	engine := newTestEngine(t, store, mock, nil)

	for i := 0; i < 25; i++ {
		seedDirty(t, store, models.CollectionEntry, fmt.Sprintf("entry-%02d", i), `{"name":"x"}`)
	}

	result, err := engine.SyncCollection(context.Background(), models.CollectionEntry)
	require.NoError(t, err)
	assert.Equal(t, 25, result.Pushed)

	require.Len(t, mock.pushCalls, 3)
	assert.Len(t, mock.pushCalls[0].Documents, 10)
	assert.Len(t, mock.pushCalls[1].Documents, 10)
	assert.Len(t, mock.pushCalls[2].Documents, 5)

	pending, err := engine.PendingCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
}

func TestEngine_PushCarriesBaseRevision(t *testing.T) {
	store := newTestStorage(t)
	mock := &mockSyncAPI{}
	engine := newTestEngine(t, store, mock, nil)

	seedSynced(t, store, models.CollectionList, "list-1", `{"title":"v1"}`, 500)
	seedDirty(t, store, models.CollectionList, "list-1", `{"title":"v2"}`)
	seedDirty(t, store, models.CollectionList, "list-new", `{"title":"fresh"}`)

	_, err := engine.SyncCollection(context.Background(), models.CollectionList)
	require.NoError(t, err)

	require.Len(t, mock.pushCalls, 1)
	bases := make(map[string]int64)
	for _, doc := range mock.pushCalls[0].Documents {
		bases[doc.ID] = doc.UpdatedAt
	}
	assert.Equal(t, int64(500), bases["list-1"])
	assert.Equal(t, int64(0), bases["list-new"])
}

func TestEngine_ConflictServerWins(t *testing.T) {
	store := newTestStorage(t)

	serverDoc := &api.Document{
		ID:        "list-1",
		Payload:   json.RawMessage(`{"title":"server"}`),
		UpdatedAt: 900,
	}
	mock := &mockSyncAPI{
		pushFunc: func(_ string, _ api.PushRequest) (*api.PushResponse, error) {
			return &api.PushResponse{Conflicts: []api.Conflict{
				{DocumentID: "list-1", Error: "base revision does not match server state", ServerDocument: serverDoc},
			}}, nil
		},
	}

	var notified []api.Conflict
	engine := newTestEngine(t, store, mock, func(collection string, conflicts []api.Conflict) {
		assert.Equal(t, models.CollectionList, collection)
		notified = append(notified, conflicts...)
	})

	seedSynced(t, store, models.CollectionList, "list-1", `{"title":"stale"}`, 500)
	seedDirty(t, store, models.CollectionList, "list-1", `{"title":"mine"}`)

	result, err := engine.SyncCollection(context.Background(), models.CollectionList)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Conflicts)
	assert.Equal(t, 0, result.Pushed)

	doc, err := store.Get(context.Background(), models.CollectionList, "list-1")
	require.NoError(t, err)
	assert.False(t, doc.Dirty)
	assert.JSONEq(t, `{"title":"server"}`, string(doc.Payload))
	assert.Equal(t, int64(900), doc.BaseRevision)

	require.Len(t, notified, 1)
	assert.Equal(t, "list-1", notified[0].DocumentID)
}

func TestEngine_ConflictDeletedOnServer(t *testing.T) {
	store := newTestStorage(t)
	mock := &mockSyncAPI{
		pushFunc: func(_ string, _ api.PushRequest) (*api.PushResponse, error) {
			return &api.PushResponse{Conflicts: []api.Conflict{
				{DocumentID: "entry-1", Error: "document not found"},
			}}, nil
		},
	}
	engine := newTestEngine(t, store, mock, nil)

	seedSynced(t, store, models.CollectionEntry, "entry-1", `{"name":"old"}`, 500)
	seedDirty(t, store, models.CollectionEntry, "entry-1", `{"name":"edited"}`)

	result, err := engine.SyncCollection(context.Background(), models.CollectionEntry)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Conflicts)

	_, err = store.Get(context.Background(), models.CollectionEntry, "entry-1")
	assert.ErrorIs(t, err, storage.ErrDocumentNotFound)
}

func TestEngine_EditDuringPushSurvives(t *testing.T) {
	store := newTestStorage(t)

	serverDoc := &api.Document{
		ID:        "list-1",
		Payload:   json.RawMessage(`{"title":"server"}`),
		UpdatedAt: 900,
	}
	mock := &mockSyncAPI{
		pushFunc: func(_ string, _ api.PushRequest) (*api.PushResponse, error) {
			// The user edits again while the request is in flight
			_, err := store.SaveLocal(context.Background(), models.CollectionList, "list-1", json.RawMessage(`{"title":"newer"}`))
			require.NoError(t, err)
			return &api.PushResponse{Conflicts: []api.Conflict{
				{DocumentID: "list-1", Error: "base revision does not match server state", ServerDocument: serverDoc},
			}}, nil
		},
	}
	engine := newTestEngine(t, store, mock, nil)

	seedSynced(t, store, models.CollectionList, "list-1", `{"title":"stale"}`, 500)
	seedDirty(t, store, models.CollectionList, "list-1", `{"title":"mine"}`)

	_, err := engine.SyncCollection(context.Background(), models.CollectionList)
	require.NoError(t, err)

	// The in-flight edit stays dirty, now based on the server's revision
	// so the next push wins instead of conflicting forever
	doc, err := store.Get(context.Background(), models.CollectionList, "list-1")
	require.NoError(t, err)
	assert.True(t, doc.Dirty)
	assert.JSONEq(t, `{"title":"newer"}`, string(doc.Payload))
	assert.Equal(t, int64(900), doc.BaseRevision)
}

func TestEngine_PullPaginates(t *testing.T) {
	store := newTestStorage(t)

	fullPage := make([]api.Document, pullBatchSize)
	for i := range fullPage {
		fullPage[i] = api.Document{
			ID:        fmt.Sprintf("mark-%03d", i),
			Payload:   json.RawMessage(`{}`),
			UpdatedAt: int64(100 + i),
		}
	}
	lastPage := []api.Document{
		{ID: "mark-100", Payload: json.RawMessage(`{}`), UpdatedAt: 200},
		{ID: "mark-101", Payload: json.RawMessage(`{}`), UpdatedAt: 201},
	}

	mock := &mockSyncAPI{
		pullFunc: func(_ string, req api.PullRequest) (*api.PullResponse, error) {
			if req.Checkpoint == nil {
				last := fullPage[len(fullPage)-1]
				return &api.PullResponse{
					Documents:  fullPage,
					Checkpoint: &api.Checkpoint{ID: last.ID, UpdatedAt: last.UpdatedAt},
				}, nil
			}
			if req.Checkpoint.UpdatedAt < 200 {
				return &api.PullResponse{
					Documents:  lastPage,
					Checkpoint: &api.Checkpoint{ID: "mark-101", UpdatedAt: 201},
				}, nil
			}
			return &api.PullResponse{Documents: []api.Document{}}, nil
		},
	}
	engine := newTestEngine(t, store, mock, nil)

	result, err := engine.SyncCollection(context.Background(), models.CollectionMark)
	require.NoError(t, err)
	assert.Equal(t, pullBatchSize+2, result.Pulled)

	// A short page ends the drain without another round trip
	assert.Equal(t, 2, mock.pullCount())

	cp, err := store.GetCheckpoint(context.Background(), models.CollectionMark)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "mark-101", cp.ID)
	assert.Equal(t, int64(201), cp.UpdatedAt)

	docs, err := store.ListActive(context.Background(), models.CollectionMark)
	require.NoError(t, err)
	assert.Len(t, docs, pullBatchSize+2)
}

func TestEngine_PullResumesFromStoredCheckpoint(t *testing.T) {
	store := newTestStorage(t)
	require.NoError(t, store.SaveCheckpoint(context.Background(), models.CollectionList, api.Checkpoint{ID: "list-5", UpdatedAt: 700}))

	mock := &mockSyncAPI{}
	engine := newTestEngine(t, store, mock, nil)

	_, err := engine.SyncCollection(context.Background(), models.CollectionList)
	require.NoError(t, err)

	require.Len(t, mock.pullCalls, 1)
	require.NotNil(t, mock.pullCalls[0].Checkpoint)
	assert.Equal(t, int64(700), mock.pullCalls[0].Checkpoint.UpdatedAt)
}

func TestEngine_ProtocolErrorPausesCollection(t *testing.T) {
	store := newTestStorage(t)
	mock := &mockSyncAPI{
		pullFunc: func(_ string, _ api.PullRequest) (*api.PullResponse, error) {
			return nil, fmt.Errorf("%w (400): bad checkpoint", httpClient.ErrProtocol)
		},
	}
	engine := newTestEngine(t, store, mock, nil)

	_, err := engine.SyncCollection(context.Background(), models.CollectionList)
	require.ErrorIs(t, err, ErrSyncPaused)
	assert.True(t, engine.Paused(models.CollectionList))
	assert.False(t, engine.Paused(models.CollectionEntry))

	// Paused collections refuse further cycles without touching the server
	before := mock.pullCount()
	_, err = engine.SyncCollection(context.Background(), models.CollectionList)
	require.ErrorIs(t, err, ErrSyncPaused)
	assert.Equal(t, before, mock.pullCount())
}

func TestEngine_TransportErrorDoesNotPause(t *testing.T) {
	store := newTestStorage(t)
	mock := &mockSyncAPI{
		pullFunc: func(_ string, _ api.PullRequest) (*api.PullResponse, error) {
			return nil, fmt.Errorf("server error (503): maintenance")
		},
	}
	engine := newTestEngine(t, store, mock, nil)

	_, err := engine.SyncCollection(context.Background(), models.CollectionList)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSyncPaused)
	assert.False(t, engine.Paused(models.CollectionList))
}

func TestEngine_OutOfOrderPagePauses(t *testing.T) {
	store := newTestStorage(t)
	mock := &mockSyncAPI{
		pullFunc: func(_ string, _ api.PullRequest) (*api.PullResponse, error) {
			return &api.PullResponse{
				Documents: []api.Document{
					{ID: "list-2", Payload: json.RawMessage(`{}`), UpdatedAt: 300},
					{ID: "list-1", Payload: json.RawMessage(`{}`), UpdatedAt: 200},
				},
				Checkpoint: &api.Checkpoint{ID: "list-1", UpdatedAt: 200},
			}, nil
		},
	}
	engine := newTestEngine(t, store, mock, nil)

	_, err := engine.SyncCollection(context.Background(), models.CollectionList)
	require.ErrorIs(t, err, ErrSyncPaused)
	assert.True(t, engine.Paused(models.CollectionList))

	// Nothing from the bad page made it into the store
	docs, err := store.ListActive(context.Background(), models.CollectionList)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestEngine_MismatchedCheckpointPauses(t *testing.T) {
	store := newTestStorage(t)
	mock := &mockSyncAPI{
		pullFunc: func(_ string, _ api.PullRequest) (*api.PullResponse, error) {
			return &api.PullResponse{
				Documents: []api.Document{
					{ID: "list-1", Payload: json.RawMessage(`{}`), UpdatedAt: 200},
				},
				Checkpoint: &api.Checkpoint{ID: "list-9", UpdatedAt: 999},
			}, nil
		},
	}
	engine := newTestEngine(t, store, mock, nil)

	_, err := engine.SyncCollection(context.Background(), models.CollectionList)
	require.ErrorIs(t, err, ErrSyncPaused)
}

func TestEngine_Resync(t *testing.T) {
	store := newTestStorage(t)

	mock := &mockSyncAPI{
		pullFunc: func(_ string, req api.PullRequest) (*api.PullResponse, error) {
			// A resync starts over from the beginning
			assert.Nil(t, req.Checkpoint)
			return &api.PullResponse{
				Documents: []api.Document{
					{ID: "list-1", Payload: json.RawMessage(`{"title":"fresh"}`), UpdatedAt: 1000},
				},
				Checkpoint: &api.Checkpoint{ID: "list-1", UpdatedAt: 1000},
			}, nil
		},
	}
	engine := newTestEngine(t, store, mock, nil)

	seedSynced(t, store, models.CollectionList, "list-1", `{"title":"stale"}`, 500)
	seedSynced(t, store, models.CollectionList, "list-gone", `{"title":"dropped server-side"}`, 600)
	seedDirty(t, store, models.CollectionList, "list-draft", `{"title":"unsent"}`)
	require.NoError(t, store.SaveCheckpoint(context.Background(), models.CollectionList, api.Checkpoint{ID: "list-gone", UpdatedAt: 600}))

	result, err := engine.Resync(context.Background(), models.CollectionList)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pulled)
	assert.False(t, engine.Paused(models.CollectionList))

	// Clean replicated state was rebuilt from the server
	fresh, err := store.Get(context.Background(), models.CollectionList, "list-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"fresh"}`, string(fresh.Payload))

	_, err = store.Get(context.Background(), models.CollectionList, "list-gone")
	assert.ErrorIs(t, err, storage.ErrDocumentNotFound)

	// The unsynced draft was pushed during the resync cycle
	assert.Equal(t, 1, result.Pushed)
}

func TestEngine_ResyncClearsPause(t *testing.T) {
	store := newTestStorage(t)

	failing := true
	mock := &mockSyncAPI{
		pullFunc: func(_ string, _ api.PullRequest) (*api.PullResponse, error) {
			if failing {
				return nil, fmt.Errorf("%w (400): bad checkpoint", httpClient.ErrProtocol)
			}
			return &api.PullResponse{Documents: []api.Document{}}, nil
		},
	}
	engine := newTestEngine(t, store, mock, nil)

	_, err := engine.SyncCollection(context.Background(), models.CollectionEntry)
	require.ErrorIs(t, err, ErrSyncPaused)

	failing = false
	_, err = engine.Resync(context.Background(), models.CollectionEntry)
	require.NoError(t, err)
	assert.False(t, engine.Paused(models.CollectionEntry))
}

func TestEngine_SyncAll(t *testing.T) {
	store := newTestStorage(t)
	mock := &mockSyncAPI{}
	engine := newTestEngine(t, store, mock, nil)

	seedDirty(t, store, models.CollectionList, "list-1", `{}`)
	seedDirty(t, store, models.CollectionEntry, "entry-1", `{}`)
	seedDirty(t, store, models.CollectionMark, "mark-1", `{}`)

	result, err := engine.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Pushed)
	assert.Equal(t, 3, mock.pullCount())
}

func TestEngine_UnknownCollection(t *testing.T) {
	store := newTestStorage(t)
	engine := newTestEngine(t, store, &mockSyncAPI{}, nil)

	_, err := engine.SyncCollection(context.Background(), "nope")
	assert.Error(t, err)

	_, err = engine.Resync(context.Background(), "nope")
	assert.Error(t, err)
}

func TestEngine_CoalescesConcurrentTriggers(t *testing.T) {
	store := newTestStorage(t)

	started := make(chan struct{})
	release := make(chan struct{})
	var once gosync.Once

	mock := &mockSyncAPI{
		pullFunc: func(_ string, _ api.PullRequest) (*api.PullResponse, error) {
			once.Do(func() {
				close(started)
				<-release
			})
			return &api.PullResponse{Documents: []api.Document{}}, nil
		},
	}
	engine := newTestEngine(t, store, mock, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := engine.SyncCollection(context.Background(), models.CollectionList)
		assert.NoError(t, err)
	}()

	<-started

	// Triggers during a running cycle coalesce into one follow-up cycle
	for i := 0; i < 5; i++ {
		result, err := engine.SyncCollection(context.Background(), models.CollectionList)
		require.NoError(t, err)
		assert.Nil(t, result)
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sync cycle did not finish")
	}

	assert.Equal(t, 2, mock.pullCount())
}

func TestEngine_SingleConflictNoticePerCycle(t *testing.T) {
	store := newTestStorage(t)
	mock := &mockSyncAPI{
		pushFunc: func(_ string, req api.PushRequest) (*api.PushResponse, error) {
			resp := &api.PushResponse{}
			for _, doc := range req.Documents {
				resp.Conflicts = append(resp.Conflicts, api.Conflict{
					DocumentID: doc.ID,
					Error:      "stale base revision",
					ServerDocument: &api.Document{
						ID:        doc.ID,
						Payload:   json.RawMessage(`{"server":true}`),
						UpdatedAt: 900,
					},
				})
			}
			return resp, nil
		},
	}

	var notices, notified int
	engine := newTestEngine(t, store, mock, func(_ string, conflicts []api.Conflict) {
		notices++
		notified += len(conflicts)
	})

	// Enough dirty documents for three push batches
	for i := 0; i < 25; i++ {
		seedDirty(t, store, models.CollectionEntry, fmt.Sprintf("entry-%02d", i), `{"v":"mine"}`)
	}

	result, err := engine.SyncCollection(context.Background(), models.CollectionEntry)
	require.NoError(t, err)

	require.Len(t, mock.pushCalls, 3)
	assert.Equal(t, 1, notices)
	assert.Equal(t, 25, notified)
	assert.Equal(t, 25, result.Conflicts)
}
