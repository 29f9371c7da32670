package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wishstash/wishstash/internal/client/storage"
	"github.com/wishstash/wishstash/internal/models"
	"github.com/wishstash/wishstash/pkg/api"
)

func nextChange(t *testing.T, sub *storage.Subscription) storage.Change {
	t.Helper()
	select {
	case change := <-sub.C:
		return change
	case <-time.After(2 * time.Second):
		t.Fatal("no change delivered")
		return storage.Change{}
	}
}

func assertNoChange(t *testing.T, sub *storage.Subscription) {
	t.Helper()
	select {
	case change := <-sub.C:
		t.Fatalf("unexpected change: %+v", change)
	default:
	}
}

func TestSubscribe_ReceivesCommittedWrites(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	sub := s.Subscribe(models.CollectionList)
	defer sub.Cancel()

	_, err := s.SaveLocal(ctx, models.CollectionList, "list-1", json.RawMessage(`{"title":"birthday"}`))
	require.NoError(t, err)
	change := nextChange(t, sub)
	assert.Equal(t, storage.Change{Collection: models.CollectionList, ID: "list-1"}, change)

	_, err = s.ApplyServer(ctx, models.CollectionList, api.Document{
		ID: "list-2", Payload: json.RawMessage(`{}`), UpdatedAt: 10,
	})
	require.NoError(t, err)
	change = nextChange(t, sub)
	assert.Equal(t, "list-2", change.ID)
	assert.True(t, change.Remote)

	require.NoError(t, s.DeleteLocal(ctx, models.CollectionList, "list-1"))
	change = nextChange(t, sub)
	assert.Equal(t, "list-1", change.ID)
	assert.True(t, change.Deleted)
}

func TestSubscribe_FiltersByCollection(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	sub := s.Subscribe(models.CollectionEntry)
	defer sub.Cancel()

	_, err := s.SaveLocal(ctx, models.CollectionList, "list-1", json.RawMessage(`{}`))
	require.NoError(t, err)
	_, err = s.SaveLocal(ctx, models.CollectionEntry, "entry-1", json.RawMessage(`{}`))
	require.NoError(t, err)

	change := nextChange(t, sub)
	assert.Equal(t, "entry-1", change.ID)
	assertNoChange(t, sub)
}

func TestSubscribe_EmptyCollectionWatchesAll(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	sub := s.Subscribe("")
	defer sub.Cancel()

	_, err := s.SaveLocal(ctx, models.CollectionList, "list-1", json.RawMessage(`{}`))
	require.NoError(t, err)
	_, err = s.SaveLocal(ctx, models.CollectionMark, "mark-1", json.RawMessage(`{}`))
	require.NoError(t, err)

	assert.Equal(t, models.CollectionList, nextChange(t, sub).Collection)
	assert.Equal(t, models.CollectionMark, nextChange(t, sub).Collection)
}

func TestSubscribe_SkippedServerWriteIsSilent(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.SaveLocal(ctx, models.CollectionList, "list-1", json.RawMessage(`{"local":true}`))
	require.NoError(t, err)

	sub := s.Subscribe(models.CollectionList)
	defer sub.Cancel()

	// The dirty local copy wins, so nothing changed
	applied, err := s.ApplyServer(ctx, models.CollectionList, api.Document{
		ID: "list-1", Payload: json.RawMessage(`{"server":true}`), UpdatedAt: 10,
	})
	require.NoError(t, err)
	require.False(t, applied)
	assertNoChange(t, sub)
}

func TestSubscribe_CancelClosesFeed(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	sub := s.Subscribe(models.CollectionList)
	sub.Cancel()
	sub.Cancel()

	_, ok := <-sub.C
	assert.False(t, ok)

	// Writes after cancel neither block nor panic
	_, err := s.SaveLocal(ctx, models.CollectionList, "list-1", json.RawMessage(`{}`))
	require.NoError(t, err)
}

func TestSubscribe_SlowConsumerDropsInsteadOfBlocking(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	sub := s.Subscribe(models.CollectionList)
	defer sub.Cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		_, err := s.SaveLocal(ctx, models.CollectionList, fmt.Sprintf("list-%03d", i), json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	assert.Equal(t, subscriberBuffer, len(sub.C))
}

func TestSubscribe_StoreCloseEndsFeed(t *testing.T) {
	dbPath := t.TempDir() + "/client.db"
	s, err := New(context.Background(), dbPath)
	require.NoError(t, err)

	sub := s.Subscribe("")
	require.NoError(t, s.Close())

	_, ok := <-sub.C
	assert.False(t, ok)
}
