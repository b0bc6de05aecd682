package redisstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/drey/internal/storetest"
	"github.com/dyluth/drey/pkg/eventstore"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a store connected to a miniredis instance
func setupTestStore(t *testing.T, opts ...eventstore.Option) (*Store, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := New(&redis.Options{Addr: mr.Addr()}, "test-queue", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store, mr
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, storetest.Suite{
		New: func(t *testing.T, opts ...eventstore.Option) eventstore.Store {
			store, _ := setupTestStore(t, opts...)
			return store
		},
		Reopen: func(t *testing.T, s eventstore.Store) eventstore.Store {
			old := s.(*Store)
			reopened, err := New(&redis.Options{Addr: old.Client().Options().Addr}, old.Namespace())
			require.NoError(t, err)
			t.Cleanup(func() { reopened.Close() })
			return reopened
		},
	})
}

func TestNew(t *testing.T) {
	t.Run("creates store successfully", func(t *testing.T) {
		store, _ := setupTestStore(t)
		assert.Equal(t, "test-queue", store.Namespace())
		assert.NoError(t, store.Ping(context.Background()))
	})

	t.Run("rejects empty namespace", func(t *testing.T) {
		_, err := New(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "namespace cannot be empty")
	})
}

func TestRedisLayout(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	h, err := store.Store(ctx, "purchases", eventstore.Event{"item": "hat"})
	require.NoError(t, err)

	assert.Equal(t, "purchases", mr.HGet(EventKey("test-queue", string(h)), "collection"))
	assert.JSONEq(t, `{"item":"hat"}`, mr.HGet(EventKey("test-queue", string(h)), "body"))

	members, err := mr.ZMembers(CollectionKey("test-queue", "purchases"))
	require.NoError(t, err)
	assert.Equal(t, []string{string(h)}, members)

	isMember, err := mr.SIsMember(CollectionsKey("test-queue"), "purchases")
	require.NoError(t, err)
	assert.True(t, isMember)
}

func TestNamespacesAreIsolated(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	other, err := New(&redis.Options{Addr: mr.Addr()}, "other-queue")
	require.NoError(t, err)
	defer other.Close()

	_, err = store.Store(ctx, "purchases", eventstore.Event{"item": "hat"})
	require.NoError(t, err)

	handles, err := other.Handles(ctx)
	require.NoError(t, err)
	assert.Empty(t, handles)
}

func TestDrainedCollectionLeavesIndex(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	h, err := store.Store(ctx, "purchases", eventstore.Event{"item": "hat"})
	require.NoError(t, err)
	require.NoError(t, store.Remove(ctx, h))

	handles, err := store.Handles(ctx)
	require.NoError(t, err)
	assert.Empty(t, handles)

	isMember, _ := mr.SIsMember(CollectionsKey("test-queue"), "purchases")
	assert.False(t, isMember)
}

func TestCorruptHashIsAbsent(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	mr.HSet(EventKey("test-queue", "broken"), "collection", "purchases")
	mr.HSet(EventKey("test-queue", "broken"), "body", "{nope")

	_, ok := store.Get(ctx, "broken")
	assert.False(t, ok)
	assert.NoError(t, store.Remove(ctx, "broken"))
	assert.False(t, mr.Exists(EventKey("test-queue", "broken")))
}

func TestStorageErrorWhenRedisDown(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()
	mr.Close()

	_, err := store.Store(ctx, "purchases", eventstore.Event{"item": "hat"})
	require.Error(t, err)
	assert.True(t, eventstore.IsStorageError(err))

	_, ok := store.Get(ctx, "whatever")
	assert.False(t, ok, "read errors are reported as absent")
}
