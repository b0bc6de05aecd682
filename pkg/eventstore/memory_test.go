package eventstore_test

import (
	"context"
	"testing"

	"github.com/dyluth/drey/internal/storetest"
	"github.com/dyluth/drey/pkg/eventstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, storetest.Suite{
		New: func(t *testing.T, opts ...eventstore.Option) eventstore.Store {
			return eventstore.NewMemoryStore(opts...)
		},
	})
}

func TestMemoryStoreDefaultCapacity(t *testing.T) {
	store := eventstore.NewMemoryStore()
	ctx := context.Background()

	first := make([]eventstore.Handle, 0, eventstore.NumberEventsToForget+1)
	for i := 0; i < eventstore.MaxEventsPerCollection; i++ {
		h, err := store.Store(ctx, "clicks", eventstore.Event{"n": float64(i)})
		require.NoError(t, err)
		if len(first) < cap(first) {
			first = append(first, h)
		}
	}
	require.Equal(t, eventstore.MaxEventsPerCollection, store.Len("clicks"))

	_, err := store.Store(ctx, "clicks", eventstore.Event{"n": float64(eventstore.MaxEventsPerCollection)})
	require.NoError(t, err)

	assert.Equal(t, 9901, store.Len("clicks"))
	for _, h := range first[:eventstore.NumberEventsToForget] {
		_, ok := store.Get(ctx, h)
		assert.False(t, ok)
	}
	got, ok := store.Get(ctx, first[eventstore.NumberEventsToForget])
	require.True(t, ok)
	assert.Equal(t, eventstore.Event{"n": float64(eventstore.NumberEventsToForget)}, got)
}

func TestMemoryStoreIgnoresForeignHandles(t *testing.T) {
	store := eventstore.NewMemoryStore()
	ctx := context.Background()

	_, err := store.Store(ctx, "clicks", eventstore.Event{"n": 1.0})
	require.NoError(t, err)

	require.NoError(t, store.Remove(ctx, "clicks/00000000000000000001-1.json"))
	assert.Equal(t, 1, store.Len("clicks"))
}
