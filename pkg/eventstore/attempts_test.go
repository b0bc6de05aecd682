package eventstore_test

import (
	"context"
	"testing"

	"github.com/dyluth/drey/internal/storetest"
	"github.com/dyluth/drey/pkg/eventstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// queueOnly hides the attempt methods of the wrapped store.
type queueOnly struct {
	base eventstore.Store
}

func (q queueOnly) Store(ctx context.Context, collection string, event eventstore.Event) (eventstore.Handle, error) {
	return q.base.Store(ctx, collection, event)
}

func (q queueOnly) Get(ctx context.Context, h eventstore.Handle) (eventstore.Event, bool) {
	return q.base.Get(ctx, h)
}

func (q queueOnly) Remove(ctx context.Context, h eventstore.Handle) error {
	return q.base.Remove(ctx, h)
}

func (q queueOnly) Handles(ctx context.Context) (map[string][]eventstore.Handle, error) {
	return q.base.Handles(ctx)
}

func TestAttemptCountingDecorator(t *testing.T) {
	storetest.Run(t, storetest.Suite{
		New: func(t *testing.T, opts ...eventstore.Option) eventstore.Store {
			return eventstore.NewAttemptCounting(queueOnly{eventstore.NewMemoryStore(opts...)})
		},
	})
}

func TestAsAttemptStore(t *testing.T) {
	t.Run("returns native attempt stores unchanged", func(t *testing.T) {
		mem := eventstore.NewMemoryStore()
		assert.Same(t, mem, eventstore.AsAttemptStore(mem))
	})

	t.Run("wraps stores without attempts", func(t *testing.T) {
		base := queueOnly{eventstore.NewMemoryStore()}
		wrapped := eventstore.AsAttemptStore(base)

		decorator, ok := wrapped.(*eventstore.AttemptCounting)
		require.True(t, ok)
		assert.Equal(t, eventstore.Store(base), decorator.Unwrap())

		ctx := context.Background()
		h, err := wrapped.Store(ctx, "purchases", eventstore.Event{"x": 1.0})
		require.NoError(t, err)
		_, ok = base.Get(ctx, h)
		assert.True(t, ok, "queue operations reach the wrapped store")

		all, err := wrapped.Handles(ctx)
		require.NoError(t, err)
		assert.Equal(t, []eventstore.Handle{h}, all["purchases"])

		require.NoError(t, wrapped.SetAttempts(ctx, "p1", "purchases", "marker"))
		marker, ok, err := wrapped.GetAttempts(ctx, "p1", "purchases")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "marker", marker)

		require.NoError(t, wrapped.Remove(ctx, h))
		_, ok = base.Get(ctx, h)
		assert.False(t, ok)
	})
}

func TestStorageErrorMessage(t *testing.T) {
	err := &eventstore.StorageError{Op: "remove", Handle: "c/1", Err: assert.AnError}
	assert.Contains(t, err.Error(), "remove c/1")
	assert.ErrorIs(t, err, assert.AnError)

	err = &eventstore.StorageError{Op: "store", Collection: "c", Err: assert.AnError}
	assert.Contains(t, err.Error(), `collection "c"`)
}
