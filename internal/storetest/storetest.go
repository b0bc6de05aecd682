// Package storetest holds the behavioural suite every eventstore.Store
// implementation must pass.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/dyluth/drey/pkg/eventstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Suite describes the store under test.
type Suite struct {
	// New returns a fresh, empty store configured with opts.
	New func(t *testing.T, opts ...eventstore.Option) eventstore.Store

	// Reopen, when set, releases s and returns a new store over the same
	// storage. Only durable stores provide it.
	Reopen func(t *testing.T, s eventstore.Store) eventstore.Store
}

// Run executes the whole suite.
func Run(t *testing.T, suite Suite) {
	t.Run("round trip", func(t *testing.T) { testRoundTrip(t, suite) })
	t.Run("caller mutation does not leak", func(t *testing.T) { testDefensiveCopy(t, suite) })
	t.Run("numbers keep every digit", func(t *testing.T) { testNumbers(t, suite) })
	t.Run("unknown handle is absent", func(t *testing.T) { testUnknownHandle(t, suite) })
	t.Run("structural preconditions", func(t *testing.T) { testPreconditions(t, suite) })
	t.Run("idempotent remove", func(t *testing.T) { testIdempotentRemove(t, suite) })
	t.Run("handles grouped in order", func(t *testing.T) { testHandlesOrder(t, suite) })
	t.Run("eviction forgets oldest", func(t *testing.T) { testEviction(t, suite) })
	t.Run("eviction repeats every call", func(t *testing.T) { testEvictionRepeats(t, suite) })
	t.Run("concurrent access", func(t *testing.T) { testConcurrent(t, suite) })
	t.Run("attempt markers", func(t *testing.T) { testAttempts(t, suite) })
	if suite.Reopen != nil {
		t.Run("reopen rediscovers events", func(t *testing.T) { testReopen(t, suite) })
	}
}

func sampleEvent() eventstore.Event {
	return eventstore.Event{
		"item":  "golden widget",
		"price": 12.5,
		"paid":  true,
		"user": map[string]any{
			"id":   float64(42),
			"tags": []any{"new", "vip"},
		},
		"note": nil,
	}
}

func testRoundTrip(t *testing.T, suite Suite) {
	store := suite.New(t)
	ctx := context.Background()

	h, err := store.Store(ctx, "purchases", sampleEvent())
	require.NoError(t, err)
	require.NotEmpty(t, h)

	got, ok := store.Get(ctx, h)
	require.True(t, ok)
	assert.Equal(t, sampleEvent(), got)
}

func testNumbers(t *testing.T, suite Suite) {
	store := suite.New(t)
	ctx := context.Background()

	event := eventstore.Event{
		"count":  7,
		"price":  12.5,
		"id":     int64(9007199254740993),
		"debt":   int64(-9007199254740993),
		"serial": uint64(18446744073709551615),
		"ids":    []any{int64(1 << 62), 3},
	}
	h, err := store.Store(ctx, "purchases", event)
	require.NoError(t, err)

	got, ok := store.Get(ctx, h)
	require.True(t, ok)
	assert.Equal(t, eventstore.Event{
		"count":  float64(7),
		"price":  12.5,
		"id":     int64(9007199254740993),
		"debt":   int64(-9007199254740993),
		"serial": json.Number("18446744073709551615"),
		"ids":    []any{int64(1 << 62), float64(3)},
	}, got)

	want, err := eventstore.EncodeEvent(event)
	require.NoError(t, err)
	again, err := eventstore.EncodeEvent(got)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(again))
	assert.Contains(t, string(again), `"id":9007199254740993`)
}

func testDefensiveCopy(t *testing.T, suite Suite) {
	store := suite.New(t)
	ctx := context.Background()

	event := sampleEvent()
	h, err := store.Store(ctx, "purchases", event)
	require.NoError(t, err)

	event["item"] = "mutated"
	event["user"].(map[string]any)["id"] = float64(7)
	delete(event, "paid")

	got, ok := store.Get(ctx, h)
	require.True(t, ok)
	assert.Equal(t, sampleEvent(), got)

	// mutating a returned copy must not affect the stored one either
	got["item"] = "also mutated"
	again, ok := store.Get(ctx, h)
	require.True(t, ok)
	assert.Equal(t, "golden widget", again["item"])
}

func testUnknownHandle(t *testing.T, suite Suite) {
	store := suite.New(t)
	ctx := context.Background()

	for _, h := range []eventstore.Handle{"", "nope", "purchases/../../etc/passwd", "mem:999999"} {
		got, ok := store.Get(ctx, h)
		assert.False(t, ok, "handle %q", h)
		assert.Nil(t, got)
		assert.NoError(t, store.Remove(ctx, h), "handle %q", h)
	}
}

func testPreconditions(t *testing.T, suite Suite) {
	store := suite.New(t)
	ctx := context.Background()

	_, err := store.Store(ctx, "", sampleEvent())
	assert.ErrorIs(t, err, eventstore.ErrEmptyCollection)

	_, err = store.Store(ctx, "purchases", nil)
	assert.ErrorIs(t, err, eventstore.ErrNilEvent)

	handles, err := store.Handles(ctx)
	require.NoError(t, err)
	assert.Empty(t, handles)
}

func testIdempotentRemove(t *testing.T, suite Suite) {
	store := suite.New(t)
	ctx := context.Background()

	h, err := store.Store(ctx, "purchases", sampleEvent())
	require.NoError(t, err)

	require.NoError(t, store.Remove(ctx, h))
	_, ok := store.Get(ctx, h)
	assert.False(t, ok)

	require.NoError(t, store.Remove(ctx, h))
	_, ok = store.Get(ctx, h)
	assert.False(t, ok)

	handles, err := store.Handles(ctx)
	require.NoError(t, err)
	assert.Empty(t, handles["purchases"])
}

func testHandlesOrder(t *testing.T, suite Suite) {
	store := suite.New(t)
	ctx := context.Background()

	var purchases, signups []eventstore.Handle
	for i := 0; i < 5; i++ {
		h, err := store.Store(ctx, "purchases", eventstore.Event{"n": float64(i)})
		require.NoError(t, err)
		purchases = append(purchases, h)

		if i%2 == 0 {
			h, err := store.Store(ctx, "signups", eventstore.Event{"n": float64(i)})
			require.NoError(t, err)
			signups = append(signups, h)
		}
	}

	handles, err := store.Handles(ctx)
	require.NoError(t, err)
	assert.Len(t, handles, 2)
	assert.Equal(t, purchases, handles["purchases"])
	assert.Equal(t, signups, handles["signups"])

	require.NoError(t, store.Remove(ctx, purchases[2]))
	handles, err = store.Handles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []eventstore.Handle{purchases[0], purchases[1], purchases[3], purchases[4]}, handles["purchases"])

	// unique handles across collections
	seen := make(map[eventstore.Handle]bool)
	for _, h := range append(purchases, signups...) {
		assert.False(t, seen[h], "duplicate handle %q", h)
		seen[h] = true
	}
}

func testEviction(t *testing.T, suite Suite) {
	const maxEvents, forget = 10, 3
	store := suite.New(t, eventstore.WithCapacity(maxEvents, forget))
	ctx := context.Background()

	var stored []eventstore.Handle
	for i := 0; i < maxEvents; i++ {
		h, err := store.Store(ctx, "clicks", eventstore.Event{"n": float64(i)})
		require.NoError(t, err)
		stored = append(stored, h)
	}
	other, err := store.Store(ctx, "views", eventstore.Event{"n": float64(0)})
	require.NoError(t, err)

	h, err := store.Store(ctx, "clicks", eventstore.Event{"n": float64(maxEvents)})
	require.NoError(t, err)

	handles, err := store.Handles(ctx)
	require.NoError(t, err)
	require.Len(t, handles["clicks"], maxEvents-forget+1)
	assert.Equal(t, append(append([]eventstore.Handle(nil), stored[forget:]...), h), handles["clicks"])

	for _, gone := range stored[:forget] {
		_, ok := store.Get(ctx, gone)
		assert.False(t, ok, "handle %q should have been forgotten", gone)
	}
	_, ok := store.Get(ctx, other)
	assert.True(t, ok, "other collections are not evicted")
}

func testEvictionRepeats(t *testing.T, suite Suite) {
	// forgetting a single entry leaves the collection at the cap, so every
	// further write forgets again
	const maxEvents = 4
	store := suite.New(t, eventstore.WithCapacity(maxEvents, 1))
	ctx := context.Background()

	var stored []eventstore.Handle
	for i := 0; i < maxEvents+3; i++ {
		h, err := store.Store(ctx, "clicks", eventstore.Event{"n": float64(i)})
		require.NoError(t, err)
		stored = append(stored, h)
	}

	handles, err := store.Handles(ctx)
	require.NoError(t, err)
	assert.Equal(t, stored[len(stored)-maxEvents:], handles["clicks"])
}

func testConcurrent(t *testing.T, suite Suite) {
	store := suite.New(t, eventstore.WithCapacity(50, 5))
	ctx := context.Background()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		errs   []error
		issued []eventstore.Handle
	)
	record := func(err error) {
		if err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	}

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 30; i++ {
				h, err := store.Store(ctx, fmt.Sprintf("c%d", w%2), eventstore.Event{"w": float64(w), "i": float64(i)})
				record(err)
				if err == nil {
					mu.Lock()
					issued = append(issued, h)
					mu.Unlock()
				}
				_, err = store.Handles(ctx)
				record(err)
			}
		}(w)
	}
	wg.Wait()
	require.Empty(t, errs)

	// two removers racing over the same handles
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, h := range issued {
				record(store.Remove(ctx, h))
			}
		}()
	}
	wg.Wait()
	require.Empty(t, errs)

	handles, err := store.Handles(ctx)
	require.NoError(t, err)
	for collection, hs := range handles {
		assert.Empty(t, hs, "collection %s", collection)
	}
}

func testAttempts(t *testing.T, suite Suite) {
	store := eventstore.AsAttemptStore(suite.New(t))
	ctx := context.Background()

	_, ok, err := store.GetAttempts(ctx, "proj", "purchases")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetAttempts(ctx, "proj", "purchases", `{"a":1}`))
	require.NoError(t, store.SetAttempts(ctx, "proj", "signups", "x"))
	require.NoError(t, store.SetAttempts(ctx, "other", "purchases", "y"))
	require.NoError(t, store.SetAttempts(ctx, "proj", "purchases", `{"a":2}`))

	marker, ok, err := store.GetAttempts(ctx, "proj", "purchases")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"a":2}`, marker)

	marker, ok, err = store.GetAttempts(ctx, "other", "purchases")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "y", marker)
}

func testReopen(t *testing.T, suite Suite) {
	store := suite.New(t)
	ctx := context.Background()

	var stored []eventstore.Handle
	for i := 0; i < 3; i++ {
		h, err := store.Store(ctx, "purchases", eventstore.Event{"n": float64(i)})
		require.NoError(t, err)
		stored = append(stored, h)
	}
	require.NoError(t, store.Remove(ctx, stored[1]))

	reopened := suite.Reopen(t, store)

	handles, err := reopened.Handles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []eventstore.Handle{stored[0], stored[2]}, handles["purchases"])

	got, ok := reopened.Get(ctx, stored[2])
	require.True(t, ok)
	assert.Equal(t, eventstore.Event{"n": float64(2)}, got)

	// new writes sort after the rediscovered ones
	h, err := reopened.Store(ctx, "purchases", eventstore.Event{"n": float64(3)})
	require.NoError(t, err)
	handles, err = reopened.Handles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []eventstore.Handle{stored[0], stored[2], h}, handles["purchases"])
}
