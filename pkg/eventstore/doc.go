// Package eventstore provides the durable queue that buffers events on the
// client until they are uploaded.
//
// # Overview
//
// Events are free-form JSON objects grouped into named collections. The store
// persists a private copy of every event and hands back an opaque Handle. The
// upload machinery later enumerates handles with Handles(), reads the events
// back with Get() and deletes the ones the collection service has resolved with
// Remove().
//
// # Capacity
//
// Every collection is capped at MaxEventsPerCollection entries. When a Store()
// call finds the collection already at the cap, the oldest NumberEventsToForget
// entries are dropped before the new event is written. The check runs on every
// call, so a collection that is still over the cap after forgetting keeps
// shedding entries on each subsequent write. Eviction is silent.
//
// # Implementations
//
//   - MemoryStore: in-process map, lost on exit.
//   - FileStore: one JSON file per event under <root>/<collection>/.
//   - redisstore, sqlitestore, pebblestore subpackages: the same contract over
//     Redis, SQLite and Pebble.
//
// Stores that can remember per-collection retry markers implement
// AttemptStore. AsAttemptStore wraps any other Store with an in-memory
// AttemptCounting decorator.
//
// # Usage Example
//
//	store, err := eventstore.NewFileStore("/var/lib/drey")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	h, err := store.Store(ctx, "purchases", eventstore.Event{"item": "hat"})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	event, ok := store.Get(ctx, h) // ok == false once removed or evicted
package eventstore
