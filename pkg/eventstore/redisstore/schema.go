package redisstore

import "fmt"

// Redis key pattern helpers
//
// All keys are namespaced so several queues can share one Redis server.
//
// Key pattern: drey:{namespace}:{entity}[:{id}]

// EventKey returns the hash holding one queued event.
// Pattern: drey:{namespace}:event:{id}
// Fields: collection, body
func EventKey(namespace, id string) string {
	return fmt.Sprintf("drey:%s:event:%s", namespace, id)
}

// CollectionKey returns the ZSET ordering a collection's events by insertion sequence.
// Pattern: drey:{namespace}:collection:{name}
func CollectionKey(namespace, collection string) string {
	return fmt.Sprintf("drey:%s:collection:%s", namespace, collection)
}

// CollectionsKey returns the SET of collection names that may hold events.
// Pattern: drey:{namespace}:collections
func CollectionsKey(namespace string) string {
	return fmt.Sprintf("drey:%s:collections", namespace)
}

// SeqKey returns the counter used to score collection members.
// Pattern: drey:{namespace}:seq
func SeqKey(namespace string) string {
	return fmt.Sprintf("drey:%s:seq", namespace)
}

// AttemptsKey returns the hash of attempt markers, one field per project and collection.
// Pattern: drey:{namespace}:attempts
func AttemptsKey(namespace string) string {
	return fmt.Sprintf("drey:%s:attempts", namespace)
}
