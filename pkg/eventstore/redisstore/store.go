// Package redisstore implements eventstore.AttemptStore on Redis.
//
// Each event is a hash holding its collection and encoded body. Collections are
// ZSETs of event ids scored by a namespace-wide INCR counter, which keeps
// insertion order stable across processes and restarts.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dyluth/drey/pkg/eventstore"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Store is a Redis-backed event queue. It is safe for concurrent use within one
// process; separate processes sharing a namespace are not coordinated.
type Store struct {
	rdb       *redis.Client
	namespace string
	opts      eventstore.Options

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New connects a store to Redis using redisOpts. All keys are prefixed with
// namespace, which must not be empty.
func New(redisOpts *redis.Options, namespace string, opts ...eventstore.Option) (*Store, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}

	return &Store{
		rdb:       redis.NewClient(redisOpts),
		namespace: namespace,
		opts:      eventstore.ApplyOptions("redisstore", opts...),
		locks:     make(map[string]*sync.Mutex),
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping verifies Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Client returns the underlying Redis client.
func (s *Store) Client() *redis.Client {
	return s.rdb
}

// Namespace returns the key namespace.
func (s *Store) Namespace() string {
	return s.namespace
}

// Store implements eventstore.Store.
func (s *Store) Store(ctx context.Context, collection string, event eventstore.Event) (eventstore.Handle, error) {
	if err := eventstore.CheckStoreArgs(collection, event); err != nil {
		return "", err
	}

	body, err := eventstore.EncodeEvent(event)
	if err != nil {
		return "", &eventstore.StorageError{Op: "store", Collection: collection, Err: err}
	}

	lock := s.collectionLock(collection)
	lock.Lock()
	defer lock.Unlock()

	collectionKey := CollectionKey(s.namespace, collection)

	count, err := s.rdb.ZCard(ctx, collectionKey).Result()
	if err != nil {
		return "", &eventstore.StorageError{Op: "store", Collection: collection, Err: fmt.Errorf("failed to count collection: %w", err)}
	}
	if n := s.opts.EvictCount(int(count)); n > 0 {
		if err := s.forgetOldest(ctx, collection, n); err != nil {
			return "", &eventstore.StorageError{Op: "store", Collection: collection, Err: err}
		}
	}

	seq, err := s.rdb.Incr(ctx, SeqKey(s.namespace)).Result()
	if err != nil {
		return "", &eventstore.StorageError{Op: "store", Collection: collection, Err: fmt.Errorf("failed to allocate sequence: %w", err)}
	}

	id := uuid.Must(uuid.NewV7()).String()
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, EventKey(s.namespace, id), entryToHash(collection, body))
		pipe.ZAdd(ctx, collectionKey, redis.Z{Score: float64(seq), Member: id})
		pipe.SAdd(ctx, CollectionsKey(s.namespace), collection)
		return nil
	})
	if err != nil {
		return "", &eventstore.StorageError{Op: "store", Collection: collection, Err: fmt.Errorf("failed to write event to Redis: %w", err)}
	}

	return eventstore.Handle(id), nil
}

func (s *Store) forgetOldest(ctx context.Context, collection string, n int) error {
	collectionKey := CollectionKey(s.namespace, collection)

	ids, err := s.rdb.ZRange(ctx, collectionKey, 0, int64(n-1)).Result()
	if err != nil {
		return fmt.Errorf("failed to read oldest events: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		members := make([]interface{}, len(ids))
		for i, id := range ids {
			pipe.Del(ctx, EventKey(s.namespace, id))
			members[i] = id
		}
		pipe.ZRem(ctx, collectionKey, members...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to forget oldest events: %w", err)
	}

	s.opts.Logger.Debug("forgot oldest events", "collection", collection, "count", len(ids))
	return nil
}

// Get implements eventstore.Store.
func (s *Store) Get(ctx context.Context, h eventstore.Handle) (eventstore.Event, bool) {
	if h == "" {
		return nil, false
	}

	hash, err := s.rdb.HGetAll(ctx, EventKey(s.namespace, string(h))).Result()
	if err != nil {
		s.opts.Logger.Warn("failed to read queued event", "handle", h, "error", err)
		return nil, false
	}
	// HGetAll returns an empty map for missing keys
	if len(hash) == 0 {
		return nil, false
	}

	_, body, err := hashToEntry(hash)
	if err != nil {
		s.opts.Logger.Warn("dropping unreadable event", "handle", h, "error", err)
		return nil, false
	}
	event, err := eventstore.DecodeEvent(body)
	if err != nil {
		s.opts.Logger.Warn("dropping unreadable event", "handle", h, "error", err)
		return nil, false
	}
	return event, true
}

// Remove implements eventstore.Store.
func (s *Store) Remove(ctx context.Context, h eventstore.Handle) error {
	if h == "" {
		return nil
	}

	eventKey := EventKey(s.namespace, string(h))
	collection, err := s.rdb.HGet(ctx, eventKey, fieldCollection).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return &eventstore.StorageError{Op: "remove", Handle: h, Err: err}
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, eventKey)
		pipe.ZRem(ctx, CollectionKey(s.namespace, collection), string(h))
		return nil
	})
	if err != nil {
		return &eventstore.StorageError{Op: "remove", Handle: h, Err: err}
	}
	return nil
}

// Handles implements eventstore.Store.
func (s *Store) Handles(ctx context.Context) (map[string][]eventstore.Handle, error) {
	collections, err := s.rdb.SMembers(ctx, CollectionsKey(s.namespace)).Result()
	if err != nil {
		return nil, &eventstore.StorageError{Op: "handles", Err: err}
	}

	out := make(map[string][]eventstore.Handle, len(collections))
	for _, collection := range collections {
		ids, err := s.collectionIDs(ctx, collection)
		if err != nil {
			return nil, &eventstore.StorageError{Op: "handles", Collection: collection, Err: err}
		}
		if len(ids) == 0 {
			continue
		}

		handles := make([]eventstore.Handle, len(ids))
		for i, id := range ids {
			handles[i] = eventstore.Handle(id)
		}
		out[collection] = handles
	}
	return out, nil
}

func (s *Store) collectionIDs(ctx context.Context, collection string) ([]string, error) {
	lock := s.collectionLock(collection)
	lock.Lock()
	defer lock.Unlock()

	ids, err := s.rdb.ZRange(ctx, CollectionKey(s.namespace, collection), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		// drained collections drop out of the index until written again
		if err := s.rdb.SRem(ctx, CollectionsKey(s.namespace), collection).Err(); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// SetAttempts implements eventstore.AttemptStore.
func (s *Store) SetAttempts(ctx context.Context, projectID, collection, marker string) error {
	field := eventstore.AttemptsKey(projectID, collection)
	if err := s.rdb.HSet(ctx, AttemptsKey(s.namespace), field, marker).Err(); err != nil {
		return &eventstore.StorageError{Op: "attempts", Collection: collection, Err: err}
	}
	return nil
}

// GetAttempts implements eventstore.AttemptStore.
func (s *Store) GetAttempts(ctx context.Context, projectID, collection string) (string, bool, error) {
	field := eventstore.AttemptsKey(projectID, collection)
	marker, err := s.rdb.HGet(ctx, AttemptsKey(s.namespace), field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &eventstore.StorageError{Op: "attempts", Collection: collection, Err: err}
	}
	return marker, true, nil
}

func (s *Store) collectionLock(collection string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[collection]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[collection] = lock
	}
	return lock
}
