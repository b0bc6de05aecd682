// Package pebblestore implements eventstore.AttemptStore on a Pebble LSM
// database.
package pebblestore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/dyluth/drey/pkg/eventstore"
)

// Config configures the Pebble database.
type Config struct {
	// Dir is the path to the Pebble database directory.
	Dir string
	// Sync forces a WAL fsync on every committed write.
	Sync bool
	// Pebble allows advanced tuning. If nil, defaults are used.
	Pebble *pebble.Options
}

// Store keeps queued events in Pebble. Store and Handles are serialized by a
// mutex; Get and Remove go straight to the database.
type Store struct {
	db        *pebble.DB
	cfg       Config
	writeOpts *pebble.WriteOptions
	opts      eventstore.Options

	mu  sync.Mutex
	seq uint64
}

// Open creates or opens a Pebble-backed store.
func Open(cfg Config, opts ...eventstore.Option) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("pebble: Config.Dir is required")
	}

	po := cfg.Pebble
	if po == nil {
		po = &pebble.Options{}
	}

	db, err := pebble.Open(cfg.Dir, po)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}

	s := &Store{
		db:        db,
		cfg:       cfg,
		writeOpts: pebble.NoSync,
		opts:      eventstore.ApplyOptions("pebblestore", opts...),
	}
	if cfg.Sync {
		s.writeOpts = pebble.Sync
	}

	seq, err := s.loadSeq()
	if err != nil {
		db.Close()
		return nil, err
	}
	s.seq = seq

	return s, nil
}

// Close closes the Pebble database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Config returns the configuration the store was opened with.
func (s *Store) Config() Config {
	return s.cfg
}

func (s *Store) loadSeq() (uint64, error) {
	val, closer, err := s.db.Get(seqKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read sequence: %w", err)
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, fmt.Errorf("corrupt sequence value (%d bytes)", len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}

// Store implements eventstore.Store.
func (s *Store) Store(_ context.Context, collection string, event eventstore.Event) (eventstore.Handle, error) {
	if err := eventstore.CheckStoreArgs(collection, event); err != nil {
		return "", err
	}
	if strings.ContainsAny(collection, sep+"\x01") {
		return "", fmt.Errorf("%w: %q", eventstore.ErrInvalidCollection, collection)
	}

	body, err := eventstore.EncodeEvent(event)
	if err != nil {
		return "", &eventstore.StorageError{Op: "store", Collection: collection, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close()

	stale, err := s.oldestKeys(collection)
	if err != nil {
		return "", &eventstore.StorageError{Op: "store", Collection: collection, Err: err}
	}
	for _, key := range stale {
		if err := b.Delete(key, nil); err != nil {
			return "", &eventstore.StorageError{Op: "store", Collection: collection, Err: err}
		}
	}

	seq := s.seq + 1
	var seqVal [8]byte
	binary.BigEndian.PutUint64(seqVal[:], seq)

	if err := b.Set(eventKey(collection, seq), body, nil); err != nil {
		return "", &eventstore.StorageError{Op: "store", Collection: collection, Err: err}
	}
	if err := b.Set(seqKey, seqVal[:], nil); err != nil {
		return "", &eventstore.StorageError{Op: "store", Collection: collection, Err: err}
	}
	if err := b.Commit(s.writeOpts); err != nil {
		return "", &eventstore.StorageError{Op: "store", Collection: collection, Err: err}
	}
	s.seq = seq

	if len(stale) > 0 {
		s.opts.Logger.Debug("forgot oldest events", "collection", collection, "count", len(stale))
	}
	return formatHandle(collection, seq), nil
}

// oldestKeys returns the keys that must be forgotten before inserting into
// collection. Caller must hold s.mu.
func (s *Store) oldestKeys(collection string) ([][]byte, error) {
	lower, upper := collectionBounds(collection)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var keys [][]byte
	count := 0
	for iter.First(); iter.Valid(); iter.Next() {
		if len(keys) < s.opts.Forget {
			keys = append(keys, append([]byte(nil), iter.Key()...))
		}
		count++
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	n := s.opts.EvictCount(count)
	if n == 0 {
		return nil, nil
	}
	return keys[:n], nil
}

// Get implements eventstore.Store.
func (s *Store) Get(_ context.Context, h eventstore.Handle) (eventstore.Event, bool) {
	key, ok := parseHandle(h)
	if !ok {
		return nil, false
	}

	val, closer, err := s.db.Get(key)
	if err != nil {
		if !errors.Is(err, pebble.ErrNotFound) {
			s.opts.Logger.Warn("failed to read queued event", "handle", h, "error", err)
		}
		return nil, false
	}
	defer closer.Close()

	event, err := eventstore.DecodeEvent(val)
	if err != nil {
		s.opts.Logger.Warn("dropping unreadable event", "handle", h, "error", err)
		return nil, false
	}
	return event, true
}

// Remove implements eventstore.Store. Pebble deletes of missing keys are no-ops.
func (s *Store) Remove(_ context.Context, h eventstore.Handle) error {
	key, ok := parseHandle(h)
	if !ok {
		return nil
	}
	if err := s.db.Delete(key, s.writeOpts); err != nil {
		return &eventstore.StorageError{Op: "remove", Handle: h, Err: err}
	}
	return nil
}

// Handles implements eventstore.Store.
func (s *Store) Handles(_ context.Context) (map[string][]eventstore.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	upper := append([]byte(nil), eventPrefix...)
	upper[len(upper)-1]++

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: eventPrefix, UpperBound: upper})
	if err != nil {
		return nil, &eventstore.StorageError{Op: "handles", Err: err}
	}
	defer iter.Close()

	out := make(map[string][]eventstore.Handle)
	for iter.First(); iter.Valid(); iter.Next() {
		collection, seq, ok := splitEventKey(iter.Key())
		if !ok {
			s.opts.Logger.Warn("skipping unrecognised key", "key", fmt.Sprintf("%q", iter.Key()))
			continue
		}
		out[collection] = append(out[collection], formatHandle(collection, seq))
	}
	if err := iter.Error(); err != nil {
		return nil, &eventstore.StorageError{Op: "handles", Err: err}
	}
	return out, nil
}

// SetAttempts implements eventstore.AttemptStore.
func (s *Store) SetAttempts(_ context.Context, projectID, collection, marker string) error {
	if err := s.db.Set(attemptKey(projectID, collection), []byte(marker), s.writeOpts); err != nil {
		return &eventstore.StorageError{Op: "attempts", Collection: collection, Err: err}
	}
	return nil
}

// GetAttempts implements eventstore.AttemptStore.
func (s *Store) GetAttempts(_ context.Context, projectID, collection string) (string, bool, error) {
	val, closer, err := s.db.Get(attemptKey(projectID, collection))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &eventstore.StorageError{Op: "attempts", Collection: collection, Err: err}
	}
	defer closer.Close()
	return string(val), true, nil
}
