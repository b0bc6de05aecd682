package eventstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

const memoryHandlePrefix = "mem:"

type memoryEntry struct {
	collection string
	body       []byte
}

// MemoryStore keeps queued events in process memory. Events are held in
// encoded form so neither the caller's map nor a map returned by Get can alias
// the stored copy.
type MemoryStore struct {
	opts Options

	mu          sync.Mutex
	next        uint64
	entries     map[Handle]memoryEntry
	collections map[string][]Handle // insertion order
	attempts    map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		opts:        ApplyOptions("memorystore", opts...),
		entries:     make(map[Handle]memoryEntry),
		collections: make(map[string][]Handle),
		attempts:    make(map[string]string),
	}
}

// Store implements Store.
func (s *MemoryStore) Store(_ context.Context, collection string, event Event) (Handle, error) {
	if err := CheckStoreArgs(collection, event); err != nil {
		return "", err
	}

	body, err := EncodeEvent(event)
	if err != nil {
		return "", &StorageError{Op: "store", Collection: collection, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	handles := s.collections[collection]
	if n := s.opts.EvictCount(len(handles)); n > 0 {
		for _, h := range handles[:n] {
			delete(s.entries, h)
		}
		handles = append([]Handle(nil), handles[n:]...)
		s.opts.Logger.Debug("forgot oldest events", "collection", collection, "count", n)
	}

	s.next++
	h := Handle(memoryHandlePrefix + strconv.FormatUint(s.next, 10))
	s.entries[h] = memoryEntry{collection: collection, body: body}
	s.collections[collection] = append(handles, h)

	return h, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, h Handle) (Event, bool) {
	s.mu.Lock()
	entry, ok := s.entries[h]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}

	event, err := DecodeEvent(entry.body)
	if err != nil {
		s.opts.Logger.Warn("dropping unreadable event", "handle", h, "error", err)
		return nil, false
	}
	return event, true
}

// Remove implements Store.
func (s *MemoryStore) Remove(_ context.Context, h Handle) error {
	if !strings.HasPrefix(string(h), memoryHandlePrefix) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[h]
	if !ok {
		return nil
	}
	delete(s.entries, h)

	handles := s.collections[entry.collection]
	for i, candidate := range handles {
		if candidate == h {
			handles = append(handles[:i:i], handles[i+1:]...)
			break
		}
	}
	if len(handles) == 0 {
		delete(s.collections, entry.collection)
	} else {
		s.collections[entry.collection] = handles
	}
	return nil
}

// Handles implements Store.
func (s *MemoryStore) Handles(_ context.Context) (map[string][]Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]Handle, len(s.collections))
	for collection, handles := range s.collections {
		if len(handles) == 0 {
			continue
		}
		out[collection] = append([]Handle(nil), handles...)
	}
	return out, nil
}

// Len returns the number of events queued in collection.
func (s *MemoryStore) Len(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.collections[collection])
}

// SetAttempts implements AttemptStore.
func (s *MemoryStore) SetAttempts(_ context.Context, projectID, collection, marker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[AttemptsKey(projectID, collection)] = marker
	return nil
}

// GetAttempts implements AttemptStore.
func (s *MemoryStore) GetAttempts(_ context.Context, projectID, collection string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	marker, ok := s.attempts[AttemptsKey(projectID, collection)]
	return marker, ok, nil
}

// String is used in log lines.
func (s *MemoryStore) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("memory(%d events)", len(s.entries))
}
