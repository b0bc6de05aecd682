package eventstore

import (
	"context"
	"sync"
)

// AttemptCounting adds in-memory attempt markers to a Store that has none.
// Queue operations pass straight through to the wrapped store.
type AttemptCounting struct {
	base Store

	mu      sync.RWMutex
	markers map[string]string
}

var _ AttemptStore = (*AttemptCounting)(nil)

// NewAttemptCounting wraps base.
func NewAttemptCounting(base Store) *AttemptCounting {
	return &AttemptCounting{
		base:    base,
		markers: make(map[string]string),
	}
}

// Store implements Store.
func (a *AttemptCounting) Store(ctx context.Context, collection string, event Event) (Handle, error) {
	return a.base.Store(ctx, collection, event)
}

// Get implements Store.
func (a *AttemptCounting) Get(ctx context.Context, h Handle) (Event, bool) {
	return a.base.Get(ctx, h)
}

// Remove implements Store.
func (a *AttemptCounting) Remove(ctx context.Context, h Handle) error {
	return a.base.Remove(ctx, h)
}

// Handles implements Store.
func (a *AttemptCounting) Handles(ctx context.Context) (map[string][]Handle, error) {
	return a.base.Handles(ctx)
}

// SetAttempts implements AttemptStore.
func (a *AttemptCounting) SetAttempts(_ context.Context, projectID, collection, marker string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.markers[AttemptsKey(projectID, collection)] = marker
	return nil
}

// GetAttempts implements AttemptStore.
func (a *AttemptCounting) GetAttempts(_ context.Context, projectID, collection string) (string, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	marker, ok := a.markers[AttemptsKey(projectID, collection)]
	return marker, ok, nil
}

// Unwrap returns the decorated store.
func (a *AttemptCounting) Unwrap() Store {
	return a.base
}

// AsAttemptStore returns s itself when it already tracks attempts, and an
// AttemptCounting decorator around it otherwise.
func AsAttemptStore(s Store) AttemptStore {
	if as, ok := s.(AttemptStore); ok {
		return as
	}
	return NewAttemptCounting(s)
}
