package eventstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

const (
	// MaxEventsPerCollection is the number of queued events a collection may
	// hold before Store starts forgetting the oldest ones.
	MaxEventsPerCollection = 10000

	// NumberEventsToForget is how many of the oldest events are dropped each
	// time a Store call finds its collection at capacity.
	NumberEventsToForget = 100
)

// Event is a single JSON object queued for upload.
type Event map[string]any

// Handle identifies one persisted event. Its format belongs to the store that
// issued it; callers may compare handles but must not parse them.
type Handle string

// Store is the durable queue contract shared by every implementation.
// All methods are safe for concurrent use.
type Store interface {
	// Store persists a copy of event under collection and returns its handle.
	// The oldest entries of the collection are forgotten first when it is full.
	Store(ctx context.Context, collection string, event Event) (Handle, error)

	// Get returns a fresh copy of the event, or false if the handle is unknown,
	// already removed, or unreadable.
	Get(ctx context.Context, h Handle) (Event, bool)

	// Remove deletes the event. Removing an unknown handle is not an error.
	Remove(ctx context.Context, h Handle) error

	// Handles lists every live handle grouped by collection, oldest first.
	Handles(ctx context.Context) (map[string][]Handle, error)
}

// AttemptStore is a Store that also keeps one opaque marker per
// (projectID, collection) pair. The last write wins.
type AttemptStore interface {
	Store

	SetAttempts(ctx context.Context, projectID, collection, marker string) error

	// GetAttempts returns the marker and true, or "" and false if none was set.
	GetAttempts(ctx context.Context, projectID, collection string) (string, bool, error)
}

var (
	// ErrNilEvent is returned when Store is called with a nil event.
	ErrNilEvent = errors.New("event cannot be nil")

	// ErrEmptyCollection is returned when Store is called without a collection name.
	ErrEmptyCollection = errors.New("collection name cannot be empty")

	// ErrInvalidCollection is returned when a collection name cannot be
	// represented by the underlying storage (for example a path separator in
	// a FileStore collection).
	ErrInvalidCollection = errors.New("collection name not supported by store")
)

// StorageError reports an I/O failure in a store operation.
type StorageError struct {
	Op         string // "store", "remove", "handles", "attempts"
	Collection string
	Handle     Handle
	Err        error
}

func (e *StorageError) Error() string {
	switch {
	case e.Handle != "":
		return fmt.Sprintf("eventstore %s %s: %v", e.Op, e.Handle, e.Err)
	case e.Collection != "":
		return fmt.Sprintf("eventstore %s collection %q: %v", e.Op, e.Collection, e.Err)
	default:
		return fmt.Sprintf("eventstore %s: %v", e.Op, e.Err)
	}
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is or wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// Options holds the settings shared by all store implementations.
type Options struct {
	MaxEvents int
	Forget    int
	Logger    *slog.Logger
}

// Option configures a store.
type Option func(*Options)

// WithCapacity overrides the per-collection cap and the number of events
// forgotten when it is hit. Non-positive values keep the defaults.
func WithCapacity(maxEvents, forget int) Option {
	return func(o *Options) {
		if maxEvents > 0 {
			o.MaxEvents = maxEvents
		}
		if forget > 0 {
			o.Forget = forget
		}
	}
}

// WithLogger sets the logger used for swallowed read errors.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// ApplyOptions resolves opts over the defaults. Store implementations in other
// packages use it so every store shares the same capacity semantics.
func ApplyOptions(component string, opts ...Option) Options {
	o := Options{
		MaxEvents: MaxEventsPerCollection,
		Forget:    NumberEventsToForget,
		Logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.Logger = o.Logger.With("component", component)
	return o
}

// EvictCount returns how many of the oldest entries must be forgotten before
// inserting into a collection that currently holds n entries.
func (o Options) EvictCount(n int) int {
	if n < o.MaxEvents {
		return 0
	}
	if o.Forget > n {
		return n
	}
	return o.Forget
}

// CheckStoreArgs enforces the structural preconditions of Store.
func CheckStoreArgs(collection string, event Event) error {
	if collection == "" {
		return ErrEmptyCollection
	}
	if event == nil {
		return ErrNilEvent
	}
	return nil
}

// AttemptsKey joins a project and collection into a single lookup key.
func AttemptsKey(projectID, collection string) string {
	return projectID + ":" + collection
}
