package hoard

import (
	"context"
	"fmt"
	"io"

	"github.com/dyluth/drey/pkg/eventstore"
)

// GetEvent writes one queued event as pretty-printed JSON.
func GetEvent(ctx context.Context, store eventstore.Store, h eventstore.Handle, collection string, w io.Writer) error {
	event, ok := store.Get(ctx, h)
	if !ok {
		return &EventNotFoundError{Handle: h}
	}

	if err := FormatSingleJSON(w, newQueuedEvent(h, collection, event)); err != nil {
		return fmt.Errorf("failed to format event: %w", err)
	}
	return nil
}

// EventNotFoundError is returned when the handle is unknown or was removed
// between resolving and reading it.
type EventNotFoundError struct {
	Handle eventstore.Handle
}

func (e *EventNotFoundError) Error() string {
	return fmt.Sprintf("event with handle '%s' not found", e.Handle)
}

// IsNotFound returns true if the error is an EventNotFoundError.
func IsNotFound(err error) bool {
	_, ok := err.(*EventNotFoundError)
	return ok
}
