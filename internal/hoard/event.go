// Package hoard inspects the events waiting in a store: list them with
// filters, show one in full, or show the upload attempt counts.
package hoard

import (
	"path/filepath"
	"time"

	"github.com/dyluth/drey/internal/timespec"
	"github.com/dyluth/drey/pkg/eventstore"
	"github.com/dyluth/drey/pkg/validate"
)

// now is swapped in tests.
var now = time.Now

// QueuedEvent is one stored event as shown by the CLI.
type QueuedEvent struct {
	Handle     eventstore.Handle `json:"handle"`
	Collection string            `json:"collection"`
	Timestamp  string            `json:"timestamp,omitempty"`
	Event      eventstore.Event  `json:"event"`
}

func newQueuedEvent(h eventstore.Handle, collection string, event eventstore.Event) *QueuedEvent {
	qe := &QueuedEvent{Handle: h, Collection: collection, Event: event}
	if meta, ok := event[validate.ReservedKey].(map[string]any); ok {
		if ts, ok := meta["timestamp"].(string); ok {
			qe.Timestamp = ts
		}
	}
	return qe
}

// Time parses keen.timestamp. False if the event carries none.
func (e *QueuedEvent) Time() (time.Time, bool) {
	if e.Timestamp == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FilterCriteria narrows hoard list output. All filters are ANDed together.
type FilterCriteria struct {
	Range          timespec.Range // open range = no filter
	CollectionGlob string         // glob pattern, empty = no filter
}

// matchesCollection is checked before the event is read.
func (fc *FilterCriteria) matchesCollection(collection string) bool {
	if fc == nil || fc.CollectionGlob == "" {
		return true
	}
	matched, err := filepath.Match(fc.CollectionGlob, collection)
	return err == nil && matched
}

// matchesEvent applies the time range. Events without a readable timestamp
// never match a bounded range.
func (fc *FilterCriteria) matchesEvent(e *QueuedEvent) bool {
	if fc == nil || fc.Range.IsOpen() {
		return true
	}
	t, ok := e.Time()
	return ok && fc.Range.Contains(t)
}
