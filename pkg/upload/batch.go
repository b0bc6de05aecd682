package upload

import (
	"fmt"
	"sort"

	"github.com/bytedance/sonic"
	"github.com/dyluth/drey/pkg/eventstore"
)

// Batch is the request built from one handle snapshot. Handles[c][i] is the
// handle whose event is Events[c][i]; the service answers in the same order,
// so this pairing is what maps outcomes back onto the store.
type Batch struct {
	Handles map[string][]eventstore.Handle
	Events  map[string][]eventstore.Event

	// Skipped lists handles that were already gone when the batch was built.
	Skipped []eventstore.Handle
}

// Len returns the number of events in the batch.
func (b *Batch) Len() int {
	n := 0
	for _, handles := range b.Handles {
		n += len(handles)
	}
	return n
}

// Empty reports whether the batch has nothing to send.
func (b *Batch) Empty() bool {
	return b.Len() == 0
}

// Collections returns the batch's collection names, sorted.
func (b *Batch) Collections() []string {
	names := make([]string, 0, len(b.Handles))
	for name := range b.Handles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllHandles returns every handle in the batch, collection by collection.
func (b *Batch) AllHandles() []eventstore.Handle {
	out := make([]eventstore.Handle, 0, b.Len())
	for _, name := range b.Collections() {
		out = append(out, b.Handles[name]...)
	}
	return out
}

// Body serializes the batch as {"collection": [event, ...], ...} with sorted keys.
func (b *Batch) Body() ([]byte, error) {
	data, err := sonic.ConfigStd.Marshal(b.Events)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}
	return data, nil
}
