package hoard

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/dyluth/drey/internal/printer"
	"github.com/dyluth/drey/pkg/eventstore"
)

// OutputFormat specifies how to format the event list output.
type OutputFormat string

const (
	// OutputFormatDefault uses a table format with truncated events
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL outputs complete events as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"
)

// ParseOutputFormat validates the --output flag.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputFormatDefault, OutputFormatJSONL:
		return OutputFormat(s), nil
	}
	return "", fmt.Errorf("unknown output format: %s", s)
}

// Collect reads every queued event matching filters. Collections are sorted
// by name; events keep store order (oldest first) within a collection.
// Events that vanish or cannot be read while listing are skipped with a
// warning.
func Collect(ctx context.Context, store eventstore.Store, filters *FilterCriteria) ([]*QueuedEvent, error) {
	all, err := store.Handles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued events: %w", err)
	}

	collections := make([]string, 0, len(all))
	for c := range all {
		if filters.matchesCollection(c) {
			collections = append(collections, c)
		}
	}
	sort.Strings(collections)

	var events []*QueuedEvent
	for _, collection := range collections {
		for _, h := range all[collection] {
			event, ok := store.Get(ctx, h)
			if !ok {
				printer.Warning("Skipping event %s in %s: no longer readable\n", h, collection)
				continue
			}
			qe := newQueuedEvent(h, collection, event)
			if !filters.matchesEvent(qe) {
				continue
			}
			events = append(events, qe)
		}
	}
	return events, nil
}

// ListEvents collects the matching events and writes them in format.
func ListEvents(ctx context.Context, store eventstore.Store, format OutputFormat, filters *FilterCriteria, w io.Writer) error {
	events, err := Collect(ctx, store, filters)
	if err != nil {
		return err
	}

	switch format {
	case OutputFormatDefault:
		FormatTable(w, events)
	case OutputFormatJSONL:
		if err := FormatJSONL(w, events); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}

	return nil
}
