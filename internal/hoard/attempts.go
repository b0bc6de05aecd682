package hoard

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/dyluth/drey/pkg/eventstore"
	"github.com/olekukonko/tablewriter"
)

// AttemptRow is one entry of a collection's attempt marker.
type AttemptRow struct {
	Handle   eventstore.Handle
	Attempts int
	Queued   bool
}

// ReadAttempts decodes the attempt marker the publisher keeps for collection.
// An absent marker yields no rows.
func ReadAttempts(ctx context.Context, store eventstore.AttemptStore, projectID, collection string) ([]AttemptRow, error) {
	marker, ok, err := store.GetAttempts(ctx, projectID, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to read attempts for %s: %w", collection, err)
	}
	if !ok || marker == "" {
		return nil, nil
	}

	var counts map[eventstore.Handle]int
	if err := sonic.ConfigStd.UnmarshalFromString(marker, &counts); err != nil {
		return nil, fmt.Errorf("attempt marker for %s is not readable: %w", collection, err)
	}

	handles, err := store.Handles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued events: %w", err)
	}
	live := make(map[eventstore.Handle]bool, len(handles[collection]))
	for _, h := range handles[collection] {
		live[h] = true
	}

	rows := make([]AttemptRow, 0, len(counts))
	for h, n := range counts {
		rows = append(rows, AttemptRow{Handle: h, Attempts: n, Queued: live[h]})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Attempts != rows[j].Attempts {
			return rows[i].Attempts > rows[j].Attempts
		}
		return rows[i].Handle < rows[j].Handle
	})
	return rows, nil
}

// FormatAttempts writes rows as a table, most attempted first.
func FormatAttempts(w io.Writer, collection string, rows []AttemptRow) error {
	if len(rows) == 0 {
		fmt.Fprintf(w, "No upload attempts recorded for '%s'\n", collection)
		return nil
	}

	fmt.Fprintf(w, "Upload attempts for '%s':\n\n", collection)

	table := tablewriter.NewWriter(w)
	table.Header("Handle", "Attempts", "Queued")
	for _, r := range rows {
		queued := "no"
		if r.Queued {
			queued = "yes"
		}
		if err := table.Append([]string{string(r.Handle), strconv.Itoa(r.Attempts), queued}); err != nil {
			return fmt.Errorf("failed to format attempts: %w", err)
		}
	}
	return table.Render()
}
