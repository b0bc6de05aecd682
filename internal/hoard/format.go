package hoard

import (
	"fmt"
	"io"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dyluth/drey/pkg/eventstore"
	"github.com/dyluth/drey/pkg/validate"
)

const eventColumnWidth = 40

// FormatTable writes events as a table: HANDLE, COLLECTION, AGE and the event
// body without its keen metadata, truncated. Returns the number of rows.
func FormatTable(w io.Writer, events []*QueuedEvent) int {
	if len(events) == 0 {
		fmt.Fprintln(w, "No queued events found")
		return 0
	}

	handleWidth := len("HANDLE")
	for _, e := range events {
		handleWidth = max(handleWidth, len(e.Handle))
	}

	row := fmt.Sprintf("%%-%ds %%-20s %%-8s %%s\n", handleWidth)
	fmt.Fprintf(w, row, "HANDLE", "COLLECTION", "AGE", "EVENT")
	fmt.Fprintf(w, row, dashes(handleWidth), dashes(20), dashes(8), dashes(eventColumnWidth))

	for _, e := range events {
		fmt.Fprintf(w, row,
			e.Handle,
			truncate(e.Collection, 20),
			formatAge(e),
			formatEvent(e.Event),
		)
	}

	noun := "event"
	if len(events) != 1 {
		noun = "events"
	}
	fmt.Fprintf(w, "\n%d %s queued\n", len(events), noun)

	return len(events)
}

// FormatJSONL writes one compact JSON object per event, for piping into jq.
func FormatJSONL(w io.Writer, events []*QueuedEvent) error {
	for _, e := range events {
		data, err := sonic.ConfigStd.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s to JSON: %w", e.Handle, err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes one event as indented JSON.
func FormatSingleJSON(w io.Writer, e *QueuedEvent) error {
	data, err := sonic.ConfigStd.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal event to JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

// formatEvent renders the caller's properties compactly. Empty events and
// events that cannot be encoded show "-".
func formatEvent(event eventstore.Event) string {
	props := make(map[string]any, len(event))
	for k, v := range event {
		if k != validate.ReservedKey {
			props[k] = v
		}
	}
	if len(props) == 0 {
		return "-"
	}
	data, err := sonic.ConfigStd.Marshal(props)
	if err != nil {
		return "-"
	}
	return truncate(string(data), eventColumnWidth)
}

// formatAge shows how long ago the event was timestamped, like "2m ago".
func formatAge(e *QueuedEvent) string {
	t, ok := e.Time()
	if !ok {
		return "-"
	}

	diff := now().Sub(t)
	switch {
	case diff < 0:
		return "future"
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func dashes(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '-'
	}
	return string(b)
}
