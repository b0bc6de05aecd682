package commands

import (
	"fmt"
	"time"

	"github.com/dyluth/drey/internal/hoard"
	"github.com/dyluth/drey/internal/printer"
	"github.com/dyluth/drey/internal/resolver"
	"github.com/dyluth/drey/internal/timespec"
	"github.com/dyluth/drey/pkg/eventstore"
	"github.com/spf13/cobra"
)

func newHoardCmd(root *rootOptions) *cobra.Command {
	var (
		outputFormat string
		since        string
		until        string
		collection   string
	)

	cmd := &cobra.Command{
		Use:   "hoard [HANDLE]",
		Short: "Inspect queued events with filtering",
		Long: `Inspect the events waiting for upload, in list or get mode.

List Mode (no HANDLE):
  Displays events matching filters as a table or JSONL stream.

Get Mode (with HANDLE):
  Displays one event as pretty-printed JSON. Unique handle prefixes of at
  least 4 characters are accepted.

Output Formats (list mode only):
  default - Human-readable table with handle, collection, age and event
  jsonl   - Line-delimited JSON, one event per line

Filters (list mode only):
  --since       - Events timestamped after this time
  --until       - Events timestamped before this time
  --collection  - Collection name glob ("page*", "*_clicks")

Examples:
  # List everything queued
  drey hoard

  # Purchases from the last two hours as JSONL for jq
  drey hoard --collection=purchases --since=2h --output=jsonl | jq .event

  # Show one event
  drey hoard mem:12`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			isGetMode := len(args) > 0

			var format hoard.OutputFormat
			var filters *hoard.FilterCriteria
			if !isGetMode {
				var err error
				if format, err = hoard.ParseOutputFormat(outputFormat); err != nil {
					return printer.Error(
						"invalid output format",
						fmt.Sprintf("Unknown format: %s", outputFormat),
						[]string{"Valid formats: default, jsonl"},
					)
				}
				r, err := timespec.ParseRange(since, until, time.Now())
				if err != nil {
					return printer.Error(
						"invalid time filter",
						err.Error(),
						[]string{"Use duration format like '1h30m' or RFC3339 like '2025-10-29T13:00:00Z'"},
					)
				}
				filters = &hoard.FilterCriteria{Range: r, CollectionGlob: collection}
			}

			s, err := openSession(ctx, root)
			if err != nil {
				return err
			}
			defer s.Close()

			if !isGetMode {
				if err := hoard.ListEvents(ctx, s.store, format, filters, printer.Out); err != nil {
					return fmt.Errorf("failed to list events: %w", err)
				}
				return nil
			}

			prefix := args[0]
			match, err := resolver.ResolveHandle(ctx, s.store, prefix)
			if err != nil {
				if resolver.IsNotFoundError(err) {
					return printer.Error(
						fmt.Sprintf("event with handle '%s' not found", prefix),
						"No queued event has that handle. It may have been uploaded already.",
						[]string{"List queued events:\n  drey hoard"},
					)
				}
				if resolver.IsAmbiguousError(err) {
					fmt.Fprintln(printer.Err, resolver.FormatAmbiguousError(err.(*resolver.AmbiguousError)))
					return fmt.Errorf("ambiguous handle")
				}
				return fmt.Errorf("failed to resolve handle: %w", err)
			}

			if err := hoard.GetEvent(ctx, s.store, match.Handle, match.Collection, printer.Out); err != nil {
				if hoard.IsNotFound(err) {
					return printer.Error(
						fmt.Sprintf("event with handle '%s' not found", match.Handle),
						"The event was resolved but removed before it could be read.",
						[]string{"An upload probably ran at the same time. Try again."},
					)
				}
				return fmt.Errorf("failed to get event: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "default", "Output format: default or jsonl (ignored in get mode)")
	cmd.Flags().StringVar(&since, "since", "", "Show events after time (duration or RFC3339)")
	cmd.Flags().StringVar(&until, "until", "", "Show events before time (duration or RFC3339)")
	cmd.Flags().StringVar(&collection, "collection", "", "Filter by collection (glob pattern)")

	return cmd
}

func newAttemptsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "attempts COLLECTION",
		Short: "Show how often queued events of a collection were sent",
		Long: `Show the upload attempt counts recorded for a collection. Events are
dropped once their count reaches publisher.max_attempts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, root)
			if err != nil {
				return err
			}
			defer s.Close()

			rows, err := hoard.ReadAttempts(ctx, eventstore.AsAttemptStore(s.store), s.cfg.Project.ID, args[0])
			if err != nil {
				return fmt.Errorf("failed to read attempts: %w", err)
			}
			return hoard.FormatAttempts(printer.Out, args[0], rows)
		},
	}
}
