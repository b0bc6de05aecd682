package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/drey/internal/printer"
	"github.com/dyluth/drey/pkg/client"
	"github.com/dyluth/drey/pkg/transport"
	"github.com/dyluth/drey/pkg/validate"
	"github.com/spf13/cobra"
)

func newQueueCmd(root *rootOptions) *cobra.Command {
	var timestamp string

	cmd := &cobra.Command{
		Use:   "queue COLLECTION EVENT_JSON",
		Short: "Queue an event for the next upload",
		Long: `Validate an event and store it for the next 'drey upload'.

EVENT_JSON is a JSON object, or "-" to read it from stdin. Global properties
from drey.yml are merged in and keen.timestamp is set to now unless
--timestamp is given.

Examples:
  drey queue purchases '{"item":"hat","price":9.99}'
  echo '{"page":"/home"}' | drey queue views -`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection := args[0]
			event, err := readEventArg(args[1], cmd.InOrStdin())
			if err != nil {
				return printer.Error("invalid event", err.Error(), nil)
			}
			eventOpts, err := timestampOption(timestamp)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := openSession(ctx, root)
			if err != nil {
				return err
			}
			defer s.Close()

			c, err := s.client()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			defer c.Close()

			h, err := c.QueueEvent(ctx, collection, event, eventOpts...)
			if err != nil {
				return reportEventError(collection, err)
			}

			printer.Success("Queued event %s in %s\n", h, collection)
			return nil
		},
	}

	cmd.Flags().StringVar(&timestamp, "timestamp", "", "Event time as RFC3339 (default: now)")
	return cmd
}

func newSendCmd(root *rootOptions) *cobra.Command {
	var timestamp string

	cmd := &cobra.Command{
		Use:   "send COLLECTION EVENT_JSON",
		Short: "Send one event immediately, bypassing the queue",
		Long: `Validate an event and post it straight to the collection service.
Nothing is queued: if the request fails the event is not retried.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection := args[0]
			event, err := readEventArg(args[1], cmd.InOrStdin())
			if err != nil {
				return printer.Error("invalid event", err.Error(), nil)
			}
			eventOpts, err := timestampOption(timestamp)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := openSession(ctx, root)
			if err != nil {
				return err
			}
			defer s.Close()

			c, err := s.client()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			defer c.Close()

			if err := c.AddEvent(ctx, collection, event, eventOpts...); err != nil {
				return reportEventError(collection, err)
			}

			printer.Success("Sent event to %s\n", collection)
			return nil
		},
	}

	cmd.Flags().StringVar(&timestamp, "timestamp", "", "Event time as RFC3339 (default: now)")
	return cmd
}

func timestampOption(spec string) ([]client.EventOption, error) {
	if spec == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, spec)
	if err != nil {
		return nil, printer.Error(
			"invalid --timestamp",
			err.Error(),
			[]string{"Use RFC3339 like '2025-10-29T13:00:00Z'"},
		)
	}
	return []client.EventOption{client.WithTimestamp(ts)}, nil
}

func reportEventError(collection string, err error) error {
	var ie *validate.InputError
	if errors.As(err, &ie) {
		return printer.Error("invalid event", ie.Error(), []string{
			"Property names cannot be empty, start with '$' or contain '.'; 'keen' is reserved at the top level",
		})
	}

	var se *transport.StatusError
	if errors.As(err, &se) {
		return printer.ErrorWithContext(
			"collection service rejected the event",
			se.Error(),
			map[string]string{"Collection": collection},
			nil,
		)
	}

	return err
}
