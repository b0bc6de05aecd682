package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/drey/internal/printer"
	"github.com/dyluth/drey/internal/watch"
	"github.com/dyluth/drey/pkg/publisher"
	"github.com/dyluth/drey/pkg/upload"
	"github.com/spf13/cobra"
)

func newUploadCmd(root *rootOptions) *cobra.Command {
	var every time.Duration

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload every queued event in one batch",
		Long: `Send all queued events to the collection service in a single batch and
reconcile the per-event results:

  accepted            removed from the queue
  rejected            removed (the event can never be accepted)
  failed/unresolved   kept for the next upload

Events sent more than publisher.max_attempts times are dropped first.

With --every the upload repeats on that interval until interrupted; failed
uploads are reported and retried on the next tick.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("every") && every <= 0 {
				return printer.Error("invalid --every", fmt.Sprintf("interval must be positive, got %v", every), nil)
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

			if every > 0 {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				printer.Step("Uploading every %s, press Ctrl+C to stop\n", every)
				return watch.Run(ctx, every, c.SendQueuedEventsSync, func(summary *publisher.Summary, err error) {
					if err != nil {
						printer.Warning("%s: %v\n", time.Now().Format(time.TimeOnly), err)
						return
					}
					if summary.Attempted > 0 || summary.Expired > 0 {
						printer.Info("%s: %s\n", time.Now().Format(time.TimeOnly), summary)
					}
				})
			}

			summary, err := c.SendQueuedEventsSync(ctx)
			if err != nil {
				if upload.IsTransient(err) {
					details := map[string]string{"Project": s.cfg.Project.ID}
					if summary != nil {
						details["Attempted"] = fmt.Sprint(summary.Attempted)
					}
					return printer.ErrorWithContext(
						"upload failed",
						fmt.Sprintf("%v\n\nEvery event stays queued.", err),
						details,
						[]string{"Retry later:\n  drey upload"},
					)
				}
				return fmt.Errorf("upload failed: %w", err)
			}

			printSummary(summary)
			return nil
		},
	}

	cmd.Flags().DurationVar(&every, "every", 0, "Repeat the upload on this interval until interrupted (e.g. 30s)")
	return cmd
}

func printSummary(summary *publisher.Summary) {
	if summary.Attempted == 0 && summary.Expired == 0 && summary.Skipped == 0 {
		printer.Info("Nothing to upload\n")
		return
	}

	printer.Success("Uploaded %d of %d events\n", summary.Accepted, summary.Attempted)
	if kept := summary.Failed + summary.Unresolved; kept > 0 {
		printer.Warning("%d events stay queued for the next upload\n", kept)
	}
	if summary.Rejected > 0 {
		printer.Warning("%d events were rejected and dropped\n", summary.Rejected)
	}
	if summary.Expired > 0 {
		printer.Warning("%d events exceeded max attempts and were dropped\n", summary.Expired)
	}
	printer.Info("%s\n", summary)
}
