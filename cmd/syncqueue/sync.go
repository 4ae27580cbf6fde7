// Package syncqueue replays the offline queue once.
package syncqueue

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scanrelay/scanrelay/internal/app"
)

// Command creates the sync command.
func Command(ctx *app.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Send queued records to the collection endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.NewApp()
			if err != nil {
				return err
			}
			defer a.Close()

			report := a.Pipeline.Drain(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "delivered %d of %d, %d remaining\n",
				report.Delivered, report.Batch, report.Remaining)
			if report.Failed > 0 {
				return fmt.Errorf("%d queued records could not be delivered", report.Failed)
			}
			return nil
		},
	}
}
