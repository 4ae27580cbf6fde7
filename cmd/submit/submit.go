// Package submit delivers a manually entered code.
package submit

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scanrelay/scanrelay/internal/app"
	"github.com/scanrelay/scanrelay/internal/delivery"
)

// Command creates the submit command.
func Command(ctx *app.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <text>",
		Short: "Deliver text as a manual scan",
		Long:  "Build a record of type MANUAL from text and deliver it, queueing it if the endpoint cannot be reached.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.NewApp()
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.Pipeline.Submit(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if out.Status == delivery.StatusQueued {
				fmt.Fprintf(cmd.OutOrStdout(), "queued (%d pending): %v\n", a.Queue.Size(), out.Err)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "delivered via %s\n", out.Transport)
			return nil
		},
	}
}
