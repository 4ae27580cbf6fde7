// Package serve runs the capture-to-delivery pipeline until interrupted.
package serve

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scanrelay/scanrelay/internal/app"
	"github.com/scanrelay/scanrelay/internal/logger"
)

// Command creates the serve command.
func Command(ctx *app.Context) *cobra.Command {
	var (
		listen string
		device string
		noAPI  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Capture, deliver and queue scanned codes",
		Long:  "Start the recognition engine, deliver accepted scans to the collection endpoint and replay the offline queue.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("listen") {
				ctx.Settings.WebServer.Listen = listen
			}
			if cmd.Flags().Changed("device") {
				ctx.Settings.Capture.Device = device
			}
			if noAPI {
				ctx.Settings.WebServer.Enabled = false
			}

			a, err := ctx.NewApp()
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					ctx.Log.Module("serve").Warn("shutdown incomplete", logger.Error(err))
				}
			}()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.Run(runCtx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Control API listen address")
	cmd.Flags().StringVar(&device, "device", "", "Capture device, \"-\" for stdin")
	cmd.Flags().BoolVar(&noAPI, "no-api", false, "Disable the control API")

	return cmd
}
