// Package version prints build metadata.
package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scanrelay/scanrelay/internal/app"
)

// Command creates the version command.
func Command(ctx *app.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "scanrelay %s (built %s)\n",
				ctx.Build.GetVersion(), ctx.Build.GetBuildDate())
		},
	}
}
