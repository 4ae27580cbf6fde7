package cmd

import (
	"github.com/spf13/cobra"

	"github.com/scanrelay/scanrelay/cmd/configcmd"
	"github.com/scanrelay/scanrelay/cmd/serve"
	"github.com/scanrelay/scanrelay/cmd/stats"
	"github.com/scanrelay/scanrelay/cmd/submit"
	"github.com/scanrelay/scanrelay/cmd/syncqueue"
	"github.com/scanrelay/scanrelay/cmd/version"
	"github.com/scanrelay/scanrelay/internal/app"
)

// RootCommand creates and returns the root command
func RootCommand(ctx *app.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "scanrelay",
		Short:         "Scanned-code capture and delivery client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	setupFlags(rootCmd, ctx)

	versionCmd := version.Command(ctx)
	configCmd := configcmd.Command(ctx)

	rootCmd.AddCommand(
		serve.Command(ctx),
		syncqueue.Command(ctx),
		submit.Command(ctx),
		stats.Command(ctx),
		configCmd,
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// version and config init work without a valid configuration
		if cmd == versionCmd || cmd.Parent() == configCmd {
			return nil
		}
		return ctx.Load()
	}
	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		return ctx.Close()
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, ctx *app.Context) {
	rootCmd.PersistentFlags().StringVarP(&ctx.ConfigFile, "config", "c", "", "Path to config.yaml (default: search ., ~/.config/scanrelay, /etc/scanrelay)")
	rootCmd.PersistentFlags().BoolVarP(&ctx.Debug, "debug", "d", false, "Enable debug output")
}
