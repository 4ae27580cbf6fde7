// Package configcmd manages the configuration file.
package configcmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scanrelay/scanrelay/internal/app"
	"github.com/scanrelay/scanrelay/internal/conf"
)

// Command creates the config command.
func Command(ctx *app.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(initCommand(ctx))
	return cmd
}

func initCommand(ctx *app.Context) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file populated with defaults",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.yaml"
			switch {
			case len(args) == 1:
				path = args[0]
			case ctx.ConfigFile != "":
				path = ctx.ConfigFile
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
			if err := conf.SaveYAMLConfig(path, conf.DefaultSettings()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
