// Package config manages the xtmix configuration file.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tphakala/xtmix/internal/conf"
)

// Command creates the config command group.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(initCommand())
	return cmd
}

func initCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(".", "config.yaml")
			if len(args) == 1 {
				path = args[0]
			}
			if err := conf.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
}
