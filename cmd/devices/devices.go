// Package devices lists host audio devices.
package devices

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/xtmix/internal/audiocore/sources/malgo"
)

// Command creates the devices command.
func Command() *cobra.Command {
	var hardwareOnly bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List audio devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := malgo.New()
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			list, err := e.Devices()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "KIND\tNAME\tID\tDEFAULT\n")
			for _, d := range list {
				if hardwareOnly && !d.Hardware() {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", d.Kind, d.Name, d.ID, d.IsDefault)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&hardwareOnly, "hardware", false, "Only list hardware devices")
	return cmd
}
