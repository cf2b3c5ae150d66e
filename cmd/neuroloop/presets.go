package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/satindergrewal/neuroloop/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newPresetsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "Print the intensity preset table",
		Long: `Print the five intensity presets used by the range-scaled policy,
from --presets-file when given, otherwise the built-in table.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := config.Load(v).Presets()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PRESET\tAMPLITUDE (mA)\tDURATION (µs)")
			for i, p := range table {
				fmt.Fprintf(tw, "%d\t%d-%d\t%d-%d\n", i+1, p.AmplMin, p.AmplMax, p.DurnMin, p.DurnMax)
			}
			return tw.Flush()
		},
	}
}
