package cmd

import (
	"fmt"

	"github.com/hugolhafner/extoffset"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "offsetd", extoffset.Version)
	},
}
