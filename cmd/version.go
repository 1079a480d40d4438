package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luma/relay/internal/meta"
)

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := meta.GetInfo()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "relay %s (%s, %s)\n", info.Version, info.Build, info.Branch)
		fmt.Fprintf(out, "built %s with %s on %s\n", info.BuildTime, info.GoVersion, info.Platform)

		if info.GoTag != "" {
			fmt.Fprintf(out, "tags %s\n", info.GoTag)
		}

		return nil
	},
}
