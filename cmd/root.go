package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/relay/cmd/gen"
)

var (
	// Log at debug level
	debug bool
)

var RootCmd = &cobra.Command{
	Use:   "relay",
	Short: "A framed TCP message transport",
	Long: `A framed TCP message transport

Usage
	relay start
	relay connect --host 127.0.0.1 --port 60000

`,
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Log at debug level")

	RootCmd.AddCommand(StartCmd)
	RootCmd.AddCommand(ConnectCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

// Execute runs the root command, exiting the process on failure.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
