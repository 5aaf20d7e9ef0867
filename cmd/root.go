package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hydfs",
	Short: "Hybrid distributed file system node",
	Long: `HyDFS is a distributed file system built on a switchable SWIM-style
failure detector, a consistent-hash ring, and block-structured
append-only files replicated across three nodes.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
